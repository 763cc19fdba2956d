package core

import (
	"context"
	"fmt"

	"carecore/internal/infra/persistence/memory"
	"carecore/internal/infra/persistence/mongo"
	"carecore/internal/infra/persistence/postgres"
	"carecore/internal/infra/persistence/sqlite"
	"carecore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageMongo    StorageDriver = "mongo"    // MongoDB server
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// StorageConfig selects and parameterizes the persistence backend.
type StorageConfig struct {
	Driver        StorageDriver
	SQLitePath    string
	PostgresDSN   string
	MongoURI      string
	MongoDatabase string
}

// OpenPersistentStore constructs the configured backend. Defaults to sqlite
// when the driver is unset.
func OpenPersistentStore(ctx context.Context, cfg StorageConfig, engine *RulesEngine) (PersistentStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath, engine)
	case StoragePostgres:
		return postgres.NewStore(cfg.PostgresDSN, engine)
	case StorageMongo:
		return mongo.NewStore(ctx, cfg.MongoURI, cfg.MongoDatabase, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
