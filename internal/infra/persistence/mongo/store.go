// Package mongo provides a MongoDB-backed persistent store. Care plans and
// notifications are persisted as whole documents, matching the document
// granularity of the write model: concurrent writers to one plan race and the
// last committed document wins.
package mongo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"carecore/internal/infra/persistence/memory"
	"carecore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultURI      = "mongodb://localhost:27017"
	defaultDatabase = "carecore"
	connectTimeout  = 5 * time.Second
)

type planDocument struct {
	ID   string          `bson:"_id"`
	Plan domain.CarePlan `bson:"plan"`
}

type notificationDocument struct {
	ID           string              `bson:"_id"`
	Notification domain.Notification `bson:"notification"`
}

// collection is the slice of mongo.Collection the store relies on. The narrow
// surface keeps persist and load testable without a running server.
type collection interface {
	FindAll(ctx context.Context, decode func(bson.Raw) error) error
	Upsert(ctx context.Context, id string, doc any) error
	PruneExcept(ctx context.Context, ids []string) error
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c mongoCollection) FindAll(ctx context.Context, decode func(bson.Raw) error) error {
	cursor, err := c.coll.Find(ctx, bson.M{})
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)
	for cursor.Next(ctx) {
		if err := decode(cursor.Current); err != nil {
			return err
		}
	}
	return cursor.Err()
}

func (c mongoCollection) Upsert(ctx context.Context, id string, doc any) error {
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return err
}

func (c mongoCollection) PruneExcept(ctx context.Context, ids []string) error {
	_, err := c.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$nin": ids}})
	return err
}

// Store persists state to MongoDB while reusing the in-memory implementation
// for transactions.
type Store struct {
	*memory.Store
	client        *mongo.Client
	plans         collection
	notifications collection
	mu            sync.Mutex
}

// NewStore connects to MongoDB using the provided URI (falls back to a local
// default) and hydrates the in-memory store from the existing collections.
func NewStore(ctx context.Context, uri, database string, engine *domain.RulesEngine) (*Store, error) {
	if uri == "" {
		uri = defaultURI
	}
	if database == "" {
		database = defaultDatabase
	}
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(database)
	s, err := newStoreWithCollections(ctx,
		mongoCollection{coll: db.Collection("careplans")},
		mongoCollection{coll: db.Collection("notifications")},
		engine)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	s.client = client
	return s, nil
}

func newStoreWithCollections(ctx context.Context, plans, notifications collection, engine *domain.RulesEngine) (*Store, error) {
	s := &Store{
		Store:         memory.NewStore(engine),
		plans:         plans,
		notifications: notifications,
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	snapshot := memory.Snapshot{
		CarePlans:     map[string]domain.CarePlan{},
		Notifications: map[string]domain.Notification{},
	}

	err := s.plans.FindAll(ctx, func(raw bson.Raw) error {
		var doc planDocument
		if err := bson.Unmarshal(raw, &doc); err != nil {
			return err
		}
		snapshot.CarePlans[doc.ID] = doc.Plan
		return nil
	})
	if err != nil {
		return fmt.Errorf("load careplans: %w", err)
	}

	err = s.notifications.FindAll(ctx, func(raw bson.Raw) error {
		var doc notificationDocument
		if err := bson.Unmarshal(raw, &doc); err != nil {
			return err
		}
		snapshot.Notifications[doc.ID] = doc.Notification
		return nil
	})
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}

	s.ImportState(snapshot)
	return nil
}

// RunInTransaction applies the provided function within a transaction, then
// reconciles the Mongo collections with the committed state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()

	planIDs := make([]string, 0, len(snapshot.CarePlans))
	for id, plan := range snapshot.CarePlans {
		planIDs = append(planIDs, id)
		if err := s.plans.Upsert(ctx, id, planDocument{ID: id, Plan: plan}); err != nil {
			return fmt.Errorf("upsert careplan %s: %w", id, err)
		}
	}
	if err := s.plans.PruneExcept(ctx, planIDs); err != nil {
		return fmt.Errorf("prune careplans: %w", err)
	}

	noteIDs := make([]string, 0, len(snapshot.Notifications))
	for id, n := range snapshot.Notifications {
		noteIDs = append(noteIDs, id)
		if err := s.notifications.Upsert(ctx, id, notificationDocument{ID: id, Notification: n}); err != nil {
			return fmt.Errorf("upsert notification %s: %w", id, err)
		}
	}
	if err := s.notifications.PruneExcept(ctx, noteIDs); err != nil {
		return fmt.Errorf("prune notifications: %w", err)
	}
	return nil
}

// Close disconnects the Mongo client.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Client exposes the underlying client for integration testing hooks.
func (s *Store) Client() *mongo.Client { return s.client }
