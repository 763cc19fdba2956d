package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"

	"carecore/internal/infra/persistence/memory"
	"carecore/internal/infra/persistence/postgres/testutil"
	"carecore/pkg/domain"
)

func TestNewStoreEnsuresTableAndLoadsSnapshot(t *testing.T) {
	db, conn := testutil.NewStubDB()
	seed := memory.Snapshot{
		CarePlans: map[string]domain.CarePlan{
			"plan-1": {
				Base:        domain.Base{ID: "plan-1"},
				OwnerUserID: "owner-1",
				Title:       "Recovery plan",
				Tasks:       []domain.Task{{ID: "t1", TaskName: "Morning medication", AssignedTo: "cg-1", Status: domain.TaskStatusPending}},
				Version:     3,
			},
		},
	}
	payload, err := json.Marshal(seed.CarePlans)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	conn.Buckets["careplans"] = payload

	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	got, ok := store.GetCarePlan("plan-1")
	if !ok {
		t.Fatalf("expected plan hydrated from snapshot")
	}
	if got.Version != 3 || got.Title != "Recovery plan" {
		t.Fatalf("unexpected hydrated plan: %+v", got)
	}

	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE") {
			sawDDL = true
			break
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got execs: %v", conn.Execs)
	}
}

func TestRunInTransactionPersistsBuckets(t *testing.T) {
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("ignored", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateCarePlan(domain.CarePlan{
			OwnerUserID: "owner-1",
			Title:       "Recovery plan",
			Tasks:       []domain.Task{{TaskName: "Physio session", AssignedTo: "cg-2", Status: domain.TaskStatusPending}},
		})
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	var plans map[string]domain.CarePlan
	if err := json.Unmarshal(conn.Buckets["careplans"], &plans); err != nil {
		t.Fatalf("decode persisted bucket: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("expected one persisted plan, got %d", len(plans))
	}
	if _, ok := conn.Buckets["notifications"]; !ok {
		t.Fatalf("expected notifications bucket written")
	}
}

func TestRunInTransactionSurfacesPersistFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	conn.FailCommit = true
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateCarePlan(domain.CarePlan{
			OwnerUserID: "owner-1",
			Title:       "Recovery plan",
			Tasks:       []domain.Task{{TaskName: "Physio session", AssignedTo: "cg-2", Status: domain.TaskStatusPending}},
		})
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit failure surfaced, got %v", err)
	}
}
