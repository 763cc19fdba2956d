package mongo

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"carecore/pkg/domain"
)

type fakeCollection struct {
	docs       map[string]bson.Raw
	pruneKept  []string
	failUpsert error
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: map[string]bson.Raw{}}
}

func (c *fakeCollection) seed(t *testing.T, id string, doc any) {
	t.Helper()
	raw, err := bson.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal seed doc: %v", err)
	}
	c.docs[id] = raw
}

func (c *fakeCollection) FindAll(_ context.Context, decode func(bson.Raw) error) error {
	for _, raw := range c.docs {
		if err := decode(raw); err != nil {
			return err
		}
	}
	return nil
}

func (c *fakeCollection) Upsert(_ context.Context, id string, doc any) error {
	if c.failUpsert != nil {
		return c.failUpsert
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	c.docs[id] = raw
	return nil
}

func (c *fakeCollection) PruneExcept(_ context.Context, ids []string) error {
	keep := map[string]bool{}
	for _, id := range ids {
		keep[id] = true
	}
	for id := range c.docs {
		if !keep[id] {
			delete(c.docs, id)
		}
	}
	c.pruneKept = ids
	return nil
}

func TestNewStoreHydratesFromCollections(t *testing.T) {
	plans := newFakeCollection()
	notes := newFakeCollection()
	plans.seed(t, "plan-1", planDocument{
		ID: "plan-1",
		Plan: domain.CarePlan{
			Base:        domain.Base{ID: "plan-1"},
			OwnerUserID: "owner-1",
			Title:       "Recovery plan",
			Tasks:       []domain.Task{{ID: "t1", TaskName: "Physio session", AssignedTo: "cg-2", Status: domain.TaskStatusPending}},
			Version:     3,
		},
	})
	notes.seed(t, "note-1", notificationDocument{
		ID: "note-1",
		Notification: domain.Notification{
			Base:    domain.Base{ID: "note-1"},
			UserID:  "owner-1",
			Message: "A care plan was created for you",
			Type:    domain.NotificationCarePlanAdded,
		},
	})

	store, err := newStoreWithCollections(context.Background(), plans, notes, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("newStoreWithCollections: %v", err)
	}

	plan, ok := store.GetCarePlan("plan-1")
	if !ok {
		t.Fatalf("expected hydrated plan")
	}
	if plan.Title != "Recovery plan" || plan.Version != 3 {
		t.Fatalf("unexpected hydrated plan: %+v", plan)
	}
	got := store.ListNotificationsForUser("owner-1")
	if len(got) != 1 || got[0].ID != "note-1" {
		t.Fatalf("unexpected hydrated notifications: %+v", got)
	}
}

func TestRunInTransactionPersistsAndPrunes(t *testing.T) {
	plans := newFakeCollection()
	notes := newFakeCollection()
	store, err := newStoreWithCollections(context.Background(), plans, notes, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("newStoreWithCollections: %v", err)
	}

	var created domain.CarePlan
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateCarePlan(domain.CarePlan{
			OwnerUserID: "owner-1",
			Title:       "Recovery plan",
			Tasks:       []domain.Task{{TaskName: "Physio session", AssignedTo: "cg-2", Status: domain.TaskStatusPending}},
		})
		return err
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	raw, ok := plans.docs[created.ID]
	if !ok {
		t.Fatalf("expected plan persisted under %q, have %v", created.ID, plans.docs)
	}
	var doc planDocument
	if err := bson.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode persisted plan: %v", err)
	}
	if doc.Plan.Title != "Recovery plan" || doc.Plan.Version != 1 {
		t.Fatalf("unexpected persisted plan: %+v", doc.Plan)
	}

	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.DeleteCarePlan(created.ID)
	})
	if err != nil {
		t.Fatalf("delete transaction: %v", err)
	}
	if len(plans.docs) != 0 {
		t.Fatalf("expected deleted plan pruned from collection, have %v", plans.docs)
	}
}

func TestRunInTransactionSurfacesPersistFailure(t *testing.T) {
	plans := newFakeCollection()
	plans.failUpsert = errors.New("server selection timeout")
	store, err := newStoreWithCollections(context.Background(), plans, newFakeCollection(), domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("newStoreWithCollections: %v", err)
	}

	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateCarePlan(domain.CarePlan{
			OwnerUserID: "owner-1",
			Title:       "Recovery plan",
			Tasks:       []domain.Task{{TaskName: "Physio session", AssignedTo: "cg-2", Status: domain.TaskStatusPending}},
		})
		return err
	})
	if err == nil || !errors.Is(err, plans.failUpsert) {
		t.Fatalf("expected persist failure surfaced, got %v", err)
	}
}
