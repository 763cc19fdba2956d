package notify

import (
	"context"
	"testing"
	"time"

	"carecore/internal/core"
	"carecore/internal/infra/persistence/memory"
	"carecore/internal/realtime"
	"carecore/pkg/domain"
)

func recv(t *testing.T, sub *realtime.Subscription) realtime.Message {
	t.Helper()
	select {
	case msg := <-sub.Events():
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
		return realtime.Message{}
	}
}

func TestDispatchPersistsAndPushesNotifications(t *testing.T) {
	store := memory.NewStore(nil)
	gateway := realtime.NewGateway()
	d := NewDispatcher(store, gateway)

	sub := gateway.Subscribe("cg-1")
	defer gateway.Unsubscribe(sub)

	err := d.Dispatch(context.Background(), core.Effects{
		Intents: []core.NotificationIntent{{
			Recipient: "cg-1",
			Message:   "You were assigned a task",
			Type:      domain.NotificationTaskAssigned,
			Related:   domain.RelatedEntity{Kind: domain.EntityCarePlan, ID: "plan-1"},
		}},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	stored := store.ListNotificationsForUser("cg-1")
	if len(stored) != 1 {
		t.Fatalf("expected stored notification, got %d", len(stored))
	}
	if stored[0].Read {
		t.Fatalf("new notification must be unread")
	}
	if stored[0].RelatedEntity.ID != "plan-1" {
		t.Fatalf("related entity lost: %+v", stored[0].RelatedEntity)
	}

	msg := recv(t, sub)
	if msg.Event != string(domain.NotificationTaskAssigned) {
		t.Fatalf("unexpected event %q", msg.Event)
	}
	if msg.Payload["notification_id"] != stored[0].ID {
		t.Fatalf("payload must carry the stored id, got %+v", msg.Payload)
	}
	if msg.Payload["message"] != "You were assigned a task" {
		t.Fatalf("payload message mismatch: %+v", msg.Payload)
	}
}

func TestDispatchRelaysMutationEvents(t *testing.T) {
	store := memory.NewStore(nil)
	gateway := realtime.NewGateway()
	d := NewDispatcher(store, gateway)

	alice := gateway.Subscribe("alice")
	bob := gateway.Subscribe("bob")
	defer gateway.Unsubscribe(alice)
	defer gateway.Unsubscribe(bob)

	err := d.Dispatch(context.Background(), core.Effects{
		Events: []core.Event{
			{Name: core.EventCarePlanCreated, Broadcast: true, Payload: map[string]any{"careplan_id": "p1"}},
			{Name: core.EventTaskUpdated, Recipient: "alice", Payload: map[string]any{"task_id": "t1"}},
		},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if msg := recv(t, alice); msg.Event != core.EventCarePlanCreated {
		t.Fatalf("alice broadcast: unexpected event %q", msg.Event)
	}
	if msg := recv(t, bob); msg.Event != core.EventCarePlanCreated {
		t.Fatalf("bob broadcast: unexpected event %q", msg.Event)
	}
	if msg := recv(t, alice); msg.Event != core.EventTaskUpdated {
		t.Fatalf("alice targeted: unexpected event %q", msg.Event)
	}
	select {
	case got := <-bob.Events():
		t.Fatalf("bob must not get alice's targeted event, got %+v", got)
	default:
	}
}

func TestDispatchWithoutGatewayStillPersists(t *testing.T) {
	store := memory.NewStore(nil)
	d := NewDispatcher(store, nil)
	err := d.Dispatch(context.Background(), core.Effects{
		Intents: []core.NotificationIntent{{
			Recipient: "u1",
			Message:   "A new care plan was created for you",
			Type:      domain.NotificationCarePlanAdded,
		}},
		Events: []core.Event{{Name: core.EventCarePlanCreated, Broadcast: true}},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := store.ListNotificationsForUser("u1"); len(got) != 1 {
		t.Fatalf("expected persisted notification, got %d", len(got))
	}
}
