package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func recv(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case msg := <-sub.Events():
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
		return Message{}
	}
}

func TestGatewayPublishTargetsUser(t *testing.T) {
	g := NewGateway()
	alice := g.Subscribe("alice")
	bob := g.Subscribe("bob")
	defer g.Unsubscribe(alice)
	defer g.Unsubscribe(bob)

	g.Publish("alice", Message{Event: "task_assigned", Payload: map[string]any{"task_id": "t1"}})

	msg := recv(t, alice)
	if msg.Event != "task_assigned" {
		t.Fatalf("unexpected event %q", msg.Event)
	}
	select {
	case got := <-bob.Events():
		t.Fatalf("bob must not receive alice's event, got %+v", got)
	default:
	}
}

func TestGatewayBroadcastReachesEveryone(t *testing.T) {
	g := NewGateway()
	alice := g.Subscribe("alice")
	bob := g.Subscribe("bob")
	defer g.Unsubscribe(alice)
	defer g.Unsubscribe(bob)

	g.Broadcast(Message{Event: "careplan:created", Payload: map[string]any{"careplan_id": "p1"}})
	if msg := recv(t, alice); msg.Event != "careplan:created" {
		t.Fatalf("alice: unexpected event %q", msg.Event)
	}
	if msg := recv(t, bob); msg.Event != "careplan:created" {
		t.Fatalf("bob: unexpected event %q", msg.Event)
	}
}

func TestGatewayDropsWhenBufferFull(t *testing.T) {
	g := NewGateway(WithBufferSize(1))
	sub := g.Subscribe("alice")
	defer g.Unsubscribe(sub)

	g.Publish("alice", Message{Event: "one"})
	g.Publish("alice", Message{Event: "two"})
	if g.Dropped() != 1 {
		t.Fatalf("expected 1 dropped event, got %d", g.Dropped())
	}
	if msg := recv(t, sub); msg.Event != "one" {
		t.Fatalf("expected first event retained, got %q", msg.Event)
	}
}

func TestGatewayUnsubscribeClosesChannel(t *testing.T) {
	g := NewGateway()
	sub := g.Subscribe("alice")
	g.Unsubscribe(sub)
	g.Unsubscribe(sub) // repeated call is harmless
	if _, open := <-sub.Events(); open {
		t.Fatalf("expected closed channel")
	}
	if g.SubscriberCount("alice") != 0 {
		t.Fatalf("expected no live subscriptions")
	}
	// Publishing to a departed user must not panic.
	g.Publish("alice", Message{Event: "late"})
}

// syncRecorder guards the recorder so the stream goroutine and the test can
// touch it without racing.
type syncRecorder struct {
	mu  sync.Mutex
	rec *httptest.ResponseRecorder
}

func (s *syncRecorder) Header() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Header()
}

func (s *syncRecorder) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Write(p)
}

func (s *syncRecorder) WriteHeader(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.WriteHeader(status)
}

func (s *syncRecorder) Flush() {}

func (s *syncRecorder) body() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Body.String()
}

func (s *syncRecorder) contentType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Header().Get("Content-Type")
}

func TestStreamSSEWritesEvents(t *testing.T) {
	g := NewGateway()
	rec := &syncRecorder{rec: httptest.NewRecorder()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.StreamSSE(ctx, rec, "alice")
	}()

	// Wait for the subscription to register before publishing.
	deadline := time.Now().Add(time.Second)
	for g.SubscriberCount("alice") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	g.Publish("alice", Message{Event: "task_assigned", Payload: map[string]any{"task_id": "t1"}})

	deadline = time.Now().Add(time.Second)
	for !strings.Contains(rec.body(), "event: task_assigned") {
		if time.Now().After(deadline) {
			t.Fatalf("event never written, body: %q", rec.body())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("stream: %v", err)
	}

	if ct := rec.contentType(); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.body(), `"task_id":"t1"`) {
		t.Fatalf("payload missing from stream: %q", rec.body())
	}
}
