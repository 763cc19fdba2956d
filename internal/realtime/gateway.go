// Package realtime provides the in-process push gateway: per-user event
// subscriptions with bounded buffers and an SSE stream writer. Delivery is
// best effort; a subscriber that cannot keep up loses events rather than
// blocking publishers.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the per-subscription event buffer.
const DefaultBufferSize = 16

// Message is a single push event as delivered to a subscriber.
type Message struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Subscription is one connected client's event feed.
type Subscription struct {
	userID string
	ch     chan Message
}

// Events returns the subscription's receive channel. It is closed when the
// subscription is cancelled.
func (s *Subscription) Events() <-chan Message {
	return s.ch
}

// UserID returns the identity the subscription is bound to.
func (s *Subscription) UserID() string {
	return s.userID
}

// Gateway fans events out to subscribed users.
type Gateway struct {
	mu         sync.RWMutex
	subs       map[string]map[*Subscription]struct{}
	bufferSize int
	logger     *slog.Logger
	dropped    atomic.Int64
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithBufferSize sets the per-subscription channel capacity.
func WithBufferSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.bufferSize = n
		}
	}
}

// WithLogger overrides the gateway logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGateway constructs an empty gateway.
func NewGateway(opts ...Option) *Gateway {
	g := &Gateway{
		subs:       make(map[string]map[*Subscription]struct{}),
		bufferSize: DefaultBufferSize,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Subscribe registers a new feed for userID. The caller must Unsubscribe when
// the connection ends.
func (g *Gateway) Subscribe(userID string) *Subscription {
	sub := &Subscription{userID: userID, ch: make(chan Message, g.bufferSize)}
	g.mu.Lock()
	set, ok := g.subs[userID]
	if !ok {
		set = make(map[*Subscription]struct{})
		g.subs[userID] = set
	}
	set[sub] = struct{}{}
	g.mu.Unlock()
	return sub
}

// Unsubscribe removes the feed and closes its channel. Safe to call more than
// once.
func (g *Gateway) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	g.mu.Lock()
	set, ok := g.subs[sub.userID]
	if ok {
		if _, present := set[sub]; present {
			delete(set, sub)
			if len(set) == 0 {
				delete(g.subs, sub.userID)
			}
			close(sub.ch)
		}
	}
	g.mu.Unlock()
}

// Publish delivers msg to every subscription of userID. Full buffers drop the
// event.
func (g *Gateway) Publish(userID string, msg Message) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for sub := range g.subs[userID] {
		g.send(sub, msg)
	}
}

// Broadcast delivers msg to every subscription across all users.
func (g *Gateway) Broadcast(msg Message) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, set := range g.subs {
		for sub := range set {
			g.send(sub, msg)
		}
	}
}

func (g *Gateway) send(sub *Subscription, msg Message) {
	select {
	case sub.ch <- msg:
	default:
		g.dropped.Add(1)
		g.logger.Warn("push event dropped", "user", sub.userID, "event", msg.Event)
	}
}

// Dropped reports how many events were discarded against full buffers.
func (g *Gateway) Dropped() int64 {
	return g.dropped.Load()
}

// SubscriberCount reports the number of live subscriptions for userID.
func (g *Gateway) SubscriberCount(userID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.subs[userID])
}

// StreamSSE subscribes userID and writes its events to w as server-sent
// events until ctx is cancelled. The response headers are set here; callers
// must not have written to w beforehand.
func (g *Gateway) StreamSSE(ctx context.Context, w http.ResponseWriter, userID string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support streaming")
	}
	sub := g.Subscribe(userID)
	defer g.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, open := <-sub.Events():
			if !open {
				return nil
			}
			data, err := json.Marshal(msg.Payload)
			if err != nil {
				g.logger.Warn("push event encode failed", "event", msg.Event, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, data); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}
