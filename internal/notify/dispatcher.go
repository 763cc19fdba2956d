// Package notify turns mutation effects into persisted notifications and
// realtime push messages.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"carecore/internal/core"
	"carecore/internal/realtime"
	"carecore/pkg/domain"
)

// Dispatcher persists notification intents and relays push events through the
// gateway. It implements core.EffectsDispatcher.
type Dispatcher struct {
	store   domain.PersistentStore
	gateway *realtime.Gateway
	logger  *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher constructs a dispatcher. The gateway may be nil when realtime
// push is disabled; notifications are still persisted.
func NewDispatcher(store domain.PersistentStore, gateway *realtime.Gateway, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		gateway: gateway,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch persists every intent as a notification row, pushes one event per
// stored notification to its recipient, then relays the mutation events.
// Per-intent failures are collected so one bad intent does not starve the
// rest.
func (d *Dispatcher) Dispatch(ctx context.Context, eff core.Effects) error {
	var errs []error
	for _, intent := range eff.Intents {
		created, err := d.storeNotification(ctx, intent)
		if err != nil {
			errs = append(errs, fmt.Errorf("store notification for %s: %w", intent.Recipient, err))
			continue
		}
		d.pushNotification(created)
	}
	for _, ev := range eff.Events {
		d.pushEvent(ev)
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) storeNotification(ctx context.Context, intent core.NotificationIntent) (domain.Notification, error) {
	var created domain.Notification
	_, err := d.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateNotification(domain.Notification{
			UserID:        intent.Recipient,
			Message:       intent.Message,
			Type:          intent.Type,
			RelatedEntity: intent.Related,
		})
		return err
	})
	return created, err
}

func (d *Dispatcher) pushNotification(n domain.Notification) {
	if d.gateway == nil {
		return
	}
	d.gateway.Publish(n.UserID, realtime.Message{
		Event: string(n.Type),
		Payload: map[string]any{
			"notification_id": n.ID,
			"message":         n.Message,
			"related_entity":  n.RelatedEntity,
		},
	})
}

func (d *Dispatcher) pushEvent(ev core.Event) {
	if d.gateway == nil {
		return
	}
	msg := realtime.Message{Event: ev.Name, Payload: ev.Payload}
	if ev.Broadcast {
		d.gateway.Broadcast(msg)
		return
	}
	d.gateway.Publish(ev.Recipient, msg)
}
