// Package projection holds the synchronous listener bus and the
// read-model listeners that fold domain events into queryable rows.
// Live processing and replay dispatch through the same bus, so every
// listener must be an idempotent upsert keyed by the event's aggregate
// id: replaying a prefix of history twice converges to the same state.
package projection

import (
	"context"
	"fmt"

	"github.com/meridianrx/fulfillment/internal/domain"
)

// Listener handles one dispatched domain event.
type Listener interface {
	Handle(ctx context.Context, event domain.DomainEvent) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, event domain.DomainEvent) error

func (f ListenerFunc) Handle(ctx context.Context, event domain.DomainEvent) error {
	return f(ctx, event)
}

// Bus is a synchronous, in-process dispatcher. Subscriptions are set up
// at startup; Dispatch walks listeners in subscription order.
type Bus struct {
	listeners map[string][]Listener
}

func NewBus() *Bus {
	return &Bus{listeners: map[string][]Listener{}}
}

// Subscribe registers a listener for each of the given event types.
func (b *Bus) Subscribe(eventTypes []string, l Listener) {
	for _, t := range eventTypes {
		b.listeners[t] = append(b.listeners[t], l)
	}
}

// Dispatch delivers the event to every listener subscribed to its type.
// The first listener error stops the walk and is returned wrapped with
// the event's stored id.
func (b *Bus) Dispatch(ctx context.Context, event domain.DomainEvent) error {
	for _, l := range b.listeners[event.EventType()] {
		if err := l.Handle(ctx, event); err != nil {
			return fmt.Errorf("listener for %s (event id %d): %w", event.EventType(), event.StoredID(), err)
		}
	}
	return nil
}

// HasListeners reports whether any listener subscribes to the type.
func (b *Bus) HasListeners(eventType string) bool {
	return len(b.listeners[eventType]) > 0
}
