// Package eventbus decouples trigger sources from the execution engine.
package eventbus

import (
	"context"

	"github.com/kazihq/zapflow/pkg/events"
)

// EventHandler processes one deserialized event.
type EventHandler func(ctx context.Context, event any) error

// EventBus is the in-process publish/subscribe seam between trigger sources,
// the execution engine and the delivery subsystem. Publishing is
// fire-and-forget: a failing or panicking handler never blocks the publisher
// or other handlers.
type EventBus interface {
	Publish(ctx context.Context, key string, event events.Event) error
	// Handle registers a handler for an event type. events.WildcardEventType
	// receives every event.
	Handle(eventType events.EventType, handler EventHandler) error
	// Subscribe starts the consume loop. Handlers registered after Subscribe
	// are not guaranteed to see earlier messages.
	Subscribe(ctx context.Context) error
	GenerateID() string
	Close() error
}
