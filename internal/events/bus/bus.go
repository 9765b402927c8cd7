// Package bus provides the internal event bus acpcore's runtime core
// publishes workspace, agent, terminal, and permission events on, and the
// north-bound WebSocket stream reads from.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event represents a message on the event bus
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"` // Service that produced the event
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new event with a UUID and current timestamp
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler is a function that handles an event
type EventHandler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the publish/subscribe surface the runtime core needs: every
// workspace/agent/terminal/permission publisher and the WebSocket event
// stream's subscriber go through this interface, backed by either
// MemoryEventBus (single process) or NATSEventBus (multi-process). Neither
// backend's queue-group or request/reply support is exposed here — nothing
// in this codebase load-balances a subject across workers or needs a
// synchronous reply, so those stay backend-specific methods rather than
// interface surface the runtime core would never call.
type EventBus interface {
	// Publish sends an event to a subject
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe creates a subscription to a subject pattern
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// Close closes the connection
	Close()

	// IsConnected returns connection status
	IsConnected() bool
}

