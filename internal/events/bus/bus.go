// Package bus provides event bus abstractions for TaskFlow.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event represents a message on the event bus. The wire shape is
// {event_type, data, timestamp} plus an id used by consumers for
// deduplication; delivery is at-least-once.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"event_type"`
	Source    string                 `json:"source,omitempty"` // Service that produced the event
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new event with a UUID and current timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler is a function that handles an event.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// Publisher is the write side of the bus. The audit/event emitter only needs
// this; the sidecar publisher implements nothing more.
type Publisher interface {
	// Publish sends an event to a topic. Best-effort: callers treat an error
	// as log-and-continue, never as a request failure.
	Publish(ctx context.Context, topic string, event *Event) error
}

// EventBus interface for event bus operations.
type EventBus interface {
	Publisher

	// Subscribe creates a subscription to a topic.
	Subscribe(topic string, handler EventHandler) (Subscription, error)

	// QueueSubscribe creates a queue subscription for load balancing.
	// Only one subscriber in the queue group receives each event.
	QueueSubscribe(topic, queue string, handler EventHandler) (Subscription, error)

	// Close closes the connection.
	Close()

	// IsConnected returns connection status.
	IsConnected() bool
}
