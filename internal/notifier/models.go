// Package notifier consumes task events and turns them into per-worker
// notifications.
package notifier

import "time"

// Notification is a rendered, per-worker message. EventID is the bus
// event's id; delivery is at-least-once, so inserts are deduplicated on it.
type Notification struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	TaskID    int64     `json:"task_id,omitempty"`
	EventType string    `json:"event_type"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
