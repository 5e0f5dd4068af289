// Package events provides event types and topics for the TaskFlow event system.
package events

// Topics. Task mutations and reminders are consumed by the notification
// service; task-updates feeds external real-time fan-out.
const (
	TopicTaskEvents  = "task-events"
	TopicReminders   = "reminders"
	TopicTaskUpdates = "task-updates"
)

// Event types on task-events
const (
	TaskCreated   = "task.created"
	TaskUpdated   = "task.updated"
	TaskDeleted   = "task.deleted"
	TaskCompleted = "task.completed"
	TaskAssigned  = "task.assigned"
	TaskSpawned   = "task.spawned"
)

// Event types on reminders
const (
	ReminderDue = "reminder.due"
)

// Event types on task-updates
const (
	SyncCreated   = "sync.created"
	SyncUpdated   = "sync.updated"
	SyncDeleted   = "sync.deleted"
	SyncCompleted = "sync.completed"
)
