package events

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/taskflow/taskflow/internal/common/logger"
	"github.com/taskflow/taskflow/internal/events/bus"
	"github.com/taskflow/taskflow/internal/task/models"
)

// publishTimeout bounds each publish attempt. Events are best-effort;
// downstream consumers reconcile via the REST API.
const publishTimeout = 2 * time.Second

// eventSource identifies this service on published events.
const eventSource = "taskflow-api"

// syncMirror maps task-events types to their task-updates counterparts.
var syncMirror = map[string]string{
	TaskCreated:   SyncCreated,
	TaskUpdated:   SyncUpdated,
	TaskAssigned:  SyncUpdated,
	TaskDeleted:   SyncDeleted,
	TaskCompleted: SyncCompleted,
	TaskSpawned:   SyncCreated,
}

// Emitter publishes typed events after the owning transaction commits.
// Publish failures are logged and swallowed; they never fail the
// user-facing request.
type Emitter struct {
	pub    bus.Publisher
	logger *logger.Logger
}

// NewEmitter creates an Emitter on a publisher. A nil publisher disables
// event emission entirely.
func NewEmitter(pub bus.Publisher, log *logger.Logger) *Emitter {
	return &Emitter{pub: pub, logger: log}
}

// EmitTask publishes a task mutation event on task-events and mirrors it on
// task-updates. recipient is the worker to notify, nil for none; changes
// carries before/after values for update events.
func (e *Emitter) EmitTask(ctx context.Context, eventType string, task *models.Task, recipient *int64, actor *models.Worker, changes map[string]interface{}) {
	if e == nil || e.pub == nil {
		return
	}

	data := map[string]interface{}{
		"task_id":    task.ID,
		"user_id":    recipientID(recipient),
		"actor_id":   strconv.FormatInt(actor.ID, 10),
		"actor_name": actor.DisplayName,
		"task":       task,
	}
	if changes != nil {
		data["changes"] = changes
	}

	e.publish(ctx, TopicTaskEvents, eventType, data)
	if mirror, ok := syncMirror[eventType]; ok {
		e.publish(ctx, TopicTaskUpdates, mirror, data)
	}
}

// EmitReminder publishes a reminder.due event for an assigned task. The
// actor is the worker the reminder is attributed to (the task's creator for
// scheduler-fired reminders).
func (e *Emitter) EmitReminder(ctx context.Context, task *models.Task, recipient *int64, actor *models.Worker, hoursUntilDue int) {
	if e == nil || e.pub == nil {
		return
	}

	data := map[string]interface{}{
		"task_id":         task.ID,
		"user_id":         recipientID(recipient),
		"actor_id":        strconv.FormatInt(actor.ID, 10),
		"actor_name":      actor.DisplayName,
		"title":           task.Title,
		"hours_until_due": hoursUntilDue,
	}
	if task.DueDate != nil {
		data["due_date"] = task.DueDate.UTC().Format(time.RFC3339)
	}

	e.publish(ctx, TopicReminders, ReminderDue, data)
}

func (e *Emitter) publish(ctx context.Context, topic, eventType string, data map[string]interface{}) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	event := bus.NewEvent(eventType, eventSource, data)
	if err := e.pub.Publish(ctx, topic, event); err != nil {
		e.logger.Warn("event publish failed",
			zap.String("topic", topic),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func recipientID(recipient *int64) interface{} {
	if recipient == nil {
		return nil
	}
	return strconv.FormatInt(*recipient, 10)
}
