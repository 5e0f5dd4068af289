package notifier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/taskflow/taskflow/internal/common/logger"
	"github.com/taskflow/taskflow/internal/events"
	"github.com/taskflow/taskflow/internal/events/bus"
	"github.com/taskflow/taskflow/internal/task/models"
)

const queueGroup = "notifier"

// Consumer turns bus events into stored notifications.
type Consumer struct {
	repo   Repository
	logger *logger.Logger
}

func NewConsumer(repo Repository, log *logger.Logger) *Consumer {
	return &Consumer{
		repo:   repo,
		logger: log.WithFields(zap.String("component", "notifier")),
	}
}

// Subscribe attaches the consumer to the bus. A queue group keeps each
// event with a single notifier instance when several run.
func (c *Consumer) Subscribe(eventBus bus.EventBus) error {
	for _, topic := range []string{events.TopicTaskEvents, events.TopicReminders} {
		if _, err := eventBus.QueueSubscribe(topic, queueGroup, c.Handle); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	return nil
}

// Handle stores a notification for the event's recipient. Events without a
// recipient are dropped; duplicate deliveries are absorbed by the store.
func (c *Consumer) Handle(ctx context.Context, event *bus.Event) error {
	userID, _ := event.Data["user_id"].(string)
	if userID == "" {
		return nil
	}

	notification := &Notification{
		EventID:   event.ID,
		UserID:    userID,
		TaskID:    eventTaskID(event),
		EventType: event.Type,
		Title:     renderTitle(event),
		Body:      renderBody(event),
	}
	inserted, err := c.repo.Insert(ctx, notification)
	if err != nil {
		c.logger.Error("failed to store notification",
			zap.String("event_id", event.ID), zap.Error(err))
		return err
	}
	if !inserted {
		c.logger.Debug("duplicate event dropped", zap.String("event_id", event.ID))
	}
	return nil
}

func eventTaskID(event *bus.Event) int64 {
	switch v := event.Data["task_id"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func renderTitle(event *bus.Event) string {
	taskTitle := taskField(event, "title")
	switch event.Type {
	case events.TaskCreated:
		return fmt.Sprintf("New task: %s", taskTitle)
	case events.TaskAssigned:
		return fmt.Sprintf("You were assigned: %s", taskTitle)
	case events.TaskCompleted:
		return fmt.Sprintf("Completed: %s", taskTitle)
	case events.TaskSpawned:
		return fmt.Sprintf("Recurring task spawned: %s", taskTitle)
	case events.TaskDeleted:
		return fmt.Sprintf("Task deleted: %s", taskTitle)
	case events.ReminderDue:
		if title, ok := event.Data["title"].(string); ok && title != "" {
			taskTitle = title
		}
		switch hours := event.Data["hours_until_due"].(type) {
		case float64:
			return fmt.Sprintf("Due in %dh: %s", int(hours), taskTitle)
		case int:
			return fmt.Sprintf("Due in %dh: %s", hours, taskTitle)
		}
		return fmt.Sprintf("Due soon: %s", taskTitle)
	default:
		return fmt.Sprintf("Task update: %s", taskTitle)
	}
}

func renderBody(event *bus.Event) string {
	if actor, ok := event.Data["actor_name"].(string); ok && actor != "" {
		return fmt.Sprintf("by %s", actor)
	}
	return ""
}

// taskField digs a field out of the embedded task payload. The payload is
// a map after a wire round-trip and a model struct on the in-process bus.
func taskField(event *bus.Event, field string) string {
	switch task := event.Data["task"].(type) {
	case map[string]interface{}:
		value, _ := task[field].(string)
		return value
	case *models.Task:
		if field == "title" {
			return task.Title
		}
		return ""
	default:
		return ""
	}
}
