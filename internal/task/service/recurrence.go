package service

import (
	"context"
	"math"
	"time"

	apperrors "github.com/taskflow/taskflow/internal/common/errors"
	"github.com/taskflow/taskflow/internal/events"
	"github.com/taskflow/taskflow/internal/task/models"
	"github.com/taskflow/taskflow/internal/task/store"
)

// maybeSpawn creates the next occurrence of a recurring task inside the
// caller's transaction. Returns nil when no successor is due: the task is
// not recurring, a successor already exists, the trigger mode does not
// apply, or the chain is at its occurrence cap.
//
// The successor inherits the source's fields; status, progress, and
// timestamps reset. The source's has_spawned_next flag is set here but
// persisted by the caller, in the same transaction.
func (s *Service) maybeSpawn(ctx context.Context, tx store.Tx, actor *Actor, source *models.Task, at time.Time, viaTimer bool) (*models.Task, error) {
	if !source.IsRecurring || source.HasSpawnedNext {
		return nil, nil
	}
	if viaTimer {
		if source.RecurrenceTrigger != models.TriggerOnDueDate && source.RecurrenceTrigger != models.TriggerBoth {
			return nil, nil
		}
	} else {
		if source.RecurrenceTrigger == models.TriggerOnDueDate {
			return nil, nil
		}
	}

	rootID := source.RootID()
	if source.MaxOccurrences != nil {
		count, err := tx.CountOccurrences(ctx, rootID)
		if err != nil {
			return nil, err
		}
		if count >= *source.MaxOccurrences {
			return nil, nil
		}
	}

	nextDue := source.NextDue(at)
	successor := &models.Task{
		ProjectID:         source.ProjectID,
		Title:             source.Title,
		Description:       source.Description,
		Status:            models.StatusPending,
		Priority:          source.Priority,
		Tags:              source.Tags,
		DueDate:           &nextDue,
		AssigneeID:        source.AssigneeID,
		ParentID:          source.ParentID,
		CreatorID:         source.CreatorID,
		IsRecurring:       true,
		RecurrencePattern: source.RecurrencePattern,
		MaxOccurrences:    source.MaxOccurrences,
		RecurringRootID:   &rootID,
		RecurrenceTrigger: source.RecurrenceTrigger,
		CloneSubtasks:     source.CloneSubtasks,
	}
	if err := tx.CreateTask(ctx, successor); err != nil {
		return nil, err
	}
	if err := tx.AppendAudit(ctx, auditEntry(actor, models.EntityTask, successor.ID, models.ActionSpawnedRecur,
		map[string]interface{}{"source_task_id": source.ID, "root_id": rootID})); err != nil {
		return nil, err
	}

	if source.CloneSubtasks {
		if err := s.cloneSubtree(ctx, tx, actor, source.ID, successor.ID); err != nil {
			return nil, err
		}
	}

	source.HasSpawnedNext = true
	return successor, nil
}

// cloneSubtree deep-clones the subtree under sourceID beneath newParentID.
// Clones reset to pending with zero progress and carry no recurrence; each
// clone gets its own audit entry.
func (s *Service) cloneSubtree(ctx context.Context, tx store.Tx, actor *Actor, sourceID, newParentID int64) error {
	subtasks, err := tx.ListSubtasks(ctx, sourceID)
	if err != nil {
		return err
	}

	for _, sub := range subtasks {
		clone := &models.Task{
			ProjectID:   sub.ProjectID,
			Title:       sub.Title,
			Description: sub.Description,
			Status:      models.StatusPending,
			Priority:    sub.Priority,
			Tags:        sub.Tags,
			AssigneeID:  sub.AssigneeID,
			ParentID:    &newParentID,
			CreatorID:   sub.CreatorID,
		}
		if err := tx.CreateTask(ctx, clone); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, auditEntry(actor, models.EntityTask, clone.ID, models.ActionClonedSubtask,
			map[string]interface{}{"source_task_id": sub.ID})); err != nil {
			return err
		}
		if err := s.cloneSubtree(ctx, tx, actor, sub.ID, clone.ID); err != nil {
			return err
		}
	}
	return nil
}

// HandleSpawnTrigger processes a scheduler callback for a timed spawn.
// Already-spawned, completed, or capped sources make the callback a no-op;
// the scheduler may deliver more than once.
func (s *Service) HandleSpawnTrigger(ctx context.Context, taskID int64) error {
	task, err := s.store.GetTask(ctx, taskID)
	if apperrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !task.IsRecurring || task.HasSpawnedNext || task.Status == models.StatusCompleted {
		return nil
	}

	actor, err := s.systemActor(ctx, task)
	if err != nil {
		return err
	}

	var successor *models.Task
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		spawned, err := s.maybeSpawn(ctx, tx, actor, task, time.Now().UTC(), true)
		if err != nil {
			return err
		}
		if spawned == nil {
			return nil
		}
		successor = spawned
		return tx.UpdateTask(ctx, task)
	})
	if err != nil {
		return err
	}
	if successor == nil {
		return nil
	}

	s.emitter.EmitTask(ctx, events.TaskSpawned, successor, successor.AssigneeID, actor.Worker, nil)
	s.scheduleTaskJobs(ctx, successor)
	return nil
}

// HandleReminderTrigger processes a scheduler callback for a due-date
// reminder. The reminder_sent flag makes redelivery a no-op.
func (s *Service) HandleReminderTrigger(ctx context.Context, taskID int64) error {
	task, err := s.store.GetTask(ctx, taskID)
	if apperrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if task.ReminderSent || task.AssigneeID == nil || task.DueDate == nil || task.Status == models.StatusCompleted {
		return nil
	}

	actor, err := s.systemActor(ctx, task)
	if err != nil {
		return err
	}

	task.ReminderSent = true
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, auditEntry(actor, models.EntityTask, task.ID, "reminder_sent",
			map[string]interface{}{"due_date": task.DueDate}))
	})
	if err != nil {
		return err
	}

	hours := int(math.Round(time.Until(*task.DueDate).Hours()))
	if hours < 0 {
		hours = 0
	}
	s.emitter.EmitReminder(ctx, task, task.AssigneeID, actor.Worker, hours)
	return nil
}

// systemActor resolves the actor for scheduler-initiated work: the task's
// creator, on whose behalf the timer was registered.
func (s *Service) systemActor(ctx context.Context, task *models.Task) (*Actor, error) {
	worker, err := s.store.GetWorker(ctx, task.CreatorID)
	if err != nil {
		return nil, err
	}
	return &Actor{Worker: worker}, nil
}
