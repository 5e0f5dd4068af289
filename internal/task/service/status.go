package service

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/taskflow/taskflow/internal/common/errors"
	"github.com/taskflow/taskflow/internal/events"
	"github.com/taskflow/taskflow/internal/task/models"
	"github.com/taskflow/taskflow/internal/task/store"
)

// Transition moves a task to a new status through the state machine. The
// actor must be a project member.
func (s *Service) Transition(ctx context.Context, actor *Actor, taskID int64, to models.TaskStatus) (*models.Task, error) {
	task, _, err := s.requireTask(ctx, actor, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, actor, task.ProjectID); err != nil {
		return nil, err
	}
	if !models.ValidStatus(to) {
		return nil, apperrors.ValidationError("status", "unknown status")
	}
	if !models.CanTransition(task.Status, to) {
		return nil, apperrors.InvariantViolation(
			fmt.Sprintf("invalid transition %s -> %s", task.Status, to))
	}

	if to == models.StatusCompleted {
		return s.complete(ctx, actor, task, models.ActionStatusChanged, nil)
	}
	return s.applyTransition(ctx, actor, task, to, models.ActionStatusChanged, nil)
}

// Approve moves a task from review to completed.
func (s *Service) Approve(ctx context.Context, actor *Actor, taskID int64) (*models.Task, error) {
	task, _, err := s.requireTask(ctx, actor, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, actor, task.ProjectID); err != nil {
		return nil, err
	}
	if task.Status != models.StatusReview {
		return nil, apperrors.InvariantViolation(
			fmt.Sprintf("invalid transition %s -> %s", task.Status, models.StatusCompleted))
	}
	return s.complete(ctx, actor, task, models.ActionApproved, nil)
}

// Reject moves a task from review back to in_progress, recording the reason.
func (s *Service) Reject(ctx context.Context, actor *Actor, taskID int64, reason string) (*models.Task, error) {
	task, _, err := s.requireTask(ctx, actor, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, actor, task.ProjectID); err != nil {
		return nil, err
	}
	if task.Status != models.StatusReview {
		return nil, apperrors.InvariantViolation(
			fmt.Sprintf("invalid transition %s -> %s", task.Status, models.StatusInProgress))
	}
	return s.applyTransition(ctx, actor, task, models.StatusInProgress, models.ActionRejected,
		map[string]interface{}{"reason": reason})
}

// applyTransition commits a non-completing status change and its audit
// entry, then emits a task.updated event.
func (s *Service) applyTransition(ctx context.Context, actor *Actor, task *models.Task, to models.TaskStatus, action string, extra map[string]interface{}) (*models.Task, error) {
	from := task.Status
	task.Status = to

	// Entering in_progress starts the clock once; re-entry keeps the
	// original start. A reopen from completed keeps completed_at, the
	// audit trail records it.
	if to == models.StatusInProgress && task.StartedAt == nil {
		now := time.Now().UTC()
		task.StartedAt = &now
	}

	details := map[string]interface{}{"before": from, "after": to}
	for k, v := range extra {
		details[k] = v
	}

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, auditEntry(actor, models.EntityTask, task.ID, action, details))
	})
	if err != nil {
		return nil, err
	}

	s.emitter.EmitTask(ctx, events.TaskUpdated, task, task.AssigneeID, actor.Worker,
		map[string]interface{}{"status": details})
	return task, nil
}

// complete commits a transition to completed: timestamps and progress are
// forced, and a recurring task spawns its successor in the same
// transaction.
func (s *Service) complete(ctx context.Context, actor *Actor, task *models.Task, action string, extra map[string]interface{}) (*models.Task, error) {
	from := task.Status
	now := time.Now().UTC()
	task.Status = models.StatusCompleted
	task.CompletedAt = &now
	task.ProgressPercent = 100

	details := map[string]interface{}{"before": from, "after": models.StatusCompleted}
	for k, v := range extra {
		details[k] = v
	}

	var successor *models.Task
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		spawned, err := s.maybeSpawn(ctx, tx, actor, task, now, false)
		if err != nil {
			return err
		}
		successor = spawned

		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, auditEntry(actor, models.EntityTask, task.ID, action, details))
	})
	if err != nil {
		return nil, err
	}

	// A completion notifies the creator, unless they completed it
	// themselves.
	var recipient *int64
	if task.CreatorID != actor.Worker.ID {
		recipient = &task.CreatorID
	}
	s.emitter.EmitTask(ctx, events.TaskCompleted, task, recipient, actor.Worker,
		map[string]interface{}{"status": details})

	if successor != nil {
		s.emitter.EmitTask(ctx, events.TaskSpawned, successor, successor.AssigneeID, actor.Worker, nil)
		s.scheduleTaskJobs(ctx, successor)
	}
	return task, nil
}

// UpdateProgress sets a task's progress percent. Only valid while the task
// is in progress.
func (s *Service) UpdateProgress(ctx context.Context, actor *Actor, taskID int64, percent int, note string) (*models.Task, error) {
	task, _, err := s.requireTask(ctx, actor, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, actor, task.ProjectID); err != nil {
		return nil, err
	}
	if percent < 0 || percent > 100 {
		return nil, apperrors.ValidationError("percent", "must be between 0 and 100")
	}
	if task.Status != models.StatusInProgress {
		return nil, apperrors.InvariantViolation("progress can only be updated while the task is in progress")
	}

	before := task.ProgressPercent
	task.ProgressPercent = percent

	details := map[string]interface{}{"before": before, "after": percent}
	if note != "" {
		details["note"] = note
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, auditEntry(actor, models.EntityTask, task.ID, models.ActionProgressUpdated, details))
	})
	if err != nil {
		return nil, err
	}

	s.emitter.EmitTask(ctx, events.TaskUpdated, task, task.AssigneeID, actor.Worker,
		map[string]interface{}{"progress": details})
	return task, nil
}

// Assign sets a task's assignee. The assignee must be a member of the
// task's project.
func (s *Service) Assign(ctx context.Context, actor *Actor, taskID, assigneeID int64) (*models.Task, error) {
	task, _, err := s.requireTask(ctx, actor, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, actor, task.ProjectID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetMember(ctx, task.ProjectID, assigneeID); err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.InvariantViolation("assignee is not a member of the project")
		}
		return nil, err
	}

	var before interface{}
	if task.AssigneeID != nil {
		before = *task.AssigneeID
	}
	task.AssigneeID = &assigneeID

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, auditEntry(actor, models.EntityTask, task.ID, models.ActionAssigned,
			map[string]interface{}{"before": before, "after": assigneeID}))
	})
	if err != nil {
		return nil, err
	}

	s.emitter.EmitTask(ctx, events.TaskAssigned, task, &assigneeID, actor.Worker, nil)
	// The new assignee gets a reminder if a due date is set.
	s.scheduleTaskJobs(ctx, task)
	return task, nil
}
