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

// CreateTaskInput carries the caller-supplied task fields.
type CreateTaskInput struct {
	Title       string
	Description string
	Priority    models.TaskPriority
	Tags        []string
	DueDate     *time.Time
	AssigneeID  *int64
	ParentID    *int64

	IsRecurring       bool
	RecurrencePattern string
	MaxOccurrences    *int
	RecurrenceTrigger models.RecurrenceTrigger
	CloneSubtasks     bool
}

// CreateTask creates a task in a project. The actor must be a member.
func (s *Service) CreateTask(ctx context.Context, actor *Actor, projectID int64, input CreateTaskInput) (*models.Task, error) {
	if _, err := s.requireProject(ctx, actor, projectID); err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, actor, projectID); err != nil {
		return nil, err
	}

	if input.Title == "" || len(input.Title) > models.MaxTitleLength {
		return nil, apperrors.ValidationError("title", fmt.Sprintf("must be 1-%d characters", models.MaxTitleLength))
	}
	if input.Priority == "" {
		input.Priority = models.PriorityMedium
	}
	if !models.ValidPriority(input.Priority) {
		return nil, apperrors.ValidationError("priority", "must be low, medium, high, or critical")
	}

	if input.AssigneeID != nil {
		if _, err := s.store.GetMember(ctx, projectID, *input.AssigneeID); err != nil {
			if apperrors.IsNotFound(err) {
				return nil, apperrors.InvariantViolation("assignee is not a member of the project")
			}
			return nil, err
		}
	}
	if input.ParentID != nil {
		parent, err := s.store.GetTask(ctx, *input.ParentID)
		if err != nil {
			return nil, err
		}
		if parent.ProjectID != projectID {
			return nil, apperrors.InvariantViolation("parent task belongs to a different project")
		}
	}

	if input.IsRecurring {
		if input.RecurrenceTrigger == "" {
			input.RecurrenceTrigger = models.TriggerOnComplete
		}
		switch input.RecurrenceTrigger {
		case models.TriggerOnComplete, models.TriggerOnDueDate, models.TriggerBoth:
		default:
			return nil, apperrors.ValidationError("recurrence_trigger", "must be on_complete, on_due_date, or both")
		}
		if input.MaxOccurrences != nil && *input.MaxOccurrences < 1 {
			return nil, apperrors.ValidationError("max_occurrences", "must be at least 1")
		}
	}

	task := &models.Task{
		ProjectID:         projectID,
		Title:             input.Title,
		Description:       input.Description,
		Status:            models.StatusPending,
		Priority:          input.Priority,
		Tags:              input.Tags,
		DueDate:           input.DueDate,
		AssigneeID:        input.AssigneeID,
		ParentID:          input.ParentID,
		CreatorID:         actor.Worker.ID,
		IsRecurring:       input.IsRecurring,
		RecurrencePattern: input.RecurrencePattern,
		MaxOccurrences:    input.MaxOccurrences,
		RecurrenceTrigger: input.RecurrenceTrigger,
		CloneSubtasks:     input.CloneSubtasks,
	}

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateTask(ctx, task); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, auditEntry(actor, models.EntityTask, task.ID, models.ActionCreated,
			map[string]interface{}{"title": task.Title, "project_id": projectID}))
	})
	if err != nil {
		return nil, err
	}

	// A creation notifies the assignee, unless they created it themselves.
	var recipient *int64
	if task.AssigneeID != nil && *task.AssigneeID != actor.Worker.ID {
		recipient = task.AssigneeID
	}
	s.emitter.EmitTask(ctx, events.TaskCreated, task, recipient, actor.Worker, nil)
	s.scheduleTaskJobs(ctx, task)

	return task, nil
}

// TaskDetail is a task together with its read-time derivations.
type TaskDetail struct {
	Task *models.Task
	// RolledUpProgress is the mean of the direct subtasks' progress,
	// truncated; equal to the task's own progress when it has no subtasks.
	RolledUpProgress int
	Subtasks         []*models.Task
}

// requireTask loads a task and its tenant-scoped project. Tasks outside the
// actor's tenant collapse into not-found.
func (s *Service) requireTask(ctx context.Context, actor *Actor, taskID int64) (*models.Task, *models.Project, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	project, err := s.store.GetProject(ctx, actor.TenantID, task.ProjectID)
	if apperrors.IsNotFound(err) {
		return nil, nil, apperrors.NotFoundID("task", taskID)
	}
	if err != nil {
		return nil, nil, err
	}
	return task, project, nil
}

// GetTask returns a task with its subtasks and rolled-up progress.
func (s *Service) GetTask(ctx context.Context, actor *Actor, taskID int64) (*TaskDetail, error) {
	task, _, err := s.requireTask(ctx, actor, taskID)
	if err != nil {
		return nil, err
	}
	subtasks, err := s.store.ListSubtasks(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &TaskDetail{
		Task:             task,
		RolledUpProgress: rollup(subtasks),
		Subtasks:         subtasks,
	}, nil
}

// rollup derives a parent's progress from its direct subtasks: the
// arithmetic mean truncated to an integer, 0 when there are none. The
// task's own stored progress is reported separately on the task itself.
func rollup(subtasks []*models.Task) int {
	if len(subtasks) == 0 {
		return 0
	}
	sum := 0
	for _, sub := range subtasks {
		sum += sub.ProgressPercent
	}
	return sum / len(subtasks)
}

// ListTasks returns the tasks of a project matching the filter.
func (s *Service) ListTasks(ctx context.Context, actor *Actor, projectID int64, filter store.TaskFilter) ([]*models.Task, error) {
	if _, err := s.requireProject(ctx, actor, projectID); err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, projectID, filter)
}

// TaskAudit returns the audit trail of a task.
func (s *Service) TaskAudit(ctx context.Context, actor *Actor, taskID int64, filter store.AuditFilter) ([]*models.AuditLog, error) {
	if _, _, err := s.requireTask(ctx, actor, taskID); err != nil {
		return nil, err
	}
	return s.store.ListAuditByEntity(ctx, models.EntityTask, taskID, filter)
}

// UpdateTaskInput carries optional task updates; nil fields are left
// unchanged.
type UpdateTaskInput struct {
	Title       *string
	Description *string
	Priority    *models.TaskPriority
	Tags        *[]string
	DueDate     *time.Time
	ClearDue    bool
	ParentID    *int64
	ClearParent bool
}

// UpdateTask updates a task's fields. The actor must be a project member.
// Parent changes are cycle-checked.
func (s *Service) UpdateTask(ctx context.Context, actor *Actor, taskID int64, input UpdateTaskInput) (*models.Task, error) {
	task, _, err := s.requireTask(ctx, actor, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, actor, task.ProjectID); err != nil {
		return nil, err
	}

	changes := map[string]interface{}{}
	if input.Title != nil && *input.Title != task.Title {
		if *input.Title == "" || len(*input.Title) > models.MaxTitleLength {
			return nil, apperrors.ValidationError("title", fmt.Sprintf("must be 1-%d characters", models.MaxTitleLength))
		}
		changes["title"] = map[string]interface{}{"before": task.Title, "after": *input.Title}
		task.Title = *input.Title
	}
	if input.Description != nil && *input.Description != task.Description {
		changes["description"] = map[string]interface{}{"before": task.Description, "after": *input.Description}
		task.Description = *input.Description
	}
	if input.Priority != nil && *input.Priority != task.Priority {
		if !models.ValidPriority(*input.Priority) {
			return nil, apperrors.ValidationError("priority", "must be low, medium, high, or critical")
		}
		changes["priority"] = map[string]interface{}{"before": task.Priority, "after": *input.Priority}
		task.Priority = *input.Priority
	}
	if input.Tags != nil {
		changes["tags"] = map[string]interface{}{"before": task.Tags, "after": *input.Tags}
		task.Tags = *input.Tags
	}

	dueChanged := false
	if input.ClearDue && task.DueDate != nil {
		changes["due_date"] = map[string]interface{}{"before": task.DueDate, "after": nil}
		task.DueDate = nil
		dueChanged = true
	} else if input.DueDate != nil && (task.DueDate == nil || !task.DueDate.Equal(*input.DueDate)) {
		changes["due_date"] = map[string]interface{}{"before": task.DueDate, "after": *input.DueDate}
		task.DueDate = input.DueDate
		dueChanged = true
	}

	if input.ClearParent && task.ParentID != nil {
		changes["parent_id"] = map[string]interface{}{"before": *task.ParentID, "after": nil}
		task.ParentID = nil
	} else if input.ParentID != nil && (task.ParentID == nil || *task.ParentID != *input.ParentID) {
		if err := s.checkParent(ctx, task, *input.ParentID); err != nil {
			return nil, err
		}
		var before interface{}
		if task.ParentID != nil {
			before = *task.ParentID
		}
		changes["parent_id"] = map[string]interface{}{"before": before, "after": *input.ParentID}
		task.ParentID = input.ParentID
	}

	if len(changes) == 0 {
		return task, nil
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, auditEntry(actor, models.EntityTask, task.ID, models.ActionUpdated, changes))
	})
	if err != nil {
		return nil, err
	}

	s.emitter.EmitTask(ctx, events.TaskUpdated, task, task.AssigneeID, actor.Worker, changes)
	if dueChanged {
		if task.DueDate == nil {
			s.cancelTaskJobs(ctx, task.ID)
		} else {
			s.scheduleTaskJobs(ctx, task)
		}
	}
	return task, nil
}

// checkParent validates a new parent: same project, exists, and does not
// close a cycle. The walk up the parent chain is bounded by a visited set.
func (s *Service) checkParent(ctx context.Context, task *models.Task, parentID int64) error {
	if parentID == task.ID {
		return apperrors.InvariantViolation("a task cannot be its own parent")
	}
	parent, err := s.store.GetTask(ctx, parentID)
	if err != nil {
		return err
	}
	if parent.ProjectID != task.ProjectID {
		return apperrors.InvariantViolation("parent task belongs to a different project")
	}

	visited := map[int64]bool{task.ID: true}
	current := parent
	for {
		if visited[current.ID] {
			return apperrors.InvariantViolation("setting this parent would create a cycle")
		}
		visited[current.ID] = true
		if current.ParentID == nil {
			return nil
		}
		next, err := s.store.GetTask(ctx, *current.ParentID)
		if err != nil {
			return err
		}
		current = next
	}
}

// DeleteTask hard-deletes a task and its entire subtree, depth-first. The
// root's audit entry records the number of subtasks removed; outstanding
// scheduler jobs for every deleted task are cancelled after commit.
func (s *Service) DeleteTask(ctx context.Context, actor *Actor, taskID int64) error {
	task, _, err := s.requireTask(ctx, actor, taskID)
	if err != nil {
		return err
	}
	if _, err := s.requireMember(ctx, actor, task.ProjectID); err != nil {
		return err
	}

	var deleted []int64
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		ids, err := deleteSubtree(ctx, tx, taskID)
		if err != nil {
			return err
		}
		deleted = ids
		return tx.AppendAudit(ctx, auditEntry(actor, models.EntityTask, taskID, models.ActionDeleted,
			map[string]interface{}{"title": task.Title, "subtasks_deleted": len(ids) - 1}))
	})
	if err != nil {
		return err
	}

	for _, id := range deleted {
		s.cancelTaskJobs(ctx, id)
	}
	s.emitter.EmitTask(ctx, events.TaskDeleted, task, task.AssigneeID, actor.Worker, nil)
	return nil
}

// deleteSubtree removes a task and all its descendants post-order and
// returns every deleted id, root last.
func deleteSubtree(ctx context.Context, tx store.Tx, rootID int64) ([]int64, error) {
	subtasks, err := tx.ListSubtasks(ctx, rootID)
	if err != nil {
		return nil, err
	}

	var deleted []int64
	for _, sub := range subtasks {
		ids, err := deleteSubtree(ctx, tx, sub.ID)
		if err != nil {
			return nil, err
		}
		deleted = append(deleted, ids...)
	}

	if err := tx.DeleteTask(ctx, rootID); err != nil {
		return nil, err
	}
	return append(deleted, rootID), nil
}
