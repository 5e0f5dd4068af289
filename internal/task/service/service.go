// Package service implements the task domain engine: entities, the status
// state machine, subtask trees, recurrence, and the audit/event side
// effects of every mutation.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/taskflow/taskflow/internal/common/errors"
	"github.com/taskflow/taskflow/internal/common/logger"
	"github.com/taskflow/taskflow/internal/events"
	"github.com/taskflow/taskflow/internal/scheduler"
	"github.com/taskflow/taskflow/internal/task/models"
	"github.com/taskflow/taskflow/internal/task/store"
)

// Actor is the resolved caller of a domain operation: the worker row plus
// the client identity when the call came from an agent or external tool.
type Actor struct {
	Worker     *models.Worker
	TenantID   string
	ClientID   string
	ClientName string
}

// Service is the task domain engine. All mutations run inside a single
// store transaction together with their audit entries; events and scheduler
// registrations happen after commit and are best-effort.
type Service struct {
	store   store.Store
	sched   scheduler.Scheduler
	emitter *events.Emitter
	logger  *logger.Logger
}

// New creates the domain service. sched may be nil when no scheduler sidecar
// is configured; timed spawns and reminders are then disabled.
func New(st store.Store, sched scheduler.Scheduler, emitter *events.Emitter, log *logger.Logger) *Service {
	return &Service{
		store:   st,
		sched:   sched,
		emitter: emitter,
		logger:  log,
	}
}

// auditEntry builds an audit row for the given actor. Client id/name are
// carried for agent and tool calls so actions stay traceable to the tool
// that initiated them.
func auditEntry(actor *Actor, entityType string, entityID int64, action string, details map[string]interface{}) *models.AuditLog {
	return &models.AuditLog{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		ActorID:    actor.Worker.ID,
		ActorKind:  actor.Worker.Kind,
		Details:    details,
		ClientID:   actor.ClientID,
		ClientName: actor.ClientName,
	}
}

// requireProject loads a tenant-scoped project. Cross-tenant access
// collapses into not-found.
func (s *Service) requireProject(ctx context.Context, actor *Actor, projectID int64) (*models.Project, error) {
	return s.store.GetProject(ctx, actor.TenantID, projectID)
}

// requireMember checks that the actor belongs to the project.
func (s *Service) requireMember(ctx context.Context, actor *Actor, projectID int64) (*models.ProjectMember, error) {
	member, err := s.store.GetMember(ctx, projectID, actor.Worker.ID)
	if apperrors.IsNotFound(err) {
		return nil, apperrors.Forbidden("not a project member")
	}
	return member, err
}

// requireOwner checks that the actor owns the project.
func (s *Service) requireOwner(ctx context.Context, actor *Actor, projectID int64) error {
	member, err := s.requireMember(ctx, actor, projectID)
	if err != nil {
		return err
	}
	if member.Role != models.RoleOwner {
		return apperrors.Forbidden("only the project owner may do this")
	}
	return nil
}

// scheduleTaskJobs registers the timed callbacks a task needs: a spawn job
// when the recurrence trigger is time-based, and a reminder when the task
// has both an assignee and a due date. Registration failures are logged and
// never fail the request.
func (s *Service) scheduleTaskJobs(ctx context.Context, task *models.Task) {
	if s.sched == nil {
		return
	}

	if task.IsRecurring && task.DueDate != nil &&
		(task.RecurrenceTrigger == models.TriggerOnDueDate || task.RecurrenceTrigger == models.TriggerBoth) {
		err := s.sched.ScheduleJob(ctx, scheduler.SpawnJobName(task.ID), *task.DueDate, map[string]interface{}{
			"type":    scheduler.JobTypeSpawn,
			"task_id": task.ID,
		})
		if err != nil {
			s.logger.Warn("failed to register spawn job",
				zap.Int64("task_id", task.ID), zap.Error(err))
		}
	}

	if task.AssigneeID != nil && task.DueDate != nil && !task.ReminderSent {
		// Reminders fire 24h before the due date; if the due date is closer
		// than that, fire immediately.
		fireAt := task.DueDate.Add(-24 * time.Hour)
		if now := time.Now().UTC(); fireAt.Before(now) {
			fireAt = now
		}
		err := s.sched.ScheduleJob(ctx, scheduler.ReminderJobName(task.ID), fireAt, map[string]interface{}{
			"type":    scheduler.JobTypeReminder,
			"task_id": task.ID,
		})
		if err != nil {
			s.logger.Warn("failed to register reminder job",
				zap.Int64("task_id", task.ID), zap.Error(err))
		}
	}
}

// cancelTaskJobs cancels a task's outstanding scheduler jobs. Failures are
// logged and ignored.
func (s *Service) cancelTaskJobs(ctx context.Context, taskID int64) {
	if s.sched == nil {
		return
	}
	for _, name := range []string{scheduler.SpawnJobName(taskID), scheduler.ReminderJobName(taskID)} {
		if err := s.sched.CancelJob(ctx, name); err != nil {
			s.logger.Warn("failed to cancel scheduler job",
				zap.String("job", name), zap.Error(err))
		}
	}
}
