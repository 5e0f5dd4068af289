package service

import (
	"context"
	"fmt"

	apperrors "github.com/taskflow/taskflow/internal/common/errors"
	"github.com/taskflow/taskflow/internal/task/models"
	"github.com/taskflow/taskflow/internal/task/store"
)

// CreateAgentInput carries the fields for an explicitly-created agent
// worker.
type CreateAgentInput struct {
	Handle       string
	DisplayName  string
	AgentFamily  models.AgentFamily
	Capabilities []string
}

// CreateAgent registers an agent worker. Agents must carry a family tag.
func (s *Service) CreateAgent(ctx context.Context, actor *Actor, input CreateAgentInput) (*models.Worker, error) {
	if !models.ValidHandle(input.Handle) {
		return nil, apperrors.ValidationError("handle",
			fmt.Sprintf("must be @-prefixed lowercase alphanumeric with - or _, at most %d characters", models.MaxHandleLength))
	}
	if !models.ValidAgentFamily(input.AgentFamily) {
		return nil, apperrors.ValidationError("agent_family", "must be claude, qwen, gemini, or custom")
	}
	if _, err := s.store.GetWorkerByHandle(ctx, input.Handle); err == nil {
		return nil, apperrors.Conflict(fmt.Sprintf("handle %q is already taken", input.Handle))
	} else if !apperrors.IsNotFound(err) {
		return nil, err
	}

	worker := &models.Worker{
		Handle:       input.Handle,
		DisplayName:  input.DisplayName,
		Kind:         models.WorkerAgent,
		AgentFamily:  input.AgentFamily,
		Capabilities: input.Capabilities,
	}
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateWorker(ctx, worker); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, auditEntry(actor, models.EntityWorker, worker.ID, models.ActionCreated,
			map[string]interface{}{"handle": worker.Handle, "kind": worker.Kind, "agent_family": worker.AgentFamily}))
	})
	if err != nil {
		return nil, err
	}
	return worker, nil
}

// GetWorker returns a worker by id.
func (s *Service) GetWorker(ctx context.Context, id int64) (*models.Worker, error) {
	return s.store.GetWorker(ctx, id)
}

// ListWorkers returns all workers.
func (s *Service) ListWorkers(ctx context.Context) ([]*models.Worker, error) {
	return s.store.ListWorkers(ctx)
}

// DeleteWorker removes a worker. Blocked while the worker holds any project
// membership.
func (s *Service) DeleteWorker(ctx context.Context, actor *Actor, id int64) error {
	worker, err := s.store.GetWorker(ctx, id)
	if err != nil {
		return err
	}

	memberships, err := s.store.CountWorkerMemberships(ctx, id)
	if err != nil {
		return err
	}
	if memberships > 0 {
		return apperrors.InvariantViolation(
			fmt.Sprintf("worker has %d project memberships and cannot be deleted", memberships))
	}

	return s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.DeleteWorker(ctx, id); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, auditEntry(actor, models.EntityWorker, id, models.ActionDeleted,
			map[string]interface{}{"handle": worker.Handle}))
	})
}
