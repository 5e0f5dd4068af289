package service

import (
	"context"
	"fmt"

	apperrors "github.com/taskflow/taskflow/internal/common/errors"
	"github.com/taskflow/taskflow/internal/task/models"
	"github.com/taskflow/taskflow/internal/task/store"
)

// CreateProjectInput carries the caller-supplied project fields.
type CreateProjectInput struct {
	Slug        string
	Name        string
	Description string
}

// CreateProject creates a project owned by the actor and adds the actor as
// its owner member, in one transaction.
func (s *Service) CreateProject(ctx context.Context, actor *Actor, input CreateProjectInput) (*models.Project, error) {
	if !models.ValidSlug(input.Slug) {
		return nil, apperrors.ValidationError("slug", "must match ^[a-z0-9-]+$ and be at most 100 characters")
	}
	if input.Name == "" {
		return nil, apperrors.ValidationError("name", "must not be empty")
	}

	if _, err := s.store.GetProjectBySlug(ctx, actor.TenantID, input.Slug); err == nil {
		return nil, apperrors.Conflict(fmt.Sprintf("project slug %q already exists in this tenant", input.Slug))
	} else if !apperrors.IsNotFound(err) {
		return nil, err
	}

	project := &models.Project{
		TenantID:    actor.TenantID,
		Slug:        input.Slug,
		Name:        input.Name,
		Description: input.Description,
		OwnerID:     actor.Worker.ExternalID,
	}

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateProject(ctx, project); err != nil {
			return err
		}
		if err := tx.AddMember(ctx, &models.ProjectMember{
			ProjectID: project.ID,
			WorkerID:  actor.Worker.ID,
			Role:      models.RoleOwner,
		}); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, auditEntry(actor, models.EntityProject, project.ID, models.ActionCreated,
			map[string]interface{}{"slug": project.Slug, "name": project.Name}))
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// GetProject returns a tenant-scoped project.
func (s *Service) GetProject(ctx context.Context, actor *Actor, projectID int64) (*models.Project, error) {
	return s.requireProject(ctx, actor, projectID)
}

// ListProjects returns the projects of the actor's tenant.
func (s *Service) ListProjects(ctx context.Context, actor *Actor) ([]*models.Project, error) {
	return s.store.ListProjects(ctx, actor.TenantID)
}

// UpdateProjectInput carries optional project updates; nil fields are left
// unchanged.
type UpdateProjectInput struct {
	Slug        *string
	Name        *string
	Description *string
}

// UpdateProject updates a project's mutable fields. Owner only.
func (s *Service) UpdateProject(ctx context.Context, actor *Actor, projectID int64, input UpdateProjectInput) (*models.Project, error) {
	project, err := s.requireProject(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwner(ctx, actor, projectID); err != nil {
		return nil, err
	}

	changes := map[string]interface{}{}
	if input.Slug != nil && *input.Slug != project.Slug {
		if !models.ValidSlug(*input.Slug) {
			return nil, apperrors.ValidationError("slug", "must match ^[a-z0-9-]+$ and be at most 100 characters")
		}
		if _, err := s.store.GetProjectBySlug(ctx, actor.TenantID, *input.Slug); err == nil {
			return nil, apperrors.Conflict(fmt.Sprintf("project slug %q already exists in this tenant", *input.Slug))
		} else if !apperrors.IsNotFound(err) {
			return nil, err
		}
		changes["slug"] = map[string]interface{}{"before": project.Slug, "after": *input.Slug}
		project.Slug = *input.Slug
	}
	if input.Name != nil && *input.Name != project.Name {
		if *input.Name == "" {
			return nil, apperrors.ValidationError("name", "must not be empty")
		}
		changes["name"] = map[string]interface{}{"before": project.Name, "after": *input.Name}
		project.Name = *input.Name
	}
	if input.Description != nil && *input.Description != project.Description {
		changes["description"] = map[string]interface{}{"before": project.Description, "after": *input.Description}
		project.Description = *input.Description
	}
	if len(changes) == 0 {
		return project, nil
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateProject(ctx, project); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, auditEntry(actor, models.EntityProject, project.ID, models.ActionUpdated, changes))
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// DeleteProject removes a project. Owner only; default projects are never
// deletable; projects with tasks require force, which cascades tasks and
// memberships.
func (s *Service) DeleteProject(ctx context.Context, actor *Actor, projectID int64, force bool) error {
	project, err := s.requireProject(ctx, actor, projectID)
	if err != nil {
		return err
	}
	if err := s.requireOwner(ctx, actor, projectID); err != nil {
		return err
	}
	if project.IsDefault {
		return apperrors.InvariantViolation("default projects cannot be deleted")
	}

	taskCount, err := s.store.CountProjectTasks(ctx, projectID)
	if err != nil {
		return err
	}
	if taskCount > 0 && !force {
		return apperrors.InvariantViolation(
			fmt.Sprintf("project has %d tasks; pass force=true to delete them", taskCount))
	}

	// Cancel outstanding jobs for the project's tasks before the rows go.
	tasks, err := s.store.ListTasks(ctx, projectID, store.TaskFilter{})
	if err != nil {
		return err
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.DeleteProject(ctx, projectID); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, auditEntry(actor, models.EntityProject, projectID, models.ActionDeleted,
			map[string]interface{}{"slug": project.Slug, "tasks_deleted": taskCount}))
	})
	if err != nil {
		return err
	}

	for _, task := range tasks {
		s.cancelTaskJobs(ctx, task.ID)
	}
	return nil
}

// AddMember adds a worker to a project. Owner only.
func (s *Service) AddMember(ctx context.Context, actor *Actor, projectID, workerID int64, role models.MemberRole) (*models.ProjectMember, error) {
	if _, err := s.requireProject(ctx, actor, projectID); err != nil {
		return nil, err
	}
	if err := s.requireOwner(ctx, actor, projectID); err != nil {
		return nil, err
	}
	worker, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = models.RoleMember
	}
	if role != models.RoleOwner && role != models.RoleMember {
		return nil, apperrors.ValidationError("role", "must be owner or member")
	}
	if _, err := s.store.GetMember(ctx, projectID, workerID); err == nil {
		return nil, apperrors.Conflict("worker is already a member of this project")
	} else if !apperrors.IsNotFound(err) {
		return nil, err
	}

	member := &models.ProjectMember{ProjectID: projectID, WorkerID: workerID, Role: role}
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.AddMember(ctx, member); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, auditEntry(actor, models.EntityProject, projectID, models.ActionMemberAdded,
			map[string]interface{}{"worker_id": workerID, "handle": worker.Handle, "role": role}))
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// ListMembers returns the memberships of a project. Any member may read.
func (s *Service) ListMembers(ctx context.Context, actor *Actor, projectID int64) ([]*models.ProjectMember, error) {
	if _, err := s.requireProject(ctx, actor, projectID); err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, actor, projectID); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, projectID)
}

// RemoveMember removes a worker from a project. Owner only; the owner's own
// membership cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, actor *Actor, projectID, workerID int64) error {
	if _, err := s.requireProject(ctx, actor, projectID); err != nil {
		return err
	}
	if err := s.requireOwner(ctx, actor, projectID); err != nil {
		return err
	}
	member, err := s.store.GetMember(ctx, projectID, workerID)
	if err != nil {
		return err
	}
	if member.Role == models.RoleOwner {
		return apperrors.InvariantViolation("the project owner cannot be removed")
	}

	return s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.RemoveMember(ctx, projectID, workerID); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, auditEntry(actor, models.EntityProject, projectID, models.ActionMemberRemoved,
			map[string]interface{}{"worker_id": workerID}))
	})
}

// ProjectAudit returns the audit trail of a project and its tasks. Any
// project member may read it.
func (s *Service) ProjectAudit(ctx context.Context, actor *Actor, projectID int64, filter store.AuditFilter) ([]*models.AuditLog, error) {
	if _, err := s.requireProject(ctx, actor, projectID); err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, actor, projectID); err != nil {
		return nil, err
	}
	return s.store.ListAuditByProject(ctx, projectID, filter)
}
