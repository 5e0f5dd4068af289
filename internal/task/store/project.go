package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/taskflow/taskflow/internal/common/errors"
	"github.com/taskflow/taskflow/internal/db/dialect"
	"github.com/taskflow/taskflow/internal/task/models"
)

const projectColumns = `id, tenant_id, slug, name, description, owner_id, is_default, created_at, updated_at`

// CreateProject inserts a project and assigns its id.
func (s *session) CreateProject(ctx context.Context, p *models.Project) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	id, err := dialect.InsertReturningID(ctx, s.w, `
		INSERT INTO projects (tenant_id, slug, name, description, owner_id, is_default, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.TenantID, p.Slug, p.Name, p.Description, p.OwnerID, dialect.BoolToInt(p.IsDefault), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

// GetProject retrieves a project by id within a tenant. Cross-tenant lookups
// collapse into not-found.
func (s *session) GetProject(ctx context.Context, tenantID string, id int64) (*models.Project, error) {
	row := s.r.QueryRowxContext(ctx, s.r.Rebind(`
		SELECT `+projectColumns+` FROM projects WHERE id = ? AND tenant_id = ?`), id, tenantID)
	return scanProject(row)
}

// GetProjectBySlug retrieves a project by its tenant-scoped slug.
func (s *session) GetProjectBySlug(ctx context.Context, tenantID, slug string) (*models.Project, error) {
	row := s.r.QueryRowxContext(ctx, s.r.Rebind(`
		SELECT `+projectColumns+` FROM projects WHERE tenant_id = ? AND slug = ?`), tenantID, slug)
	return scanProject(row)
}

// GetDefaultProject retrieves the default project for an external identity.
func (s *session) GetDefaultProject(ctx context.Context, ownerID string) (*models.Project, error) {
	row := s.r.QueryRowxContext(ctx, s.r.Rebind(`
		SELECT `+projectColumns+` FROM projects WHERE owner_id = ? AND is_default = 1`), ownerID)
	return scanProject(row)
}

// ListProjects returns the projects in a tenant ordered by creation.
func (s *session) ListProjects(ctx context.Context, tenantID string) ([]*models.Project, error) {
	rows, err := s.r.QueryxContext(ctx, s.r.Rebind(`
		SELECT `+projectColumns+` FROM projects WHERE tenant_id = ? ORDER BY created_at, id`), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProject rewrites a project's mutable fields.
func (s *session) UpdateProject(ctx context.Context, p *models.Project) error {
	p.UpdatedAt = time.Now().UTC()
	result, err := s.w.ExecContext(ctx, s.w.Rebind(`
		UPDATE projects SET slug = ?, name = ?, description = ?, updated_at = ?
		WHERE id = ?`),
		p.Slug, p.Name, p.Description, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFoundID("project", p.ID)
	}
	return nil
}

// DeleteProject removes a project row. Tasks and memberships cascade via
// foreign keys.
func (s *session) DeleteProject(ctx context.Context, id int64) error {
	result, err := s.w.ExecContext(ctx, s.w.Rebind(`DELETE FROM projects WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFoundID("project", id)
	}
	return nil
}

// CountProjectTasks counts the tasks in a project.
func (s *session) CountProjectTasks(ctx context.Context, projectID int64) (int, error) {
	var count int
	err := s.r.QueryRowxContext(ctx, s.r.Rebind(`
		SELECT COUNT(*) FROM tasks WHERE project_id = ?`), projectID).Scan(&count)
	return count, err
}

func scanProject(row rowScanner) (*models.Project, error) {
	p := &models.Project{}
	var isDefault int
	err := row.Scan(&p.ID, &p.TenantID, &p.Slug, &p.Name, &p.Description, &p.OwnerID, &isDefault, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("project")
	}
	if err != nil {
		return nil, err
	}
	p.IsDefault = isDefault != 0
	return p, nil
}

// AddMember links a worker to a project.
func (s *session) AddMember(ctx context.Context, m *models.ProjectMember) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	id, err := dialect.InsertReturningID(ctx, s.w, `
		INSERT INTO project_members (project_id, worker_id, role, created_at)
		VALUES (?, ?, ?, ?)`,
		m.ProjectID, m.WorkerID, m.Role, m.CreatedAt)
	if err != nil {
		return err
	}
	m.ID = id
	return nil
}

// GetMember retrieves a membership row, or not-found.
func (s *session) GetMember(ctx context.Context, projectID, workerID int64) (*models.ProjectMember, error) {
	m := &models.ProjectMember{}
	err := s.r.QueryRowxContext(ctx, s.r.Rebind(`
		SELECT id, project_id, worker_id, role, created_at
		FROM project_members WHERE project_id = ? AND worker_id = ?`), projectID, workerID).
		Scan(&m.ID, &m.ProjectID, &m.WorkerID, &m.Role, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("project member")
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMembers returns the memberships of a project.
func (s *session) ListMembers(ctx context.Context, projectID int64) ([]*models.ProjectMember, error) {
	rows, err := s.r.QueryxContext(ctx, s.r.Rebind(`
		SELECT id, project_id, worker_id, role, created_at
		FROM project_members WHERE project_id = ? ORDER BY created_at, id`), projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*models.ProjectMember
	for rows.Next() {
		m := &models.ProjectMember{}
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.WorkerID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// RemoveMember deletes a membership row.
func (s *session) RemoveMember(ctx context.Context, projectID, workerID int64) error {
	result, err := s.w.ExecContext(ctx, s.w.Rebind(`
		DELETE FROM project_members WHERE project_id = ? AND worker_id = ?`), projectID, workerID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFound("project member")
	}
	return nil
}
