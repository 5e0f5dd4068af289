package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	apperrors "github.com/taskflow/taskflow/internal/common/errors"
	"github.com/taskflow/taskflow/internal/db/dialect"
	"github.com/taskflow/taskflow/internal/task/models"
)

const workerColumns = `id, handle, display_name, kind, agent_family, capabilities, external_id, created_at`

// CreateWorker inserts a worker and assigns its id.
func (s *session) CreateWorker(ctx context.Context, w *models.Worker) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	capabilities, err := json.Marshal(w.Capabilities)
	if err != nil {
		capabilities = []byte("[]")
	}

	id, err := dialect.InsertReturningID(ctx, s.w, `
		INSERT INTO workers (handle, display_name, kind, agent_family, capabilities, external_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.Handle, w.DisplayName, w.Kind, w.AgentFamily, string(capabilities), w.ExternalID, w.CreatedAt)
	if err != nil {
		return err
	}
	w.ID = id
	return nil
}

// GetWorker retrieves a worker by id.
func (s *session) GetWorker(ctx context.Context, id int64) (*models.Worker, error) {
	row := s.r.QueryRowxContext(ctx, s.r.Rebind(`
		SELECT `+workerColumns+` FROM workers WHERE id = ?`), id)
	return scanWorker(row)
}

// GetWorkerByExternalID retrieves the worker linked to an external identity.
func (s *session) GetWorkerByExternalID(ctx context.Context, externalID string) (*models.Worker, error) {
	row := s.r.QueryRowxContext(ctx, s.r.Rebind(`
		SELECT `+workerColumns+` FROM workers WHERE external_id = ?`), externalID)
	return scanWorker(row)
}

// GetWorkerByHandle retrieves a worker by its unique handle.
func (s *session) GetWorkerByHandle(ctx context.Context, handle string) (*models.Worker, error) {
	row := s.r.QueryRowxContext(ctx, s.r.Rebind(`
		SELECT `+workerColumns+` FROM workers WHERE handle = ?`), handle)
	return scanWorker(row)
}

// ListWorkers returns all workers ordered by handle.
func (s *session) ListWorkers(ctx context.Context) ([]*models.Worker, error) {
	rows, err := s.r.QueryxContext(ctx, `SELECT `+workerColumns+` FROM workers ORDER BY handle`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workers []*models.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// DeleteWorker removes a worker row. Callers must check memberships first.
func (s *session) DeleteWorker(ctx context.Context, id int64) error {
	result, err := s.w.ExecContext(ctx, s.w.Rebind(`DELETE FROM workers WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFoundID("worker", id)
	}
	return nil
}

// CountWorkerMemberships counts the project memberships referencing a worker.
func (s *session) CountWorkerMemberships(ctx context.Context, workerID int64) (int, error) {
	var count int
	err := s.r.QueryRowxContext(ctx, s.r.Rebind(`
		SELECT COUNT(*) FROM project_members WHERE worker_id = ?`), workerID).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorker(row rowScanner) (*models.Worker, error) {
	w := &models.Worker{}
	var capabilities string
	err := row.Scan(&w.ID, &w.Handle, &w.DisplayName, &w.Kind, &w.AgentFamily, &capabilities, &w.ExternalID, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("worker")
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(capabilities), &w.Capabilities)
	return w, nil
}
