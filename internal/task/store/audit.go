package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskflow/taskflow/internal/db/dialect"
	"github.com/taskflow/taskflow/internal/task/models"
)

const auditColumns = `id, entity_type, entity_id, action, actor_id, actor_kind, details, client_id, client_name, created_at`

// AppendAudit inserts an audit entry. Rows are never updated or deleted;
// callers append inside the same transaction as the action being recorded.
func (s *session) AppendAudit(ctx context.Context, entry *models.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	details, err := json.Marshal(entry.Details)
	if err != nil {
		details = []byte("{}")
	}

	id, err := dialect.InsertReturningID(ctx, s.w, `
		INSERT INTO audit_logs (entity_type, entity_id, action, actor_id, actor_kind, details, client_id, client_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.EntityType, entry.EntityID, entry.Action, entry.ActorID, entry.ActorKind,
		string(details), entry.ClientID, entry.ClientName, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	entry.ID = id
	return nil
}

// ListAuditByEntity returns the audit trail of one entity, oldest first.
func (s *session) ListAuditByEntity(ctx context.Context, entityType string, entityID int64, filter AuditFilter) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE entity_type = ? AND entity_id = ? ORDER BY id`
	query = appendAuditPaging(query, filter)

	rows, err := s.r.QueryxContext(ctx, s.r.Rebind(query), entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAudit(rows)
}

// ListAuditByProject returns the audit trail of a project and of every task
// in it, oldest first.
func (s *session) ListAuditByProject(ctx context.Context, projectID int64, filter AuditFilter) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditColumns + ` FROM audit_logs
		WHERE (entity_type = 'project' AND entity_id = ?)
		   OR (entity_type = 'task' AND entity_id IN (SELECT id FROM tasks WHERE project_id = ?))
		ORDER BY id`
	query = appendAuditPaging(query, filter)

	rows, err := s.r.QueryxContext(ctx, s.r.Rebind(query), projectID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAudit(rows)
}

func appendAuditPaging(query string, filter AuditFilter) string {
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, filter.Offset)
	}
	return query
}

func collectAudit(rows taskRows) ([]*models.AuditLog, error) {
	var entries []*models.AuditLog
	for rows.Next() {
		entry := &models.AuditLog{}
		var details string
		if err := rows.Scan(&entry.ID, &entry.EntityType, &entry.EntityID, &entry.Action,
			&entry.ActorID, &entry.ActorKind, &details, &entry.ClientID, &entry.ClientName, &entry.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(details), &entry.Details)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
