package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/taskflow/taskflow/internal/common/errors"
	"github.com/taskflow/taskflow/internal/db/dialect"
	"github.com/taskflow/taskflow/internal/task/models"
)

const taskColumns = `id, project_id, title, description, status, priority, progress_percent, tags,
	due_date, assignee_id, parent_id, creator_id,
	is_recurring, recurrence_pattern, max_occurrences, recurring_root_id, recurrence_trigger,
	clone_subtasks, has_spawned_next, reminder_sent,
	started_at, completed_at, created_at, updated_at`

// CreateTask inserts a task and assigns its id.
func (s *session) CreateTask(ctx context.Context, t *models.Task) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	tags, err := json.Marshal(t.Tags)
	if err != nil {
		tags = []byte("[]")
	}

	id, err := dialect.InsertReturningID(ctx, s.w, `
		INSERT INTO tasks (project_id, title, description, status, priority, progress_percent, tags,
			due_date, assignee_id, parent_id, creator_id,
			is_recurring, recurrence_pattern, max_occurrences, recurring_root_id, recurrence_trigger,
			clone_subtasks, has_spawned_next, reminder_sent,
			started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ProjectID, t.Title, t.Description, t.Status, t.Priority, t.ProgressPercent, string(tags),
		t.DueDate, t.AssigneeID, t.ParentID, t.CreatorID,
		dialect.BoolToInt(t.IsRecurring), t.RecurrencePattern, t.MaxOccurrences, t.RecurringRootID, t.RecurrenceTrigger,
		dialect.BoolToInt(t.CloneSubtasks), dialect.BoolToInt(t.HasSpawnedNext), dialect.BoolToInt(t.ReminderSent),
		t.StartedAt, t.CompletedAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

// GetTask retrieves a task by id.
func (s *session) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	row := s.r.QueryRowxContext(ctx, s.r.Rebind(`
		SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	return scanTask(row)
}

// UpdateTask rewrites all mutable task fields.
func (s *session) UpdateTask(ctx context.Context, t *models.Task) error {
	t.UpdatedAt = time.Now().UTC()

	tags, err := json.Marshal(t.Tags)
	if err != nil {
		tags = []byte("[]")
	}

	result, err := s.w.ExecContext(ctx, s.w.Rebind(`
		UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?, progress_percent = ?, tags = ?,
			due_date = ?, assignee_id = ?, parent_id = ?,
			is_recurring = ?, recurrence_pattern = ?, max_occurrences = ?, recurring_root_id = ?, recurrence_trigger = ?,
			clone_subtasks = ?, has_spawned_next = ?, reminder_sent = ?,
			started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`),
		t.Title, t.Description, t.Status, t.Priority, t.ProgressPercent, string(tags),
		t.DueDate, t.AssigneeID, t.ParentID,
		dialect.BoolToInt(t.IsRecurring), t.RecurrencePattern, t.MaxOccurrences, t.RecurringRootID, t.RecurrenceTrigger,
		dialect.BoolToInt(t.CloneSubtasks), dialect.BoolToInt(t.HasSpawnedNext), dialect.BoolToInt(t.ReminderSent),
		t.StartedAt, t.CompletedAt, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFoundID("task", t.ID)
	}
	return nil
}

// DeleteTask removes a single task row. Subtree deletion is driven by the
// service, which deletes leaves first.
func (s *session) DeleteTask(ctx context.Context, id int64) error {
	result, err := s.w.ExecContext(ctx, s.w.Rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFoundID("task", id)
	}
	return nil
}

// ListTasks returns the tasks of a project matching the filter.
func (s *session) ListTasks(ctx context.Context, projectID int64, filter TaskFilter) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE project_id = ?`
	args := []any{projectID}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.AssigneeID != nil {
		query += ` AND assignee_id = ?`
		args = append(args, *filter.AssigneeID)
	}
	if filter.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, filter.Priority)
	}
	if filter.Search != "" {
		like := dialect.Like(s.r.DriverName())
		query += ` AND (title ` + like + ` ? OR description ` + like + ` ?)`
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}
	// Tags are stored as a JSON array; each requested tag must appear.
	for _, tag := range filter.Tags {
		query += ` AND tags LIKE ?`
		args = append(args, `%"`+tag+`"%`)
	}
	if filter.HasDueDate != nil {
		if *filter.HasDueDate {
			query += ` AND due_date IS NOT NULL`
		} else {
			query += ` AND due_date IS NULL`
		}
	}

	query += ` ORDER BY ` + orderClause(filter.SortBy, filter.SortOrder)

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, filter.Offset)
	}

	rows, err := s.r.QueryxContext(ctx, s.r.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTasks(rows)
}

// orderClause maps the public sort parameters onto SQL. Unknown values fall
// back to created_at descending.
func orderClause(sortBy, sortOrder string) string {
	column := "created_at"
	switch sortBy {
	case "due_date":
		column = "due_date"
	case "title":
		column = "title"
	case "priority":
		// Priorities are stored as text; rank them explicitly.
		column = `CASE priority WHEN 'critical' THEN 3 WHEN 'high' THEN 2 WHEN 'medium' THEN 1 ELSE 0 END`
	case "created_at", "":
	}

	direction := "DESC"
	if strings.EqualFold(sortOrder, "asc") {
		direction = "ASC"
	}
	return column + " " + direction + ", id " + direction
}

// ListSubtasks returns the direct children of a task.
func (s *session) ListSubtasks(ctx context.Context, parentID int64) ([]*models.Task, error) {
	rows, err := s.r.QueryxContext(ctx, s.r.Rebind(`
		SELECT `+taskColumns+` FROM tasks WHERE parent_id = ? ORDER BY id`), parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTasks(rows)
}

// CountOccurrences counts the tasks in a recurrence chain: the root itself
// plus every task pointing at it.
func (s *session) CountOccurrences(ctx context.Context, rootID int64) (int, error) {
	var count int
	err := s.r.QueryRowxContext(ctx, s.r.Rebind(`
		SELECT COUNT(*) FROM tasks WHERE id = ? OR recurring_root_id = ?`), rootID, rootID).Scan(&count)
	return count, err
}

type taskRows interface {
	rowScanner
	Next() bool
	Err() error
}

func collectTasks(rows taskRows) ([]*models.Task, error) {
	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row rowScanner) (*models.Task, error) {
	t := &models.Task{}
	var (
		tags          string
		dueDate       sql.NullTime
		assigneeID    sql.NullInt64
		parentID      sql.NullInt64
		maxOccur      sql.NullInt64
		recurringRoot sql.NullInt64
		isRecurring   int
		cloneSubtasks int
		hasSpawned    int
		reminderSent  int
		startedAt     sql.NullTime
		completedAt   sql.NullTime
	)
	err := row.Scan(
		&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.ProgressPercent, &tags,
		&dueDate, &assigneeID, &parentID, &t.CreatorID,
		&isRecurring, &t.RecurrencePattern, &maxOccur, &recurringRoot, &t.RecurrenceTrigger,
		&cloneSubtasks, &hasSpawned, &reminderSent,
		&startedAt, &completedAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("task")
	}
	if err != nil {
		return nil, err
	}

	_ = json.Unmarshal([]byte(tags), &t.Tags)
	if dueDate.Valid {
		t.DueDate = &dueDate.Time
	}
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.Int64
	}
	if parentID.Valid {
		t.ParentID = &parentID.Int64
	}
	if maxOccur.Valid {
		n := int(maxOccur.Int64)
		t.MaxOccurrences = &n
	}
	if recurringRoot.Valid {
		t.RecurringRootID = &recurringRoot.Int64
	}
	t.IsRecurring = isRecurring != 0
	t.CloneSubtasks = cloneSubtasks != 0
	t.HasSpawnedNext = hasSpawned != 0
	t.ReminderSent = reminderSent != 0
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return t, nil
}
