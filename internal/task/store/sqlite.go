package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/taskflow/taskflow/internal/db"
	"github.com/taskflow/taskflow/internal/db/dialect"
)

// session binds the shared query implementations to a pair of executors.
// For the live store w is the writer pool and r the reader pool; inside a
// transaction both point at the same *sqlx.Tx.
type session struct {
	w sqlx.ExtContext
	r sqlx.ExtContext
}

// Repository is the SQL-backed Store. It works against SQLite (the default)
// and PostgreSQL through the dialect helpers.
type Repository struct {
	session
	pool *db.Pool
}

var _ Store = (*Repository)(nil)

// New creates a Repository on an existing connection pool and initializes
// the schema.
func New(pool *db.Pool) (*Repository, error) {
	repo := &Repository{
		session: session{w: pool.Writer(), r: pool.Reader()},
		pool:    pool,
	}
	if err := repo.initSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// NewSQLite opens a SQLite database at the given path and creates a
// Repository on it. Used by the development default and by tests.
func NewSQLite(dbPath string) (*Repository, error) {
	writer, err := db.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	reader, err := db.OpenSQLiteReader(dbPath)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	pool := db.NewPool(
		sqlx.NewDb(writer, dialect.SQLite3),
		sqlx.NewDb(reader, dialect.SQLite3),
	)
	return New(pool)
}

// Close closes the underlying connection pool.
func (s *Repository) Close() error {
	return s.pool.Close()
}

// Ping reports whether the write connection is reachable. Used by the
// readiness probe.
func (s *Repository) Ping(ctx context.Context) error {
	return s.pool.Writer().PingContext(ctx)
}

// InTx runs fn inside a single write transaction. Any error from fn rolls
// the transaction back; audit entries appended through the Tx commit or roll
// back together with the mutations they record.
func (s *Repository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	view := &session{w: tx, r: tx}
	if err := fn(view); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rollbackErr)
		}
		return err
	}
	return tx.Commit()
}

func (s *Repository) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS workers (
		id {{ID}},
		handle TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		agent_family TEXT NOT NULL DEFAULT '',
		capabilities TEXT NOT NULL DEFAULT '[]',
		external_id TEXT NOT NULL DEFAULT '',
		created_at {{TS}} NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_workers_external_id
		ON workers(external_id) WHERE external_id != '';

	CREATE TABLE IF NOT EXISTS projects (
		id {{ID}},
		tenant_id TEXT NOT NULL,
		slug TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL,
		is_default INTEGER NOT NULL DEFAULT 0,
		created_at {{TS}} NOT NULL,
		updated_at {{TS}} NOT NULL,
		UNIQUE(tenant_id, slug)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_default_owner
		ON projects(owner_id) WHERE is_default = 1;

	CREATE TABLE IF NOT EXISTS project_members (
		id {{ID}},
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		worker_id INTEGER NOT NULL REFERENCES workers(id),
		role TEXT NOT NULL,
		created_at {{TS}} NOT NULL,
		UNIQUE(project_id, worker_id)
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id {{ID}},
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		priority TEXT NOT NULL,
		progress_percent INTEGER NOT NULL DEFAULT 0,
		tags TEXT NOT NULL DEFAULT '[]',
		due_date {{TS}},
		assignee_id INTEGER REFERENCES workers(id) ON DELETE SET NULL,
		parent_id INTEGER REFERENCES tasks(id),
		creator_id INTEGER NOT NULL REFERENCES workers(id),
		is_recurring INTEGER NOT NULL DEFAULT 0,
		recurrence_pattern TEXT NOT NULL DEFAULT '',
		max_occurrences INTEGER,
		recurring_root_id INTEGER,
		recurrence_trigger TEXT NOT NULL DEFAULT '',
		clone_subtasks INTEGER NOT NULL DEFAULT 0,
		has_spawned_next INTEGER NOT NULL DEFAULT 0,
		reminder_sent INTEGER NOT NULL DEFAULT 0,
		started_at {{TS}},
		completed_at {{TS}},
		created_at {{TS}} NOT NULL,
		updated_at {{TS}} NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_recurring_root ON tasks(recurring_root_id);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id {{ID}},
		entity_type TEXT NOT NULL,
		entity_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		actor_id INTEGER NOT NULL,
		actor_kind TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '{}',
		client_id TEXT NOT NULL DEFAULT '',
		client_name TEXT NOT NULL DEFAULT '',
		created_at {{TS}} NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_logs(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_logs(created_at);
	`

	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	tsType := "DATETIME"
	if dialect.IsPostgres(s.w.DriverName()) {
		idColumn = "BIGSERIAL PRIMARY KEY"
		tsType = "TIMESTAMPTZ"
	}
	schema = strings.ReplaceAll(schema, "{{ID}}", idColumn)
	schema = strings.ReplaceAll(schema, "{{TS}}", tsType)

	if _, err := s.w.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}
