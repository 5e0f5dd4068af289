package store

import (
	"context"

	"github.com/taskflow/taskflow/internal/task/models"
)

// TaskFilter narrows and orders a task listing.
type TaskFilter struct {
	Status     models.TaskStatus
	AssigneeID *int64
	Priority   models.TaskPriority
	Search     string   // matches title and description
	Tags       []string // AND semantics
	HasDueDate *bool
	SortBy     string // created_at, due_date, priority, title
	SortOrder  string // asc, desc
	Limit      int
	Offset     int
}

// AuditFilter pages an audit listing.
type AuditFilter struct {
	Limit  int
	Offset int
}

// Queries is the read/write surface shared by the store and its
// transactions. Mutations that must be atomic with their audit entries run
// the same methods against a Tx obtained from InTx.
type Queries interface {
	// Workers
	CreateWorker(ctx context.Context, w *models.Worker) error
	GetWorker(ctx context.Context, id int64) (*models.Worker, error)
	GetWorkerByExternalID(ctx context.Context, externalID string) (*models.Worker, error)
	GetWorkerByHandle(ctx context.Context, handle string) (*models.Worker, error)
	ListWorkers(ctx context.Context) ([]*models.Worker, error)
	DeleteWorker(ctx context.Context, id int64) error
	CountWorkerMemberships(ctx context.Context, workerID int64) (int, error)

	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, tenantID string, id int64) (*models.Project, error)
	GetProjectBySlug(ctx context.Context, tenantID, slug string) (*models.Project, error)
	GetDefaultProject(ctx context.Context, ownerID string) (*models.Project, error)
	ListProjects(ctx context.Context, tenantID string) ([]*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error
	DeleteProject(ctx context.Context, id int64) error
	CountProjectTasks(ctx context.Context, projectID int64) (int, error)

	// Memberships
	AddMember(ctx context.Context, m *models.ProjectMember) error
	GetMember(ctx context.Context, projectID, workerID int64) (*models.ProjectMember, error)
	ListMembers(ctx context.Context, projectID int64) ([]*models.ProjectMember, error)
	RemoveMember(ctx context.Context, projectID, workerID int64) error

	// Tasks
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	UpdateTask(ctx context.Context, t *models.Task) error
	DeleteTask(ctx context.Context, id int64) error
	ListTasks(ctx context.Context, projectID int64, filter TaskFilter) ([]*models.Task, error)
	ListSubtasks(ctx context.Context, parentID int64) ([]*models.Task, error)
	CountOccurrences(ctx context.Context, rootID int64) (int, error)

	// Audit
	AppendAudit(ctx context.Context, entry *models.AuditLog) error
	ListAuditByEntity(ctx context.Context, entityType string, entityID int64, filter AuditFilter) ([]*models.AuditLog, error)
	ListAuditByProject(ctx context.Context, projectID int64, filter AuditFilter) ([]*models.AuditLog, error)
}

// Tx is the transactional view of the store.
type Tx interface {
	Queries
}

// Store is the persistence interface for the task domain. InTx runs fn
// inside a single database transaction; any error rolls the whole
// transaction back.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
