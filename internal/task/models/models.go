package models

import (
	"regexp"
	"time"
)

// WorkerKind distinguishes human users from autonomous agents.
type WorkerKind string

const (
	WorkerHuman WorkerKind = "human"
	WorkerAgent WorkerKind = "agent"
)

// AgentFamily tags agent workers with their model family.
type AgentFamily string

const (
	FamilyClaude AgentFamily = "claude"
	FamilyQwen   AgentFamily = "qwen"
	FamilyGemini AgentFamily = "gemini"
	FamilyCustom AgentFamily = "custom"
)

// ValidAgentFamily reports whether s is a recognized agent family.
func ValidAgentFamily(s AgentFamily) bool {
	switch s {
	case FamilyClaude, FamilyQwen, FamilyGemini, FamilyCustom:
		return true
	}
	return false
}

const (
	MaxHandleLength = 50
	MaxSlugLength   = 100
	MaxTitleLength  = 500
)

var (
	handlePattern = regexp.MustCompile(`^@[a-z0-9_-]+$`)
	slugPattern   = regexp.MustCompile(`^[a-z0-9-]+$`)
)

// ValidHandle reports whether h is a legal worker handle: @-prefixed,
// lowercase alphanumeric plus - and _, at most MaxHandleLength runes.
func ValidHandle(h string) bool {
	return len(h) <= MaxHandleLength && handlePattern.MatchString(h)
}

// ValidSlug reports whether s is a legal project slug.
func ValidSlug(s string) bool {
	return s != "" && len(s) <= MaxSlugLength && slugPattern.MatchString(s)
}

// Worker is an actor that can create, own, or be assigned to tasks.
// Humans are materialized lazily on first authenticated contact; agents are
// created explicitly and must carry a family tag.
type Worker struct {
	ID           int64       `json:"id"`
	Handle       string      `json:"handle"`
	DisplayName  string      `json:"display_name"`
	Kind         WorkerKind  `json:"kind"`
	AgentFamily  AgentFamily `json:"agent_family,omitempty"`
	Capabilities []string    `json:"capabilities,omitempty"`
	ExternalID   string      `json:"external_id,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Project is a bounded workspace for tasks. Slug is unique within a tenant,
// not globally. OwnerID is the creator's external identity, not a worker id.
type Project struct {
	ID          int64     `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MemberRole is a worker's role within a project.
type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleMember MemberRole = "member"
)

// ProjectMember links a worker to a project. (project_id, worker_id) is
// unique.
type ProjectMember struct {
	ID        int64      `json:"id"`
	ProjectID int64      `json:"project_id"`
	WorkerID  int64      `json:"worker_id"`
	Role      MemberRole `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
}

// TaskStatus is a task's position in the lifecycle state machine.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusReview     TaskStatus = "review"
	StatusCompleted  TaskStatus = "completed"
	StatusBlocked    TaskStatus = "blocked"
)

// ValidStatus reports whether s is a recognized task status.
func ValidStatus(s TaskStatus) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusReview, StatusCompleted, StatusBlocked:
		return true
	}
	return false
}

// transitions is the allowed status transition table. Self-transitions are
// not listed and are rejected.
var transitions = map[TaskStatus][]TaskStatus{
	StatusPending:    {StatusInProgress, StatusBlocked},
	StatusInProgress: {StatusReview, StatusCompleted, StatusBlocked},
	StatusReview:     {StatusInProgress, StatusCompleted},
	StatusCompleted:  {StatusReview},
	StatusBlocked:    {StatusPending, StatusInProgress},
}

// CanTransition reports whether the state machine permits from → to.
func CanTransition(from, to TaskStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TaskPriority orders tasks by urgency.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// ValidPriority reports whether p is a recognized priority.
func ValidPriority(p TaskPriority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// priorityRank is used for priority sorting in list queries.
var priorityRank = map[TaskPriority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// PriorityRank returns the sort rank of a priority, higher is more urgent.
func PriorityRank(p TaskPriority) int { return priorityRank[p] }

// RecurrenceTrigger selects when a recurring task spawns its successor.
type RecurrenceTrigger string

const (
	TriggerOnComplete RecurrenceTrigger = "on_complete"
	TriggerOnDueDate  RecurrenceTrigger = "on_due_date"
	TriggerBoth       RecurrenceTrigger = "both"
)

// recurrencePatterns maps recognized pattern names to their durations.
// "monthly" is 30 days, not a calendar month.
var recurrencePatterns = map[string]time.Duration{
	"1m":      time.Minute,
	"5m":      5 * time.Minute,
	"10m":     10 * time.Minute,
	"15m":     15 * time.Minute,
	"30m":     30 * time.Minute,
	"1h":      time.Hour,
	"daily":   24 * time.Hour,
	"weekly":  7 * 24 * time.Hour,
	"monthly": 30 * 24 * time.Hour,
}

// PatternDuration returns the interval for a recurrence pattern. Unknown
// patterns fall back to daily.
func PatternDuration(pattern string) time.Duration {
	if d, ok := recurrencePatterns[pattern]; ok {
		return d
	}
	return 24 * time.Hour
}

// Task is the primary unit of work.
type Task struct {
	ID              int64        `json:"id"`
	ProjectID       int64        `json:"project_id"`
	Title           string       `json:"title"`
	Description     string       `json:"description,omitempty"`
	Status          TaskStatus   `json:"status"`
	Priority        TaskPriority `json:"priority"`
	ProgressPercent int          `json:"progress_percent"`
	Tags            []string     `json:"tags,omitempty"`
	DueDate         *time.Time   `json:"due_date,omitempty"`
	AssigneeID      *int64       `json:"assignee_id,omitempty"`
	ParentID        *int64       `json:"parent_id,omitempty"`
	CreatorID       int64        `json:"creator_id"`

	IsRecurring       bool              `json:"is_recurring"`
	RecurrencePattern string            `json:"recurrence_pattern,omitempty"`
	MaxOccurrences    *int              `json:"max_occurrences,omitempty"`
	RecurringRootID   *int64            `json:"recurring_root_id,omitempty"`
	RecurrenceTrigger RecurrenceTrigger `json:"recurrence_trigger,omitempty"`
	CloneSubtasks     bool              `json:"clone_subtasks_on_recur"`
	HasSpawnedNext    bool              `json:"has_spawned_next"`
	ReminderSent      bool              `json:"reminder_sent"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// RootID returns the id of the task's recurrence root: its own id when it is
// the root, otherwise the stored root pointer.
func (t *Task) RootID() int64 {
	if t.RecurringRootID != nil {
		return *t.RecurringRootID
	}
	return t.ID
}

// NextDue computes the successor's due date: the original due date if set,
// else the completion instant, plus the pattern interval.
func (t *Task) NextDue(completedAt time.Time) time.Time {
	base := completedAt
	if t.DueDate != nil {
		base = *t.DueDate
	}
	return base.Add(PatternDuration(t.RecurrencePattern))
}

// AuditLog is an immutable record of a state-changing action, inserted in
// the same transaction as the action it records.
type AuditLog struct {
	ID         int64                  `json:"id"`
	EntityType string                 `json:"entity_type"`
	EntityID   int64                  `json:"entity_id"`
	Action     string                 `json:"action"`
	ActorID    int64                  `json:"actor_id"`
	ActorKind  WorkerKind             `json:"actor_kind"`
	Details    map[string]interface{} `json:"details,omitempty"`
	ClientID   string                 `json:"client_id,omitempty"`
	ClientName string                 `json:"client_name,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Audit entity types.
const (
	EntityTask    = "task"
	EntityProject = "project"
	EntityWorker  = "worker"
)

// Audit action names.
const (
	ActionCreated         = "created"
	ActionUpdated         = "updated"
	ActionStatusChanged   = "status_changed"
	ActionProgressUpdated = "progress_updated"
	ActionAssigned        = "assigned"
	ActionApproved        = "approved"
	ActionRejected        = "rejected"
	ActionDeleted         = "deleted"
	ActionSpawnedRecur    = "spawned_recurring"
	ActionClonedSubtask   = "cloned_subtask"
	ActionMemberAdded     = "member_added"
	ActionMemberRemoved   = "member_removed"
)
