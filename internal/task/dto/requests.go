// Package dto defines the request and response shapes of the REST surface.
package dto

import "time"

type CreateProjectRequest struct {
	Slug        string `json:"slug" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

type UpdateProjectRequest struct {
	Slug        *string `json:"slug"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type AddMemberRequest struct {
	WorkerID int64  `json:"worker_id" binding:"required"`
	Role     string `json:"role"`
}

type CreateTaskRequest struct {
	Title       string     `json:"title" binding:"required"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	Tags        []string   `json:"tags"`
	DueDate     *time.Time `json:"due_date"`
	AssigneeID  *int64     `json:"assignee_id"`
	ParentID    *int64     `json:"parent_id"`

	IsRecurring          bool   `json:"is_recurring"`
	RecurrencePattern    string `json:"recurrence_pattern"`
	MaxOccurrences       *int   `json:"max_occurrences"`
	RecurrenceTrigger    string `json:"recurrence_trigger"`
	CloneSubtasksOnRecur bool   `json:"clone_subtasks_on_recur"`
}

// UpdateTaskRequest uses explicit clear flags because JSON cannot
// distinguish an absent field from an explicit null after binding.
type UpdateTaskRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Priority    *string    `json:"priority"`
	Tags        *[]string  `json:"tags"`
	DueDate     *time.Time `json:"due_date"`
	ClearDue    bool       `json:"clear_due_date"`
	ParentID    *int64     `json:"parent_id"`
	ClearParent bool       `json:"clear_parent"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type UpdateProgressRequest struct {
	Percent *int   `json:"percent" binding:"required"`
	Note    string `json:"note"`
}

type AssignRequest struct {
	AssigneeID int64 `json:"assignee_id" binding:"required"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type CreateAgentRequest struct {
	Handle       string   `json:"handle" binding:"required"`
	DisplayName  string   `json:"display_name"`
	AgentFamily  string   `json:"agent_family" binding:"required"`
	Capabilities []string `json:"capabilities"`
}

// TriggerJobRequest is the scheduler callback payload. Data carries the
// fields the job was registered with; CloudEvents-wrapped callbacks nest
// them under "data".
type TriggerJobRequest struct {
	JobType string                 `json:"job_type"`
	TaskID  int64                  `json:"task_id"`
	Data    map[string]interface{} `json:"data"`
}
