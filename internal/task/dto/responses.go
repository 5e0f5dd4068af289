package dto

import (
	"github.com/taskflow/taskflow/internal/task/models"
	"github.com/taskflow/taskflow/internal/task/service"
)

type ListProjectsResponse struct {
	Projects []*models.Project `json:"projects"`
	Total    int               `json:"total"`
}

type ListMembersResponse struct {
	Members []*models.ProjectMember `json:"members"`
	Total   int                     `json:"total"`
}

type ListTasksResponse struct {
	Tasks []*models.Task `json:"tasks"`
	Total int            `json:"total"`
}

type ListWorkersResponse struct {
	Workers []*models.Worker `json:"workers"`
	Total   int              `json:"total"`
}

type ListAuditResponse struct {
	Entries []*models.AuditLog `json:"entries"`
	Total   int                `json:"total"`
}

// TaskDetailResponse is a task plus its direct subtasks and the progress
// rolled up from them.
type TaskDetailResponse struct {
	Task             *models.Task   `json:"task"`
	RolledUpProgress int            `json:"rolled_up_progress"`
	Subtasks         []*models.Task `json:"subtasks"`
}

func FromTaskDetail(detail *service.TaskDetail) TaskDetailResponse {
	subtasks := detail.Subtasks
	if subtasks == nil {
		subtasks = []*models.Task{}
	}
	return TaskDetailResponse{
		Task:             detail.Task,
		RolledUpProgress: detail.RolledUpProgress,
		Subtasks:         subtasks,
	}
}

type ErrorResponse struct {
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
}
