package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/taskflow/taskflow/internal/task/dto"
	"github.com/taskflow/taskflow/internal/task/models"
	"github.com/taskflow/taskflow/internal/task/service"
	"github.com/taskflow/taskflow/internal/task/store"
)

func (h *Handlers) CreateTask(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), StatusCode: http.StatusBadRequest})
		return
	}

	task, err := h.service.CreateTask(c.Request.Context(), actor, projectID, createTaskInput(&req))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// CreateSubtask creates a task parented under an existing one in the same
// project.
func (h *Handlers) CreateSubtask(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	parentID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), StatusCode: http.StatusBadRequest})
		return
	}

	parent, err := h.service.GetTask(c.Request.Context(), actor, parentID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	input := createTaskInput(&req)
	input.ParentID = &parentID
	task, err := h.service.CreateTask(c.Request.Context(), actor, parent.Task.ProjectID, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func createTaskInput(req *dto.CreateTaskRequest) service.CreateTaskInput {
	return service.CreateTaskInput{
		Title:             req.Title,
		Description:       req.Description,
		Priority:          models.TaskPriority(req.Priority),
		Tags:              req.Tags,
		DueDate:           req.DueDate,
		AssigneeID:        req.AssigneeID,
		ParentID:          req.ParentID,
		IsRecurring:       req.IsRecurring,
		RecurrencePattern: req.RecurrencePattern,
		MaxOccurrences:    req.MaxOccurrences,
		RecurrenceTrigger: models.RecurrenceTrigger(req.RecurrenceTrigger),
		CloneSubtasks:     req.CloneSubtasksOnRecur,
	}
}

func (h *Handlers) GetTask(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	detail, err := h.service.GetTask(c.Request.Context(), actor, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromTaskDetail(detail))
}

func (h *Handlers) ListTasks(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}
	tasks, err := h.service.ListTasks(c.Request.Context(), actor, projectID, taskFilter(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListTasksResponse{Tasks: tasks, Total: len(tasks)})
}

// taskFilter parses the listing query parameters. Unknown values are
// ignored rather than rejected so clients can send newer filters to older
// servers.
func taskFilter(c *gin.Context) store.TaskFilter {
	filter := store.TaskFilter{
		Status:    models.TaskStatus(c.Query("status")),
		Priority:  models.TaskPriority(c.Query("priority")),
		Search:    c.Query("search"),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
		Limit:     boundedQueryInt(c, "limit", 50, 100),
		Offset:    boundedQueryInt(c, "offset", 0, 1<<30),
	}
	if tags := c.Query("tags"); tags != "" {
		for _, tag := range strings.Split(tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				filter.Tags = append(filter.Tags, tag)
			}
		}
	}
	if assignee := c.Query("assignee_id"); assignee != "" {
		if id, err := strconv.ParseInt(assignee, 10, 64); err == nil {
			filter.AssigneeID = &id
		}
	}
	if has := c.Query("has_due_date"); has != "" {
		value := has == "true"
		filter.HasDueDate = &value
	}
	return filter
}

func boundedQueryInt(c *gin.Context, name string, fallback, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func (h *Handlers) UpdateTask(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), StatusCode: http.StatusBadRequest})
		return
	}

	input := service.UpdateTaskInput{
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		DueDate:     req.DueDate,
		ClearDue:    req.ClearDue,
		ParentID:    req.ParentID,
		ClearParent: req.ClearParent,
	}
	if req.Priority != nil {
		priority := models.TaskPriority(*req.Priority)
		input.Priority = &priority
	}

	task, err := h.service.UpdateTask(c.Request.Context(), actor, id, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) DeleteTask(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteTask(c.Request.Context(), actor, id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) TaskAudit(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	entries, err := h.service.TaskAudit(c.Request.Context(), actor, id, auditFilter(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListAuditResponse{Entries: entries, Total: len(entries)})
}
