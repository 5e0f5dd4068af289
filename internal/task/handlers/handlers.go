// Package handlers exposes the task domain over HTTP.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskflow/taskflow/internal/bootstrap"
	apperrors "github.com/taskflow/taskflow/internal/common/errors"
	"github.com/taskflow/taskflow/internal/common/logger"
	"github.com/taskflow/taskflow/internal/task/dto"
	"github.com/taskflow/taskflow/internal/task/service"
)

type Handlers struct {
	service *service.Service
	logger  *logger.Logger
}

func New(svc *service.Service, log *logger.Logger) *Handlers {
	return &Handlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "http")),
	}
}

// RegisterRoutes mounts the authenticated API surface on the given group.
// The group is expected to already carry the auth and bootstrap middleware.
func (h *Handlers) RegisterRoutes(r gin.IRouter) {
	projects := r.Group("/projects")
	{
		projects.POST("", h.CreateProject)
		projects.GET("", h.ListProjects)
		projects.GET("/:id", h.GetProject)
		projects.PATCH("/:id", h.UpdateProject)
		projects.PUT("/:id", h.UpdateProject)
		projects.DELETE("/:id", h.DeleteProject)

		projects.POST("/:id/members", h.AddMember)
		projects.GET("/:id/members", h.ListMembers)
		projects.DELETE("/:id/members/:workerId", h.RemoveMember)

		projects.GET("/:id/audit", h.ProjectAudit)

		projects.POST("/:id/tasks", h.CreateTask)
		projects.GET("/:id/tasks", h.ListTasks)
	}

	tasks := r.Group("/tasks")
	{
		tasks.GET("/:id", h.GetTask)
		tasks.PATCH("/:id", h.UpdateTask)
		tasks.PUT("/:id", h.UpdateTask)
		tasks.DELETE("/:id", h.DeleteTask)

		tasks.PATCH("/:id/status", h.UpdateStatus)
		tasks.PATCH("/:id/progress", h.UpdateProgress)
		tasks.PATCH("/:id/assign", h.Assign)

		tasks.POST("/:id/subtasks", h.CreateSubtask)
		tasks.POST("/:id/approve", h.Approve)
		tasks.POST("/:id/reject", h.Reject)

		tasks.GET("/:id/audit", h.TaskAudit)
	}

	workers := r.Group("/workers")
	{
		workers.POST("/agents", h.CreateAgent)
		workers.GET("", h.ListWorkers)
		workers.GET("/:id", h.GetWorker)
		workers.DELETE("/:id", h.DeleteWorker)
	}
}

// respondError maps a domain error to its HTTP status and the standard
// error envelope.
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := apperrors.GetHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, dto.ErrorResponse{
		Error:      err.Error(),
		StatusCode: status,
	})
}

// actor returns the caller resolved by the bootstrap middleware.
func (h *Handlers) actor(c *gin.Context) (*service.Actor, bool) {
	actor, ok := bootstrap.ActorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error:      "not authenticated",
			StatusCode: http.StatusUnauthorized,
		})
	}
	return actor, ok
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:      "invalid " + name,
			StatusCode: http.StatusBadRequest,
		})
		return 0, false
	}
	return id, true
}
