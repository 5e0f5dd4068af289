package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskflow/taskflow/internal/task/dto"
	"github.com/taskflow/taskflow/internal/task/models"
	"github.com/taskflow/taskflow/internal/task/service"
	"github.com/taskflow/taskflow/internal/task/store"
)

func (h *Handlers) CreateProject(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req dto.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), StatusCode: http.StatusBadRequest})
		return
	}

	project, err := h.service.CreateProject(c.Request.Context(), actor, service.CreateProjectInput{
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (h *Handlers) ListProjects(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	projects, err := h.service.ListProjects(c.Request.Context(), actor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListProjectsResponse{Projects: projects, Total: len(projects)})
}

func (h *Handlers) GetProject(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	project, err := h.service.GetProject(c.Request.Context(), actor, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *Handlers) UpdateProject(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), StatusCode: http.StatusBadRequest})
		return
	}

	project, err := h.service.UpdateProject(c.Request.Context(), actor, id, service.UpdateProjectInput{
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *Handlers) DeleteProject(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	force := c.Query("force") == "true"
	if err := h.service.DeleteProject(c.Request.Context(), actor, id, force); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) AddMember(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), StatusCode: http.StatusBadRequest})
		return
	}

	member, err := h.service.AddMember(c.Request.Context(), actor, id, req.WorkerID, models.MemberRole(req.Role))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

func (h *Handlers) ListMembers(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	members, err := h.service.ListMembers(c.Request.Context(), actor, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListMembersResponse{Members: members, Total: len(members)})
}

func (h *Handlers) RemoveMember(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}
	workerID, ok := pathID(c, "workerId")
	if !ok {
		return
	}
	if err := h.service.RemoveMember(c.Request.Context(), actor, projectID, workerID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) ProjectAudit(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	entries, err := h.service.ProjectAudit(c.Request.Context(), actor, id, auditFilter(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListAuditResponse{Entries: entries, Total: len(entries)})
}

func auditFilter(c *gin.Context) store.AuditFilter {
	return store.AuditFilter{
		Limit:  boundedQueryInt(c, "limit", 50, 100),
		Offset: boundedQueryInt(c, "offset", 0, 1<<30),
	}
}
