package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskflow/taskflow/internal/task/dto"
	"github.com/taskflow/taskflow/internal/task/models"
	"github.com/taskflow/taskflow/internal/task/service"
)

func (h *Handlers) CreateAgent(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req dto.CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), StatusCode: http.StatusBadRequest})
		return
	}

	worker, err := h.service.CreateAgent(c.Request.Context(), actor, service.CreateAgentInput{
		Handle:       req.Handle,
		DisplayName:  req.DisplayName,
		AgentFamily:  models.AgentFamily(req.AgentFamily),
		Capabilities: req.Capabilities,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, worker)
}

func (h *Handlers) ListWorkers(c *gin.Context) {
	workers, err := h.service.ListWorkers(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListWorkersResponse{Workers: workers, Total: len(workers)})
}

func (h *Handlers) GetWorker(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	worker, err := h.service.GetWorker(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, worker)
}

func (h *Handlers) DeleteWorker(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteWorker(c.Request.Context(), actor, id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
