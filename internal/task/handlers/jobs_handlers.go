package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskflow/taskflow/internal/scheduler"
	"github.com/taskflow/taskflow/internal/task/dto"
)

// TriggerJob is the scheduler sidecar's callback endpoint. The sidecar
// delivers the payload either bare or wrapped in a CloudEvents envelope;
// both carry the type and task_id the job was registered with.
//
// Unknown job types are acknowledged so the sidecar does not retry them
// forever.
func (h *Handlers) TriggerJob(c *gin.Context) {
	var raw map[string]json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid payload", StatusCode: http.StatusBadRequest})
		return
	}

	req, ok := decodeTrigger(raw)
	if !ok {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "missing job fields", StatusCode: http.StatusBadRequest})
		return
	}

	var err error
	switch req.JobType {
	case scheduler.JobTypeSpawn:
		err = h.service.HandleSpawnTrigger(c.Request.Context(), req.TaskID)
	case scheduler.JobTypeReminder:
		err = h.service.HandleReminderTrigger(c.Request.Context(), req.TaskID)
	default:
		h.logger.Warn("ignoring unknown job type",
			zap.String("job_type", req.JobType),
			zap.Int64("task_id", req.TaskID))
		c.Status(http.StatusOK)
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// decodeTrigger accepts both the bare job payload and a CloudEvents
// envelope whose "data" member carries it. The job kind travels as "type";
// "job_type" is accepted as an alias.
func decodeTrigger(raw map[string]json.RawMessage) (*dto.TriggerJobRequest, bool) {
	payload := raw
	if inner, ok := raw["data"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(inner, &nested); err == nil && jobKind(nested) != nil {
			payload = nested
		}
	}

	var req dto.TriggerJobRequest
	kind := jobKind(payload)
	if kind == nil || payload["task_id"] == nil {
		return nil, false
	}
	if err := json.Unmarshal(kind, &req.JobType); err != nil {
		return nil, false
	}
	if err := json.Unmarshal(payload["task_id"], &req.TaskID); err != nil {
		return nil, false
	}
	return &req, true
}

func jobKind(payload map[string]json.RawMessage) json.RawMessage {
	if v := payload["type"]; v != nil {
		return v
	}
	return payload["job_type"]
}
