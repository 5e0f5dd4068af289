package notifier

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskflow/taskflow/internal/events/bus"
)

// RegisterRoutes mounts the notifier's HTTP surface: a pub/sub ingress for
// sidecar deliveries, a read API, and a health endpoint.
func (c *Consumer) RegisterRoutes(r gin.IRouter) {
	r.POST("/events", c.httpIngress)
	r.GET("/notifications", c.httpList)
	r.POST("/notifications/:id/read", c.httpMarkRead)
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok", "service": "taskflow-notifier"})
	})
}

// httpIngress accepts events delivered over HTTP, bare or wrapped in a
// CloudEvents envelope.
func (c *Consumer) httpIngress(g *gin.Context) {
	var raw map[string]json.RawMessage
	if err := g.ShouldBindJSON(&raw); err != nil {
		g.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "status_code": http.StatusBadRequest})
		return
	}

	event, ok := decodeEvent(raw)
	if !ok {
		g.JSON(http.StatusBadRequest, gin.H{"error": "missing event fields", "status_code": http.StatusBadRequest})
		return
	}

	if err := c.Handle(g.Request.Context(), event); err != nil {
		c.logger.Error("ingress event failed", zap.String("event_id", event.ID), zap.Error(err))
		g.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event", "status_code": http.StatusInternalServerError})
		return
	}
	g.Status(http.StatusOK)
}

func (c *Consumer) httpList(g *gin.Context) {
	userID := g.Query("user_id")
	if userID == "" {
		g.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required", "status_code": http.StatusBadRequest})
		return
	}
	limit := 50
	if raw := g.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	notifications, err := c.repo.ListByUser(g.Request.Context(), userID, limit)
	if err != nil {
		c.logger.Error("failed to list notifications", zap.Error(err))
		g.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list notifications", "status_code": http.StatusInternalServerError})
		return
	}
	if notifications == nil {
		notifications = []*Notification{}
	}
	g.JSON(http.StatusOK, gin.H{"notifications": notifications, "total": len(notifications)})
}

func (c *Consumer) httpMarkRead(g *gin.Context) {
	id, err := strconv.ParseInt(g.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		g.JSON(http.StatusBadRequest, gin.H{"error": "invalid id", "status_code": http.StatusBadRequest})
		return
	}
	if err := c.repo.MarkRead(g.Request.Context(), id); err != nil {
		g.JSON(http.StatusNotFound, gin.H{"error": "notification not found", "status_code": http.StatusNotFound})
		return
	}
	g.Status(http.StatusOK)
}

// decodeEvent accepts both a bare bus event and a CloudEvents envelope
// whose "data" member carries one.
func decodeEvent(raw map[string]json.RawMessage) (*bus.Event, bool) {
	payload := raw
	if inner, ok := raw["data"]; ok && raw["event_type"] == nil {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(inner, &nested); err == nil && nested["event_type"] != nil {
			payload = nested
		}
	}
	if payload["event_type"] == nil {
		return nil, false
	}

	combined, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	var event bus.Event
	if err := json.Unmarshal(combined, &event); err != nil {
		return nil, false
	}
	if event.ID == "" {
		event.ID = "http-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return &event, true
}
