package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskflow/taskflow/internal/common/logger"
	"github.com/taskflow/taskflow/internal/events"
	"github.com/taskflow/taskflow/internal/events/bus"
)

func newTestConsumer(t *testing.T) (*Consumer, Repository) {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "notify.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return NewConsumer(repo, logger.Default()), repo
}

func assignedEvent(id string) *bus.Event {
	event := bus.NewEvent(events.TaskAssigned, "taskflow-api", map[string]interface{}{
		"task_id":    float64(7),
		"user_id":    "12",
		"actor_name": "Tester",
		"task":       map[string]interface{}{"title": "Ship it"},
	})
	if id != "" {
		event.ID = id
	}
	return event
}

func TestHandleStoresNotification(t *testing.T) {
	c, repo := newTestConsumer(t)
	ctx := context.Background()

	if err := c.Handle(ctx, assignedEvent("evt-1")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	list, err := repo.ListByUser(ctx, "12", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(list))
	}
	n := list[0]
	if n.Title != "You were assigned: Ship it" {
		t.Errorf("title: %q", n.Title)
	}
	if n.Body != "by Tester" {
		t.Errorf("body: %q", n.Body)
	}
	if n.TaskID != 7 {
		t.Errorf("task id: %d", n.TaskID)
	}
	if n.Read {
		t.Error("new notification should be unread")
	}
}

func TestHandleDeduplicatesRedelivery(t *testing.T) {
	c, repo := newTestConsumer(t)
	ctx := context.Background()

	event := assignedEvent("evt-dup")
	if err := c.Handle(ctx, event); err != nil {
		t.Fatal(err)
	}
	if err := c.Handle(ctx, event); err != nil {
		t.Fatal(err)
	}

	list, err := repo.ListByUser(ctx, "12", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("redelivery should be absorbed, got %d notifications", len(list))
	}
}

func TestHandleDropsEventsWithoutRecipient(t *testing.T) {
	c, repo := newTestConsumer(t)
	ctx := context.Background()

	event := bus.NewEvent(events.TaskUpdated, "taskflow-api", map[string]interface{}{"task_id": float64(1)})
	if err := c.Handle(ctx, event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	list, err := repo.ListByUser(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("recipient-less event should be dropped, got %d", len(list))
	}
}

func TestReminderTitle(t *testing.T) {
	c, repo := newTestConsumer(t)
	ctx := context.Background()

	event := bus.NewEvent(events.ReminderDue, "taskflow-api", map[string]interface{}{
		"task_id":         float64(3),
		"user_id":         "5",
		"title":           "File taxes",
		"hours_until_due": float64(24),
	})
	if err := c.Handle(ctx, event); err != nil {
		t.Fatal(err)
	}

	list, err := repo.ListByUser(ctx, "5", 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v (%d)", err, len(list))
	}
	if list[0].Title != "Due in 24h: File taxes" {
		t.Errorf("title: %q", list[0].Title)
	}
}

func TestQueueSubscribeDelivery(t *testing.T) {
	c, repo := newTestConsumer(t)

	memBus := bus.NewMemoryEventBus(logger.Default())
	t.Cleanup(memBus.Close)
	if err := c.Subscribe(memBus); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := memBus.Publish(context.Background(), events.TopicTaskEvents, assignedEvent("evt-bus")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Delivery is asynchronous.
	deadline := time.Now().Add(2 * time.Second)
	for {
		list, err := repo.ListByUser(context.Background(), "12", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected delivery through the bus, got %d", len(list))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHTTPIngress(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, repo := newTestConsumer(t)

	router := gin.New()
	c.RegisterRoutes(router)

	post := func(body interface{}) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	// Bare event.
	w := post(assignedEvent("evt-http"))
	if w.Code != http.StatusOK {
		t.Fatalf("bare event: %d %s", w.Code, w.Body.String())
	}

	// CloudEvents envelope.
	w = post(gin.H{"specversion": "1.0", "data": assignedEvent("evt-ce")})
	if w.Code != http.StatusOK {
		t.Fatalf("enveloped event: %d %s", w.Code, w.Body.String())
	}

	// Garbage.
	w = post(gin.H{"nope": true})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid event: %d", w.Code)
	}

	list, err := repo.ListByUser(context.Background(), "12", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(list))
	}

	// Read API round-trip.
	req := httptest.NewRequest(http.MethodGet, "/notifications?user_id=12", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
}
