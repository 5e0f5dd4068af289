// Package scheduler registers one-shot timed callbacks with an external
// scheduler sidecar over HTTP. The sidecar fires each job by POSTing its
// payload back to this service's trigger endpoint.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/taskflow/taskflow/internal/common/config"
	apperrors "github.com/taskflow/taskflow/internal/common/errors"
	"github.com/taskflow/taskflow/internal/common/logger"
)

// Job types routed at the trigger endpoint.
const (
	JobTypeSpawn    = "spawn"
	JobTypeReminder = "reminder"
)

// SpawnJobName returns the deterministic job name for a task's recurrence
// spawn. Re-registering the same name replaces the job.
func SpawnJobName(taskID int64) string {
	return fmt.Sprintf("spawn-task-%d", taskID)
}

// ReminderJobName returns the deterministic job name for a task's reminder.
func ReminderJobName(taskID int64) string {
	return fmt.Sprintf("reminder-task-%d", taskID)
}

// Scheduler is the narrow interface the task service depends on.
type Scheduler interface {
	ScheduleJob(ctx context.Context, name string, dueTime time.Time, data map[string]interface{}) error
	CancelJob(ctx context.Context, name string) error
}

// Client talks to the scheduler sidecar's alpha jobs API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *logger.Logger
}

var _ Scheduler = (*Client)(nil)

// NewClient creates a scheduler client for the configured sidecar address.
func NewClient(cfg config.SchedulerConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.Address, "/"),
		client:  &http.Client{Timeout: cfg.TimeoutDuration()},
		logger:  log,
	}
}

// ScheduleJob registers a one-shot job that fires at dueTime with the given
// payload. Registering an existing name replaces the job.
func (c *Client) ScheduleJob(ctx context.Context, name string, dueTime time.Time, data map[string]interface{}) error {
	body, err := json.Marshal(map[string]interface{}{
		"dueTime": dueTime.UTC().Format(time.RFC3339),
		"data":    data,
	})
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.jobURL(name), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build job request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.ServiceUnavailable("scheduler")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("scheduler rejected job %s: status %d: %s", name, resp.StatusCode, string(detail))
	}
	return nil
}

// CancelJob deletes a registered job. Cancelling an unknown job is not an
// error.
func (c *Client) CancelJob(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.jobURL(name), nil)
	if err != nil {
		return fmt.Errorf("build cancel request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.ServiceUnavailable("scheduler")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNotFound && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return fmt.Errorf("scheduler rejected cancel of %s: status %d", name, resp.StatusCode)
	}
	return nil
}

func (c *Client) jobURL(name string) string {
	return fmt.Sprintf("%s/v1.0-alpha1/jobs/%s", c.baseURL, name)
}
