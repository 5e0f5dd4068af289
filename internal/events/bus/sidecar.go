package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/taskflow/taskflow/internal/common/config"
	"github.com/taskflow/taskflow/internal/common/logger"
)

// SidecarPublisher publishes events to a co-located pub/sub sidecar over HTTP
// (POST <addr>/v1.0/publish/<bus>/<topic>). Publish-only: the sidecar pushes
// deliveries to subscribers itself, so this type does not implement EventBus.
type SidecarPublisher struct {
	address string
	bus     string
	client  *http.Client
	logger  *logger.Logger
}

// NewSidecarPublisher creates a publisher for the configured sidecar.
// The publish timeout is short (≤2s) because publish is best-effort and must
// not hold up the user-facing request.
func NewSidecarPublisher(cfg config.PubSubConfig, log *logger.Logger) *SidecarPublisher {
	timeout := cfg.TimeoutDuration()
	if timeout <= 0 || timeout > 2*time.Second {
		timeout = 2 * time.Second
	}
	return &SidecarPublisher{
		address: cfg.Address,
		bus:     cfg.Bus,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}
}

// Publish sends the event to the sidecar. Errors are returned for the caller
// to log; they never fail the originating request.
func (p *SidecarPublisher) Publish(ctx context.Context, topic string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	url := fmt.Sprintf("%s/v1.0/publish/%s/%s", p.address, p.bus, topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("publish to %s failed: sidecar returned %d", topic, resp.StatusCode)
	}

	p.logger.Debug("Published event via sidecar",
		zap.String("topic", topic),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type))

	return nil
}
