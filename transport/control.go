package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ControlRequest asks the control service whether a monitored call may run.
type ControlRequest struct {
	FunctionName string          `json:"functionName"`
	TaskID       string          `json:"taskId,omitempty"`
	ChatID       string          `json:"chatId,omitempty"`
	Args         json.RawMessage `json:"args,omitempty"`
}

// Decision is the control service's verdict.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// ControlClient performs the pre-flight "is this call allowed?" round trip.
// It shares the telemetry transport's retry primitive; the only differences
// are the payload shape and the target endpoint.
//
// Concurrent checks for the same function/task/chat triple are collapsed
// into a single request via singleflight, so a burst of identical wrapped
// calls costs one round trip instead of N.
type ControlClient struct {
	endpoint   string
	apiKey     string
	maxRetries int
	client     *http.Client
	logger     *zap.Logger
	group      singleflight.Group
	backoff    func(attempt int) time.Duration
}

// NewControlClient returns a ControlClient for cfg, with cfg.Endpoint
// pointing at the control service rather than the telemetry sink.
func NewControlClient(cfg Config) *ControlClient {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ControlClient{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		backoff:    Backoff,
	}
}

// Check asks the control service for a verdict on req.
func (c *ControlClient) Check(ctx context.Context, req ControlRequest) (*Decision, error) {
	key := req.FunctionName + "\x00" + req.TaskID + "\x00" + req.ChatID
	v, err, _ := c.group.Do(key, func() (any, error) {
		return withRetry(ctx, c.maxRetries, c.backoff, c.logger, func(ctx context.Context) (*Decision, error) {
			return c.post(ctx, req)
		})
	})
	if err != nil {
		return nil, err
	}
	return v.(*Decision), nil
}

func (c *ControlClient) post(ctx context.Context, creq ControlRequest) (*Decision, error) {
	body, err := json.Marshal(creq)
	if err != nil {
		return nil, fmt.Errorf("marshal control request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("control check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, fmt.Errorf("unexpected status %d from control service", resp.StatusCode)
	}

	var d Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode control response: %w", err)
	}
	return &d, nil
}
