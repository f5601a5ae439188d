// Package transport is the single network boundary of the SDK: it delivers
// telemetry batches and control pre-flight checks over HTTPS with bounded,
// exponentially backed-off retries. The queue and the control client are
// both callers of the same retry primitive.
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
)

const (
	apiKeyHeader = "x-api-key"

	// maxBackoff caps the delay between attempts.
	maxBackoff = 30 * time.Second
)

// Backoff returns the delay before retrying after the given zero-based
// attempt: 1s, 2s, 4s, ... capped at 30s.
func Backoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << uint(attempt)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// Config carries the endpoint coordinates for a Transport.
type Config struct {
	Endpoint   string
	APIKey     string
	MaxRetries int
	// Timeout bounds each individual attempt, not the whole retry loop.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Transport posts telemetry batches to the monitoring endpoint.
type Transport struct {
	endpoint   string
	apiKey     string
	maxRetries int
	client     *http.Client
	logger     *zap.Logger

	// backoff is replaceable so tests do not sleep for real.
	backoff func(attempt int) time.Duration
}

// New returns a Transport for cfg.
func New(cfg Config) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		backoff:    Backoff,
	}
}

// SendBatch delivers one batch of opaque payload records.
//
// A 2xx response is a full success; a 207 carries per-item verdicts and is
// returned without error — the caller inspects the indexes. Transport
// errors and unexpected statuses are retried up to MaxRetries times with
// exponential backoff; after MaxRetries+1 total attempts the last error is
// returned, never swallowed.
func (t *Transport) SendBatch(ctx context.Context, batch []json.RawMessage) (*Result, error) {
	return withRetry(ctx, t.maxRetries, t.backoff, t.logger, func(ctx context.Context) (*Result, error) {
		return t.post(ctx, batch)
	})
}

func (t *Transport) post(ctx context.Context, batch []json.RawMessage) (*Result, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusMultiStatus:
		var res Result
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return nil, fmt.Errorf("decode multi-status response: %w", err)
		}
		return &res, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Some deployments return a body on 200, some none at all.
		var res Result
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return &Result{Success: true}, nil
		}
		if len(res.Results) == 0 {
			res.Success = true
		}
		return &res, nil
	default:
		// Drain so the connection can be reused across retries.
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, t.endpoint)
	}
}

// withRetry runs op up to maxRetries+1 times, sleeping backoff(attempt)
// between failures. The sleep respects ctx so shutdown is not held hostage
// by a 30-second delay.
func withRetry[T any](
	ctx context.Context,
	maxRetries int,
	backoff func(int) time.Duration,
	logger *zap.Logger,
	op func(context.Context) (T, error),
) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if attempt < maxRetries {
			delay := backoff(attempt)
			logger.Warn("send attempt failed, backing off",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}

	return zero, fmt.Errorf("giving up after %d attempts: %w", maxRetries+1, lastErr)
}
