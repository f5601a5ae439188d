package olakai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/olakai/olakai-go/middleware"
	"github.com/olakai/olakai-go/queue"
	"github.com/olakai/olakai-go/transport"
)

// ErrCallBlocked is returned by a monitored function when the control
// service denied the call pre-flight.
var ErrCallBlocked = errors.New("call blocked by control service")

// MonitorOptions tunes one wrapped function.
type MonitorOptions struct {
	// Name identifies the function in reports. Required.
	Name string
	// TaskID and ChatID tie reports to the application's own entities;
	// the SDK passes them through untouched.
	TaskID string
	ChatID string
	// Priority for the function's reports. Failed calls always escalate
	// to high regardless. Defaults to normal.
	Priority queue.Priority
	// ControlCheck consults the control service before each execution.
	// Requires a configured control endpoint; denial surfaces as
	// ErrCallBlocked. The check fails open on transport errors.
	ControlCheck bool
	// Middlewares wrap the function execution, first listed outermost.
	Middlewares []middleware.Middleware
}

// Monitor wraps fn so that every invocation is captured — arguments,
// result, latency, error — and shipped asynchronously. Telemetry never
// changes the wrapped function's behaviour: capture and delivery failures
// are logged and swallowed, and fn's own result and error pass through
// untouched. The only new error a caller can observe is ErrCallBlocked.
func Monitor[In, Out any](c *Client, opts MonitorOptions, fn func(context.Context, In) (Out, error)) func(context.Context, In) (Out, error) {
	handler := func(ctx context.Context, args any) (any, error) {
		return fn(ctx, args.(In))
	}
	if len(opts.Middlewares) > 0 {
		handler = middleware.Chain(opts.Middlewares...)(handler)
	}
	var noControlOnce sync.Once

	return func(ctx context.Context, in In) (Out, error) {
		var zero Out

		if opts.ControlCheck {
			if c.control == nil {
				noControlOnce.Do(func() {
					c.logger.Warn("control check requested but no control endpoint configured, not enforcing",
						zap.String("function", opts.Name))
				})
			} else if decision, err := c.checkControl(ctx, opts, in); err == nil && !decision.Allowed {
				if decision.Reason != "" {
					return zero, fmt.Errorf("%w: %s", ErrCallBlocked, decision.Reason)
				}
				return zero, ErrCallBlocked
			}
		}

		start := time.Now()
		out, err := handler(ctx, in)
		elapsed := time.Since(start)

		report := CallReport{
			FunctionName: opts.Name,
			TaskID:       opts.TaskID,
			ChatID:       opts.ChatID,
			Args:         marshalLenient(c.logger, in),
			DurationMS:   elapsed.Milliseconds(),
			StartedAt:    start.UTC(),
		}
		priority := opts.Priority
		if err != nil {
			report.ErrorMessage = err.Error()
			priority = queue.PriorityHigh
		} else {
			report.Result = marshalLenient(c.logger, out)
		}
		c.ReportCall(report, priority)

		typed, _ := out.(Out)
		return typed, err
	}
}

// checkControl performs the pre-flight round trip. Errors fail open: a
// broken control service must not stop the application from running.
func (c *Client) checkControl(ctx context.Context, opts MonitorOptions, in any) (*transport.Decision, error) {
	decision, err := c.control.Check(ctx, transport.ControlRequest{
		FunctionName: opts.Name,
		TaskID:       opts.TaskID,
		ChatID:       opts.ChatID,
		Args:         marshalLenient(c.logger, in),
	})
	if err != nil {
		c.logger.Warn("control check failed, allowing call",
			zap.String("function", opts.Name), zap.Error(err))
		return nil, err
	}
	return decision, nil
}

