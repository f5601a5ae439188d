package middleware

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker opens after threshold consecutive failures and rejects
// calls until resetAfter has elapsed, at which point one probe call is let
// through; its outcome decides whether the circuit closes again.
func CircuitBreaker(threshold int, resetAfter time.Duration) Middleware {
	var (
		mu       sync.Mutex
		failures int
		openedAt time.Time
	)

	return func(next Handler) Handler {
		return func(ctx context.Context, args any) (any, error) {
			mu.Lock()
			if failures >= threshold {
				if time.Since(openedAt) < resetAfter {
					mu.Unlock()
					return nil, ErrCircuitOpen
				}
				// Half-open: allow this one through as the probe.
			}
			mu.Unlock()

			out, err := next(ctx, args)

			mu.Lock()
			if err != nil {
				failures++
				if failures == threshold {
					openedAt = time.Now()
				} else if failures > threshold {
					// Failed probe: restart the reset window.
					openedAt = time.Now()
					failures = threshold
				}
			} else {
				failures = 0
			}
			mu.Unlock()

			return out, err
		}
	}
}
