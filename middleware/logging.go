package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Logging logs each invocation of the wrapped function with its latency
// and outcome.
func Logging(logger *zap.Logger, name string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, args any) (any, error) {
			start := time.Now()
			out, err := next(ctx, args)
			log := logger.With(
				zap.String("function", name),
				zap.Duration("latency", time.Since(start)),
			)
			if err != nil {
				log.Warn("monitored call failed", zap.Error(err))
			} else {
				log.Debug("monitored call completed")
			}
			return out, err
		}
	}
}
