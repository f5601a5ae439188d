package middleware

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimit blocks each call until the token bucket grants a token.
// Burst equals the rate so no capacity can be "saved up" beyond the
// configured per-second maximum.
func RateLimit(perSecond int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(perSecond), perSecond)
	return func(next Handler) Handler {
		return func(ctx context.Context, args any) (any, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return next(ctx, args)
		}
	}
}
