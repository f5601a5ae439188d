// Package middleware provides decorators applied around monitored function
// execution. Each middleware is independent; Chain composes them so the
// first listed runs outermost.
package middleware

import "context"

// Handler is the uniform shape a monitored call is reduced to before
// middleware wraps it.
type Handler func(ctx context.Context, args any) (any, error)

// Middleware decorates a Handler.
type Middleware func(next Handler) Handler

// Chain composes middlewares so that Chain(a, b)(h) == a(b(h)).
func Chain(mws ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
