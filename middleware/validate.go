package middleware

import "context"

// Validate rejects a call before execution when check returns an error.
func Validate(check func(args any) error) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, args any) (any, error) {
			if err := check(args); err != nil {
				return nil, err
			}
			return next(ctx, args)
		}
	}
}
