package middleware

import (
	"context"
	"sync"
	"time"
)

// outcomeKind tags where a value came from. An explicit tag, not a
// sentinel error: serving from cache is normal control flow.
type outcomeKind int

const (
	outcomeComputed outcomeKind = iota
	outcomeCached
)

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// Cache memoizes successful results by the key keyFn derives from the
// arguments, for ttl. Errors are never cached. keyFn returning "" skips
// caching for that call.
func Cache(ttl time.Duration, keyFn func(args any) string) Middleware {
	var (
		mu      sync.Mutex
		entries = make(map[string]cacheEntry)
	)

	lookup := func(key string) (any, outcomeKind) {
		mu.Lock()
		defer mu.Unlock()
		e, ok := entries[key]
		if !ok || time.Now().After(e.expiresAt) {
			delete(entries, key)
			return nil, outcomeComputed
		}
		return e.value, outcomeCached
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, args any) (any, error) {
			key := keyFn(args)
			if key == "" {
				return next(ctx, args)
			}

			if v, kind := lookup(key); kind == outcomeCached {
				return v, nil
			}

			out, err := next(ctx, args)
			if err == nil {
				mu.Lock()
				entries[key] = cacheEntry{value: out, expiresAt: time.Now().Add(ttl)}
				mu.Unlock()
			}
			return out, err
		}
	}
}
