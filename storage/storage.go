// Package storage provides the persistence layer the delivery queue uses to
// survive process restarts. Every adapter implements the same four-method
// contract and is interchangeable; the queue never knows which one it got.
//
// The contract deliberately has no error returns: a broken disk, a full
// quota, or a missing database must never take the telemetry pipeline down
// with it. Adapters catch their own failures, log them, and degrade to
// no-ops for that operation.
package storage

import (
	"context"

	"go.uber.org/zap"
)

// Adapter is the uniform key→string persistence contract.
// Get reports whether the key existed. The remaining operations are
// best-effort and never fail past this boundary.
type Adapter interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
	Clear()
}

// Type selects which adapter backs the queue.
type Type string

const (
	// TypeMemory keeps data in a process-local map. Data is lost on exit;
	// the correct default for containers and serverless runtimes.
	TypeMemory Type = "memory"
	// TypeFile writes one JSON file per key inside the cache directory.
	TypeFile Type = "file"
	// TypeLocalStore keeps data in a single SQLite file inside the cache
	// directory — a durable local key-value store for long-lived hosts.
	TypeLocalStore Type = "localstore"
	// TypePostgres keeps data in a key-value table in the application's
	// PostgreSQL database. Explicit-only, never auto-detected.
	TypePostgres Type = "postgres"
	// TypeAuto resolves to the best fit for the detected environment.
	TypeAuto Type = "auto"
	// TypeDisabled turns persistence off entirely.
	TypeDisabled Type = "disabled"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeMemory, TypeFile, TypeLocalStore, TypePostgres, TypeAuto, TypeDisabled:
		return true
	}
	return false
}

// Options configures adapter construction.
type Options struct {
	Type Type

	// CacheDir is where the file and localstore adapters keep their data.
	// Empty means a dot-directory under the user's home.
	CacheDir string

	// DatabaseURL is required for TypePostgres.
	DatabaseURL string

	// Env supplies the detection heuristics used to resolve TypeAuto.
	// Nil means the real process environment.
	Env Environment

	Logger *zap.Logger
}

// New constructs the adapter for opts.Type, resolving TypeAuto through
// DetectOptimalType first. Construction failures never propagate: any
// adapter that cannot be built falls back to memory with a logged warning,
// so the queue always receives a working Adapter.
func New(ctx context.Context, opts Options) Adapter {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	typ := opts.Type
	if typ == TypeAuto || typ == "" {
		env := opts.Env
		if env == nil {
			env = ProcessEnvironment(opts.CacheDir)
		}
		typ = DetectOptimalType(env)
		logger.Debug("resolved auto storage type", zap.String("type", string(typ)))
	}

	switch typ {
	case TypeDisabled:
		return Noop()
	case TypeMemory:
		return NewMemory()
	case TypeFile:
		a, err := NewFile(opts.CacheDir, logger)
		if err != nil {
			logger.Warn("file storage unavailable, falling back to memory", zap.Error(err))
			return NewMemory()
		}
		return a
	case TypeLocalStore:
		a, err := NewLocalStore(opts.CacheDir, logger)
		if err != nil {
			logger.Warn("localstore unavailable, falling back to memory", zap.Error(err))
			return NewMemory()
		}
		return a
	case TypePostgres:
		a, err := NewPostgres(ctx, opts.DatabaseURL, logger)
		if err != nil {
			logger.Warn("postgres storage unavailable, falling back to memory", zap.Error(err))
			return NewMemory()
		}
		return a
	default:
		logger.Warn("unknown storage type, using memory", zap.String("type", string(typ)))
		return NewMemory()
	}
}
