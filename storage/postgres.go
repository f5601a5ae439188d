package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// postgresAdapter keeps keys in an olakai_kv table inside the embedding
// application's PostgreSQL database. Useful when a fleet of workers shares
// one durable store and local disks are ephemeral.
type postgresAdapter struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres connects, verifies connectivity, and runs the embedded
// migrations. All of that can fail; the caller falls back to memory.
func NewPostgres(ctx context.Context, databaseURL string, logger *zap.Logger) (Adapter, error) {
	if databaseURL == "" {
		return nil, errors.New("postgres storage requires a database URL")
	}

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrateSchema(databaseURL); err != nil {
		pool.Close()
		return nil, err
	}

	return &postgresAdapter{pool: pool, logger: logger}, nil
}

// migrateSchema applies the embedded up-migrations. Idempotent:
// already-applied versions are skipped.
func migrateSchema(databaseURL string) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	// golang-migrate's pgx/v5 driver expects the scheme "pgx5://".
	// Accept both "postgres://" and "postgresql://" connection strings.
	var rest string
	switch {
	case strings.HasPrefix(databaseURL, "postgresql://"):
		rest = databaseURL[len("postgresql://"):]
	case strings.HasPrefix(databaseURL, "postgres://"):
		rest = databaseURL[len("postgres://"):]
	default:
		rest = databaseURL
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, "pgx5://"+rest)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (p *postgresAdapter) Get(key string) (string, bool) {
	var value string
	err := p.pool.QueryRow(context.Background(),
		`SELECT value FROM olakai_kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false
	}
	if err != nil {
		p.logger.Warn("postgres storage read failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return value, true
}

func (p *postgresAdapter) Set(key, value string) {
	_, err := p.pool.Exec(context.Background(), `
		INSERT INTO olakai_kv (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		p.logger.Warn("postgres storage write failed", zap.String("key", key), zap.Error(err))
	}
}

func (p *postgresAdapter) Remove(key string) {
	_, err := p.pool.Exec(context.Background(),
		`DELETE FROM olakai_kv WHERE key = $1`, key)
	if err != nil {
		p.logger.Warn("postgres storage remove failed", zap.String("key", key), zap.Error(err))
	}
}

func (p *postgresAdapter) Clear() {
	if _, err := p.pool.Exec(context.Background(), `DELETE FROM olakai_kv`); err != nil {
		p.logger.Warn("postgres storage clear failed", zap.Error(err))
	}
}

// Close releases the connection pool.
func (p *postgresAdapter) Close() error {
	p.pool.Close()
	return nil
}

var _ Adapter = (*postgresAdapter)(nil)
