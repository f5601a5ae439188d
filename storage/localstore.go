package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// localStoreFileName is the single database file holding every key.
const localStoreFileName = "olakai.db"

// localStore keeps keys in a SQLite file inside the cache directory. It is
// the durable local key-value store for hosts that outlive the process but
// where scattering one JSON file per key is undesirable.
type localStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLocalStore opens (creating if needed) the SQLite store under dir.
func NewLocalStore(dir string, logger *zap.Logger) (Adapter, error) {
	resolved, err := resolveCacheDir(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(resolved, 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(resolved, localStoreFileName))
	if err != nil {
		return nil, fmt.Errorf("open localstore: %w", err)
	}

	// WAL keeps concurrent readers from blocking the queue's writes.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("localstore wal mode: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("localstore schema: %w", err)
	}

	return &localStore{db: db, logger: logger}, nil
}

func (s *localStore) Get(key string) (string, bool) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		s.logger.Warn("localstore read failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return value, true
}

func (s *localStore) Set(key, value string) {
	_, err := s.db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		s.logger.Warn("localstore write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *localStore) Remove(key string) {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		s.logger.Warn("localstore remove failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *localStore) Clear() {
	if _, err := s.db.Exec(`DELETE FROM kv`); err != nil {
		s.logger.Warn("localstore clear failed", zap.Error(err))
	}
}

// Close releases the underlying database handle. The Adapter contract does
// not include Close; callers that own the adapter's lifecycle type-assert
// for it on shutdown.
func (s *localStore) Close() error {
	return s.db.Close()
}

var _ Adapter = (*localStore)(nil)
