package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// DefaultCacheDirName is the dot-directory created under the user's home
// when no cache directory is configured.
const DefaultCacheDirName = ".olakai"

// Values at or above this size are stored gzip-compressed. Persisted queues
// grow well past this once a few batches accumulate.
const compressThreshold = 4 * 1024

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9]`)

// sanitizeKey replaces every non-alphanumeric character with an underscore
// so keys map onto flat, portable filenames.
func sanitizeKey(key string) string {
	return keySanitizer.ReplaceAllString(key, "_")
}

// fileAdapter stores one JSON file per key inside a cache directory.
// Writes go through a temp file and rename so a crash mid-write never
// leaves a truncated queue behind. Large values are written as a gzipped
// twin with a .gz suffix; Get transparently reads either form.
type fileAdapter struct {
	dir    string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFile returns a file-backed Adapter rooted at dir (or the default
// cache directory when dir is empty). The only error it can return is a
// failure to create the directory; callers fall back to memory on that.
func NewFile(dir string, logger *zap.Logger) (Adapter, error) {
	resolved, err := resolveCacheDir(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(resolved, 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &fileAdapter{dir: resolved, logger: logger}, nil
}

func resolveCacheDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultCacheDirName), nil
}

func (f *fileAdapter) plainPath(key string) string {
	return filepath.Join(f.dir, sanitizeKey(key)+".json")
}

func (f *fileAdapter) gzipPath(key string) string {
	return filepath.Join(f.dir, sanitizeKey(key)+".json.gz")
}

func (f *fileAdapter) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if data, err := os.ReadFile(f.gzipPath(key)); err == nil {
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err == nil {
			plain, err := io.ReadAll(r)
			if err == nil {
				return string(plain), true
			}
		}
		f.logger.Warn("discarding unreadable compressed entry",
			zap.String("key", key), zap.Error(err))
		return "", false
	}

	data, err := os.ReadFile(f.plainPath(key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("storage read failed", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return string(data), true
}

func (f *fileAdapter) Set(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var target, stale string
	var data []byte

	if len(value) >= compressThreshold {
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write([]byte(value)); err == nil && w.Close() == nil {
			target, stale = f.gzipPath(key), f.plainPath(key)
			data = buf.Bytes()
		}
	}
	if target == "" {
		target, stale = f.plainPath(key), f.gzipPath(key)
		data = []byte(value)
	}

	if err := writeAtomic(target, data); err != nil {
		f.logger.Warn("storage write failed", zap.String("key", key), zap.Error(err))
		return
	}
	// Both forms must never coexist; Get prefers the compressed twin.
	_ = os.Remove(stale)
}

func (f *fileAdapter) Remove(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeBoth(key)
}

func (f *fileAdapter) removeBoth(key string) {
	for _, p := range []string{f.plainPath(key), f.gzipPath(key)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("storage remove failed", zap.String("path", p), zap.Error(err))
		}
	}
}

func (f *fileAdapter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		f.logger.Warn("storage clear failed", zap.Error(err))
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".json.gz") {
			continue
		}
		if err := os.Remove(filepath.Join(f.dir, name)); err != nil {
			f.logger.Warn("storage clear failed", zap.String("file", name), zap.Error(err))
		}
	}
}

// writeAtomic writes data to a sibling temp file and renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var _ Adapter = (*fileAdapter)(nil)
