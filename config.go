package olakai

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/olakai/olakai-go/queue"
	"github.com/olakai/olakai-go/storage"
)

// Configuration errors are the one class allowed to reach the embedding
// application: failing fast at initialization beats silently dropping all
// telemetry.
var (
	ErrMissingAPIKey   = errors.New("api key is required")
	ErrMissingEndpoint = errors.New("endpoint is required")
)

// Config configures a Client. Zero values take the documented defaults;
// Validate rejects anything the SDK cannot run with.
type Config struct {
	// APIKey authenticates against the monitoring service. Required.
	APIKey string `toml:"api_key"`
	// Endpoint receives telemetry batches.
	Endpoint string `toml:"endpoint"`
	// ControlEndpoint answers pre-flight "may this call run?" checks.
	// Empty disables control checks entirely.
	ControlEndpoint string `toml:"control_endpoint"`

	// BatchSize caps how many call reports coalesce into one batch.
	BatchSize int `toml:"batch_size"`
	// BatchTimeout is the delay before a scheduled delivery pass.
	BatchTimeout time.Duration `toml:"-"`
	// MaxRetries bounds both the transport's attempts per send and the
	// queue's per-record re-delivery cycle.
	MaxRetries int `toml:"max_retries"`
	// RequestTimeout bounds each individual HTTP attempt.
	RequestTimeout time.Duration `toml:"-"`

	// EnableStorage persists the queue across restarts.
	EnableStorage bool `toml:"enable_storage"`
	// StorageType picks the adapter; TypeAuto detects the environment.
	StorageType storage.Type `toml:"storage_type"`
	// StorageKey names the persisted queue entry.
	StorageKey string `toml:"storage_key"`
	// MaxStorageSize is the serialized-queue byte ceiling.
	MaxStorageSize int `toml:"max_storage_size"`
	// CacheDirectory overrides where file-backed adapters keep data.
	CacheDirectory string `toml:"cache_directory"`
	// DatabaseURL is required when StorageType is postgres.
	DatabaseURL string `toml:"database_url"`

	// OnlineProbeInterval enables the connectivity probe loop when > 0.
	OnlineProbeInterval time.Duration `toml:"-"`

	// Logger defaults to a no-op logger; the SDK never writes to stderr
	// unless the application hands it a logger.
	Logger *zap.Logger `toml:"-"`
	// MetricsRegisterer enables Prometheus instruments when non-nil.
	MetricsRegisterer prometheus.Registerer `toml:"-"`
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = "https://app.olakai.ai/api/monitoring"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 5 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.StorageType == "" {
		c.StorageType = storage.TypeAuto
	}
	if c.StorageKey == "" {
		c.StorageKey = queue.DefaultStorageKey
	}
	if c.MaxStorageSize == 0 {
		c.MaxStorageSize = 1_000_000
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Endpoint == "" {
		return ErrMissingEndpoint
	}
	if _, err := url.ParseRequestURI(c.Endpoint); err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if c.ControlEndpoint != "" {
		if _, err := url.ParseRequestURI(c.ControlEndpoint); err != nil {
			return fmt.Errorf("invalid control endpoint: %w", err)
		}
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if !c.StorageType.IsValid() {
		return fmt.Errorf("unknown storage type %q", c.StorageType)
	}
	if c.StorageType == storage.TypePostgres && c.DatabaseURL == "" {
		return errors.New("postgres storage requires a database URL")
	}
	return nil
}

// FromEnv builds a Config from OLAKAI_* environment variables on top of
// the defaults. Unset variables keep their defaults.
func FromEnv() Config {
	return Config{
		APIKey:              os.Getenv("OLAKAI_API_KEY"),
		Endpoint:            getEnv("OLAKAI_ENDPOINT", ""),
		ControlEndpoint:     getEnv("OLAKAI_CONTROL_ENDPOINT", ""),
		BatchSize:           getInt("OLAKAI_BATCH_SIZE", 0),
		BatchTimeout:        getDuration("OLAKAI_BATCH_TIMEOUT", 0),
		MaxRetries:          getInt("OLAKAI_MAX_RETRIES", 0),
		RequestTimeout:      getDuration("OLAKAI_REQUEST_TIMEOUT", 0),
		EnableStorage:       getBool("OLAKAI_ENABLE_STORAGE", false),
		StorageType:         storage.Type(getEnv("OLAKAI_STORAGE_TYPE", "")),
		StorageKey:          getEnv("OLAKAI_STORAGE_KEY", ""),
		MaxStorageSize:      getInt("OLAKAI_MAX_STORAGE_SIZE", 0),
		CacheDirectory:      getEnv("OLAKAI_CACHE_DIR", ""),
		DatabaseURL:         getEnv("OLAKAI_DATABASE_URL", ""),
		OnlineProbeInterval: getDuration("OLAKAI_ONLINE_PROBE_INTERVAL", 0),
	}
}

// tomlDurations carries the duration fields as strings, since TOML has no
// native duration type.
type tomlDurations struct {
	BatchTimeout        string `toml:"batch_timeout"`
	RequestTimeout      string `toml:"request_timeout"`
	OnlineProbeInterval string `toml:"online_probe_interval"`
}

// LoadFile reads a TOML configuration file. Duration fields use Go
// duration syntax ("5s", "2m"). Environment variables do not apply; callers
// wanting both layer FromEnv over the result themselves.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	var durs tomlDurations
	if _, err := toml.DecodeFile(path, &durs); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	for _, f := range []struct {
		raw string
		dst *time.Duration
	}{
		{durs.BatchTimeout, &cfg.BatchTimeout},
		{durs.RequestTimeout, &cfg.RequestTimeout},
		{durs.OnlineProbeInterval, &cfg.OnlineProbeInterval},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse duration %q: %w", f.raw, err)
		}
		*f.dst = d
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
