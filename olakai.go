// Package olakai instruments application functions and ships the captured
// invocation data to the Olakai monitoring service. The Client is the
// composition root: it owns the delivery queue, its persistence, the retry
// transport, the optional control pre-flight client, and the connectivity
// monitor. Construct one per application and share it.
package olakai

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/olakai/olakai-go/internal/sdkmetrics"
	"github.com/olakai/olakai-go/queue"
	"github.com/olakai/olakai-go/storage"
	"github.com/olakai/olakai-go/transport"
)

// Client is the SDK entry point.
type Client struct {
	cfg     Config
	logger  *zap.Logger
	store   storage.Adapter
	queue   *queue.Manager
	sender  *transport.Transport
	control *transport.ControlClient
	online  *transport.OnlineMonitor
	metrics *sdkmetrics.Metrics
	cancel  context.CancelFunc
}

// New validates cfg and assembles a ready Client. Configuration problems
// are returned immediately; everything downstream of construction degrades
// gracefully instead of failing.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger

	ctx, cancel := context.WithCancel(context.Background())

	online := transport.NewOnlineMonitor()
	if cfg.OnlineProbeInterval > 0 {
		go online.Watch(ctx, nil, cfg.Endpoint, cfg.OnlineProbeInterval, logger.Named("online"))
	}

	var store storage.Adapter
	if cfg.EnableStorage && cfg.StorageType != storage.TypeDisabled {
		store = storage.New(ctx, storage.Options{
			Type:        cfg.StorageType,
			CacheDir:    cfg.CacheDirectory,
			DatabaseURL: cfg.DatabaseURL,
			Logger:      logger.Named("storage"),
		})
	}

	sender := transport.New(transport.Config{
		Endpoint:   cfg.Endpoint,
		APIKey:     cfg.APIKey,
		MaxRetries: cfg.MaxRetries,
		Timeout:    cfg.RequestTimeout,
		Logger:     logger.Named("transport"),
	})

	var metrics *sdkmetrics.Metrics
	var hooks queue.Hooks
	if cfg.MetricsRegisterer != nil {
		metrics = sdkmetrics.New(cfg.MetricsRegisterer)
		hooks = metrics.QueueHooks()
	}

	qm := queue.New(queue.Config{
		BatchSize:      cfg.BatchSize,
		BatchTimeout:   cfg.BatchTimeout,
		MaxRetries:     cfg.MaxRetries,
		StorageKey:     cfg.StorageKey,
		MaxStorageSize: cfg.MaxStorageSize,
	}, queue.Deps{
		Storage:  store,
		Send:     sender.SendBatch,
		IsOnline: online.IsOnline,
		Logger:   logger.Named("queue"),
		Hooks:    hooks,
	})
	qm.Initialize(ctx)

	var control *transport.ControlClient
	if cfg.ControlEndpoint != "" {
		control = transport.NewControlClient(transport.Config{
			Endpoint:   cfg.ControlEndpoint,
			APIKey:     cfg.APIKey,
			MaxRetries: cfg.MaxRetries,
			Timeout:    cfg.RequestTimeout,
			Logger:     logger.Named("control"),
		})
	}

	return &Client{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		queue:   qm,
		sender:  sender,
		control: control,
		online:  online,
		metrics: metrics,
		cancel:  cancel,
	}, nil
}

// Flush forces one immediate delivery pass.
func (c *Client) Flush(ctx context.Context) {
	c.queue.Flush(ctx)
}

// QueueSize returns the number of batch records waiting for delivery.
func (c *Client) QueueSize() int {
	return c.queue.Size()
}

// ClearQueue drops all pending telemetry, in memory and persisted. Nothing
// cleared is delivered.
func (c *Client) ClearQueue() {
	c.queue.Clear()
}

// SetOnline feeds the host platform's connectivity events to the delivery
// queue's gate.
func (c *Client) SetOnline(v bool) {
	c.online.SetOnline(v)
}

// Shutdown drains the queue with repeated delivery passes until it is
// empty, the process goes offline, or ctx expires — then releases all
// resources. Whatever could not be drained stays persisted for the next
// start.
func (c *Client) Shutdown(ctx context.Context) error {
	for ctx.Err() == nil && c.online.IsOnline() && c.queue.Size() > 0 {
		c.queue.Flush(ctx)
		c.queue.PurgeExhausted()
	}
	c.Close()
	return ctx.Err()
}

// Close releases resources without draining. Pending telemetry survives in
// storage when persistence is enabled.
func (c *Client) Close() {
	c.cancel()
	c.queue.Close()
	if closer, ok := c.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.logger.Warn("closing storage adapter", zap.Error(err))
		}
	}
}
