// Package queue owns the pending-delivery queue end to end: ingestion,
// persistence, scheduling, batch composition, delivery, and reconciliation
// of partial failures.
//
// The model is one ordered collection of batch records and at most one
// outstanding flush timer. Every delivery pass pops exactly one batch —
// highest priority first, insertion order within a tier — which bounds the
// work per pass and keeps behaviour predictable under bursty load. The
// server's per-index verdicts on a batch are authoritative: payloads it
// accepted are gone for good, payloads it rejected come back as a fresh
// record with an incremented retry count.
package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/olakai/olakai-go/transport"
)

// DefaultStorageKey is the storage key holding the serialized queue.
const DefaultStorageKey = "olakai-sdk-queue"

// Storage is the slice of the persistence contract the manager needs.
// Implementations never fail past this boundary; a storage outage degrades
// the queue to memory-only durability, never crashes it.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
	Clear()
}

// SendFunc delivers one batch. A nil error with a partial Result means the
// server accepted some payloads and rejected others by index; a non-nil
// error means the transport exhausted its own retries and the whole batch
// counts as failed.
type SendFunc func(ctx context.Context, batch []json.RawMessage) (*transport.Result, error)

// Config is the read-only tuning the manager receives at construction.
type Config struct {
	// BatchSize caps how many payloads coalesce into one batch record.
	BatchSize int
	// BatchTimeout is the delay before a scheduled pass, and the cadence
	// of the retry-exhaustion purge.
	BatchTimeout time.Duration
	// MaxRetries is the per-record delivery attempt cap. A record whose
	// Retries reaches it is purged rather than retried again. Defaults to 3.
	MaxRetries int
	// StorageKey locates the serialized queue; empty means DefaultStorageKey.
	StorageKey string
	// MaxStorageSize is the serialized-queue byte ceiling. When a persist
	// would exceed it, the oldest records are evicted until the size falls
	// to 80% of the ceiling.
	MaxStorageSize int
}

func (c Config) withDefaults() Config {
	if c.BatchSize < 1 {
		c.BatchSize = 10
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 5 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.StorageKey == "" {
		c.StorageKey = DefaultStorageKey
	}
	if c.MaxStorageSize <= 0 {
		c.MaxStorageSize = 1_000_000
	}
	return c
}

// Hooks are optional metric callbacks. Injected as plain funcs so the
// manager stays free of instrumentation imports; nil fields are no-ops.
type Hooks struct {
	OnEnqueued  func(priority Priority)
	OnDelivered func(payloads int, latency time.Duration)
	OnRequeued  func(payloads int)
	OnDropped   func(payloads int, reason string)
	OnDepth     func(records int)
}

func (h Hooks) normalized() Hooks {
	if h.OnEnqueued == nil {
		h.OnEnqueued = func(Priority) {}
	}
	if h.OnDelivered == nil {
		h.OnDelivered = func(int, time.Duration) {}
	}
	if h.OnRequeued == nil {
		h.OnRequeued = func(int) {}
	}
	if h.OnDropped == nil {
		h.OnDropped = func(int, string) {}
	}
	if h.OnDepth == nil {
		h.OnDepth = func(int) {}
	}
	return h
}

// Deps are the manager's injected collaborators.
type Deps struct {
	// Storage persists the queue across restarts. Nil disables persistence.
	Storage Storage
	// Send is the only network boundary the manager depends on.
	Send SendFunc
	// IsOnline gates delivery passes. Nil means always online.
	IsOnline func() bool
	Logger   *zap.Logger
	Hooks    Hooks
}

// Manager is the delivery queue state machine. Construct one per
// composition root; all methods are safe for concurrent use.
type Manager struct {
	cfg      Config
	store    Storage
	send     SendFunc
	isOnline func() bool
	logger   *zap.Logger
	hooks    Hooks

	// mu guards items, the timers, and the lifecycle flags. passMu
	// serializes delivery passes so at most one send is ever in flight.
	mu           sync.Mutex
	passMu       sync.Mutex
	items        []*Item
	flushTimer   *time.Timer
	cleanupTimer *time.Timer
	initialized  bool
	closed       bool

	wg sync.WaitGroup
}

// New constructs a Manager. Call Initialize before first use to recover
// any persisted queue.
func New(cfg Config, deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	isOnline := deps.IsOnline
	if isOnline == nil {
		isOnline = func() bool { return true }
	}
	return &Manager{
		cfg:      cfg.withDefaults(),
		store:    deps.Storage,
		send:     deps.Send,
		isOnline: isOnline,
		logger:   logger,
		hooks:    deps.Hooks.normalized(),
	}
}

// Initialize merges the persisted queue (if any) into memory, appending
// behind records already enqueued so prior order is preserved, and kicks
// off an immediate pass when there is recovered work and we are online.
// Calling it twice logs a warning and keeps the existing state.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	if m.initialized {
		m.logger.Warn("queue manager initialized twice, keeping existing state")
		m.mu.Unlock()
		return
	}
	m.initialized = true

	if m.store != nil {
		if raw, ok := m.store.Get(m.cfg.StorageKey); ok && raw != "" {
			var persisted []*Item
			if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
				m.logger.Warn("discarding corrupt persisted queue", zap.Error(err))
				m.store.Remove(m.cfg.StorageKey)
			} else {
				m.items = append(m.items, persisted...)
				m.logger.Info("recovered persisted queue",
					zap.Int("records", len(persisted)))
			}
		}
	}

	kick := len(m.items) > 0 && m.isOnline()
	if kick {
		m.wg.Add(1)
	}
	m.mu.Unlock()

	if kick {
		go func() {
			defer m.wg.Done()
			m.runPass(ctx)
		}()
	}
}

// EnqueueOptions tunes a single Enqueue call. Retries is used internally
// when failed payloads are re-queued; callers leave it zero.
type EnqueueOptions struct {
	Priority Priority
	Retries  int
}

// Enqueue adds one opaque payload record to the queue.
//
// The payload coalesces into the most recently added record that still has
// room and carries the same retry count; records that have failed N times
// stay segregated from fresh ones so backoff remains fair. A high-priority
// payload escalates the batch it lands in and triggers an immediate pass;
// anything else waits for the batch timeout. Empty records are dropped.
func (m *Manager) Enqueue(payload json.RawMessage, opts EnqueueOptions) {
	if len(payload) == 0 {
		m.logger.Warn("dropping empty payload record")
		m.hooks.OnDropped(1, "empty")
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	effective := m.enqueueLocked(payload, opts.Retries, opts.Priority)
	m.persistLocked()
	m.scheduleCleanupLocked()

	immediate := effective == PriorityHigh
	if immediate {
		m.wg.Add(1)
	} else {
		m.scheduleFlushLocked()
	}
	m.hooks.OnDepth(len(m.items))
	m.mu.Unlock()

	if immediate {
		go func() {
			defer m.wg.Done()
			m.runPass(context.Background())
		}()
	}
}

// enqueueLocked performs the coalescing insert and returns the effective
// priority of the record the payload landed in. Caller holds mu.
func (m *Manager) enqueueLocked(payload json.RawMessage, retries int, priority Priority) Priority {
	if !priority.IsValid() {
		priority = PriorityNormal
	}

	// Scan newest-first so a high-priority payload lands in a batch close
	// to being flushed.
	for i := len(m.items) - 1; i >= 0; i-- {
		it := m.items[i]
		if len(it.Payload) < m.cfg.BatchSize && it.Retries == retries {
			it.Payload = append(it.Payload, payload)
			if priority == PriorityHigh {
				it.Priority = PriorityHigh
			}
			m.hooks.OnEnqueued(priority)
			return it.Priority
		}
	}

	it := &Item{
		ID:        newItemID(),
		Payload:   []json.RawMessage{payload},
		Timestamp: nowMillis(),
		Retries:   retries,
		Priority:  priority,
	}
	m.items = append(m.items, it)
	m.hooks.OnEnqueued(priority)
	return it.Priority
}

// Flush forces one immediate delivery pass, cancelling any pending timer.
// It returns after the pass completes; callers draining before shutdown
// loop on it until Size reports zero.
func (m *Manager) Flush(ctx context.Context) {
	m.runPass(ctx)
}

// Size returns the number of batch records waiting in the queue.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Snapshot returns a copy of the queued records for diagnostics.
func (m *Manager) Snapshot() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Item, len(m.items))
	for i, it := range m.items {
		cp := *it
		cp.Payload = append([]json.RawMessage(nil), it.Payload...)
		out[i] = cp
	}
	return out
}

// Clear empties the queue and removes the persisted entry. Nothing that
// was queued is delivered.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = nil
	if m.store != nil {
		m.store.Remove(m.cfg.StorageKey)
	}
	m.hooks.OnDepth(0)
}

// PurgeExhausted drops every record whose retry count has reached the
// configured maximum and persists the shorter queue. This is the bound on
// poison payloads the server will never accept: forward progress wins over
// completeness. It runs periodically on the batch-timeout cadence and
// returns the number of payloads dropped.
func (m *Manager) PurgeExhausted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0
	}

	kept := m.items[:0]
	dropped := 0
	for _, it := range m.items {
		if it.Retries >= m.cfg.MaxRetries {
			dropped += len(it.Payload)
			continue
		}
		kept = append(kept, it)
	}
	if dropped > 0 {
		m.items = kept
		m.persistLocked()
		m.hooks.OnDropped(dropped, "retries_exhausted")
		m.hooks.OnDepth(len(m.items))
		m.logger.Warn("purged records with exhausted retries",
			zap.Int("payloads", dropped))
	}
	if len(m.items) > 0 {
		m.scheduleCleanupLocked()
	}
	return dropped
}

// Close stops the timers and waits for any in-flight pass. The persisted
// queue is left intact for the next Initialize.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.cancelFlushTimerLocked()
	if m.cleanupTimer != nil {
		m.cleanupTimer.Stop()
		m.cleanupTimer = nil
	}
	m.mu.Unlock()

	m.wg.Wait()
	// Drain a pass started by a timer that fired before Stop.
	m.passMu.Lock()
	m.passMu.Unlock() //nolint:staticcheck
}

// runPass is the delivery pass: pop exactly one batch (highest priority
// first), persist the shorter queue before sending so a crash mid-send
// cannot duplicate beyond what retry semantics already tolerate, deliver,
// then reconcile the outcome.
func (m *Manager) runPass(ctx context.Context) {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.cancelFlushTimerLocked()

	if len(m.items) == 0 {
		m.mu.Unlock()
		return
	}
	if !m.isOnline() {
		m.scheduleFlushLocked()
		m.mu.Unlock()
		return
	}

	// Stable sort: ties within a tier keep insertion order, so equal
	// priorities deliver oldest first.
	sort.SliceStable(m.items, func(i, j int) bool {
		return m.items[i].Priority.rank() < m.items[j].Priority.rank()
	})

	it := m.items[0]
	m.items = m.items[1:]

	if len(it.Payload) == 0 {
		// Defensive: an empty batch is dropped, never transmitted.
		m.persistLocked()
		if len(m.items) > 0 {
			m.scheduleFlushLocked()
		}
		m.mu.Unlock()
		return
	}

	m.persistLocked()
	m.mu.Unlock()

	start := time.Now()
	res, err := m.send(ctx, it.Payload)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case err != nil:
		// The transport exhausted its own retries: every payload in the
		// batch failed. Re-queue each one individually so they can coalesce
		// with other payloads at the same retry count instead of staying
		// bound together.
		m.logger.Warn("batch delivery failed",
			zap.String("batch_id", it.ID),
			zap.Int("payloads", len(it.Payload)),
			zap.Int("retries", it.Retries),
			zap.Error(err),
		)
		m.requeueAllLocked(it)

	case res != nil && !res.Success && len(res.Results) == 0:
		// The server rejected the batch as a whole without per-item
		// verdicts. Same outcome as a transport failure.
		m.logger.Warn("batch rejected by server",
			zap.String("batch_id", it.ID),
			zap.Int("payloads", len(it.Payload)),
			zap.Int("retries", it.Retries),
		)
		m.requeueAllLocked(it)

	case res != nil && res.Partial():
		failed := res.FailedIndexes()
		repl := &Item{
			ID:        newItemID(),
			Timestamp: nowMillis(),
			Retries:   it.Retries + 1,
			Priority:  it.Priority,
		}
		for _, idx := range failed {
			if idx >= 0 && idx < len(it.Payload) {
				repl.Payload = append(repl.Payload, it.Payload[idx])
			}
		}
		if len(repl.Payload) > 0 {
			m.items = append(m.items, repl)
		}
		m.logger.Info("batch partially delivered",
			zap.String("batch_id", it.ID),
			zap.Int("accepted", len(it.Payload)-len(repl.Payload)),
			zap.Int("rejected", len(repl.Payload)),
		)
		m.hooks.OnDelivered(len(it.Payload)-len(repl.Payload), time.Since(start))
		m.hooks.OnRequeued(len(repl.Payload))
		m.persistLocked()

	default:
		m.logger.Debug("batch delivered",
			zap.String("batch_id", it.ID),
			zap.Int("payloads", len(it.Payload)),
			zap.Duration("latency", time.Since(start)),
		)
		m.hooks.OnDelivered(len(it.Payload), time.Since(start))
	}

	m.hooks.OnDepth(len(m.items))
	if len(m.items) > 0 {
		m.scheduleFlushLocked()
	}
}

// requeueAllLocked puts every payload of a failed batch back individually
// with an incremented retry count. Caller holds mu.
func (m *Manager) requeueAllLocked(it *Item) {
	for _, p := range it.Payload {
		m.enqueueLocked(p, it.Retries+1, it.Priority)
	}
	m.hooks.OnRequeued(len(it.Payload))
	m.persistLocked()
}

// scheduleFlushLocked arms the flush timer unless one is already
// outstanding. At most one timer ever exists, which is what rules out
// concurrent passes racing each other. Caller holds mu.
func (m *Manager) scheduleFlushLocked() {
	if m.flushTimer != nil || m.closed {
		return
	}
	m.flushTimer = time.AfterFunc(m.cfg.BatchTimeout, func() {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.flushTimer = nil
		m.mu.Unlock()
		m.runPass(context.Background())
	})
}

func (m *Manager) cancelFlushTimerLocked() {
	if m.flushTimer != nil {
		m.flushTimer.Stop()
		m.flushTimer = nil
	}
}

// scheduleCleanupLocked arms the periodic retry-exhaustion purge on the
// same cadence as the batch timeout. Caller holds mu.
func (m *Manager) scheduleCleanupLocked() {
	if m.cleanupTimer != nil || m.closed {
		return
	}
	m.cleanupTimer = time.AfterFunc(m.cfg.BatchTimeout, func() {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.cleanupTimer = nil
		m.mu.Unlock()
		m.PurgeExhausted()
	})
}

// persistLocked serializes the queue to storage. If the serialized form
// exceeds the byte ceiling, the oldest records are evicted (from memory as
// well — they are gone, not hidden) until it fits within 80% of the
// ceiling. Best-effort: every failure is logged and swallowed. Caller
// holds mu.
func (m *Manager) persistLocked() {
	if m.store == nil {
		return
	}

	data, err := json.Marshal(m.items)
	if err != nil {
		m.logger.Warn("failed to serialize queue", zap.Error(err))
		return
	}

	if len(data) > m.cfg.MaxStorageSize {
		limit := m.cfg.MaxStorageSize * 8 / 10
		evicted := 0
		for len(data) > limit && len(m.items) > 0 {
			evicted += len(m.items[0].Payload)
			m.items = m.items[1:]
			data, err = json.Marshal(m.items)
			if err != nil {
				m.logger.Warn("failed to serialize queue", zap.Error(err))
				return
			}
		}
		m.hooks.OnDropped(evicted, "storage_evicted")
		m.logger.Warn("queue exceeded storage ceiling, evicted oldest records",
			zap.Int("payloads", evicted),
			zap.Int("bytes", len(data)),
		)
	}

	m.store.Set(m.cfg.StorageKey, string(data))
}
