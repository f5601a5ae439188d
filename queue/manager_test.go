package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/olakai/olakai-go/queue"
	"github.com/olakai/olakai-go/storage"
	"github.com/olakai/olakai-go/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder captures every batch handed to the send function.
type recorder struct {
	mu      sync.Mutex
	batches [][]json.RawMessage
	result  func(batch []json.RawMessage) (*transport.Result, error)
}

func (r *recorder) send(_ context.Context, batch []json.RawMessage) (*transport.Result, error) {
	r.mu.Lock()
	cp := append([]json.RawMessage(nil), batch...)
	r.batches = append(r.batches, cp)
	result := r.result
	r.mu.Unlock()
	if result != nil {
		return result(batch)
	}
	return &transport.Result{Success: true}, nil
}

func (r *recorder) sent() [][]json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]json.RawMessage(nil), r.batches...)
}

func payload(s string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf("%q", s))
}

// newManager builds a manager with a batch timeout long enough that timers
// never fire during a test; passes happen only through explicit Flush.
func newManager(t *testing.T, cfg queue.Config, deps queue.Deps) *queue.Manager {
	t.Helper()
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = time.Minute
	}
	m := queue.New(cfg, deps)
	t.Cleanup(m.Close)
	return m
}

func TestManager_FlushDeliversEverythingOnSuccess(t *testing.T) {
	rec := &recorder{}
	m := newManager(t, queue.Config{BatchSize: 2}, queue.Deps{Send: rec.send})

	m.Enqueue(payload("a"), queue.EnqueueOptions{})
	m.Enqueue(payload("b"), queue.EnqueueOptions{})
	m.Enqueue(payload("c"), queue.EnqueueOptions{})

	ctx := context.Background()
	for i := 0; i < 5 && m.Size() > 0; i++ {
		m.Flush(ctx)
	}

	if got := m.Size(); got != 0 {
		t.Fatalf("expected empty queue after draining, got %d records", got)
	}
	sent := rec.sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(sent))
	}
	if len(sent[0]) != 2 || string(sent[0][0]) != `"a"` || string(sent[0][1]) != `"b"` {
		t.Fatalf("first batch wrong: %v", sent[0])
	}
	if len(sent[1]) != 1 || string(sent[1][0]) != `"c"` {
		t.Fatalf("second batch wrong: %v", sent[1])
	}
}

func TestManager_PartialFailureRequeuesOnlyRejectedIndexes(t *testing.T) {
	rec := &recorder{
		result: func(batch []json.RawMessage) (*transport.Result, error) {
			return &transport.Result{
				TotalRequests: len(batch),
				SuccessCount:  len(batch) - 2,
				FailureCount:  2,
				Results: []transport.ItemResult{
					{Index: 0, Success: true},
					{Index: 1, Success: false, Error: "rejected"},
					{Index: 2, Success: true},
					{Index: 3, Success: false, Error: "rejected"},
				},
			}, nil
		},
	}
	m := newManager(t, queue.Config{BatchSize: 4}, queue.Deps{Send: rec.send})

	for _, s := range []string{"p0", "p1", "p2", "p3"} {
		m.Enqueue(payload(s), queue.EnqueueOptions{})
	}
	if m.Size() != 1 {
		t.Fatalf("expected one coalesced record, got %d", m.Size())
	}

	m.Flush(context.Background())

	snap := m.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected exactly one replacement record, got %d", len(snap))
	}
	got := snap[0]
	if got.Retries != 1 {
		t.Fatalf("expected retries=1 on replacement, got %d", got.Retries)
	}
	if len(got.Payload) != 2 || string(got.Payload[0]) != `"p1"` || string(got.Payload[1]) != `"p3"` {
		t.Fatalf("replacement payload wrong: %v", got.Payload)
	}
	if got.Priority != queue.PriorityNormal {
		t.Fatalf("replacement must keep priority, got %s", got.Priority)
	}
}

// TestManager_PartialFailureDetectedFromVerdictsAlone covers responses that
// carry per-item verdicts but omit the redundant counters. The verdicts are
// authoritative; a missing failureCount must not turn rejections into
// silent drops.
func TestManager_PartialFailureDetectedFromVerdictsAlone(t *testing.T) {
	rec := &recorder{
		result: func(batch []json.RawMessage) (*transport.Result, error) {
			return &transport.Result{
				Success: false,
				Results: []transport.ItemResult{
					{Index: 0, Success: true},
					{Index: 1, Success: false, Error: "rejected"},
				},
			}, nil
		},
	}
	m := newManager(t, queue.Config{BatchSize: 2}, queue.Deps{Send: rec.send})

	m.Enqueue(payload("p0"), queue.EnqueueOptions{})
	m.Enqueue(payload("p1"), queue.EnqueueOptions{})
	m.Flush(context.Background())

	snap := m.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("rejected payload lost: queue snapshot = %v", snap)
	}
	if len(snap[0].Payload) != 1 || string(snap[0].Payload[0]) != `"p1"` {
		t.Fatalf("expected only the rejected payload requeued, got %v", snap[0].Payload)
	}
	if snap[0].Retries != 1 {
		t.Fatalf("expected retries=1, got %d", snap[0].Retries)
	}
}

// TestManager_UnsuccessfulResultWithoutVerdictsRequeuesWholeBatch covers a
// server that rejects the batch outright, without per-item detail. That is
// a failure of every payload, not a delivery.
func TestManager_UnsuccessfulResultWithoutVerdictsRequeuesWholeBatch(t *testing.T) {
	rec := &recorder{
		result: func([]json.RawMessage) (*transport.Result, error) {
			return &transport.Result{Success: false}, nil
		},
	}
	m := newManager(t, queue.Config{BatchSize: 10}, queue.Deps{Send: rec.send})

	m.Enqueue(payload("a"), queue.EnqueueOptions{})
	m.Enqueue(payload("b"), queue.EnqueueOptions{})
	m.Flush(context.Background())

	snap := m.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected the whole batch requeued as one record, got %d", len(snap))
	}
	if len(snap[0].Payload) != 2 {
		t.Fatalf("payloads lost on rejected batch: %v", snap[0].Payload)
	}
	if snap[0].Retries != 1 {
		t.Fatalf("expected retries=1, got %d", snap[0].Retries)
	}
}

// TestManager_DefaultRetryCapKeepsFreshRecords guards the zero-value config:
// a record that has never been attempted must survive a cleanup pass.
func TestManager_DefaultRetryCapKeepsFreshRecords(t *testing.T) {
	m := newManager(t, queue.Config{}, queue.Deps{
		Send:     (&recorder{}).send,
		IsOnline: func() bool { return false },
	})

	m.Enqueue(payload("fresh"), queue.EnqueueOptions{})

	if dropped := m.PurgeExhausted(); dropped != 0 {
		t.Fatalf("fresh record purged by default config, dropped=%d", dropped)
	}
	if m.Size() != 1 {
		t.Fatalf("expected record to survive cleanup, size=%d", m.Size())
	}
}

// TestManager_HighPriorityDeliversFirst enqueues low, normal, high in that
// arrival order and verifies the first delivered batch is the high one.
func TestManager_HighPriorityDeliversFirst(t *testing.T) {
	rec := &recorder{}
	m := newManager(t, queue.Config{BatchSize: 1}, queue.Deps{Send: rec.send})

	m.Enqueue(payload("l"), queue.EnqueueOptions{Priority: queue.PriorityLow})
	m.Enqueue(payload("n"), queue.EnqueueOptions{Priority: queue.PriorityNormal})
	m.Enqueue(payload("h"), queue.EnqueueOptions{Priority: queue.PriorityHigh})

	ctx := context.Background()
	for i := 0; i < 5 && m.Size() > 0; i++ {
		m.Flush(ctx)
	}

	sent := rec.sent()
	if len(sent) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(sent))
	}
	if string(sent[0][0]) != `"h"` {
		t.Fatalf("expected high-priority batch first, got %s", sent[0][0])
	}
	if string(sent[1][0]) != `"n"` || string(sent[2][0]) != `"l"` {
		t.Fatalf("expected normal then low, got %s then %s", sent[1][0], sent[2][0])
	}
}

func TestManager_CoalescesIntoOpenBatch(t *testing.T) {
	m := newManager(t, queue.Config{BatchSize: 2}, queue.Deps{
		Send:     (&recorder{}).send,
		IsOnline: func() bool { return false },
	})

	m.Enqueue(payload("a"), queue.EnqueueOptions{})
	m.Enqueue(payload("b"), queue.EnqueueOptions{})
	if m.Size() != 1 {
		t.Fatalf("expected both payloads in one record, got %d records", m.Size())
	}

	snap := m.Snapshot()
	if len(snap[0].Payload) != 2 {
		t.Fatalf("expected 2 payloads, got %d", len(snap[0].Payload))
	}

	// The record is full now; the next payload opens a fresh one.
	m.Enqueue(payload("c"), queue.EnqueueOptions{})
	if m.Size() != 2 {
		t.Fatalf("expected a second record once the first is full, got %d", m.Size())
	}
}

func TestManager_CoalescingSegregatesByRetryCount(t *testing.T) {
	m := newManager(t, queue.Config{BatchSize: 10}, queue.Deps{
		Send:     (&recorder{}).send,
		IsOnline: func() bool { return false },
	})

	m.Enqueue(payload("fresh"), queue.EnqueueOptions{})
	m.Enqueue(payload("failed-once"), queue.EnqueueOptions{Retries: 1})

	if m.Size() != 2 {
		t.Fatalf("payloads with different retry counts must not share a record, got %d records", m.Size())
	}
}

func TestManager_HighPriorityEscalatesOpenBatch(t *testing.T) {
	m := newManager(t, queue.Config{BatchSize: 2}, queue.Deps{
		Send:     (&recorder{}).send,
		IsOnline: func() bool { return false },
	})

	m.Enqueue(payload("a"), queue.EnqueueOptions{Priority: queue.PriorityNormal})
	m.Enqueue(payload("b"), queue.EnqueueOptions{Priority: queue.PriorityHigh})

	snap := m.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected one record, got %d", len(snap))
	}
	if snap[0].Priority != queue.PriorityHigh {
		t.Fatalf("expected batch escalated to high, got %s", snap[0].Priority)
	}
}

func TestManager_PurgeDropsExhaustedRetries(t *testing.T) {
	rec := &recorder{}
	m := newManager(t, queue.Config{BatchSize: 10, MaxRetries: 2}, queue.Deps{Send: rec.send})

	m.Enqueue(payload("poison"), queue.EnqueueOptions{Retries: 2})

	if dropped := m.PurgeExhausted(); dropped != 1 {
		t.Fatalf("expected 1 payload purged, got %d", dropped)
	}
	if m.Size() != 0 {
		t.Fatalf("expected empty queue after purge, got %d", m.Size())
	}

	m.Flush(context.Background())
	if len(rec.sent()) != 0 {
		t.Fatal("purged payload must never be delivered")
	}
}

func TestManager_SendFailureRequeuesIndividuallyWithIncrementedRetries(t *testing.T) {
	rec := &recorder{
		result: func([]json.RawMessage) (*transport.Result, error) {
			return nil, errors.New("endpoint unreachable")
		},
	}
	m := newManager(t, queue.Config{BatchSize: 10, MaxRetries: 2}, queue.Deps{Send: rec.send})

	m.Enqueue(payload("a"), queue.EnqueueOptions{})
	m.Enqueue(payload("b"), queue.EnqueueOptions{})

	ctx := context.Background()
	for want := 1; want <= 3; want++ {
		m.Flush(ctx)
		snap := m.Snapshot()
		if len(snap) != 1 {
			t.Fatalf("after pass %d: expected failed payloads coalesced into one record, got %d", want, len(snap))
		}
		if snap[0].Retries != want {
			t.Fatalf("after pass %d: expected retries=%d, got %d", want, want, snap[0].Retries)
		}
		if len(snap[0].Payload) != 2 {
			t.Fatalf("after pass %d: payloads lost: %d", want, len(snap[0].Payload))
		}
	}

	// retries is now past the cap; the cleanup pass drops the record.
	if dropped := m.PurgeExhausted(); dropped != 2 {
		t.Fatalf("expected 2 payloads purged, got %d", dropped)
	}
	if m.Size() != 0 {
		t.Fatalf("expected empty queue, got %d", m.Size())
	}
}

func TestManager_PersistEvictsOldestWhenOverCeiling(t *testing.T) {
	store := storage.NewMemory()
	const maxSize = 800
	m := newManager(t, queue.Config{BatchSize: 1, MaxStorageSize: maxSize}, queue.Deps{
		Storage:  store,
		Send:     (&recorder{}).send,
		IsOnline: func() bool { return false },
	})

	// Each record serializes to roughly 160 bytes, so ten of them are well
	// past the ceiling and force eviction down to the 80% watermark.
	big := json.RawMessage(fmt.Sprintf("%q", strings.Repeat("x", 50)))
	for i := 0; i < 10; i++ {
		m.Enqueue(big, queue.EnqueueOptions{})
	}

	raw, ok := store.Get(queue.DefaultStorageKey)
	if !ok {
		t.Fatal("expected a persisted queue")
	}
	if len(raw) > maxSize*8/10 {
		t.Fatalf("persisted queue is %d bytes, want <= %d", len(raw), maxSize*8/10)
	}
	if m.Size() >= 10 {
		t.Fatalf("eviction must also shrink the in-memory queue, still %d records", m.Size())
	}
	// The oldest records go first: whatever survived must be the newest.
	if m.Size() == 0 {
		t.Fatal("eviction removed everything; ceiling too aggressive for test data")
	}
}

func TestManager_InitializeRestoresPersistedQueue(t *testing.T) {
	store := storage.NewMemory()
	offline := func() bool { return false }
	deps := queue.Deps{Storage: store, Send: (&recorder{}).send, IsOnline: offline}

	m1 := newManager(t, queue.Config{BatchSize: 2}, deps)
	m1.Enqueue(payload("first"), queue.EnqueueOptions{})
	m1.Enqueue(payload("second"), queue.EnqueueOptions{})
	m1.Enqueue(payload("third"), queue.EnqueueOptions{Priority: queue.PriorityLow})
	m1.Close()

	m2 := newManager(t, queue.Config{BatchSize: 2}, deps)
	m2.Initialize(context.Background())

	snap := m2.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 restored records, got %d", len(snap))
	}
	if string(snap[0].Payload[0]) != `"first"` || string(snap[0].Payload[1]) != `"second"` {
		t.Fatalf("restored payload order wrong: %v", snap[0].Payload)
	}
	if string(snap[1].Payload[0]) != `"third"` || snap[1].Priority != queue.PriorityLow {
		t.Fatalf("restored second record wrong: %+v", snap[1])
	}
}

func TestManager_InitializeTwiceKeepsState(t *testing.T) {
	store := storage.NewMemory()
	deps := queue.Deps{Storage: store, Send: (&recorder{}).send, IsOnline: func() bool { return false }}

	m1 := newManager(t, queue.Config{}, deps)
	m1.Enqueue(payload("x"), queue.EnqueueOptions{})
	m1.Close()

	m2 := newManager(t, queue.Config{}, deps)
	ctx := context.Background()
	m2.Initialize(ctx)
	m2.Initialize(ctx)

	if m2.Size() != 1 {
		t.Fatalf("second Initialize must not duplicate records, got %d", m2.Size())
	}
}

func TestManager_OfflineSkipsDelivery(t *testing.T) {
	rec := &recorder{}
	m := newManager(t, queue.Config{}, queue.Deps{
		Send:     rec.send,
		IsOnline: func() bool { return false },
	})

	m.Enqueue(payload("waiting"), queue.EnqueueOptions{})
	m.Flush(context.Background())

	if len(rec.sent()) != 0 {
		t.Fatal("must not deliver while offline")
	}
	if m.Size() != 1 {
		t.Fatalf("payload must stay queued while offline, size=%d", m.Size())
	}
}

func TestManager_ClearRemovesMemoryAndStorage(t *testing.T) {
	store := storage.NewMemory()
	m := newManager(t, queue.Config{}, queue.Deps{
		Storage:  store,
		Send:     (&recorder{}).send,
		IsOnline: func() bool { return false },
	})

	m.Enqueue(payload("gone"), queue.EnqueueOptions{})
	m.Clear()

	if m.Size() != 0 {
		t.Fatalf("expected empty queue, got %d", m.Size())
	}
	if _, ok := store.Get(queue.DefaultStorageKey); ok {
		t.Fatal("expected persisted entry removed")
	}
}

func TestManager_DropsEmptyPayloads(t *testing.T) {
	m := newManager(t, queue.Config{}, queue.Deps{
		Send:     (&recorder{}).send,
		IsOnline: func() bool { return false },
	})

	m.Enqueue(nil, queue.EnqueueOptions{})
	m.Enqueue(json.RawMessage{}, queue.EnqueueOptions{})

	if m.Size() != 0 {
		t.Fatalf("empty records must be dropped, got %d", m.Size())
	}
}

func TestManager_CorruptPersistedQueueIsDiscarded(t *testing.T) {
	store := storage.NewMemory()
	store.Set(queue.DefaultStorageKey, "{not json")

	m := newManager(t, queue.Config{}, queue.Deps{
		Storage:  store,
		Send:     (&recorder{}).send,
		IsOnline: func() bool { return false },
	})
	m.Initialize(context.Background())

	if m.Size() != 0 {
		t.Fatalf("corrupt persisted queue must be discarded, got %d records", m.Size())
	}
	if _, ok := store.Get(queue.DefaultStorageKey); ok {
		t.Fatal("corrupt entry should have been removed")
	}
}
