package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority controls delivery order. High drains first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// rank orders priorities for the stable pre-pass sort; lower drains first.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Item is one batch record: one or more opaque payloads destined for a
// single delivery attempt. Payload order is significant — earliest enqueued
// comes first. Retries counts delivery attempts already made for this
// record; it only ever grows, and a fresh record (new ID) is minted when a
// partial failure splits a batch.
type Item struct {
	ID        string            `json:"id"`
	Payload   []json.RawMessage `json:"payload"`
	Timestamp int64             `json:"timestamp"`
	Retries   int               `json:"retries"`
	Priority  Priority          `json:"priority"`
}

// newItemID builds a diagnostic identifier from the creation time and a
// random suffix. It is never used for lookups.
func newItemID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
