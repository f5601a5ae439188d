package storage

import "sync"

// memoryAdapter is a process-local key→string map. It never fails, which
// makes it both the fastest variant and the universal fallback when a
// durable adapter cannot be constructed.
type memoryAdapter struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory returns an in-memory Adapter.
func NewMemory() Adapter {
	return &memoryAdapter{data: make(map[string]string)}
}

func (m *memoryAdapter) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *memoryAdapter) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

func (m *memoryAdapter) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

func (m *memoryAdapter) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]string)
}

var _ Adapter = (*memoryAdapter)(nil)
