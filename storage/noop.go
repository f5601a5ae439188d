package storage

// noopAdapter discards every write and reports every key as absent.
// Used when persistence is explicitly disabled.
type noopAdapter struct{}

// Noop returns the no-op Adapter.
func Noop() Adapter { return noopAdapter{} }

func (noopAdapter) Get(string) (string, bool) { return "", false }
func (noopAdapter) Set(string, string)        {}
func (noopAdapter) Remove(string)             {}
func (noopAdapter) Clear()                    {}

var _ Adapter = noopAdapter{}
