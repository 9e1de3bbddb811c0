package store

import "sync"

// MemoryKV is an in-memory KV used in tests and as a scratch store.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte

	// FailSet, when true, makes Set return an error. Lets tests exercise
	// the persistence-failure paths.
	FailSet bool
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// Get returns the value for key.
func (m *MemoryKV) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Set stores value under key.
func (m *MemoryKV) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSet {
		return errSetFailed
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	return nil
}

// Delete removes key.
func (m *MemoryKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

var errSetFailed = errSentinel("memory store: set failed")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
