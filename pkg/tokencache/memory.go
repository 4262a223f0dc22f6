package tokencache

import (
	"context"
	"sync"
)

// MemoryStore holds the cache entry in memory. Useful for tests and for
// runs that deliberately forget tokens on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data *Data
}

// NewMemoryStore creates a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Exists reports whether an entry has been written.
func (m *MemoryStore) Exists(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data != nil, nil
}

// Read returns a copy of the stored entry with its relative expiry cleared.
func (m *MemoryStore) Read(ctx context.Context) (*Data, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.data == nil {
		return nil, ErrNoData
	}
	data := *m.data
	data.clearRelativeExpiry()
	return &data, nil
}

// Write replaces the stored entry.
func (m *MemoryStore) Write(ctx context.Context, data *Data) error {
	if data == nil {
		return ErrNilData
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *data
	m.data = &copied
	return nil
}
