package history

import (
	"context"
	"sync"
)

// MemoryStore keeps history in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry)}
}

func (m *MemoryStore) Append(_ context.Context, userID string, entry Entry, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := append([]Entry{entry}, m.entries[userID]...)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	m.entries[userID] = list
	return nil
}

func (m *MemoryStore) List(_ context.Context, userID string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Entry(nil), m.entries[userID]...), nil
}
