package rate

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps attempts in process memory. Each key owns its lock,
// so contention is limited to callers sharing a key.
type MemoryBackend struct {
	entries sync.Map // string -> *memEntry
}

type memEntry struct {
	mu       sync.Mutex
	attempts []time.Time
	// dead entries have been unlinked from the map; writers must reload.
	dead bool
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// lock returns the live entry for key with its mutex held.
func (m *MemoryBackend) lock(key string) *memEntry {
	for {
		v, _ := m.entries.LoadOrStore(key, &memEntry{})
		e := v.(*memEntry)
		e.mu.Lock()
		if !e.dead {
			return e
		}
		e.mu.Unlock()
	}
}

func (e *memEntry) prune(now time.Time, window time.Duration) {
	keep := e.attempts[:0]
	for _, t := range e.attempts {
		if now.Sub(t) < window {
			keep = append(keep, t)
		}
	}
	e.attempts = keep
}

// Check prunes expired attempts and evaluates rule.
func (m *MemoryBackend) Check(_ context.Context, key string, rule Rule, now time.Time) (Decision, error) {
	v, ok := m.entries.Load(key)
	if !ok {
		return Decision{Allowed: true}, nil
	}

	e := v.(*memEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return Decision{Allowed: true}, nil
	}

	e.prune(now, rule.Window)
	if len(e.attempts) == 0 {
		return Decision{Allowed: true}, nil
	}
	return decide(len(e.attempts), e.attempts[0], rule, now), nil
}

// Record appends now to the key's attempts.
func (m *MemoryBackend) Record(_ context.Context, key string, rule Rule, now time.Time) error {
	e := m.lock(key)
	defer e.mu.Unlock()

	e.prune(now, rule.Window)
	e.attempts = append(e.attempts, now)
	return nil
}

// Clear removes the key.
func (m *MemoryBackend) Clear(_ context.Context, key string) error {
	v, ok := m.entries.LoadAndDelete(key)
	if !ok {
		return nil
	}

	e := v.(*memEntry)
	e.mu.Lock()
	e.dead = true
	e.attempts = nil
	e.mu.Unlock()
	return nil
}

// Sweep unlinks keys whose newest attempt is older than maxWindow.
func (m *MemoryBackend) Sweep(now time.Time, maxWindow time.Duration) int {
	removed := 0
	m.entries.Range(func(k, v any) bool {
		e := v.(*memEntry)
		e.mu.Lock()
		if !e.dead {
			e.prune(now, maxWindow)
			if len(e.attempts) == 0 {
				e.dead = true
				m.entries.CompareAndDelete(k, e)
				removed++
			}
		}
		e.mu.Unlock()
		return true
	})
	return removed
}

// Len returns the number of tracked keys.
func (m *MemoryBackend) Len() int {
	n := 0
	m.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
