package history

import (
	"context"
	"time"
)

// DefaultSize is the number of previous hashes kept per user.
const DefaultSize = 12

// Entry is one previously used password hash.
type Entry struct {
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists per-user history. Append must keep at most limit entries,
// evicting the oldest. List returns newest first.
type Store interface {
	Append(ctx context.Context, userID string, entry Entry, limit int) error
	List(ctx context.Context, userID string) ([]Entry, error)
}

// Verifier checks a plaintext password against a stored hash.
// *password.Hasher satisfies it.
type Verifier interface {
	Verify(password, stored string) bool
}

// History blocks reuse of the last Size passwords.
type History struct {
	store Store
	size  int
	now   func() time.Time
}

// New returns a History over store. A size of zero or less disables it.
func New(store Store, size int, now func() time.Time) *History {
	if now == nil {
		now = time.Now
	}
	return &History{store: store, size: size, now: now}
}

// Enabled reports whether reuse checks are active.
func (h *History) Enabled() bool {
	return h != nil && h.store != nil && h.size > 0
}

// Record appends hash to userID's history.
func (h *History) Record(ctx context.Context, userID, hash string) error {
	if !h.Enabled() {
		return nil
	}
	return h.store.Append(ctx, userID, Entry{Hash: hash, CreatedAt: h.now().UTC()}, h.size)
}

// IsReused verifies candidate against every stored hash for userID. Each
// check is a full KDF evaluation, so cost grows with Size.
func (h *History) IsReused(ctx context.Context, userID, candidate string, v Verifier) (bool, error) {
	if !h.Enabled() {
		return false, nil
	}

	entries, err := h.store.List(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(entries) > h.size {
		entries = entries[:h.size]
	}

	for _, e := range entries {
		if v.Verify(candidate, e.Hash) {
			return true, nil
		}
	}
	return false, nil
}
