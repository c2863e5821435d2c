package session

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/zenithlabs/authcore/internal"
	"github.com/zenithlabs/authcore/jwt"
	"go.uber.org/zap"
)

// TokenSigner is the signed-token primitive sessions are issued with.
// *jwt.Manager satisfies it.
type TokenSigner interface {
	Sign(claims jwt.SessionClaims, ttl time.Duration) (string, error)
	Parse(token string) (*jwt.SessionClaims, error)
	ParseIgnoringExpiry(token string) (*jwt.SessionClaims, error)
}

// Config tunes a Manager.
type Config struct {
	DefaultTTL time.Duration
	// Retention is how long a session may stay idle before CleanupExpired
	// removes it, independent of token expiry.
	Retention time.Duration
	Shards    int
	Now       func() time.Time
}

// DefaultConfig returns a 24h token TTL, 7 day idle retention and 32 shards.
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 24 * time.Hour,
		Retention:  7 * 24 * time.Hour,
		Shards:     32,
	}
}

// Manager issues session tokens and owns the in-memory session table.
// A token validates only while its signature and expiry hold and its
// session id is still present in the table.
type Manager struct {
	signer TokenSigner
	config Config
	now    func() time.Time
	logger *zap.Logger
	shards []*shard
}

type shard struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager. A nil logger is replaced with a no-op one.
func NewManager(signer TokenSigner, cfg Config, logger *zap.Logger) (*Manager, error) {
	if signer == nil {
		return nil, errors.New("session manager requires a token signer")
	}
	if cfg.DefaultTTL <= 0 {
		return nil, errors.New("session default ttl must be > 0")
	}
	if cfg.Retention <= 0 {
		return nil, errors.New("session retention must be > 0")
	}
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultConfig().Shards
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		signer: signer,
		config: cfg,
		now:    cfg.Now,
		logger: logger,
		shards: make([]*shard, cfg.Shards),
	}
	if m.now == nil {
		m.now = time.Now
	}
	for i := range m.shards {
		m.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return m, nil
}

func (m *Manager) shardFor(sid string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sid))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}

// Create opens a session and returns its signed token.
func (m *Manager) Create(p CreateParams) (string, Session, error) {
	ttl := p.TTL
	if ttl <= 0 {
		ttl = m.config.DefaultTTL
	}

	id, err := internal.NewSessionID()
	if err != nil {
		return "", Session{}, err
	}
	sid := id.String()

	token, err := m.signer.Sign(jwt.SessionClaims{
		SID:       sid,
		UID:       p.UserID,
		Username:  p.Username,
		Role:      p.Role,
		IPAddress: p.IPAddress,
		UserAgent: p.UserAgent,
	}, ttl)
	if err != nil {
		return "", Session{}, err
	}

	now := m.now()
	s := &Session{
		ID:           sid,
		UserID:       p.UserID,
		Username:     p.Username,
		Role:         p.Role,
		IPAddress:    p.IPAddress,
		UserAgent:    p.UserAgent,
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
		LastActivity: now,
	}

	sh := m.shardFor(sid)
	sh.mu.Lock()
	sh.sessions[sid] = s
	sh.mu.Unlock()

	m.logger.Debug("session created", zap.String("user_id", p.UserID))
	return token, *s, nil
}

// Validate returns the token's claims when the token verifies and its
// session is still present, touching the session's last activity.
// Any failure yields (nil, false).
func (m *Manager) Validate(token string) (*jwt.SessionClaims, bool) {
	claims, err := m.signer.Parse(token)
	if err != nil {
		return nil, false
	}

	sh := m.shardFor(claims.SID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.sessions[claims.SID]
	if !ok || s.UserID != claims.UID {
		return nil, false
	}
	s.LastActivity = m.now()
	return claims, true
}

// Get returns a copy of the session with the given id.
func (m *Manager) Get(sid string) (Session, bool) {
	sh := m.shardFor(sid)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.sessions[sid]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Invalidate removes the session behind token. The token's signature must
// verify; an expired token is still accepted so its record can be dropped.
// Returns false when the session was already gone.
func (m *Manager) Invalidate(token string) (Session, bool) {
	claims, err := m.signer.ParseIgnoringExpiry(token)
	if err != nil {
		return Session{}, false
	}
	return m.InvalidateByID(claims.SID)
}

// InvalidateByID removes a session by id.
func (m *Manager) InvalidateByID(sid string) (Session, bool) {
	sh := m.shardFor(sid)
	sh.mu.Lock()
	s, ok := sh.sessions[sid]
	if ok {
		delete(sh.sessions, sid)
	}
	sh.mu.Unlock()

	if !ok {
		return Session{}, false
	}
	m.logger.Debug("session invalidated", zap.String("user_id", s.UserID))
	return *s, true
}

// InvalidateAllForUser removes every session owned by userID and returns
// how many were removed.
func (m *Manager) InvalidateAllForUser(userID string) int {
	removed := 0
	for _, sh := range m.shards {
		sh.mu.Lock()
		for sid, s := range sh.sessions {
			if s.UserID == userID {
				delete(sh.sessions, sid)
				removed++
			}
		}
		sh.mu.Unlock()
	}

	if removed > 0 {
		m.logger.Info("sessions revoked for user", zap.String("user_id", userID), zap.Int("count", removed))
	}
	return removed
}

// ForUser returns copies of every session owned by userID.
func (m *Manager) ForUser(userID string) []Session {
	var out []Session
	for _, sh := range m.shards {
		sh.mu.Lock()
		for _, s := range sh.sessions {
			if s.UserID == userID {
				out = append(out, *s)
			}
		}
		sh.mu.Unlock()
	}
	return out
}

// Refresh re-signs a valid, present session with a fresh expiry. The
// session id is unchanged.
func (m *Manager) Refresh(token string, ttl time.Duration) (string, bool) {
	claims, err := m.signer.Parse(token)
	if err != nil {
		return "", false
	}
	if ttl <= 0 {
		ttl = m.config.DefaultTTL
	}

	sh := m.shardFor(claims.SID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.sessions[claims.SID]
	if !ok || s.UserID != claims.UID {
		return "", false
	}

	fresh, err := m.signer.Sign(jwt.SessionClaims{
		SID:       s.ID,
		UID:       s.UserID,
		Username:  s.Username,
		Role:      s.Role,
		IPAddress: s.IPAddress,
		UserAgent: s.UserAgent,
	}, ttl)
	if err != nil {
		m.logger.Error("session refresh signing failed", zap.Error(err))
		return "", false
	}

	now := m.now()
	s.ExpiresAt = now.Add(ttl)
	s.LastActivity = now
	return fresh, true
}

// CleanupExpired removes sessions idle for longer than the retention
// window and returns how many were removed.
func (m *Manager) CleanupExpired() int {
	cutoff := m.now().Add(-m.config.Retention)
	removed := 0
	for _, sh := range m.shards {
		sh.mu.Lock()
		for sid, s := range sh.sessions {
			if s.LastActivity.Before(cutoff) {
				delete(sh.sessions, sid)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Count returns the number of live session records.
func (m *Manager) Count() int {
	n := 0
	for _, sh := range m.shards {
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}

// RunJanitor calls sweep every interval until ctx is done.
func RunJanitor(ctx context.Context, interval time.Duration, sweep func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
