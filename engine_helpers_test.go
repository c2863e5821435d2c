package authcore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zenithlabs/authcore/internal/audit"
	"github.com/zenithlabs/authcore/password"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memUserStore is a map-backed UserStore.
type memUserStore struct {
	mu      sync.Mutex
	nextID  int
	users   map[string]*UserRecord
	updates atomic.Int64
	failGet bool
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: map[string]*UserRecord{}}
}

func (s *memUserStore) CreateUser(_ context.Context, in CreateUserInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, in.Username) {
			return "", ErrUsernameTaken
		}
		if u.Email == in.Email {
			return "", ErrEmailTaken
		}
	}
	s.nextID++
	id := "u" + strconv.Itoa(s.nextID)
	changed := in.PasswordChangedAt
	s.users[id] = &UserRecord{
		ID:                 id,
		Username:           in.Username,
		Email:              in.Email,
		PasswordHash:       in.PasswordHash,
		Role:               in.Role,
		FullName:           in.FullName,
		MustChangePassword: in.MustChangePassword,
		PasswordExpiresAt:  in.PasswordExpiresAt,
		PasswordChangedAt:  &changed,
		IsActive:           true,
		CreatedAt:          in.CreatedAt,
	}
	return id, nil
}

func (s *memUserStore) find(match func(*UserRecord) bool) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failGet {
		return nil, errors.New("connection refused")
	}
	for _, u := range s.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *memUserStore) GetByUsername(_ context.Context, username string) (*UserRecord, error) {
	return s.find(func(u *UserRecord) bool { return strings.EqualFold(u.Username, username) })
}

func (s *memUserStore) GetByEmail(_ context.Context, email string) (*UserRecord, error) {
	return s.find(func(u *UserRecord) bool { return u.Email == email })
}

func (s *memUserStore) GetByID(_ context.Context, id string) (*UserRecord, error) {
	return s.find(func(u *UserRecord) bool { return u.ID == id })
}

func (s *memUserStore) Update(_ context.Context, id string, up UserUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	s.updates.Add(1)
	if up.PasswordHash != nil {
		u.PasswordHash = *up.PasswordHash
	}
	if up.FailedLoginAttempts != nil {
		u.FailedLoginAttempts = *up.FailedLoginAttempts
	}
	if up.LockedUntil != nil {
		t := *up.LockedUntil
		u.LockedUntil = &t
	}
	if up.ClearLockedUntil {
		u.LockedUntil = nil
	}
	if up.MustChangePassword != nil {
		u.MustChangePassword = *up.MustChangePassword
	}
	if up.PasswordExpiresAt != nil {
		t := *up.PasswordExpiresAt
		u.PasswordExpiresAt = &t
	}
	if up.ClearPasswordExpiry {
		u.PasswordExpiresAt = nil
	}
	if up.PasswordChangedAt != nil {
		t := *up.PasswordChangedAt
		u.PasswordChangedAt = &t
	}
	if up.LastLogin != nil {
		t := *up.LastLogin
		u.LastLogin = &t
	}
	if up.IsActive != nil {
		u.IsActive = *up.IsActive
	}
	return nil
}

func (s *memUserStore) ListUsers(_ context.Context, limit, offset int) ([]UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]UserRecord, 0, len(s.users))
	for i := 1; i <= s.nextID; i++ {
		if u, ok := s.users["u"+strconv.Itoa(i)]; ok {
			out = append(out, *u)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// put inserts a record verbatim, bypassing the engine.
func (s *memUserStore) put(u UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	if u.ID == "" {
		u.ID = "u" + strconv.Itoa(s.nextID)
	}
	s.users[u.ID] = &u
}

func (s *memUserStore) get(t *testing.T, id string) UserRecord {
	t.Helper()
	u, err := s.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return *u
}

// recordingStore adds the atomic LoginAttemptRecorder extension.
type recordingStore struct {
	*memUserStore
	calls atomic.Int64
}

func (s *recordingStore) RecordLoginAttempt(_ context.Context, userID string, success bool, _ string, next LockoutTransition, now time.Time) (UserRecord, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	state := next(LockoutState{FailedAttempts: u.FailedLoginAttempts, LockedUntil: u.LockedUntil})
	u.FailedLoginAttempts = state.FailedAttempts
	u.LockedUntil = state.LockedUntil
	if success {
		u.LastLogin = &now
	}
	return *u, nil
}

type failingSink struct {
	writes atomic.Int64
}

func (s *failingSink) Write(context.Context, AuditEvent) error {
	s.writes.Add(1)
	return errors.New("disk full")
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte(testSecret)
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.BcryptCost = bcrypt.MinCost
	cfg.Audit.DropIfFull = false
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

type testEnv struct {
	engine *Engine
	store  *memUserStore
	clock  *fakeClock
	sink   *audit.ChannelSink
}

func newTestEnv(t *testing.T, cfg Config, store UserStore) *testEnv {
	t.Helper()

	mem, _ := store.(*memUserStore)
	if rs, ok := store.(*recordingStore); ok {
		mem = rs.memUserStore
	}
	if store == nil {
		mem = newMemUserStore()
		store = mem
	}

	clock := newFakeClock()
	sink := audit.NewChannelSink(4096)
	engine, err := New().
		WithConfig(cfg).
		WithClock(clock.Now).
		WithUserStore(store).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, store: mem, clock: clock, sink: sink}
}

// drainAudit closes the engine and returns every audit event written.
func (env *testEnv) drainAudit() []AuditEvent {
	env.engine.Close()
	var out []AuditEvent
	for {
		select {
		case ev := <-env.sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (env *testEnv) register(t *testing.T, username, pw string) *UserRecord {
	t.Helper()
	u, err := env.engine.Register(context.Background(), RegisterRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: pw,
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return u
}

func ipCtx(ip string) context.Context {
	return WithClientIP(context.Background(), ip)
}

func hashWith(t *testing.T, pw string, alg password.Algorithm) string {
	t.Helper()
	cfg := testConfig()
	h, err := password.NewHasher(password.HasherConfig{Argon2: cfg.argon2Params(), BcryptCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	out, err := h.HashWith(pw, alg)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return out
}
