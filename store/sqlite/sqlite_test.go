package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zenithlabs/authcore"
	"github.com/zenithlabs/authcore/history"
	"github.com/zenithlabs/authcore/internal/limiters"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createAlice(t *testing.T, s *Store) string {
	t.Helper()
	expires := t0.Add(90 * 24 * time.Hour)
	id, err := s.CreateUser(context.Background(), authcore.CreateUserInput{
		Username:          "alice",
		Email:             "alice@example.com",
		PasswordHash:      "argon2id:$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		Role:              authcore.RoleChatUser,
		FullName:          "Alice Liddell",
		PasswordExpiresAt: &expires,
		PasswordChangedAt: t0,
		CreatedAt:         t0,
	})
	require.NoError(t, err)
	return id
}

func TestCreateAndGetUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createAlice(t, s)

	byName, err := s.GetByUsername(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)
	assert.Equal(t, "alice", byName.Username)
	assert.Equal(t, authcore.RoleChatUser, byName.Role)
	assert.True(t, byName.IsActive)
	assert.False(t, byName.MustChangePassword)
	assert.True(t, byName.CreatedAt.Equal(t0))
	require.NotNil(t, byName.PasswordExpiresAt)
	assert.True(t, byName.PasswordExpiresAt.Equal(t0.Add(90*24*time.Hour)))
	assert.Nil(t, byName.LockedUntil)
	assert.Nil(t, byName.LastLogin)

	byEmail, err := s.GetByEmail(ctx, "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, id, byEmail.ID)

	byID, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", byID.FullName)
}

func TestCreateUserDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createAlice(t, s)

	_, err := s.CreateUser(ctx, authcore.CreateUserInput{
		Username: "Alice", Email: "other@example.com", PasswordHash: "x", Role: authcore.RoleChatUser, CreatedAt: t0,
	})
	assert.ErrorIs(t, err, authcore.ErrUsernameTaken)

	_, err = s.CreateUser(ctx, authcore.CreateUserInput{
		Username: "alice2", Email: "alice@example.com", PasswordHash: "x", Role: authcore.RoleChatUser, CreatedAt: t0,
	})
	assert.ErrorIs(t, err, authcore.ErrEmailTaken)
}

func TestGetMissingUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, authcore.ErrUserNotFound)
	_, err = s.GetByUsername(ctx, "nope")
	assert.ErrorIs(t, err, authcore.ErrUserNotFound)
	assert.ErrorIs(t, s.Update(ctx, "nope", authcore.UserUpdate{ClearLockedUntil: true}), authcore.ErrUserNotFound)
}

func TestUpdateAppliesOnlySetFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createAlice(t, s)

	attempts := 4
	until := t0.Add(30 * time.Minute)
	active := false
	require.NoError(t, s.Update(ctx, id, authcore.UserUpdate{
		FailedLoginAttempts: &attempts,
		LockedUntil:         &until,
		IsActive:            &active,
		ClearPasswordExpiry: true,
	}))

	u, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, u.FailedLoginAttempts)
	require.NotNil(t, u.LockedUntil)
	assert.True(t, u.LockedUntil.Equal(until))
	assert.False(t, u.IsActive)
	assert.Nil(t, u.PasswordExpiresAt)
	assert.Equal(t, "Alice Liddell", u.FullName)

	require.NoError(t, s.Update(ctx, id, authcore.UserUpdate{ClearLockedUntil: true}))
	u, err = s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, u.LockedUntil)
	assert.Equal(t, 4, u.FailedLoginAttempts)
}

func TestListUsersPages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, name := range []string{"alice", "bobby", "carol"} {
		_, err := s.CreateUser(ctx, authcore.CreateUserInput{
			Username: name, Email: name + "@example.com", PasswordHash: "x",
			Role: authcore.RoleChatUser, CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	first, err := s.ListUsers(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "alice", first[0].Username)

	rest, err := s.ListUsers(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "carol", rest[0].Username)
}

func failTransition(l *limiters.Lockout, now time.Time) authcore.LockoutTransition {
	return func(s authcore.LockoutState) authcore.LockoutState {
		next, _ := l.Fail(s, now)
		return next
	}
}

func TestRecordLoginAttemptLocksAndResets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createAlice(t, s)
	lockout := limiters.NewLockout(limiters.LockoutConfig{Enabled: true, Threshold: 3, Duration: 30 * time.Minute})
	fail := failTransition(lockout, t0)
	reset := func(authcore.LockoutState) authcore.LockoutState { return lockout.Reset() }

	for i := 1; i <= 3; i++ {
		u, err := s.RecordLoginAttempt(ctx, id, false, "10.0.0.1", fail, t0)
		require.NoError(t, err)
		assert.Equal(t, i, u.FailedLoginAttempts)
		if i < 3 {
			assert.Nil(t, u.LockedUntil)
		}
	}

	locked, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, locked.LockedUntil)
	assert.True(t, locked.LockedUntil.Equal(t0.Add(30*time.Minute)))

	later := t0.Add(time.Hour)
	u, err := s.RecordLoginAttempt(ctx, id, true, "10.0.0.2", reset, later)
	require.NoError(t, err)
	assert.Zero(t, u.FailedLoginAttempts)
	assert.Nil(t, u.LockedUntil)
	require.NotNil(t, u.LastLogin)
	assert.True(t, u.LastLogin.Equal(later))

	attempts, err := s.RecentLoginAttempts(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, attempts, 4)
	assert.True(t, attempts[0].Success)
	assert.Equal(t, "10.0.0.2", attempts[0].IPAddress)
	assert.False(t, attempts[3].Success)

	_, err = s.RecordLoginAttempt(ctx, "nope", false, "", fail, t0)
	assert.ErrorIs(t, err, authcore.ErrUserNotFound)
}

func TestRecordLoginAttemptConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createAlice(t, s)
	fail := failTransition(limiters.NewLockout(limiters.LockoutConfig{Enabled: true, Threshold: 1000, Duration: time.Minute}), t0)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := s.RecordLoginAttempt(ctx, id, false, "", fail, t0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	u, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, n, u.FailedLoginAttempts)
}

func TestHistoryAppendTrimsOldest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createAlice(t, s)

	for i, h := range []string{"h1", "h2", "h3", "h4", "h5"} {
		require.NoError(t, s.Append(ctx, id, history.Entry{Hash: h, CreatedAt: t0.Add(time.Duration(i) * time.Hour)}, 3))
	}

	entries, err := s.List(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "h5", entries[0].Hash)
	assert.Equal(t, "h3", entries[2].Hash)
	assert.True(t, entries[0].CreatedAt.Equal(t0.Add(4*time.Hour)))
}

func TestAuditWriteAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, authcore.AuditEvent{
		Timestamp: t0, EventType: "login_failure", UserID: "u1", IPAddress: "10.0.0.1",
		ErrorMessage: "invalid_credentials", Metadata: map[string]string{"reason": "invalid_credentials"},
	}))
	require.NoError(t, s.Write(ctx, authcore.AuditEvent{
		Timestamp: t0.Add(time.Second), EventType: "login_success", UserID: "u1", Success: true,
	}))
	require.NoError(t, s.Write(ctx, authcore.AuditEvent{Timestamp: t0, EventType: "logout", UserID: "u2", Success: true}))

	events, err := s.ListAuditEvents(ctx, AuditQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "login_success", events[0].EventType)
	assert.True(t, events[0].Success)
	assert.NotEmpty(t, events[0].EventID)
	assert.Equal(t, "invalid_credentials", events[1].Metadata["reason"])

	failures, err := s.ListAuditEvents(ctx, AuditQuery{EventType: "login_failure"})
	require.NoError(t, err)
	require.Len(t, failures, 1)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.db")
	s, err := Open(path)
	require.NoError(t, err)
	createAlice(t, s)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
}
