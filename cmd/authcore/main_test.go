package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zenithlabs/authcore"
	"github.com/zenithlabs/authcore/store/sqlite"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("AUTHCORE_JWT_PRIVATE_KEY", "cli-test-secret-0123456789abcdef")
	t.Setenv("AUTHCORE_PASSWORD_MEMORY", "8192")
	t.Setenv("AUTHCORE_PASSWORD_TIME", "1")
	return filepath.Join(t.TempDir(), "authcore.db")
}

func run(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(newApp(&out))
	cmd.SetArgs(append([]string{"--db", db, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func openStore(t *testing.T, db string) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestBootstrapAdminOnce(t *testing.T) {
	db := setupEnv(t)

	out, err := run(t, db, "bootstrap-admin")
	require.NoError(t, err)
	assert.Contains(t, out, `created administrator "admin"`)

	var generated string
	for _, line := range strings.Split(out, "\n") {
		if p, ok := strings.CutPrefix(line, "password: "); ok {
			generated = p
		}
	}
	require.NotEmpty(t, generated)

	out, err = run(t, db, "bootstrap-admin")
	require.NoError(t, err)
	assert.Equal(t, "administrator already exists\n", out)

	out, err = run(t, db, "check-password", generated, "--username", "admin")
	require.NoError(t, err)
	assert.Contains(t, out, "ok")

	u, err := openStore(t, db).GetByUsername(context.Background(), "admin")
	require.NoError(t, err)
	assert.True(t, u.MustChangePassword)
	assert.Equal(t, authcore.RoleAdministrator, u.Role)
}

func TestDisableEnableAndList(t *testing.T) {
	db := setupEnv(t)
	_, err := run(t, db, "bootstrap-admin")
	require.NoError(t, err)

	out, err := run(t, db, "disable", "admin")
	require.NoError(t, err)
	assert.Equal(t, "disabled admin\n", out)

	st := openStore(t, db)
	u, err := st.GetByUsername(context.Background(), "admin")
	require.NoError(t, err)
	assert.False(t, u.IsActive)
	require.NoError(t, st.Close())

	out, err = run(t, db, "enable", u.ID)
	require.NoError(t, err)
	assert.Equal(t, "enabled "+u.ID+"\n", out)

	out, err = run(t, db, "list-users")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "USERNAME")
	assert.Contains(t, lines[1], "admin@zenith.local")
	assert.Contains(t, lines[1], "true")
}

func TestUnlockClearsLockoutAndIsAudited(t *testing.T) {
	db := setupEnv(t)
	_, err := run(t, db, "bootstrap-admin")
	require.NoError(t, err)

	st := openStore(t, db)
	ctx := context.Background()
	u, err := st.GetByUsername(ctx, "admin")
	require.NoError(t, err)
	attempts := 5
	until := time.Now().Add(time.Hour)
	require.NoError(t, st.Update(ctx, u.ID, authcore.UserUpdate{
		FailedLoginAttempts: &attempts,
		LockedUntil:         &until,
	}))
	require.NoError(t, st.Close())

	out, err := run(t, db, "unlock", "ADMIN@zenith.local")
	require.NoError(t, err)
	assert.Equal(t, "unlocked ADMIN@zenith.local\n", out)

	st = openStore(t, db)
	u, err = st.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, u.FailedLoginAttempts)
	assert.Nil(t, u.LockedUntil)
	require.NoError(t, st.Close())

	out, err = run(t, db, "audit", "--type", "account_unlocked", "--user", "admin")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "account_unlocked")
	assert.Contains(t, lines[1], u.ID)
}

func TestUnlockUnknownUser(t *testing.T) {
	db := setupEnv(t)
	_, err := run(t, db, "unlock", "ghost")
	assert.ErrorIs(t, err, authcore.ErrUserNotFound)
}

func TestGenPasswordOutputsCompliantPasswords(t *testing.T) {
	db := setupEnv(t)

	out, err := run(t, db, "gen-password", "--count", "3", "--length", "20")
	require.NoError(t, err)
	passwords := strings.Fields(out)
	require.Len(t, passwords, 3)
	for _, pw := range passwords {
		assert.Len(t, pw, 20)
		_, err := run(t, db, "check-password", pw)
		assert.NoError(t, err, pw)
	}
}

func TestCheckPasswordReportsViolations(t *testing.T) {
	db := setupEnv(t)

	out, err := run(t, db, "check-password", "carol")
	require.Error(t, err)
	assert.Contains(t, out, "- Password must be at least")
	assert.Contains(t, err.Error(), "rule(s)")
}

func TestMissingSigningKeyFails(t *testing.T) {
	db := filepath.Join(t.TempDir(), "authcore.db")
	t.Setenv("AUTHCORE_JWT_PRIVATE_KEY", "")

	_, err := run(t, db, "list-users")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PrivateKey")
}

func TestLoadtestSmall(t *testing.T) {
	for _, backend := range []string{"memory", "redis"} {
		t.Run(backend, func(t *testing.T) {
			t.Setenv("REDIS_ADDR", "")
			out, err := run(t, "unused.db", "loadtest",
				"--sessions", "4", "--concurrency", "2", "--ops", "20", "--rate-backend", backend)
			require.NoError(t, err)
			assert.Contains(t, out, "seeding 4 sessions")
			assert.Contains(t, out, "validate: ops=20 failures=0")
			assert.Contains(t, out, "refresh: ops=20 failures=0")
			if backend == "redis" {
				assert.Contains(t, out, "using miniredis at")
			}
		})
	}
}

func TestPercentile(t *testing.T) {
	samples := make([]time.Duration, 100)
	for i := range samples {
		samples[i] = time.Duration(i+1) * time.Millisecond
	}

	assert.Equal(t, time.Millisecond, percentile(samples, 0))
	assert.Equal(t, 50*time.Millisecond, percentile(samples, 50))
	assert.Equal(t, 99*time.Millisecond, percentile(samples, 99))
	assert.Equal(t, 100*time.Millisecond, percentile(samples, 100))
	assert.Zero(t, percentile(nil, 50))

	s := computeStats(time.Second, []time.Duration{3, 1, 2}, 1)
	assert.Equal(t, 3, s.ops)
	assert.Equal(t, int64(1), s.failures)
	assert.Equal(t, time.Duration(2), s.p50)
	assert.InDelta(t, 3.0, s.opsPerS, 0.001)
}
