package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLogoutIsIdempotent(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	u := env.register(t, "alice", alicePassword)
	ctx := ipCtx("10.3.0.1")

	res, err := env.engine.Login(ctx, "alice", alicePassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if !env.engine.Logout(ctx, res.Token) {
		t.Fatal("first logout should remove the session")
	}
	if env.engine.Logout(ctx, res.Token) {
		t.Fatal("second logout should report nothing removed")
	}
	if _, err := env.engine.ValidateSession(ctx, res.Token); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("token valid after logout: %v", err)
	}

	events := env.drainAudit()
	var logouts int
	for _, ev := range events {
		if ev.EventType == auditEventLogout {
			logouts++
			if ev.UserID != u.ID || ev.Metadata["session_id"] != res.Session.ID {
				t.Fatalf("unexpected logout event %+v", ev)
			}
		}
	}
	if logouts != 1 {
		t.Fatalf("expected exactly one logout event, got %d", logouts)
	}
}

func TestSessionExpiresAfterTTL(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.register(t, "alice", alicePassword)
	ctx := context.Background()

	res, err := env.engine.Login(ctx, "alice", alicePassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	env.clock.Advance(23 * time.Hour)
	if _, err := env.engine.ValidateSession(ctx, res.Token); err != nil {
		t.Fatalf("session should still be valid: %v", err)
	}

	env.clock.Advance(2 * time.Hour)
	if _, err := env.engine.ValidateSession(ctx, res.Token); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected expiry after 25h, got %v", err)
	}
	if !env.engine.Logout(ctx, res.Token) {
		t.Fatal("expired but authentic token should still log out")
	}
}

func TestCleanupExpiredUsesInactivity(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.register(t, "alice", alicePassword)
	ctx := context.Background()

	if _, err := env.engine.Login(ctx, "alice", alicePassword); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(6 * 24 * time.Hour)
	if _, err := env.engine.Login(ctx, "alice", alicePassword); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(2 * 24 * time.Hour)

	if n := env.engine.CleanupExpired(); n != 1 {
		t.Fatalf("expected 1 idle session removed, got %d", n)
	}
	if n := env.engine.ActiveSessionCount(); n != 1 {
		t.Fatalf("expected 1 session left, got %d", n)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricSessionsCleaned]; got != 1 {
		t.Fatalf("sessions cleaned metric = %d", got)
	}
}

func TestRefreshSessionExtendsExpiry(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.register(t, "alice", alicePassword)
	ctx := context.Background()

	res, err := env.engine.Login(ctx, "alice", alicePassword)
	if err != nil {
		t.Fatal(err)
	}

	env.clock.Advance(12 * time.Hour)
	fresh, err := env.engine.RefreshSession(ctx, res.Token)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	env.clock.Advance(13 * time.Hour)
	if _, err := env.engine.ValidateSession(ctx, res.Token); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("old token should have expired: %v", err)
	}
	claims, err := env.engine.ValidateSession(ctx, fresh)
	if err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}
	if claims.SID != res.Session.ID {
		t.Fatalf("refresh changed session id: %s != %s", claims.SID, res.Session.ID)
	}

	if _, err := env.engine.RefreshSession(ctx, "not-a-token"); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("garbage refresh: %v", err)
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.register(t, "alice", alicePassword)
	ctx := context.Background()

	res, err := env.engine.Login(ctx, "alice", alicePassword)
	if err != nil {
		t.Fatal(err)
	}

	tampered := res.Token[:len(res.Token)-2] + "xx"
	if tampered == res.Token {
		tampered = res.Token[:len(res.Token)-2] + "yy"
	}
	if _, err := env.engine.ValidateSession(ctx, tampered); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("tampered token accepted: %v", err)
	}
	if env.engine.Logout(ctx, tampered) {
		t.Fatal("tampered token must not log out")
	}
}

func TestCurrentUserAndAdminCheck(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	u := env.register(t, "alice", alicePassword)
	ctx := context.Background()

	res, err := env.engine.Login(ctx, "alice", alicePassword)
	if err != nil {
		t.Fatal(err)
	}

	current, err := env.engine.CurrentUser(ctx, res.Token)
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if current.ID != u.ID || current.Username != "alice" {
		t.Fatalf("unexpected user %+v", current)
	}
	if env.engine.IsAdmin(ctx, res.Token) {
		t.Fatal("chat user reported as admin")
	}
	if env.engine.IsAdmin(ctx, "") {
		t.Fatal("empty token reported as admin")
	}
}

func TestInvalidateUserSessions(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	alice := env.register(t, "alice", alicePassword)
	bob := env.register(t, "bobby", "Zebra#Mango7")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := env.engine.Login(ctx, "alice", alicePassword); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := env.engine.Login(ctx, "bobby", "Zebra#Mango7"); err != nil {
		t.Fatal(err)
	}

	if got := len(env.engine.ActiveSessions(alice.ID)); got != 3 {
		t.Fatalf("alice sessions = %d", got)
	}
	if n := env.engine.InvalidateUserSessions(ctx, alice.ID); n != 3 {
		t.Fatalf("revoked %d sessions, want 3", n)
	}
	if got := len(env.engine.ActiveSessions(alice.ID)); got != 0 {
		t.Fatalf("alice sessions after revoke = %d", got)
	}
	if got := len(env.engine.ActiveSessions(bob.ID)); got != 1 {
		t.Fatalf("bob sessions = %d", got)
	}
}

func TestNilEngineIsNotReady(t *testing.T) {
	var e *Engine
	if _, err := e.Login(context.Background(), "alice", alicePassword); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("login on nil engine: %v", err)
	}
	if _, err := e.ValidateSession(context.Background(), "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("validate on nil engine: %v", err)
	}
	if e.Logout(context.Background(), "x") {
		t.Fatal("logout on nil engine")
	}
	e.Close()
}
