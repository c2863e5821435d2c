package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zenithlabs/authcore/password"
)

func TestRegisterSuccess(t *testing.T) {
	cfg := testConfig()
	cfg.Password.MaxAge = 24 * time.Hour
	env := newTestEnv(t, cfg, nil)

	u, err := env.engine.Register(ipCtx("10.1.0.1"), RegisterRequest{
		Username: "  alice ",
		Email:    " Alice@Example.COM",
		Password: alicePassword,
		FullName: "Alice Liddell",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	stored := env.store.get(t, u.ID)
	if stored.Username != "alice" || stored.Email != "alice@example.com" {
		t.Fatalf("identity not normalized: %q %q", stored.Username, stored.Email)
	}
	if stored.Role != RoleChatUser || !stored.IsActive || stored.MustChangePassword {
		t.Fatalf("unexpected defaults: %+v", stored)
	}
	if !strings.HasPrefix(stored.PasswordHash, password.TagArgon2id) {
		t.Fatalf("expected argon2id hash, got %q", stored.PasswordHash)
	}
	if stored.PasswordExpiresAt == nil || !stored.PasswordExpiresAt.Equal(env.clock.Now().Add(24*time.Hour)) {
		t.Fatalf("password expiry not set: %v", stored.PasswordExpiresAt)
	}

	events := env.drainAudit()
	if len(events) != 1 || events[0].EventType != auditEventUserRegistered || events[0].UserID != u.ID {
		t.Fatalf("unexpected audit trail %+v", events)
	}
}

func TestRegisterRejections(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.register(t, "alice", alicePassword)

	tests := []struct {
		name string
		req  RegisterRequest
		want error
	}{
		{"short username", RegisterRequest{Username: "al", Email: "al@example.com", Password: alicePassword}, ErrInvalidUsername},
		{"bad username chars", RegisterRequest{Username: "al ice", Email: "x@example.com", Password: alicePassword}, ErrInvalidUsername},
		{"bad email", RegisterRequest{Username: "carol", Email: "carol@", Password: alicePassword}, ErrInvalidEmail},
		{"duplicate username", RegisterRequest{Username: "ALICE", Email: "other@example.com", Password: alicePassword}, ErrUsernameTaken},
		{"duplicate email", RegisterRequest{Username: "alice2", Email: "ALICE@example.com", Password: alicePassword}, ErrEmailTaken},
		{"weak password", RegisterRequest{Username: "carol", Email: "carol@example.com", Password: "short"}, ErrPasswordPolicy},
		{"admin role", RegisterRequest{Username: "carol", Email: "carol@example.com", Password: alicePassword, Role: RoleAdministrator}, ErrRoleNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.Register(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRegisterPolicyErrorListsEveryViolation(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)

	_, err := env.engine.Register(context.Background(), RegisterRequest{
		Username: "carol",
		Email:    "carol@example.com",
		Password: "carol",
	})
	var pe *PolicyError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PolicyError, got %v", err)
	}
	want := []string{
		"Password must be at least 8 characters long",
		"Password must contain at least one uppercase letter",
		"Password must contain at least one number",
		"Password must contain at least 1 special characters",
		"Password complexity score (1) below minimum (3)",
		"Password must not contain username",
	}
	if len(pe.Violations) != len(want) {
		t.Fatalf("violations = %q, want %q", pe.Violations, want)
	}
	for i := range want {
		if pe.Violations[i] != want[i] {
			t.Fatalf("violation %d = %q, want %q", i, pe.Violations[i], want[i])
		}
	}
}

func TestRegisterDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Account.AllowRegistration = false
	env := newTestEnv(t, cfg, nil)

	_, err := env.engine.Register(context.Background(), RegisterRequest{Username: "alice", Email: "alice@example.com", Password: alicePassword})
	if !errors.Is(err, ErrRegistrationDisabled) {
		t.Fatalf("expected ErrRegistrationDisabled, got %v", err)
	}
}

func TestRegisterRateLimitCountsEveryAttempt(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	ctx := ipCtx("10.1.0.2")

	users := []string{"alice", "bobby", "carol"}
	for _, name := range users {
		if _, err := env.engine.Register(ctx, RegisterRequest{Username: name, Email: name + "@example.com", Password: alicePassword}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	_, err := env.engine.Register(ctx, RegisterRequest{Username: "dave1", Email: "dave@example.com", Password: alicePassword})
	var rl *RateLimitError
	if !errors.As(err, &rl) || rl.RetryAfter != 30*time.Minute {
		t.Fatalf("expected 30m retry, got %v", err)
	}

	env.clock.Advance(30 * time.Minute)
	if _, err := env.engine.Register(ctx, RegisterRequest{Username: "dave1", Email: "dave@example.com", Password: alicePassword}); err != nil {
		t.Fatalf("after window: %v", err)
	}
}

func TestRegisterRecordsInitialHistory(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	u := env.register(t, "alice", alicePassword)

	reused, err := env.engine.history.IsReused(context.Background(), u.ID, alicePassword, env.engine.hasher)
	if err != nil || !reused {
		t.Fatalf("expected initial password in history, reused=%v err=%v", reused, err)
	}
}
