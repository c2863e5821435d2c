package rate

import (
	"context"
	"math"
	"time"
)

// Actions with built-in rules.
const (
	ActionLogin    = "login"
	ActionRegister = "register"
)

// Rule is the budget for one action.
type Rule struct {
	MaxAttempts int
	Window      time.Duration
}

// DefaultRules returns 5 logins per 15 minutes and 3 registrations per
// 30 minutes.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		ActionLogin:    {MaxAttempts: 5, Window: 15 * time.Minute},
		ActionRegister: {MaxAttempts: 3, Window: 30 * time.Minute},
	}
}

// Decision is the outcome of a check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up so a blocked caller is never told
// to retry in zero seconds while still blocked.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// Backend stores attempt timestamps. Implementations must linearize
// operations on the same key without serializing different keys.
type Backend interface {
	Check(ctx context.Context, key string, rule Rule, now time.Time) (Decision, error)
	Record(ctx context.Context, key string, rule Rule, now time.Time) error
	Clear(ctx context.Context, key string) error
}

// Sweeper is implemented by backends that need periodic removal of idle keys.
type Sweeper interface {
	Sweep(now time.Time, maxWindow time.Duration) int
}

// Limiter applies per-action rules over a Backend.
type Limiter struct {
	backend Backend
	rules   map[string]Rule
	now     func() time.Time
}

// New creates a Limiter. A nil now defaults to time.Now; a nil rules map
// uses DefaultRules.
func New(backend Backend, rules map[string]Rule, now func() time.Time) *Limiter {
	if rules == nil {
		rules = DefaultRules()
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{backend: backend, rules: rules, now: now}
}

// Key builds the backend key for an identifier and action.
func Key(identifier, action string) string {
	return identifier + ":" + action
}

// IsAllowed reports whether another attempt is within budget. Actions with
// no rule are always allowed.
func (l *Limiter) IsAllowed(ctx context.Context, identifier, action string) (Decision, error) {
	rule, ok := l.rules[action]
	if !ok || rule.MaxAttempts <= 0 {
		return Decision{Allowed: true}, nil
	}
	return l.backend.Check(ctx, Key(identifier, action), rule, l.now())
}

// RecordAttempt appends a failed attempt, or clears the key on success.
func (l *Limiter) RecordAttempt(ctx context.Context, identifier, action string, success bool) error {
	if success {
		return l.Clear(ctx, identifier, action)
	}

	rule, ok := l.rules[action]
	if !ok || rule.MaxAttempts <= 0 {
		return nil
	}
	return l.backend.Record(ctx, Key(identifier, action), rule, l.now())
}

// Clear drops every recorded attempt for the key.
func (l *Limiter) Clear(ctx context.Context, identifier, action string) error {
	return l.backend.Clear(ctx, Key(identifier, action))
}

// Sweep removes idle keys from backends that keep them in process memory.
func (l *Limiter) Sweep() int {
	s, ok := l.backend.(Sweeper)
	if !ok {
		return 0
	}

	var window time.Duration
	for _, r := range l.rules {
		window = max(window, r.Window)
	}
	return s.Sweep(l.now(), window)
}

func decide(count int, earliest time.Time, rule Rule, now time.Time) Decision {
	if count < rule.MaxAttempts {
		return Decision{Allowed: true}
	}
	retry := rule.Window - now.Sub(earliest)
	if retry < 0 {
		retry = 0
	}
	return Decision{Allowed: false, RetryAfter: retry}
}
