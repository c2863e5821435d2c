package limiters

import (
	"errors"
	"time"
)

// LockoutConfig holds configuration for per-account lockout.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Duration  time.Duration
}

// Validate rejects thresholds or durations that would never lock or never
// unlock.
func (c LockoutConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Threshold < 1 {
		return errors.New("lockout threshold must be >= 1")
	}
	if c.Duration <= 0 {
		return errors.New("lockout duration must be > 0")
	}
	return nil
}

// LockState is the lockout-relevant slice of a credential record.
type LockState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// Lockout computes lockout transitions. The state itself lives in the
// user store; callers must apply Fail read-modify-write atomically per user.
type Lockout struct {
	config LockoutConfig
}

// NewLockout creates a lockout calculator.
func NewLockout(cfg LockoutConfig) *Lockout {
	return &Lockout{config: cfg}
}

// IsLocked reports whether s is inside an active lock window.
func (l *Lockout) IsLocked(s LockState, now time.Time) bool {
	if l == nil || !l.config.Enabled {
		return false
	}
	return s.LockedUntil != nil && s.LockedUntil.After(now)
}

// Fail increments the failure counter. When the counter reaches the
// threshold the returned state carries a lock ending at now+Duration and
// locked is true.
func (l *Lockout) Fail(s LockState, now time.Time) (next LockState, locked bool) {
	next = LockState{FailedAttempts: s.FailedAttempts + 1, LockedUntil: s.LockedUntil}
	if l == nil || !l.config.Enabled {
		return next, false
	}

	if next.FailedAttempts >= l.config.Threshold {
		until := now.Add(l.config.Duration)
		next.LockedUntil = &until
		return next, true
	}
	return next, false
}

// Reset returns the state after a successful login or administrative unlock.
func (l *Lockout) Reset() LockState {
	return LockState{}
}
