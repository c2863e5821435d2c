package authcore

import (
	"context"
	"strings"
	"time"

	"github.com/zenithlabs/authcore/history"
	"github.com/zenithlabs/authcore/internal"
	"github.com/zenithlabs/authcore/internal/audit"
	"github.com/zenithlabs/authcore/internal/limiters"
	"github.com/zenithlabs/authcore/internal/rate"
	"github.com/zenithlabs/authcore/password"
	"github.com/zenithlabs/authcore/session"
	"go.uber.org/zap"
)

// Engine composes hashing, policy, history, rate limiting, lockout,
// sessions and audit into the register, login, change-password and
// logout workflows. It is the only component that talks to the UserStore.
//
// An Engine is safe for concurrent use. Build one with New().Build().
type Engine struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	userStore UserStore
	userLocks *internal.KeyedMutex

	hasher   *password.Hasher
	policy   *password.PolicyEngine
	history  *history.History
	limiter  *rate.Limiter
	lockout  *limiters.Lockout
	sessions *session.Manager
	audit    *audit.Dispatcher
	metrics  *Metrics

	stopJanitor context.CancelFunc
	janitorDone chan struct{}
}

// Close stops the session janitor and drains pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.stopJanitor != nil {
		e.stopJanitor()
		<-e.janitorDone
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// AuditDropped returns how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of every counter and histogram.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.userStore != nil && e.hasher != nil && e.sessions != nil
}

// CleanupExpired removes sessions idle longer than
// Session.InactivityRetention and returns how many were removed.
func (e *Engine) CleanupExpired() int {
	if !e.ready() {
		return 0
	}
	n := e.sessions.CleanupExpired()
	if n > 0 {
		e.metrics.Add(MetricSessionsCleaned, uint64(n))
		e.logger.Info("expired sessions cleaned", zap.Int("count", n))
	}
	return n
}

func (e *Engine) sweep() {
	e.CleanupExpired()
	if n := e.limiter.Sweep(); n > 0 {
		e.logger.Debug("idle rate limit keys pruned", zap.Int("count", n))
	}
}

func (e *Engine) lockState(u *UserRecord) limiters.LockState {
	return limiters.LockState{FailedAttempts: u.FailedLoginAttempts, LockedUntil: u.LockedUntil}
}

// lockoutUpdate is the store write that persists s.
func lockoutUpdate(s LockoutState) UserUpdate {
	update := UserUpdate{FailedLoginAttempts: &s.FailedAttempts}
	if s.LockedUntil == nil {
		update.ClearLockedUntil = true
	} else {
		update.LockedUntil = s.LockedUntil
	}
	return update
}

func (e *Engine) passwordExpiry(now time.Time) *time.Time {
	if e.config.Password.MaxAge <= 0 {
		return nil
	}
	t := now.Add(e.config.Password.MaxAge)
	return &t
}

// lookupUser resolves a login identifier by username first, then by
// lower-cased email.
func (e *Engine) lookupUser(ctx context.Context, identifier string) (*UserRecord, error) {
	user, err := e.userStore.GetByUsername(ctx, identifier)
	if err == nil {
		return user, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	if !strings.Contains(identifier, "@") {
		return nil, ErrUserNotFound
	}
	return e.userStore.GetByEmail(ctx, password.NormalizeEmail(identifier))
}

func (e *Engine) rateIdentity(ctx context.Context, fallback string) string {
	if ip := clientIPFromContext(ctx); ip != "" {
		return ip
	}
	return "id:" + strings.ToLower(fallback)
}
