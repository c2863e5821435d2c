package authcore

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/zenithlabs/authcore/internal/rate"
	"github.com/zenithlabs/authcore/password"
	"github.com/zenithlabs/authcore/session"
	"go.uber.org/zap"
)

// Login authenticates identifier (username or email) and opens a session.
//
// The pipeline is: rate limit, user lookup, lockout, active flag,
// password verification, forced change, expiry, opportunistic rehash,
// success bookkeeping, session creation. Every terminal step emits
// exactly one audit event.
//
// Unknown users, wrong passwords and locked accounts are all reported
// through errors that PublicMessage renders identically; use errors.Is
// for the specific reason. On ErrMustChangePassword and
// ErrPasswordExpired the returned result carries the user id and no token.
func (e *Engine) Login(ctx context.Context, identifier, pw string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()
	}

	identifier = strings.TrimSpace(identifier)
	ip := clientIPFromContext(ctx)
	rateKey := e.rateIdentity(ctx, identifier)
	log := e.logger.With(zap.String("identifier", identifier), zap.String("ip", ip))

	// -------- RATE LIMIT --------
	decision, err := e.limiter.IsAllowed(ctx, rateKey, rate.ActionLogin)
	if err != nil {
		log.Error("login rate limiter unavailable", zap.Error(err))
		err = unavailable("rate limit check", err)
		e.metricInc(MetricStoreError)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", err, map[string]string{
			"identifier": identifier,
			"reason":     "rate_limiter_unavailable",
		})
		return nil, err
	}
	if !decision.Allowed {
		log.Warn("login rate limited", zap.Duration("retry_after", decision.RetryAfter))
		e.metricInc(MetricLoginRateLimited)
		rlErr := &RateLimitError{RetryAfter: decision.RetryAfter}
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", rlErr, map[string]string{
			"identifier":  identifier,
			"retry_after": strconv.Itoa(rlErr.RetryAfterSeconds()),
		})
		return nil, rlErr
	}

	// -------- USER LOOKUP --------
	var user *UserRecord
	if identifier != "" && pw != "" {
		user, err = e.lookupUser(ctx, identifier)
		if err != nil && !isNotFound(err) {
			log.Error("login user lookup failed", zap.Error(err))
			err = unavailable("user lookup", err)
			e.metricInc(MetricStoreError)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", err, map[string]string{
				"identifier": identifier,
				"reason":     "store_unavailable",
			})
			return nil, err
		}
	}
	if user == nil {
		e.equalizeTiming(pw)
		e.recordRateFailure(ctx, rateKey)
		log.Info("login failed: unknown user")
		return nil, e.loginRejected(ctx, "", identifier, "user_not_found", ErrInvalidCredentials, nil)
	}
	log = log.With(zap.String("user_id", user.ID))

	// -------- LOCKOUT --------
	now := e.now()
	if e.lockout.IsLocked(e.lockState(user), now) {
		e.equalizeTiming(pw)
		e.recordRateFailure(ctx, rateKey)
		log.Warn("login rejected: account locked", zap.Time("locked_until", *user.LockedUntil))
		e.metricInc(MetricLoginLocked)
		return nil, e.loginRejected(ctx, user.ID, identifier, "account_locked", &LockedError{Until: *user.LockedUntil}, nil)
	}

	// -------- ACTIVE --------
	if !user.IsActive {
		e.equalizeTiming(pw)
		e.recordRateFailure(ctx, rateKey)
		log.Warn("login rejected: account disabled")
		e.metricInc(MetricLoginDisabled)
		return nil, e.loginRejected(ctx, user.ID, identifier, "account_disabled", ErrAccountDisabled, nil)
	}

	// -------- VERIFY --------
	// From here on the outcome is recorded even if the caller goes away;
	// a cancelled request must still count against the lockout.
	ctx = context.WithoutCancel(ctx)

	scheme := password.Decode(user.PasswordHash)
	if scheme.Algorithm == password.AlgorithmLegacy {
		log.Warn("legacy untagged password hash")
	}
	if !e.hasher.VerifyScheme(pw, scheme) {
		e.recordRateFailure(ctx, rateKey)
		locked, err := e.recordLoginFailure(ctx, user)
		if err != nil {
			log.Error("recording failed login attempt", zap.Error(err))
			e.metricInc(MetricStoreError)
		}
		meta := map[string]string{}
		if locked {
			meta["locked"] = "true"
			e.metricInc(MetricAccountLocked)
			log.Warn("account locked after failed attempts", zap.Int("threshold", e.config.Lockout.Threshold))
		}
		log.Info("login failed: invalid password")
		return nil, e.loginRejected(ctx, user.ID, identifier, "invalid_password", ErrInvalidCredentials, meta)
	}

	// A correct password always resets the lockout counter, including on
	// the forced-change and expiry paths below.
	if err := e.recordLoginSuccess(ctx, user, now); err != nil {
		log.Error("recording successful login failed", zap.Error(err))
		e.metricInc(MetricStoreError)
	}

	partial := &LoginResult{UserID: user.ID, Username: user.Username, Role: user.Role}

	// -------- FORCED CHANGE + EXPIRY --------
	if user.MustChangePassword {
		log.Info("login requires password change")
		e.metricInc(MetricLoginMustChangePassword)
		return partial, e.loginRejected(ctx, user.ID, identifier, "must_change_password", ErrMustChangePassword, nil)
	}
	if user.PasswordExpiresAt != nil && !now.Before(*user.PasswordExpiresAt) {
		log.Info("login rejected: password expired")
		e.metricInc(MetricLoginPasswordExpired)
		return partial, e.loginRejected(ctx, user.ID, identifier, "password_expired", ErrPasswordExpired, nil)
	}

	// -------- REHASH --------
	rehashed := false
	if e.config.Password.UpgradeOnLogin && e.hasher.SchemeNeedsRehash(scheme) {
		rehashed = e.rehash(ctx, user, pw, scheme)
	}

	// -------- SUCCESS --------
	if err := e.limiter.Clear(ctx, rateKey, rate.ActionLogin); err != nil {
		log.Warn("clearing login rate limit failed", zap.Error(err))
	}

	token, sess, err := e.sessions.Create(session.CreateParams{
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		IPAddress: ip,
		UserAgent: userAgentFromContext(ctx),
	})
	if err != nil {
		log.Error("session creation failed", zap.Error(err))
		err = unavailable("session create", err)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, err, map[string]string{
			"identifier": identifier,
			"reason":     "session_create_failed",
		})
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	e.metricInc(MetricLoginSuccess)
	log.Info("login succeeded")
	meta := map[string]string{
		"identifier": identifier,
		"session_id": sess.ID,
	}
	if rehashed {
		meta["rehashed_from"] = scheme.Algorithm.String()
	}
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, nil, meta)

	return &LoginResult{
		Token:     token,
		Session:   sess,
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		ExpiresAt: sess.ExpiresAt,
		Rehashed:  rehashed,
	}, nil
}

func (e *Engine) loginRejected(ctx context.Context, userID, identifier, reason string, err error, extra map[string]string) error {
	e.metricInc(MetricLoginFailure)
	meta := map[string]string{
		"identifier": identifier,
		"reason":     reason,
	}
	for k, v := range extra {
		meta[k] = v
	}
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, err, meta)
	return err
}

func (e *Engine) equalizeTiming(pw string) {
	if e.config.Security.EqualizeLoginTiming {
		e.hasher.DummyVerify(pw)
	}
}

func (e *Engine) recordRateFailure(ctx context.Context, key string) {
	if err := e.limiter.RecordAttempt(ctx, key, rate.ActionLogin, false); err != nil {
		e.logger.Warn("recording login rate attempt failed", zap.Error(err))
	}
}

// recordLoginFailure applies one failed attempt to the account's lockout
// state and reports whether this attempt locked it.
func (e *Engine) recordLoginFailure(ctx context.Context, user *UserRecord) (bool, error) {
	now := e.now()
	if rec, ok := e.userStore.(LoginAttemptRecorder); ok {
		fail := func(s LockoutState) LockoutState {
			next, _ := e.lockout.Fail(s, now)
			return next
		}
		updated, err := rec.RecordLoginAttempt(ctx, user.ID, false, clientIPFromContext(ctx), fail, now)
		if err != nil {
			return false, err
		}
		return e.lockout.IsLocked(e.lockState(&updated), now), nil
	}

	unlock := e.userLocks.Lock(user.ID)
	defer unlock()

	current, err := e.userStore.GetByID(ctx, user.ID)
	if err != nil {
		return false, err
	}
	next, locked := e.lockout.Fail(e.lockState(current), now)
	if err := e.userStore.Update(ctx, user.ID, lockoutUpdate(next)); err != nil {
		return false, err
	}
	return locked, nil
}

func (e *Engine) recordLoginSuccess(ctx context.Context, user *UserRecord, now time.Time) error {
	if rec, ok := e.userStore.(LoginAttemptRecorder); ok {
		reset := func(LockoutState) LockoutState { return e.lockout.Reset() }
		_, err := rec.RecordLoginAttempt(ctx, user.ID, true, clientIPFromContext(ctx), reset, now)
		return err
	}

	unlock := e.userLocks.Lock(user.ID)
	defer unlock()

	update := lockoutUpdate(e.lockout.Reset())
	update.LastLogin = &now
	return e.userStore.Update(ctx, user.ID, update)
}

// rehash upgrades a legacy or weaker hash. Failures are logged and never
// fail the login.
func (e *Engine) rehash(ctx context.Context, user *UserRecord, pw string, old password.Scheme) bool {
	log := e.logger.With(zap.String("user_id", user.ID), zap.String("from", old.Algorithm.String()))

	upgraded, err := e.hasher.Hash(pw)
	if err != nil {
		log.Error("password rehash failed", zap.Error(err))
		return false
	}
	if err := e.userStore.Update(ctx, user.ID, UserUpdate{PasswordHash: &upgraded}); err != nil {
		log.Error("persisting rehashed password failed", zap.Error(err))
		e.metricInc(MetricStoreError)
		return false
	}

	log.Info("password hash upgraded")
	e.metricInc(MetricPasswordRehashed)
	return true
}
