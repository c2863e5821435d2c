package authcore

import (
	"context"
	"strconv"

	"github.com/zenithlabs/authcore/internal/rate"
	"github.com/zenithlabs/authcore/password"
	"go.uber.org/zap"
)

// ChangePassword verifies the current password, applies the policy and
// history checks, stores the new hash and revokes every session the user
// holds, forcing re-authentication everywhere.
//
// Policy failures return *PolicyError; a new password equal to the
// current one or to any remembered one returns ErrPasswordReuse. A wrong
// current password counts toward the login rate limit and the account
// lockout; a locked account returns *LockedError.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, next string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	log := e.logger.With(zap.String("user_id", userID))

	user, err := e.userStore.GetByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return e.passwordChangeRejected(ctx, userID, "user_not_found", ErrUserNotFound)
		}
		log.Error("password change lookup failed", zap.Error(err))
		e.metricInc(MetricStoreError)
		return e.passwordChangeRejected(ctx, userID, "store_unavailable", unavailable("user lookup", err))
	}

	if e.lockout.IsLocked(e.lockState(user), e.now()) {
		e.equalizeTiming(current)
		log.Warn("password change rejected: account locked", zap.Time("locked_until", *user.LockedUntil))
		e.metricInc(MetricLoginLocked)
		return e.passwordChangeRejected(ctx, userID, "account_locked", &LockedError{Until: *user.LockedUntil})
	}

	rateKey := e.rateIdentity(ctx, user.Username)
	decision, err := e.limiter.IsAllowed(ctx, rateKey, rate.ActionLogin)
	if err != nil {
		log.Error("password change rate limiter unavailable", zap.Error(err))
		e.metricInc(MetricStoreError)
		return e.passwordChangeRejected(ctx, userID, "rate_limiter_unavailable", unavailable("rate limit check", err))
	}
	if !decision.Allowed {
		log.Warn("password change rate limited", zap.Duration("retry_after", decision.RetryAfter))
		return e.passwordChangeRejected(ctx, userID, "rate_limited", &RateLimitError{RetryAfter: decision.RetryAfter})
	}

	if !e.hasher.Verify(current, user.PasswordHash) {
		// A wrong current password counts like a failed login.
		ctx = context.WithoutCancel(ctx)
		e.recordRateFailure(ctx, rateKey)
		locked, err := e.recordLoginFailure(ctx, user)
		if err != nil {
			log.Error("recording failed password check", zap.Error(err))
			e.metricInc(MetricStoreError)
		}
		if locked {
			e.metricInc(MetricAccountLocked)
			log.Warn("account locked after failed attempts", zap.Int("threshold", e.config.Lockout.Threshold))
		}
		log.Info("password change rejected: current password mismatch")
		e.metricInc(MetricPasswordChangeInvalidOld)
		return e.passwordChangeRejected(ctx, userID, "invalid_current_password", ErrInvalidCredentials)
	}

	if ok, violations := e.policy.Validate(next, user.Username); !ok {
		e.metricInc(MetricPasswordPolicyRejected)
		return e.passwordChangeRejected(ctx, userID, "password_policy", &PolicyError{Violations: violations})
	}

	reused := current == next
	if !reused {
		reused, err = e.history.IsReused(ctx, userID, next, e.hasher)
		if err != nil {
			log.Error("password history lookup failed", zap.Error(err))
			e.metricInc(MetricStoreError)
			return e.passwordChangeRejected(ctx, userID, "store_unavailable", unavailable("history lookup", err))
		}
	}
	if reused {
		e.metricInc(MetricPasswordChangeReuseRejected)
		return e.passwordChangeRejected(ctx, userID, "password_reuse", ErrPasswordReuse)
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		log.Error("password change hashing failed", zap.Error(err))
		return e.passwordChangeRejected(ctx, userID, "hashing_failed", err)
	}

	if err := e.applyNewPassword(ctx, userID, hash, false); err != nil {
		log.Error("persisting new password failed", zap.Error(err))
		e.metricInc(MetricStoreError)
		return e.passwordChangeRejected(ctx, userID, "store_unavailable", unavailable("update password", err))
	}

	revoked := e.sessions.InvalidateAllForUser(userID)
	e.metrics.Add(MetricSessionsRevokedAll, uint64(revoked))
	e.metricInc(MetricPasswordChangeSuccess)
	log.Info("password changed", zap.Int("sessions_revoked", revoked))
	e.emitAudit(ctx, auditEventPasswordChange, true, userID, nil, map[string]string{
		"sessions_revoked": strconv.Itoa(revoked),
	})
	return nil
}

// applyNewPassword persists hash with fresh change and expiry stamps and
// appends it to the history.
func (e *Engine) applyNewPassword(ctx context.Context, userID, hash string, mustChange bool) error {
	now := e.now()
	update := UserUpdate{
		PasswordHash:       &hash,
		PasswordChangedAt:  &now,
		MustChangePassword: &mustChange,
	}
	if exp := e.passwordExpiry(now); exp != nil {
		update.PasswordExpiresAt = exp
	} else {
		update.ClearPasswordExpiry = true
	}
	if err := e.userStore.Update(ctx, userID, update); err != nil {
		return err
	}
	if err := e.history.Record(ctx, userID, hash); err != nil {
		e.logger.Warn("recording password history failed", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

func (e *Engine) passwordChangeRejected(ctx context.Context, userID, reason string, err error) error {
	e.emitAudit(ctx, auditEventPasswordChange, false, userID, err, map[string]string{
		"reason": reason,
	})
	return err
}

// ValidatePassword runs the policy without side effects and returns every
// violated rule.
func (e *Engine) ValidatePassword(pw, username string) (bool, []string) {
	if e == nil || e.policy == nil {
		return false, nil
	}
	return e.policy.Validate(pw, username)
}

// PasswordComplexity returns the 0-5 complexity score of pw.
func (e *Engine) PasswordComplexity(pw string) int {
	if e == nil || e.policy == nil {
		return 0
	}
	return e.policy.ComplexityScore(pw)
}

// GeneratePassword returns a random policy-compliant password. A length
// of zero uses password.DefaultGeneratedLength.
func (e *Engine) GeneratePassword(length int) (string, error) {
	if e == nil || e.policy == nil {
		return "", ErrEngineNotReady
	}
	if length <= 0 {
		length = password.DefaultGeneratedLength
	}
	return e.policy.Generate(length, true)
}
