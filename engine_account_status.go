package authcore

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// UnlockAccount clears an account lockout: failed_login_attempts goes to
// zero and locked_until is cleared.
func (e *Engine) UnlockAccount(ctx context.Context, userID string) error {
	err := e.unlockAccount(ctx, userID)
	if err == nil {
		e.metricInc(MetricAccountUnlocked)
		e.logger.Info("account unlocked", zap.String("user_id", userID))
	}
	e.emitAudit(ctx, auditEventAccountUnlocked, err == nil, userID, err, nil)
	return err
}

// DisableAccount marks the account inactive and revokes its sessions.
func (e *Engine) DisableAccount(ctx context.Context, userID string) error {
	err := e.setActiveAndInvalidate(ctx, userID, false)
	e.emitAudit(ctx, auditEventAccountStatusChange, err == nil, userID, err, map[string]string{
		"action": "disable",
	})
	return err
}

// EnableAccount marks the account active.
func (e *Engine) EnableAccount(ctx context.Context, userID string) error {
	err := e.setActiveAndInvalidate(ctx, userID, true)
	e.emitAudit(ctx, auditEventAccountStatusChange, err == nil, userID, err, map[string]string{
		"action": "enable",
	})
	return err
}

func (e *Engine) unlockAccount(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrUserNotFound
	}

	unlock := e.userLocks.Lock(userID)
	defer unlock()

	if _, err := e.userStore.GetByID(ctx, userID); err != nil {
		return storeErr("user lookup", err)
	}

	if err := e.userStore.Update(ctx, userID, lockoutUpdate(e.lockout.Reset())); err != nil {
		return storeErr("unlock", err)
	}
	return nil
}

func (e *Engine) setActiveAndInvalidate(ctx context.Context, userID string, active bool) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrUserNotFound
	}

	current, err := e.userStore.GetByID(ctx, userID)
	if err != nil {
		return storeErr("user lookup", err)
	}
	if current.IsActive == active {
		return nil
	}

	if err := e.userStore.Update(ctx, userID, UserUpdate{IsActive: &active}); err != nil {
		return storeErr("update status", err)
	}

	if !active {
		n := e.sessions.InvalidateAllForUser(userID)
		e.metrics.Add(MetricSessionsRevokedAll, uint64(n))
	}
	return nil
}

// storeErr keeps ErrUserNotFound and wraps everything else as ErrUnavailable.
func storeErr(op string, err error) error {
	if errors.Is(err, ErrUserNotFound) {
		return ErrUserNotFound
	}
	return unavailable(op, err)
}
