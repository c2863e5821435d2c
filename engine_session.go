package authcore

import (
	"context"
	"strconv"
	"time"

	"github.com/zenithlabs/authcore/session"
	"go.uber.org/zap"
)

// ValidateSession verifies token's signature and expiry and requires its
// session to still be present. Expired, tampered and revoked tokens all
// return ErrSessionInvalid; treat that as unauthenticated.
func (e *Engine) ValidateSession(ctx context.Context, token string) (*SessionClaims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	claims, ok := e.sessions.Validate(token)
	if !ok {
		e.metricInc(MetricSessionValidateFailure)
		return nil, ErrSessionInvalid
	}
	return claims, nil
}

// Logout removes the session behind token. An expired but authentic token
// still logs out. Returns false when the session was already gone.
func (e *Engine) Logout(ctx context.Context, token string) bool {
	if !e.ready() {
		return false
	}

	s, ok := e.sessions.Invalidate(token)
	if !ok {
		return false
	}

	e.metricInc(MetricSessionInvalidated)
	e.metricInc(MetricLogout)
	e.logger.Info("logout", zap.String("user_id", s.UserID))
	e.emitAudit(ctx, auditEventLogout, true, s.UserID, nil, map[string]string{
		"session_id": s.ID,
	})
	return true
}

// RefreshSession re-signs a valid session with a fresh expiry, keeping the
// session id. The old token stays valid until its own expiry.
func (e *Engine) RefreshSession(ctx context.Context, token string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}

	fresh, ok := e.sessions.Refresh(token, e.config.Session.TTL)
	if !ok {
		e.metricInc(MetricSessionValidateFailure)
		return "", ErrSessionInvalid
	}
	return fresh, nil
}

// InvalidateUserSessions revokes every session userID holds and returns
// how many were removed. Sessions of other users are untouched.
func (e *Engine) InvalidateUserSessions(ctx context.Context, userID string) int {
	if !e.ready() {
		return 0
	}

	n := e.sessions.InvalidateAllForUser(userID)
	e.metrics.Add(MetricSessionsRevokedAll, uint64(n))
	e.emitAudit(ctx, auditEventSessionsRevoked, true, userID, nil, map[string]string{
		"count": strconv.Itoa(n),
	})
	return n
}

// ActiveSessions lists the sessions userID currently holds.
func (e *Engine) ActiveSessions(userID string) []session.Session {
	if !e.ready() {
		return nil
	}
	return e.sessions.ForUser(userID)
}

// ActiveSessionCount returns the size of the session table.
func (e *Engine) ActiveSessionCount() int {
	if !e.ready() {
		return 0
	}
	return e.sessions.Count()
}

// CurrentUser resolves token to the stored user record.
func (e *Engine) CurrentUser(ctx context.Context, token string) (*UserRecord, error) {
	claims, err := e.ValidateSession(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := e.userStore.GetByID(ctx, claims.UID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrSessionInvalid
		}
		e.logger.Error("current user lookup failed", zap.String("user_id", claims.UID), zap.Error(err))
		e.metricInc(MetricStoreError)
		return nil, unavailable("user lookup", err)
	}
	return user, nil
}

// IsAdmin reports whether token belongs to a live session with the
// administrator role.
func (e *Engine) IsAdmin(ctx context.Context, token string) bool {
	claims, err := e.ValidateSession(ctx, token)
	if err != nil {
		return false
	}
	return claims.Role == e.config.Account.AdminRole
}
