package authcore

import (
	"context"
	"errors"
	"maps"

	"go.uber.org/zap"
)

const (
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventLoginRateLimited    = "login_rate_limited"
	auditEventLogout              = "logout"
	auditEventUserRegistered      = "user_registered"
	auditEventRegisterFailure     = "register_failure"
	auditEventRegisterRateLimited = "register_rate_limited"
	auditEventPasswordChange      = "password_change"
	auditEventAccountUnlocked     = "account_unlocked"
	auditEventAccountStatusChange = "account_status_change"
	auditEventAdminBootstrapped   = "admin_bootstrapped"
	auditEventSessionsRevoked     = "sessions_revoked"
)

// Audit error codes. These are stable identifiers, never raw error text.
const (
	auditErrInvalidCredentials = "invalid_credentials"
	auditErrAccountLocked      = "account_locked"
	auditErrAccountDisabled    = "account_disabled"
	auditErrRateLimited        = "rate_limited"
	auditErrMustChange         = "must_change_password"
	auditErrPasswordExpired    = "password_expired"
	auditErrPasswordPolicy     = "password_policy"
	auditErrPasswordReuse      = "password_reuse"
	auditErrDuplicate          = "duplicate"
	auditErrInvalidInput       = "invalid_input"
	auditErrHashing            = "hashing_failed"
	auditErrUnavailable        = "backend_unavailable"
	auditErrInternal           = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadata map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IPAddress: clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  maps.Clone(metadata),
	}
	if err != nil {
		event.ErrorMessage = auditErrorCode(err)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) onAuditWriteError(event AuditEvent, err error) {
	e.metricInc(MetricAuditWriteFailure)
	e.logger.Error("audit sink write failed",
		zap.String("event_type", event.EventType),
		zap.String("event_id", event.EventID),
		zap.Error(err),
	)
}

func (e *Engine) onAuditDrop(event AuditEvent) {
	e.metricInc(MetricAuditDropped)
	e.logger.Warn("audit event dropped, buffer full", zap.String("event_type", event.EventType))
}

func auditErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUserNotFound):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrMustChangePassword):
		return auditErrMustChange
	case errors.Is(err, ErrPasswordExpired):
		return auditErrPasswordExpired
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrUsernameTaken), errors.Is(err, ErrEmailTaken):
		return auditErrDuplicate
	case errors.Is(err, ErrInvalidUsername), errors.Is(err, ErrInvalidEmail):
		return auditErrInvalidInput
	case errors.Is(err, ErrHashing):
		return auditErrHashing
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

func isDuplicate(err error) bool {
	return errors.Is(err, ErrUsernameTaken) || errors.Is(err, ErrEmailTaken)
}
