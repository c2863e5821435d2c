package authcore

import (
	"context"
	"strconv"

	"github.com/zenithlabs/authcore/internal/rate"
	"github.com/zenithlabs/authcore/password"
	"go.uber.org/zap"
)

// Register creates an account after rate limiting, identity validation,
// uniqueness checks and the password policy. Policy failures return a
// *PolicyError listing every violated rule.
//
// Registration attempts are throttled per client IP and every attempt
// counts against the window, successful or not. Without a client IP in
// ctx no throttle applies.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*UserRecord, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	username := password.NormalizeUsername(req.Username)
	email := password.NormalizeEmail(req.Email)
	ip := clientIPFromContext(ctx)
	log := e.logger.With(zap.String("username", username), zap.String("ip", ip))

	if !e.config.Account.AllowRegistration {
		return nil, e.registerRejected(ctx, username, "disabled", ErrRegistrationDisabled)
	}

	// -------- RATE LIMIT --------
	if ip != "" {
		decision, err := e.limiter.IsAllowed(ctx, ip, rate.ActionRegister)
		if err != nil {
			log.Error("register rate limiter unavailable", zap.Error(err))
			e.metricInc(MetricStoreError)
			return nil, e.registerRejected(ctx, username, "rate_limiter_unavailable", unavailable("rate limit check", err))
		}
		if !decision.Allowed {
			log.Warn("registration rate limited", zap.Duration("retry_after", decision.RetryAfter))
			e.metricInc(MetricRegisterRateLimited)
			rlErr := &RateLimitError{RetryAfter: decision.RetryAfter}
			e.emitAudit(ctx, auditEventRegisterRateLimited, false, "", rlErr, map[string]string{
				"username":    username,
				"retry_after": strconv.Itoa(rlErr.RetryAfterSeconds()),
			})
			return nil, rlErr
		}
		if err := e.limiter.RecordAttempt(ctx, ip, rate.ActionRegister, false); err != nil {
			log.Warn("recording register rate attempt failed", zap.Error(err))
		}
	}

	// -------- INPUT --------
	if err := password.ValidateUsername(username); err != nil {
		return nil, e.registerRejected(ctx, username, "invalid_username", err)
	}
	if err := password.ValidateEmail(email); err != nil {
		return nil, e.registerRejected(ctx, username, "invalid_email", err)
	}
	role := req.Role
	if role == "" {
		role = e.config.Account.DefaultRole
	}
	if role == e.config.Account.AdminRole {
		return nil, e.registerRejected(ctx, username, "role_not_allowed", ErrRoleNotAllowed)
	}

	// -------- UNIQUENESS --------
	if _, err := e.userStore.GetByUsername(ctx, username); err == nil {
		e.metricInc(MetricRegisterDuplicate)
		return nil, e.registerRejected(ctx, username, "username_taken", ErrUsernameTaken)
	} else if !isNotFound(err) {
		log.Error("register username lookup failed", zap.Error(err))
		e.metricInc(MetricStoreError)
		return nil, e.registerRejected(ctx, username, "store_unavailable", unavailable("username lookup", err))
	}
	if _, err := e.userStore.GetByEmail(ctx, email); err == nil {
		e.metricInc(MetricRegisterDuplicate)
		return nil, e.registerRejected(ctx, username, "email_taken", ErrEmailTaken)
	} else if !isNotFound(err) {
		log.Error("register email lookup failed", zap.Error(err))
		e.metricInc(MetricStoreError)
		return nil, e.registerRejected(ctx, username, "store_unavailable", unavailable("email lookup", err))
	}

	// -------- POLICY + HASH --------
	if ok, violations := e.policy.Validate(req.Password, username); !ok {
		e.metricInc(MetricPasswordPolicyRejected)
		return nil, e.registerRejected(ctx, username, "password_policy", &PolicyError{Violations: violations})
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		log.Error("register password hashing failed", zap.Error(err))
		return nil, e.registerRejected(ctx, username, "hashing_failed", err)
	}

	// -------- PERSIST --------
	now := e.now()
	input := CreateUserInput{
		Username:          username,
		Email:             email,
		PasswordHash:      hash,
		Role:              role,
		FullName:          req.FullName,
		PasswordExpiresAt: e.passwordExpiry(now),
		PasswordChangedAt: now,
		CreatedAt:         now,
	}
	id, err := e.userStore.CreateUser(ctx, input)
	if err != nil {
		switch {
		case isDuplicate(err):
			e.metricInc(MetricRegisterDuplicate)
			return nil, e.registerRejected(ctx, username, "duplicate_on_write", err)
		default:
			log.Error("register create user failed", zap.Error(err))
			e.metricInc(MetricStoreError)
			return nil, e.registerRejected(ctx, username, "store_unavailable", unavailable("create user", err))
		}
	}

	if err := e.history.Record(ctx, id, hash); err != nil {
		log.Warn("recording initial password history failed", zap.String("user_id", id), zap.Error(err))
	}

	e.metricInc(MetricRegisterSuccess)
	log.Info("user registered", zap.String("user_id", id), zap.String("role", role))
	e.emitAudit(ctx, auditEventUserRegistered, true, id, nil, map[string]string{
		"username": username,
		"role":     role,
	})

	return &UserRecord{
		ID:                id,
		Username:          username,
		Email:             email,
		PasswordHash:      hash,
		Role:              role,
		FullName:          req.FullName,
		PasswordExpiresAt: input.PasswordExpiresAt,
		PasswordChangedAt: &input.PasswordChangedAt,
		IsActive:          true,
		CreatedAt:         now,
	}, nil
}

func (e *Engine) registerRejected(ctx context.Context, username, reason string, err error) error {
	e.metricInc(MetricRegisterFailure)
	e.emitAudit(ctx, auditEventRegisterFailure, false, "", err, map[string]string{
		"username": username,
		"reason":   reason,
	})
	return err
}
