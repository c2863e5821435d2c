package authcore

import (
	"context"

	"github.com/zenithlabs/authcore/password"
	"go.uber.org/zap"
)

const adminScanPageSize = 100

// EnsureAdmin creates the bootstrap administrator when no user holds
// Account.AdminRole. The generated password is returned exactly once and
// the account must change it on first login. created is false when an
// administrator already exists.
func (e *Engine) EnsureAdmin(ctx context.Context) (generated string, created bool, err error) {
	if !e.ready() {
		return "", false, ErrEngineNotReady
	}

	exists, err := e.adminExists(ctx)
	if err != nil {
		e.metricInc(MetricStoreError)
		return "", false, unavailable("list users", err)
	}
	if exists {
		return "", false, nil
	}

	generated, err = e.GeneratePassword(0)
	if err != nil {
		return "", false, err
	}
	hash, err := e.hasher.Hash(generated)
	if err != nil {
		return "", false, err
	}

	now := e.now()
	acct := e.config.Account
	id, err := e.userStore.CreateUser(ctx, CreateUserInput{
		Username:           acct.AdminUsername,
		Email:              acct.AdminEmail,
		PasswordHash:       hash,
		Role:               acct.AdminRole,
		FullName:           "System Administrator",
		MustChangePassword: true,
		PasswordExpiresAt:  e.passwordExpiry(now),
		PasswordChangedAt:  now,
		CreatedAt:          now,
	})
	if err != nil {
		if isDuplicate(err) {
			return "", false, err
		}
		e.metricInc(MetricStoreError)
		return "", false, unavailable("create admin", err)
	}

	if err := e.history.Record(ctx, id, hash); err != nil {
		e.logger.Warn("recording admin password history failed", zap.Error(err))
	}

	e.logger.Warn("bootstrap administrator created, password must be changed on first login",
		zap.String("user_id", id),
		zap.String("username", acct.AdminUsername),
	)
	e.emitAudit(ctx, auditEventAdminBootstrapped, true, id, nil, map[string]string{
		"username": acct.AdminUsername,
	})
	return generated, true, nil
}

func (e *Engine) adminExists(ctx context.Context) (bool, error) {
	for offset := 0; ; offset += adminScanPageSize {
		users, err := e.userStore.ListUsers(ctx, adminScanPageSize, offset)
		if err != nil {
			return false, err
		}
		for _, u := range users {
			if u.Role == e.config.Account.AdminRole {
				return true, nil
			}
		}
		if len(users) < adminScanPageSize {
			return false, nil
		}
	}
}

// ListUsers pages through the user store for operator tooling.
func (e *Engine) ListUsers(ctx context.Context, limit, offset int) ([]UserRecord, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	users, err := e.userStore.ListUsers(ctx, limit, offset)
	if err != nil {
		e.metricInc(MetricStoreError)
		return nil, unavailable("list users", err)
	}
	return users, nil
}

// FindUser resolves a username or email to its record.
func (e *Engine) FindUser(ctx context.Context, identifier string) (*UserRecord, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	user, err := e.lookupUser(ctx, password.NormalizeUsername(identifier))
	if err != nil {
		return nil, storeErr("user lookup", err)
	}
	return user, nil
}
