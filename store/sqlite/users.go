package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zenithlabs/authcore"
)

var (
	_ authcore.UserStore            = (*Store)(nil)
	_ authcore.LoginAttemptRecorder = (*Store)(nil)
)

const userColumns = `id, username, email, password_hash, role, full_name,
    failed_login_attempts, locked_until, must_change_password,
    password_expires_at, password_changed_at, last_login, is_active, created_at`

// CreateUser inserts a user with a fresh UUID. Unique violations map to
// authcore.ErrUsernameTaken and authcore.ErrEmailTaken.
func (s *Store) CreateUser(ctx context.Context, in authcore.CreateUserInput) (string, error) {
	id := uuid.NewString()
	changed := in.PasswordChangedAt
	if changed.IsZero() {
		changed = in.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO users(id, username, email, password_hash, role, full_name,
            must_change_password, password_expires_at, password_changed_at, is_active, created_at)
        VALUES(?,?,?,?,?,?,?,?,?,1,?)
    `,
		id, in.Username, strings.ToLower(in.Email), in.PasswordHash, in.Role, in.FullName,
		boolInt(in.MustChangePassword), nullTime(in.PasswordExpiresAt), formatTime(changed), formatTime(in.CreatedAt),
	)
	if err != nil {
		return "", mapConstraint(err)
	}
	return id, nil
}

func mapConstraint(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed: users.username"):
		return authcore.ErrUsernameTaken
	case strings.Contains(msg, "UNIQUE constraint failed: users.email"):
		return authcore.ErrEmailTaken
	default:
		return fmt.Errorf("insert user: %w", err)
	}
}

// GetByUsername matches case-insensitively.
func (s *Store) GetByUsername(ctx context.Context, username string) (*authcore.UserRecord, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

// GetByEmail expects a normalized (lower-case) address.
func (s *Store) GetByEmail(ctx context.Context, email string) (*authcore.UserRecord, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(email))
}

func (s *Store) GetByID(ctx context.Context, id string) (*authcore.UserRecord, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (s *Store) getOne(ctx context.Context, query string, arg any) (*authcore.UserRecord, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authcore.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Update applies the non-nil fields of up.
func (s *Store) Update(ctx context.Context, id string, up authcore.UserUpdate) error {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if up.PasswordHash != nil {
		set("password_hash", *up.PasswordHash)
	}
	if up.FailedLoginAttempts != nil {
		set("failed_login_attempts", *up.FailedLoginAttempts)
	}
	switch {
	case up.ClearLockedUntil:
		set("locked_until", nil)
	case up.LockedUntil != nil:
		set("locked_until", formatTime(*up.LockedUntil))
	}
	if up.MustChangePassword != nil {
		set("must_change_password", boolInt(*up.MustChangePassword))
	}
	switch {
	case up.ClearPasswordExpiry:
		set("password_expires_at", nil)
	case up.PasswordExpiresAt != nil:
		set("password_expires_at", formatTime(*up.PasswordExpiresAt))
	}
	if up.PasswordChangedAt != nil {
		set("password_changed_at", formatTime(*up.PasswordChangedAt))
	}
	if up.LastLogin != nil {
		set("last_login", formatTime(*up.LastLogin))
	}
	if up.IsActive != nil {
		set("is_active", boolInt(*up.IsActive))
	}

	if len(sets) == 0 {
		_, err := s.GetByID(ctx, id)
		return err
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

// ListUsers returns users in creation order.
func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]authcore.UserRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC, rowid ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authcore.UserRecord
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// RecordLoginAttempt applies a login outcome and logs the attempt in one
// transaction.
func (s *Store) RecordLoginAttempt(ctx context.Context, userID string, success bool, ip string, next authcore.LockoutTransition, now time.Time) (authcore.UserRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return authcore.UserRecord{}, err
	}
	defer tx.Rollback()

	u, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	if err != nil {
		return authcore.UserRecord{}, err
	}

	state := next(authcore.LockoutState{FailedAttempts: u.FailedLoginAttempts, LockedUntil: u.LockedUntil})
	u.FailedLoginAttempts = state.FailedAttempts
	u.LockedUntil = state.LockedUntil
	if success {
		u.LastLogin = &now
	}

	_, err = tx.ExecContext(ctx, `
        UPDATE users SET failed_login_attempts = ?, locked_until = ?, last_login = ?
        WHERE id = ?
    `, u.FailedLoginAttempts, nullTime(u.LockedUntil), nullTime(u.LastLogin), userID)
	if err != nil {
		return authcore.UserRecord{}, fmt.Errorf("update lockout state: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO login_attempts(user_id, ip_address, success, attempted_at)
        VALUES(?,?,?,?)
    `, userID, ip, boolInt(success), formatTime(now))
	if err != nil {
		return authcore.UserRecord{}, fmt.Errorf("record login attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return authcore.UserRecord{}, err
	}
	return *u, nil
}

// LoginAttempt is one row of the login attempt log.
type LoginAttempt struct {
	UserID      string
	IPAddress   string
	Success     bool
	AttemptedAt time.Time
}

// RecentLoginAttempts returns up to limit attempts for userID, newest first.
func (s *Store) RecentLoginAttempts(ctx context.Context, userID string, limit int) ([]LoginAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT user_id, ip_address, success, attempted_at FROM login_attempts
        WHERE user_id = ? ORDER BY id DESC LIMIT ?
    `, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LoginAttempt
	for rows.Next() {
		var (
			a       LoginAttempt
			success int
			ts      string
		)
		if err := rows.Scan(&a.UserID, &a.IPAddress, &success, &ts); err != nil {
			return nil, err
		}
		a.Success = success != 0
		if a.AttemptedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanUser(row rowScanner) (*authcore.UserRecord, error) {
	var (
		u                                            authcore.UserRecord
		lockedUntil, expiresAt, changedAt, lastLogin sql.NullString
		mustChange, active                           int
		createdAt                                    string
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.FullName,
		&u.FailedLoginAttempts, &lockedUntil, &mustChange,
		&expiresAt, &changedAt, &lastLogin, &active, &createdAt)
	if err != nil {
		return nil, err
	}

	u.MustChangePassword = mustChange != 0
	u.IsActive = active != 0
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{lockedUntil, &u.LockedUntil},
		{expiresAt, &u.PasswordExpiresAt},
		{changedAt, &u.PasswordChangedAt},
		{lastLogin, &u.LastLogin},
	} {
		if *f.dst, err = parseNullTime(f.src); err != nil {
			return nil, err
		}
	}
	return &u, nil
}
