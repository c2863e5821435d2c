package authcore

import (
	"context"
	"time"

	"github.com/zenithlabs/authcore/internal/audit"
	"github.com/zenithlabs/authcore/internal/limiters"
	"github.com/zenithlabs/authcore/jwt"
	"github.com/zenithlabs/authcore/session"
)

// UserRecord is the credential record owned by the UserStore.
//
// FailedLoginAttempts resets to zero only on a successful login or an
// administrative unlock. LockedUntil is set only when the failure count
// reaches the lockout threshold.
type UserRecord struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         string
	FullName     string

	FailedLoginAttempts int
	LockedUntil         *time.Time
	MustChangePassword  bool
	PasswordExpiresAt   *time.Time
	PasswordChangedAt   *time.Time
	LastLogin           *time.Time
	IsActive            bool
	CreatedAt           time.Time
}

// CreateUserInput is passed to UserStore.CreateUser. The hash is already
// tagged and the username and email are normalized.
type CreateUserInput struct {
	Username           string
	Email              string
	PasswordHash       string
	Role               string
	FullName           string
	MustChangePassword bool
	PasswordExpiresAt  *time.Time
	PasswordChangedAt  time.Time
	CreatedAt          time.Time
}

// UserUpdate is a partial update. Nil fields are left untouched; the
// Clear flags null out their column.
type UserUpdate struct {
	PasswordHash        *string
	FailedLoginAttempts *int
	LockedUntil         *time.Time
	ClearLockedUntil    bool
	MustChangePassword  *bool
	PasswordExpiresAt   *time.Time
	ClearPasswordExpiry bool
	PasswordChangedAt   *time.Time
	LastLogin           *time.Time
	IsActive            *bool
}

// UserStore is the persistence boundary. Lookups return ErrUserNotFound
// when no record matches; any other error is treated as a store failure
// and never reaches the caller verbatim.
//
// CreateUser returns ErrUsernameTaken or ErrEmailTaken on a uniqueness
// conflict detected at write time.
type UserStore interface {
	CreateUser(ctx context.Context, input CreateUserInput) (string, error)
	GetByUsername(ctx context.Context, username string) (*UserRecord, error)
	GetByEmail(ctx context.Context, email string) (*UserRecord, error)
	GetByID(ctx context.Context, id string) (*UserRecord, error)
	Update(ctx context.Context, id string, update UserUpdate) error
	ListUsers(ctx context.Context, limit, offset int) ([]UserRecord, error)
}

// LockoutState is the lockout slice of a UserRecord.
type LockoutState = limiters.LockState

// LockoutTransition maps the stored lockout state to the state to persist.
// The engine supplies it; stores never apply lockout rules themselves.
type LockoutTransition func(LockoutState) LockoutState

// LoginAttemptRecorder is an optional UserStore extension that applies a
// login outcome in one atomic step: read failed_login_attempts and
// locked_until, write back next(state), and on success set last_login.
// The updated record is returned.
//
// Stores without it are serialized per user by the engine.
type LoginAttemptRecorder interface {
	RecordLoginAttempt(ctx context.Context, userID string, success bool, ip string, next LockoutTransition, now time.Time) (UserRecord, error)
}

// LoginResult is returned by Engine.Login. On ErrMustChangePassword and
// ErrPasswordExpired it is non-nil with UserID set and Token empty, so the
// caller can route the user to a password change.
type LoginResult struct {
	Token     string
	Session   session.Session
	UserID    string
	Username  string
	Role      string
	ExpiresAt time.Time
	// Rehashed reports that a legacy or weaker hash was upgraded.
	Rehashed bool
}

// RegisterRequest is the input to Engine.Register.
type RegisterRequest struct {
	Username string
	Email    string
	Password string
	FullName string
	// Role defaults to Account.DefaultRole.
	Role string
}

// SessionClaims is the payload of a validated session token.
type SessionClaims = jwt.SessionClaims

// AuditEvent is one append-only record of an authentication decision.
type AuditEvent = audit.Event

// AuditSink persists audit events. Writes happen off the request path.
type AuditSink = audit.Sink
