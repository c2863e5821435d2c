package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/zenithlabs/authcore/password"
)

var (
	// ErrInvalidCredentials is returned for an unknown identifier or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while an account lockout window is active.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is returned for accounts with is_active=false.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrRateLimited is returned when the sliding-window budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrMustChangePassword is returned after a correct password when a reset is forced.
	ErrMustChangePassword = errors.New("password change required")
	// ErrPasswordExpired is returned after a correct password past its expiry.
	ErrPasswordExpired = errors.New("password expired")
	// ErrPasswordPolicy is returned when a new password violates the policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when a new password matches the history.
	ErrPasswordReuse = errors.New("password was used recently")
	// ErrHashing is returned when the KDF fails.
	ErrHashing = password.ErrHashing
	// ErrUserNotFound is returned by UserStore lookups when no record matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameTaken is returned by Register for a duplicate username.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrEmailTaken is returned by Register for a duplicate email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidUsername is returned for malformed usernames.
	ErrInvalidUsername = password.ErrInvalidUsername
	// ErrInvalidEmail is returned for malformed email addresses.
	ErrInvalidEmail = password.ErrInvalidEmail
	// ErrRoleNotAllowed is returned by Register for the administrator role.
	ErrRoleNotAllowed = errors.New("role not allowed for self registration")
	// ErrRegistrationDisabled is returned by Register when Account.AllowRegistration is false.
	ErrRegistrationDisabled = errors.New("registration disabled")
	// ErrUnavailable wraps store and backend failures.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrSessionInvalid is returned for tokens that fail validation.
	ErrSessionInvalid = errors.New("invalid session")
	// ErrEngineNotReady is returned when an Engine method is called on a nil or partially built engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// PolicyError lists every violated password rule. It matches ErrPasswordPolicy.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("password policy violation: %d rule(s) failed", len(e.Violations))
}

func (e *PolicyError) Is(target error) bool { return target == ErrPasswordPolicy }

// RateLimitError carries the time until the window frees a slot. It
// matches ErrRateLimited.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSeconds())
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (e *RateLimitError) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	return int((e.RetryAfter + time.Second - 1) / time.Second)
}

// LockedError records when a lockout ends. It matches ErrAccountLocked.
// The Until value is for logs; PublicMessage never reveals it.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string { return "account locked" }

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// PublicMessage maps err to the text safe to show an end user. Every
// branch that could reveal whether an account exists collapses to the
// same message.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}

	var rl *RateLimitError
	switch {
	case errors.As(err, &rl):
		return fmt.Sprintf("too many attempts, try again in %d seconds", rl.RetryAfterSeconds())
	case errors.Is(err, ErrRateLimited):
		return "too many attempts, try again later"
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrAccountLocked),
		errors.Is(err, ErrUserNotFound):
		return "invalid username/email or password"
	case errors.Is(err, ErrAccountDisabled):
		return "account disabled"
	case errors.Is(err, ErrMustChangePassword):
		return "you must change your password before continuing"
	case errors.Is(err, ErrPasswordExpired):
		return "your password has expired, please set a new one"
	case errors.Is(err, ErrPasswordPolicy):
		return "password does not meet the requirements"
	case errors.Is(err, ErrPasswordReuse):
		return "password was used recently, choose a different one"
	case errors.Is(err, ErrUsernameTaken):
		return "username already exists"
	case errors.Is(err, ErrEmailTaken):
		return "email already registered"
	case errors.Is(err, ErrInvalidUsername), errors.Is(err, ErrInvalidEmail):
		return err.Error()
	case errors.Is(err, ErrRoleNotAllowed):
		return "role not allowed"
	case errors.Is(err, ErrRegistrationDisabled):
		return "registration is disabled"
	case errors.Is(err, ErrSessionInvalid):
		return "session expired, please log in again"
	default:
		return "service temporarily unavailable, try again"
	}
}
