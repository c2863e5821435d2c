package session

import "time"

// Session is the server-side record behind a session token.
type Session struct {
	ID        string
	UserID    string
	Username  string
	Role      string
	IPAddress string
	UserAgent string

	IssuedAt     time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
}

// CreateParams describes a session to open.
type CreateParams struct {
	UserID    string
	Username  string
	Role      string
	IPAddress string
	UserAgent string
	// TTL overrides Config.DefaultTTL when positive.
	TTL time.Duration
}
