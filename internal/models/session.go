package models

import (
	"database/sql"
	"time"
)

// Session is a row in the sessions table. The token is the primary key:
// 32 bytes of secure randomness, URL-safe base64 encoded.
type Session struct {
	Token        string
	UserID       int64
	IPAddress    string
	ClientHeader string
	Created      time.Time
	Expires      time.Time
	// ExtraInfo is a free-form JSON object serialized to text.
	ExtraInfo string
}

// SessionUser is the denormalized join of a session with its owning user,
// returned by session lookups so downstream authorization decisions need no
// second round trip.
type SessionUser struct {
	Session
	Email            string
	FullName         sql.NullString
	EmailVerified    bool
	IsActive         bool
	UserRole         string
	LastLoginTry     sql.NullTime
	LastLoginSuccess sql.NullTime
	FailedLoginTries int64
}

// APIKey is a row in the apikeys table. The row exists for revocation and as
// the source of truth for the random token component; the caller-held copy is
// a self-describing signed bundle.
type APIKey struct {
	Token        string
	UserID       int64
	SessionToken string
	Issued       time.Time
	Expires      time.Time
}

// Role is a row in the roles table.
type Role struct {
	Name        string
	Description string
}
