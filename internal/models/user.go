// Package models holds the row types persisted in the credential store.
package models

import (
	"database/sql"
	"time"
)

// User roles, from most to least capable. Locked users cannot log in.
const (
	RoleSuperuser     = "superuser"
	RoleStaff         = "staff"
	RoleAuthenticated = "authenticated"
	RoleAnonymous     = "anonymous"
	RoleLocked        = "locked"
)

// ValidRoles lists every role the store will accept.
var ValidRoles = []string{
	RoleSuperuser, RoleStaff, RoleAuthenticated, RoleAnonymous, RoleLocked,
}

// IsValidRole reports whether role is one of the five defined roles.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// User is a row in the users table. Password holds the argon2id PHC-encoded
// hash, never a plaintext password.
type User struct {
	UserID           int64
	FullName         sql.NullString
	Email            string
	Password         string
	EmailVerified    bool
	IsActive         bool
	UserRole         string
	CreatedOn        time.Time
	LastUpdated      time.Time
	EmailVerifySent  sql.NullTime
	ForgotPassSent   sql.NullTime
	LastLoginTry     sql.NullTime
	LastLoginSuccess sql.NullTime
	FailedLoginTries int64
}
