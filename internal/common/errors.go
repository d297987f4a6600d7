// Package common defines shared constants and sentinel errors used across
// the authnzerver layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Service-level errors (generic flow control).
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("validation error")

	// Credential store errors.
	ErrInsecurePermissions = errors.New("credential store permissions are too broad")

	// Token errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Reserved user ids seeded at database creation. These rows must never be
// deleted or reassigned.
const (
	SuperuserID = 1
	// AnonymousUserID is the permanent anonymous user.
	AnonymousUserID = 2
	// DummyUserID is the permanent locked user whose password hash absorbs
	// timing cost during failed lookups.
	DummyUserID = 3
)

// AuthFailMessage is the single generic message returned for every
// authorization denial, regardless of root cause.
const AuthFailMessage = "Sorry, that user ID and password combination didn't work."
