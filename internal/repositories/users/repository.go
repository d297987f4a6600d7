// Package users persists user accounts in the credential store.
package users

import (
	"context"
	"time"

	"github.com/waqasbhatti/authnzerver/internal/models"
)

// Update carries optional column changes for a user row. Nil fields are left
// untouched.
type Update struct {
	FullName      *string
	Email         *string
	IsActive      *bool
	EmailVerified *bool
	UserRole      *string
}

// Repository is the user table contract. Implementations map driver-level
// conditions to the sentinel errors in internal/common: unique-email
// conflicts surface as ErrAlreadyExists (a typed conflict result, not an
// exception-identity check in callers), absent rows as ErrNotFound.
type Repository interface {
	// Insert adds a new user and returns the generated id.
	Insert(ctx context.Context, u *models.User) (int64, error)

	// InsertWithID adds a user with an explicit id. Only the bootstrap
	// path uses this, to seed the reserved accounts.
	InsertWithID(ctx context.Context, u *models.User) error

	GetByID(ctx context.Context, userID int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// GetActiveVerifiedByEmail looks up an account filtered to active and
	// email-verified, the only form of lookup login is allowed to use.
	GetActiveVerifiedByEmail(ctx context.Context, email string) (*models.User, error)

	// List returns users by id, or every user when userIDs is empty.
	List(ctx context.Context, userIDs []int64) ([]models.User, error)

	// Activate marks the matching inactive row active, email-verified, and
	// role authenticated, returning the updated row.
	Activate(ctx context.Context, email string, now time.Time) (*models.User, error)

	UpdatePassword(ctx context.Context, userID int64, passwordHash string, now time.Time) error
	UpdateUser(ctx context.Context, userID int64, upd Update, now time.Time) error
	Delete(ctx context.Context, userID int64) error

	// RecordLoginAttempt updates last_login_try and, on success,
	// last_login_success, maintaining the failed_login_tries counter.
	RecordLoginAttempt(ctx context.Context, userID int64, at time.Time, success bool) error

	SetEmailVerifySent(ctx context.Context, userID int64, at time.Time) error
	SetForgotPassSent(ctx context.Context, userID int64, at time.Time) error
}
