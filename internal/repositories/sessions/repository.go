// Package sessions persists session tokens in the credential store.
package sessions

import (
	"context"
	"time"

	"github.com/waqasbhatti/authnzerver/internal/models"
)

// Repository is the session table contract. A session that exists but has
// expired is reported exactly like a nonexistent one: ErrNotFound.
type Repository interface {
	Insert(ctx context.Context, s *models.Session) error

	// GetWithUser returns the denormalized session+user view for a valid
	// (existing and unexpired as of now) token.
	GetWithUser(ctx context.Context, token string, now time.Time) (*models.SessionUser, error)

	// UpdateExtraInfo replaces the extra-info JSON blob of a valid session.
	UpdateExtraInfo(ctx context.Context, token string, extraInfo string, now time.Time) error

	// Delete removes a session and reports how many rows went away; zero
	// with a nil error means there was nothing to delete.
	Delete(ctx context.Context, token string) (int64, error)

	// CountForUser reports how many sessions reference the user. Used to
	// verify the cascade post-condition after user deletion.
	CountForUser(ctx context.Context, userID int64) (int64, error)

	// DeleteExpiredBefore bulk-deletes sessions whose expiry predates the
	// cutoff, returning the count removed.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
