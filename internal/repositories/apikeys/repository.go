// Package apikeys persists the revocable server-side copy of issued API
// keys. The caller-held copy is a self-contained signed bundle; the row here
// is the source of truth for the random token component.
package apikeys

import (
	"context"
	"time"

	"github.com/waqasbhatti/authnzerver/internal/models"
)

// Repository is the apikeys table contract.
type Repository interface {
	Insert(ctx context.Context, k *models.APIKey) error

	// GetValid returns the key only when the (token, user id) pair exists
	// and the stored expiry is still in the future. Revoked (deleted) or
	// expired keys surface as ErrNotFound.
	GetValid(ctx context.Context, token string, userID int64, now time.Time) (*models.APIKey, error)

	// Delete revokes a key, returning the number of rows removed.
	Delete(ctx context.Context, token string) (int64, error)
}
