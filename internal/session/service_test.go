package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waqasbhatti/authnzerver/internal/authdb"
	"github.com/waqasbhatti/authnzerver/internal/common"
	"github.com/waqasbhatti/authnzerver/internal/logging"
	"github.com/waqasbhatti/authnzerver/internal/models"
)

func newTestStore(t *testing.T) *authdb.Store {
	t.Helper()
	ctx := context.Background()

	store, err := authdb.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Roles.Seed(ctx))

	now := time.Now().UTC()
	for _, u := range []*models.User{
		{
			UserID: common.AnonymousUserID, Email: "anonuser@localhost",
			Password: "x", IsActive: true, UserRole: models.RoleAnonymous,
			CreatedOn: now, LastUpdated: now,
		},
		{
			UserID: 10, Email: "testuser@example.org",
			FullName: sql.NullString{String: "Test User", Valid: true},
			Password: "x", IsActive: true, EmailVerified: true,
			UserRole: models.RoleAuthenticated, CreatedOn: now, LastUpdated: now,
		},
	} {
		require.NoError(t, store.Users.InsertWithID(ctx, u))
	}
	return store
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(newTestStore(t), logging.Discard())
}

func TestSessionNewAndExists(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	expires := time.Now().UTC().Add(24 * time.Hour)
	sess, err := svc.New(ctx, 10, "192.168.1.5", "Mozilla/5.0", expires,
		map[string]any{"provenance": "frontend"})
	require.NoError(t, err)
	require.NotEmpty(t, sess.Token)
	assert.Equal(t, int64(10), sess.UserID)

	got, err := svc.Exists(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "testuser@example.org", got.Email)
	assert.Equal(t, models.RoleAuthenticated, got.UserRole)
	assert.Equal(t, "192.168.1.5", got.IPAddress)

	var extra map[string]any
	require.NoError(t, json.Unmarshal([]byte(got.ExtraInfo), &extra))
	assert.Equal(t, "frontend", extra["provenance"])
}

func TestSessionNewDefaultsToAnonymous(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	sess, err := svc.New(ctx, 0, "127.0.0.1", "curl/8.0",
		time.Now().Add(time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(common.AnonymousUserID), sess.UserID)
	assert.Equal(t, "{}", sess.ExtraInfo)

	got, err := svc.Exists(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAnonymous, got.UserRole)
}

func TestSessionNewValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	future := time.Now().Add(time.Hour)

	_, err := svc.New(ctx, 10, "not-an-ip", "curl/8.0", future, nil)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = svc.New(ctx, 10, "127.0.0.1", "", future, nil)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = svc.New(ctx, 10, "127.0.0.1", "curl/8.0", time.Now().Add(-time.Hour), nil)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestSessionExpiredLooksMissing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewService(store, logging.Discard())

	sess, err := svc.New(ctx, 10, "127.0.0.1", "curl/8.0",
		time.Now().Add(time.Minute), nil)
	require.NoError(t, err)

	// Advance the service clock past the expiry.
	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err = svc.Exists(ctx, sess.Token)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSessionSetExtraInfoMerges(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	sess, err := svc.New(ctx, 10, "127.0.0.1", "curl/8.0",
		time.Now().Add(time.Hour), map[string]any{"a": "one", "b": "two"})
	require.NoError(t, err)

	got, err := svc.SetExtraInfo(ctx, sess.Token, map[string]any{"b": nil, "c": "three"})
	require.NoError(t, err)

	var extra map[string]any
	require.NoError(t, json.Unmarshal([]byte(got.ExtraInfo), &extra))
	assert.Equal(t, "one", extra["a"])
	assert.NotContains(t, extra, "b")
	assert.Equal(t, "three", extra["c"])
}

func TestSessionDelete(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	sess, err := svc.New(ctx, 10, "127.0.0.1", "curl/8.0",
		time.Now().Add(time.Hour), nil)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, sess.Token))

	_, err = svc.Exists(ctx, sess.Token)
	assert.ErrorIs(t, err, common.ErrNotFound)

	// Deleting again reports not-found, not a crash.
	assert.ErrorIs(t, svc.Delete(ctx, sess.Token), common.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, ""), common.ErrNotFound)
}

func TestSessionSweep(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewService(store, logging.Discard())

	// One session expiring soon, one far out.
	_, err := svc.New(ctx, 10, "127.0.0.1", "curl/8.0",
		time.Now().Add(time.Minute), nil)
	require.NoError(t, err)
	_, err = svc.New(ctx, 10, "127.0.0.1", "curl/8.0",
		time.Now().Add(30*24*time.Hour), nil)
	require.NoError(t, err)

	// Nothing is old enough yet.
	n, err := svc.Sweep(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Ten days later the first session's expiry predates the cutoff.
	svc.now = func() time.Time { return time.Now().Add(10 * 24 * time.Hour) }
	n, err = svc.Sweep(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := store.Sessions.CountForUser(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
