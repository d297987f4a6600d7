package authdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waqasbhatti/authnzerver/internal/common"
	"github.com/waqasbhatti/authnzerver/internal/models"
)

type markingHasher struct{}

func (markingHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (markingHasher) Verify(password, encodedHash string) (bool, error) {
	return encodedHash == "hashed:"+password, nil
}

func TestBootstrapSeedsReservedAccounts(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	info, err := store.Bootstrap(ctx, markingHasher{}, "admin@example.org", "chosen password")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "admin@example.org", info.SuperuserEmail)
	assert.Equal(t, "chosen password", info.SuperuserPassword)

	super, err := store.Users.GetByID(ctx, common.SuperuserID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleSuperuser, super.UserRole)
	assert.True(t, super.IsActive)
	assert.True(t, super.EmailVerified)
	assert.Equal(t, "hashed:chosen password", super.Password)

	anon, err := store.Users.GetByID(ctx, common.AnonymousUserID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAnonymous, anon.UserRole)
	assert.True(t, anon.IsActive)

	dummy, err := store.Users.GetByID(ctx, common.DummyUserID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleLocked, dummy.UserRole)
	assert.False(t, dummy.IsActive)
	// The dummy hash exists purely to absorb verification cost; its
	// password is random and discarded, never shared with other seeds.
	assert.NotEmpty(t, dummy.Password)
	assert.NotEqual(t, anon.Password, dummy.Password)

	roles, err := store.Roles.List(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 5)
}

func TestBootstrapGeneratesPassword(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	info, err := store.Bootstrap(ctx, markingHasher{}, "admin@example.org", "")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Len(t, info.SuperuserPassword, 32)

	super, err := store.Users.GetByID(ctx, common.SuperuserID)
	require.NoError(t, err)
	assert.Equal(t, "hashed:"+info.SuperuserPassword, super.Password)
}

func TestBootstrapSeedIsAtomic(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	require.NoError(t, store.Roles.Seed(ctx))

	// A stray row on the dummy id makes the third seed insert conflict
	// mid-transaction; the earlier inserts must roll back with it.
	now := time.Now().UTC()
	require.NoError(t, store.Users.InsertWithID(ctx, &models.User{
		UserID: common.DummyUserID, Email: "squatter@localhost",
		Password: "hashed:whatever", UserRole: models.RoleLocked,
		CreatedOn: now, LastUpdated: now,
	}))

	info, err := store.Bootstrap(ctx, markingHasher{}, "admin@example.org", "chosen password")
	require.Error(t, err)
	assert.Nil(t, info)

	_, err = store.Users.GetByID(ctx, common.SuperuserID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = store.Users.GetByID(ctx, common.AnonymousUserID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	squatter, err := store.Users.GetByID(ctx, common.DummyUserID)
	require.NoError(t, err)
	assert.Equal(t, "squatter@localhost", squatter.Email)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	info, err := store.Bootstrap(ctx, markingHasher{}, "admin@example.org", "chosen password")
	require.NoError(t, err)
	require.NotNil(t, info)

	again, err := store.Bootstrap(ctx, markingHasher{}, "other@example.org", "different")
	require.NoError(t, err)
	assert.Nil(t, again)

	// The original superuser is untouched.
	super, err := store.Users.GetByID(ctx, common.SuperuserID)
	require.NoError(t, err)
	assert.Equal(t, "admin@example.org", super.Email)
	assert.Equal(t, "hashed:chosen password", super.Password)
}
