package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waqasbhatti/authnzerver/internal/logging"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, logging.Discard()), mr
}

func TestAllowUnderLimit(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t)

	for i := 0; i < 5; i++ {
		ok, err := l.Allow(ctx, "127.0.0.1:session-new", 5)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := l.Allow(ctx, "127.0.0.1:session-new", 5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t)

	ok, err := l.Allow(ctx, "127.0.0.1:user-login", 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = l.Allow(ctx, "127.0.0.1:user-login", 1)
	require.NoError(t, err)
	require.False(t, ok)

	// A different key still has its full budget.
	ok, err = l.Allow(ctx, "10.0.0.9:user-login", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWindowExpires(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLimiter(t)

	ok, err := l.Allow(ctx, "k", 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = l.Allow(ctx, "k", 1)
	require.NoError(t, err)
	require.False(t, ok)

	// The bucket key carries a TTL so stale windows do not pile up.
	mr.FastForward(Window * 2)
	found := mr.Keys()
	assert.Empty(t, found)
}

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	ctx := context.Background()
	l := New(nil, logging.Discard())

	for i := 0; i < 100; i++ {
		ok, err := l.Allow(ctx, "k", 1)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestDegradesOpenOnRedisFailure(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	l := New(rdb, logging.Discard())

	mr.Close()
	ok, err := l.Allow(ctx, "k", 1)
	assert.Error(t, err)
	assert.True(t, ok)
}
