// Package ratelimit implements a fixed-window request limiter over Redis.
// The frontend consults it per client and request type before any work is
// dispatched; with no Redis configured the limiter allows everything.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/waqasbhatti/authnzerver/internal/logging"
)

// Window is the fixed-window length. Role limits are expressed as requests
// per this window.
const Window = 60 * time.Second

// Limiter counts requests per key in fixed windows.
type Limiter struct {
	rdb    redis.UniversalClient
	logger logging.Logger
}

// New builds a Limiter over an existing Redis client. A nil client disables
// limiting.
func New(rdb redis.UniversalClient, logger logging.Logger) *Limiter {
	return &Limiter{rdb: rdb, logger: logger}
}

// Allow reports whether the caller identified by key may proceed under the
// given per-window limit. A Redis failure allows the request: rate limiting
// degrades open, authentication never does.
func (l *Limiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	if l.rdb == nil || limit <= 0 {
		return true, nil
	}

	window := time.Now().Unix() / int64(Window.Seconds())
	bucket := fmt.Sprintf("rl:%s:%d", key, window)

	pipe := l.rdb.TxPipeline()
	count := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, Window)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Error(ctx, "rate limiter redis error, allowing request", "error", err)
		return true, err
	}

	if count.Val() > int64(limit) {
		return false, nil
	}
	return true, nil
}
