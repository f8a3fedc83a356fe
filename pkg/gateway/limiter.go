package gateway

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// MessageLimiter decides whether an inbound message on c is admitted.
// retryAfter is how long the client should wait when it is not.
type MessageLimiter interface {
	Allow(ctx context.Context, c *Conn) (allowed bool, retryAfter time.Duration, err error)
}

// TokenBucketLimiter gives every connection its own bucket holding up to
// limit tokens, refilled continuously over window
type TokenBucketLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewTokenBucketLimiter creates a per-connection limiter
func NewTokenBucketLimiter(limit int, window time.Duration) *TokenBucketLimiter {
	return &TokenBucketLimiter{limit: limit, window: window, now: time.Now}
}

// Allow takes one token from c's bucket. Only the read loop of c calls it.
func (l *TokenBucketLimiter) Allow(_ context.Context, c *Conn) (bool, time.Duration, error) {
	now := l.now()
	rate := float64(l.limit) / l.window.Seconds()
	if c.lastRefill.IsZero() {
		c.tokens = float64(l.limit)
	} else if elapsed := now.Sub(c.lastRefill).Seconds(); elapsed > 0 {
		c.tokens = math.Min(float64(l.limit), c.tokens+elapsed*rate)
	}
	c.lastRefill = now

	if c.tokens >= 1 {
		c.tokens--
		return true, 0, nil
	}
	wait := time.Duration((1 - c.tokens) / rate * float64(time.Second))
	return false, wait, nil
}

// RedisLimiter is a sliding window per user kept in a Redis sorted set, so
// the limit holds across instances
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedisLimiter creates a distributed per-user limiter
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "keystone:ws_rl:",
		now:    time.Now,
	}
}

// Allow counts the messages of c's user inside the window. Redis errors
// admit the message and are returned for logging.
func (l *RedisLimiter) Allow(ctx context.Context, c *Conn) (bool, time.Duration, error) {
	key := l.prefix + c.UserID()
	now := l.now()
	windowStart := now.Add(-l.window).UnixMilli()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	count := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
	pipe.Expire(ctx, key, 2*l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, fmt.Errorf("redis rate limit check failed: %w", err)
	}

	if count.Val() >= int64(l.limit) {
		return false, l.window, nil
	}
	return true, 0, nil
}
