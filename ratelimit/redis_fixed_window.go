package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-marketplace/core"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "marketplace:ratelimit:"

// RedisFixedWindowLimiter shares windows across processes. The counter key
// carries the window start, so INCR alone decides admission.
type RedisFixedWindowLimiter struct {
	Client redis.Cmdable
	Limit  int
	Window time.Duration
	Prefix string
	Now    func() time.Time
}

func NewRedisFixedWindowLimiter(client redis.Cmdable, limit int, size time.Duration) *RedisFixedWindowLimiter {
	return &RedisFixedWindowLimiter{
		Client: client,
		Limit:  limit,
		Window: size,
		Prefix: DefaultRedisPrefix,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *RedisFixedWindowLimiter) Consume(ctx context.Context, key string) (core.RateLimitDecision, error) {
	if l == nil || l.Client == nil {
		return core.RateLimitDecision{}, fmt.Errorf("ratelimit: redis client is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return core.RateLimitDecision{}, fmt.Errorf("ratelimit: key is required")
	}
	limit := l.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	size := l.Window
	if size <= 0 {
		size = DefaultWindow
	}
	now := time.Now().UTC()
	if l.Now != nil {
		now = l.Now().UTC()
	}
	start := now.Truncate(size)
	resetAt := start.Add(size)
	redisKey := l.prefix() + key + ":" + strconv.FormatInt(start.UnixMilli(), 10)

	var incr *redis.IntCmd
	_, err := l.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, size)
		return nil
	})
	if err != nil {
		return core.RateLimitDecision{}, fmt.Errorf("ratelimit: redis consume %s: %w", key, err)
	}

	count := int(incr.Val())
	if count > limit {
		return core.RateLimitDecision{Key: key, Limit: limit, ResetAt: resetAt}, &LimitedError{
			Key:        key,
			Limit:      limit,
			RetryAfter: resetAt.Sub(now),
			ResetAt:    resetAt,
		}
	}
	return core.RateLimitDecision{
		Key:       key,
		Limit:     limit,
		Remaining: limit - count,
		ResetAt:   resetAt,
	}, nil
}

func (l *RedisFixedWindowLimiter) prefix() string {
	if strings.TrimSpace(l.Prefix) == "" {
		return DefaultRedisPrefix
	}
	return l.Prefix
}

var _ core.RateLimiter = (*RedisFixedWindowLimiter)(nil)
