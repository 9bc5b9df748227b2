package ratelimit

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-marketplace/core"
)

const (
	DefaultLimit  = 100
	DefaultWindow = time.Minute

	shardCount = 32
)

// LimitedError reports an exhausted window. It unwraps to core.ErrRateLimited.
type LimitedError struct {
	Key        string
	Limit      int
	RetryAfter time.Duration
	ResetAt    time.Time
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf(
		"ratelimit: key %q exceeded %d permits, retry after %s",
		strings.TrimSpace(e.Key),
		e.Limit,
		e.RetryAfter,
	)
}

func (e *LimitedError) Unwrap() error {
	return core.ErrRateLimited
}

func (e *LimitedError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"key":   strings.TrimSpace(e.Key),
		"limit": e.Limit,
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	if !e.ResetAt.IsZero() {
		metadata["reset_at"] = e.ResetAt.UTC().Format(time.RFC3339)
	}
	return goerrors.Wrap(e, goerrors.CategoryRateLimit, "ratelimit: limit exceeded").
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ServiceErrorRateLimited).
		WithMetadata(metadata)
}

type window struct {
	start time.Time
	count int
}

type shard struct {
	mu        sync.Mutex
	windows   map[string]*window
	lastPrune time.Time
}

// FixedWindowLimiter counts permits per key in windows aligned to multiples of
// Window. Keys are spread over independently locked shards.
type FixedWindowLimiter struct {
	Limit  int
	Window time.Duration
	Now    func() time.Time

	shards [shardCount]shard
}

func NewFixedWindowLimiter(limit int, size time.Duration) *FixedWindowLimiter {
	limiter := &FixedWindowLimiter{
		Limit:  limit,
		Window: size,
		Now:    func() time.Time { return time.Now().UTC() },
	}
	for i := range limiter.shards {
		limiter.shards[i].windows = map[string]*window{}
	}
	return limiter
}

func (l *FixedWindowLimiter) Consume(_ context.Context, key string) (core.RateLimitDecision, error) {
	if l == nil {
		return core.RateLimitDecision{}, fmt.Errorf("ratelimit: limiter is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return core.RateLimitDecision{}, fmt.Errorf("ratelimit: key is required")
	}
	limit, size := l.settings()
	now := l.now()
	start := now.Truncate(size)
	resetAt := start.Add(size)

	s := &l.shards[shardIndex(key)]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.windows == nil {
		s.windows = map[string]*window{}
	}
	if now.Sub(s.lastPrune) >= size {
		for existing, w := range s.windows {
			if w.start.Before(start) {
				delete(s.windows, existing)
			}
		}
		s.lastPrune = now
	}

	w, ok := s.windows[key]
	if !ok || !w.start.Equal(start) {
		w = &window{start: start}
		s.windows[key] = w
	}
	if w.count >= limit {
		return core.RateLimitDecision{Key: key, Limit: limit, ResetAt: resetAt}, &LimitedError{
			Key:        key,
			Limit:      limit,
			RetryAfter: resetAt.Sub(now),
			ResetAt:    resetAt,
		}
	}
	w.count++
	return core.RateLimitDecision{
		Key:       key,
		Limit:     limit,
		Remaining: limit - w.count,
		ResetAt:   resetAt,
	}, nil
}

func (l *FixedWindowLimiter) settings() (int, time.Duration) {
	limit := l.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	size := l.Window
	if size <= 0 {
		size = DefaultWindow
	}
	return limit, size
}

func (l *FixedWindowLimiter) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func shardIndex(key string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(key))
	return int(hasher.Sum32() % shardCount)
}

var _ core.RateLimiter = (*FixedWindowLimiter)(nil)
