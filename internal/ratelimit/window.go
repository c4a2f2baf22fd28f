// Package ratelimit provides a fixed-window request limiter shared through Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLimiterUnavailable = errors.New("rate limiter unavailable")

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// WindowLimiter allows at most Limit hits per key within each Window.
type WindowLimiter struct {
	redis  redis.Cmdable
	prefix string
	Limit  int
	Window time.Duration
}

func NewWindowLimiter(client redis.Cmdable, prefix string, limit int, window time.Duration) (*WindowLimiter, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	if limit <= 0 || window <= 0 {
		return nil, fmt.Errorf("ratelimit: limit and window must be positive (got %d, %s)", limit, window)
	}
	if prefix == "" {
		prefix = "rl"
	}
	return &WindowLimiter{redis: client, prefix: prefix, Limit: limit, Window: window}, nil
}

func (l *WindowLimiter) key(scope, subject string) string {
	return l.prefix + ":" + scope + ":" + subject
}

// Allow records a hit for subject within scope and reports whether it fits the window.
// A key found without a TTL gets one, so a lost EXPIRE cannot block a subject forever.
func (l *WindowLimiter) Allow(ctx context.Context, scope, subject string) (Decision, error) {
	key := l.key(scope, subject)
	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	count, retry := incr.Val(), pttl.Val()
	if retry < 0 {
		if err := l.redis.Expire(ctx, key, l.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
		}
		retry = l.Window
	}
	if count <= int64(l.Limit) {
		return Decision{Allowed: true, Remaining: l.Limit - int(count)}, nil
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}

// Reset clears the window for subject within scope.
func (l *WindowLimiter) Reset(ctx context.Context, scope, subject string) error {
	if err := l.redis.Del(ctx, l.key(scope, subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return nil
}
