// Package rate provides Redis-backed fixed-window attempt counters for
// security-sensitive authentication operations.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional PEXPIRE on the first hit. The
// increment-and-check is atomic (INCR returns the post-increment count), so
// concurrent attempts on one key can never pass the budget unnoticed. Window
// expiry doubles as bucket eviction, bounding memory without a sweeper.
//
// # What this package must NOT do
//
//   - Decide which operations are throttled or with what budget (the Service
//     owns policy; this package owns counting).
//   - Be imported outside the authgate module.
package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps backend connectivity failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Rule bounds one operation to Max attempts per fixed Window.
type Rule struct {
	Max    int
	Window time.Duration
}

// Result reports the outcome of a Check or Consume.
type Result struct {
	Allowed bool
	// Remaining is the attempt budget left in the current window.
	Remaining int
	// RetryAfter is how long the caller must wait when not allowed.
	RetryAfter time.Duration
}

// Limiter enforces per-key attempt budgets using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a [Limiter] backed by the given Redis client. prefix
// namespaces all counter keys.
func New(client redis.UniversalClient, prefix string) (*Limiter, error) {
	if client == nil {
		return nil, errors.New("nil redis client")
	}
	if prefix == "" {
		return nil, errors.New("empty key prefix")
	}
	return &Limiter{redis: client, prefix: prefix}, nil
}

func (l *Limiter) key(op, key string) string {
	return l.prefix + ":rl:" + op + ":" + key
}

// Consume records one attempt for op+key and reports whether it fits the
// budget. The first hit in a window arms the window TTL.
func (l *Limiter) Consume(ctx context.Context, op, key string, rule Rule) (Result, error) {
	redisKey := l.key(op, key)

	count, err := l.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.PExpire(ctx, redisKey, rule.Window).Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if count > int64(rule.Max) {
		retryAfter, err := l.retryAfter(ctx, redisKey, rule)
		if err != nil {
			return Result{}, err
		}
		return Result{Allowed: false, RetryAfter: retryAfter}, nil
	}

	return Result{Allowed: true, Remaining: rule.Max - int(count)}, nil
}

// Check reads the counter without consuming budget.
func (l *Limiter) Check(ctx context.Context, op, key string, rule Rule) (Result, error) {
	redisKey := l.key(op, key)

	count, err := l.redis.Get(ctx, redisKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Result{Allowed: true, Remaining: rule.Max}, nil
		}
		return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(rule.Max) {
		retryAfter, err := l.retryAfter(ctx, redisKey, rule)
		if err != nil {
			return Result{}, err
		}
		return Result{Allowed: false, RetryAfter: retryAfter}, nil
	}

	return Result{Allowed: true, Remaining: rule.Max - int(count)}, nil
}

// Reset clears the counters for op across the given keys. Called after a
// successful login so earlier failures stop counting against the account.
func (l *Limiter) Reset(ctx context.Context, op string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	redisKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		redisKeys = append(redisKeys, l.key(op, key))
	}

	if err := l.redis.Del(ctx, redisKeys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) retryAfter(ctx context.Context, redisKey string, rule Rule) (time.Duration, error) {
	ttl, err := l.redis.PTTL(ctx, redisKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	// A key without TTL (lost PEXPIRE race) reports the full window so the
	// caller never waits forever on a stale bucket.
	if ttl <= 0 {
		return rule.Window, nil
	}
	return ttl, nil
}
