package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every counter backend failure so callers can tell
// an outage from a spent budget.
var ErrRedisUnavailable = errors.New("rate limiter backend unavailable")

// Policy is a fixed-window budget: at most Limit counted events per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Valid reports whether the policy can be enforced.
func (p Policy) Valid() bool {
	return p.Limit > 0 && p.Window > 0
}

// Decision is the outcome of a limiter read.
type Decision struct {
	Allowed    bool
	Count      int64
	RetryAfter time.Duration
}

// Limiter enforces fixed-window budgets on arbitrary action:identity keys.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, prefix string) *Limiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Key composes a limiter key from an action and an identity.
func Key(action, identity string) string {
	return action + ":" + strings.TrimSpace(identity)
}

// Check reports whether key is still within budget without counting the call.
// A blocked decision carries the remaining window length as RetryAfter.
func (l *Limiter) Check(ctx context.Context, key string, p Policy) (Decision, error) {
	full := l.fullKey(key)
	count, err := l.redis.Get(ctx, full).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Decision{Allowed: true}, nil
		}
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count < int64(p.Limit) {
		return Decision{Allowed: true, Count: count}, nil
	}

	retryAfter, err := l.retryAfter(ctx, full, p.Window)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: false, Count: count, RetryAfter: retryAfter}, nil
}

// Increment counts one event against key and returns the new total.
func (l *Limiter) Increment(ctx context.Context, key string, p Policy) (int64, error) {
	count, _, err := l.incrementWithTTL(ctx, l.fullKey(key), p.Window)
	return count, err
}

// Allow counts the call and reports whether it fits in the budget.
func (l *Limiter) Allow(ctx context.Context, key string, p Policy) (Decision, error) {
	count, ttl, err := l.incrementWithTTL(ctx, l.fullKey(key), p.Window)
	if err != nil {
		return Decision{}, err
	}
	if count <= int64(p.Limit) {
		return Decision{Allowed: true, Count: count}, nil
	}
	if ttl <= 0 {
		ttl = p.Window
	}
	return Decision{Allowed: false, Count: count, RetryAfter: ttl}, nil
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) fullKey(key string) string {
	return l.prefix + ":" + key
}

// retryAfter returns the remaining window of a blocked key. A counter left
// without an expiry would block forever, so it is given a fresh window.
func (l *Limiter) retryAfter(ctx context.Context, key string, window time.Duration) (time.Duration, error) {
	ttl, err := l.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	switch {
	case ttl == -1:
		if err := l.redis.ExpireNX(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return window, nil
	case ttl <= 0:
		// -2: the key expired between the read and PTTL.
		return window, nil
	}
	return ttl, nil
}

// incrementWithTTL runs INCR, EXPIRE NX and PTTL in one MULTI/EXEC. NX leaves
// an existing window alone and repairs a counter that lost its expiry, so the
// TTL can never be skipped by a failure between the two writes.
func (l *Limiter) incrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	var (
		incr *redis.IntCmd
		pttl *redis.DurationCmd
	)
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		pttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return incr.Val(), pttl.Val(), nil
}
