package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitConfig holds fixed-window rate limiting configuration
type RateLimitConfig struct {
	// Limit is the number of requests allowed per window per key
	Limit int
	// Window is the length of the counting window
	Window time.Duration
	// KeyPrefix namespaces the counters in the shared store
	KeyPrefix string
}

// DefaultRateLimitConfig returns the default per-client limit for the
// control API
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Limit:     100,
		Window:    time.Minute,
		KeyPrefix: "intelliqa:ratelimit",
	}
}

// Counter increments a windowed counter and returns its new value. The
// counter must expire once the window passes.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter is a Counter on a shared Redis, so the limit holds across
// API replicas
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a Redis-backed counter
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr increments the key and sets its expiry in one round trip. The expiry
// is refreshed on every hit, which keeps a persistent abuser counted.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// RateLimitDecision reports the outcome of one rate limit check
type RateLimitDecision struct {
	Allowed   bool
	Remaining int
}

// RateLimiter is a fixed-window rate limiter over a Counter
type RateLimiter struct {
	counter Counter
	config  RateLimitConfig
}

// NewRateLimiter creates a rate limiter. A nil counter disables limiting;
// every check is allowed.
func NewRateLimiter(counter Counter, config RateLimitConfig) *RateLimiter {
	if config.Limit <= 0 {
		config.Limit = 100
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "intelliqa:ratelimit"
	}

	return &RateLimiter{counter: counter, config: config}
}

// Allow consumes one request for the key and reports whether it fits the
// window. Counter failures allow the request: an unavailable Redis must not
// take the API down with it.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (RateLimitDecision, error) {
	if rl.counter == nil {
		return RateLimitDecision{Allowed: true, Remaining: rl.config.Limit}, nil
	}

	count, err := rl.counter.Incr(ctx, rl.key(key), rl.config.Window)
	if err != nil {
		return RateLimitDecision{Allowed: true, Remaining: rl.config.Limit}, err
	}

	remaining := rl.config.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return RateLimitDecision{
		Allowed:   count <= int64(rl.config.Limit),
		Remaining: remaining,
	}, nil
}

// Limit returns the configured per-window limit
func (rl *RateLimiter) Limit() int {
	return rl.config.Limit
}

func (rl *RateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.config.KeyPrefix, key)
}
