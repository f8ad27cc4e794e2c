package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/mds/pkg/config"
	"github.com/nimburion/mds/pkg/observability/logger"
)

type redisClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisRateLimiter is a fixed-window counter shared by every replica.
type RedisRateLimiter struct {
	client    redisClient
	limit     int
	burst     int
	window    time.Duration
	opTimeout time.Duration
	prefix    string
	log       logger.Logger
}

// NewRedisRateLimiter builds a limiter over an already connected client.
// The caller owns the client.
func NewRedisRateLimiter(client redisClient, cfg config.RateLimitConfig, opTimeout time.Duration, log logger.Logger) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required for distributed rate limiting")
	}
	if cfg.RequestsPerSecond <= 0 {
		return nil, errors.New("requests_per_second must be greater than zero")
	}
	if cfg.Burst < 0 {
		return nil, errors.New("burst cannot be negative")
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Second
	}
	if opTimeout <= 0 {
		opTimeout = time.Second
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ratelimit"
	}

	log.Info("redis rate limiter enabled",
		"limit", cfg.RequestsPerSecond,
		"burst", cfg.Burst,
		"window", window,
		"prefix", prefix,
	)

	return &RedisRateLimiter{
		client:    client,
		limit:     cfg.RequestsPerSecond,
		burst:     cfg.Burst,
		window:    window,
		opTimeout: opTimeout,
		prefix:    prefix,
		log:       log,
	}, nil
}

// Allow increments the key's counter for the current window.
// Redis failures let the request through.
func (r *RedisRateLimiter) Allow(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
	defer cancel()

	redisKey := fmt.Sprintf("%s:%s", r.prefix, key)

	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		r.log.Error("redis rate limiter increment failed", "error", err)
		return true
	}
	if count == 1 {
		if err := r.client.Expire(ctx, redisKey, r.window).Err(); err != nil {
			r.log.Warn("redis rate limiter failed to set TTL", "error", err)
		}
	}
	return count <= int64(r.limit+r.burst)
}

// New selects the limiter configured by cfg.Type. client is only used for
// the redis type.
func New(cfg config.RateLimitConfig, client *redis.Client, opTimeout time.Duration, log logger.Logger) (RateLimiter, error) {
	switch cfg.Type {
	case "", config.RateLimitTypeLocal:
		return NewTokenBucketLimiter(cfg.RequestsPerSecond, cfg.Burst), nil
	case config.RateLimitTypeRedis:
		if client == nil {
			return nil, errors.New("rate_limit.type redis requires redis.url")
		}
		return NewRedisRateLimiter(client, cfg, opTimeout, log)
	default:
		return nil, fmt.Errorf("unsupported rate limit type %q", cfg.Type)
	}
}
