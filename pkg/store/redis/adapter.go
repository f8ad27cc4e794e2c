package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/mds/pkg/observability/logger"
)

// RedisAdapter provides Redis connectivity. mds uses it as a pub/sub bus
// between replicas.
type RedisAdapter struct {
	client *redis.Client
	logger logger.Logger
	config Config
}

// Config holds Redis connection configuration
type Config struct {
	URL              string
	MaxConns         int
	OperationTimeout time.Duration
}

// NewRedisAdapter connects to Redis and verifies the connection with a ping.
func NewRedisAdapter(cfg Config, log logger.Logger) (*RedisAdapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}
	opts.DialTimeout = 5 * time.Second
	if cfg.OperationTimeout > 0 {
		opts.ReadTimeout = cfg.OperationTimeout
		opts.WriteTimeout = cfg.OperationTimeout
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info("Redis connection established",
		"max_conns", cfg.MaxConns,
		"operation_timeout", cfg.OperationTimeout,
	)

	return &RedisAdapter{
		client: client,
		logger: log,
		config: cfg,
	}, nil
}

// Ping verifies the Redis connection is alive
func (a *RedisAdapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

// Client returns the underlying client, shared with the rate limiter.
func (a *RedisAdapter) Client() *redis.Client {
	return a.client
}

// Publish sends message on channel.
func (a *RedisAdapter) Publish(ctx context.Context, channel, message string) error {
	if err := a.client.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", channel, err)
	}
	return nil
}

// Subscribe delivers every message published on channel to handler until
// ctx is cancelled. It returns once the subscription is confirmed via ready,
// which may be nil.
func (a *RedisAdapter) Subscribe(ctx context.Context, channel string, ready chan<- struct{}, handler func(payload string)) error {
	sub := a.client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	if ready != nil {
		close(ready)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			handler(msg.Payload)
		}
	}
}

// HealthCheck verifies the Redis connection is healthy with a timeout
func (a *RedisAdapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := a.client.Ping(ctx).Err(); err != nil {
		a.logger.Error("Redis health check failed", "error", err)
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close gracefully closes the Redis connection
func (a *RedisAdapter) Close() error {
	if err := a.client.Close(); err != nil {
		a.logger.Error("failed to close Redis connection", "error", err)
		return fmt.Errorf("failed to close redis connection: %w", err)
	}
	a.logger.Info("Redis connection closed")
	return nil
}
