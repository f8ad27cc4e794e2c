package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nimburion/mds/pkg/controller"
	"github.com/nimburion/mds/pkg/observability/logger"
	"github.com/nimburion/mds/pkg/server/router"
)

// RateLimiter decides whether a request for key may proceed.
// Implementations must be safe for concurrent use.
type RateLimiter interface {
	Allow(key string) bool
}

// TokenBucketLimiter keeps one token bucket per key in process memory.
//
// With requestsPerSecond=10 and burst=20 a client can issue 20 requests at
// once and is then held to 10 per second.
type TokenBucketLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewTokenBucketLimiter creates a per-key token bucket limiter.
func NewTokenBucketLimiter(requestsPerSecond int, burst int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		rate:  rate.Limit(requestsPerSecond),
		burst: burst,
	}
}

// Allow reports whether key has a token left and consumes it.
func (l *TokenBucketLimiter) Allow(key string) bool {
	return l.getLimiter(key).Allow()
}

func (l *TokenBucketLimiter) getLimiter(key string) *rate.Limiter {
	if limiter, ok := l.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}
	limiter, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(l.rate, l.burst))
	return limiter.(*rate.Limiter)
}

// Config defines the configuration for rate limiting middleware.
type Config struct {
	// KeyFunc extracts the limiting key. Defaults to the client IP.
	KeyFunc func(router.Context) string
	// RetryAfter is the value of the Retry-After header, in seconds.
	RetryAfter int
	// ExcludedPathPrefixes are never limited.
	ExcludedPathPrefixes []string
}

// RateLimit rejects requests over the limit with 429 and a Retry-After header.
func RateLimit(limiter RateLimiter, cfg Config) router.MiddlewareFunc {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c router.Context) string { return ExtractIPFromRequest(c.Request()) }
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 1
	}
	retryAfter := strconv.Itoa(cfg.RetryAfter)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			path := c.Request().URL.Path
			for _, prefix := range cfg.ExcludedPathPrefixes {
				if strings.HasPrefix(path, prefix) {
					return next(c)
				}
			}

			if !limiter.Allow(cfg.KeyFunc(c)) {
				c.Response().Header().Set("Retry-After", retryAfter)
				return c.JSON(http.StatusTooManyRequests, controller.ErrorResponse{
					Error:     "rate_limited",
					Message:   "rate limit exceeded",
					RequestID: logger.RequestIDFromContext(c.Request().Context()),
				})
			}
			return next(c)
		}
	}
}

// ExtractIPFromRequest returns the client IP, preferring the first
// X-Forwarded-For entry, then X-Real-IP, then RemoteAddr without its port.
func ExtractIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
