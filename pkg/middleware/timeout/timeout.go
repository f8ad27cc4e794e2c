// Package timeout puts a deadline on every request context.
package timeout

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nimburion/mds/pkg/controller"
	"github.com/nimburion/mds/pkg/query"
	"github.com/nimburion/mds/pkg/server/router"
)

// Config configures request timeout middleware behavior.
type Config struct {
	Enabled              bool
	Default              time.Duration
	ExcludedPathPrefixes []string
}

// DefaultConfig returns default timeout middleware behavior.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Default: 30 * time.Second,
	}
}

// Middleware applies cfg.Default as the request deadline. A handler that
// gives up on the deadline without answering gets a query_timeout response.
func Middleware(cfg Config) router.MiddlewareFunc {
	if cfg.Default <= 0 {
		cfg.Default = DefaultConfig().Default
	}
	return func(next router.HandlerFunc) router.HandlerFunc {
		if !cfg.Enabled {
			return next
		}
		return func(c router.Context) error {
			path := c.Request().URL.Path
			for _, prefix := range cfg.ExcludedPathPrefixes {
				if strings.HasPrefix(path, prefix) {
					return next(c)
				}
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), cfg.Default)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return err
			}
			if c.Response().Written() {
				return nil
			}
			status, resp := controller.MapError(ctx, query.NewError(query.KindQueryTimeout, "request exceeded %s", cfg.Default))
			return c.JSON(status, resp)
		}
	}
}
