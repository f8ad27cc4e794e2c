// Package recovery turns handler panics into 500 responses.
package recovery

import (
	"fmt"
	"runtime/debug"

	"github.com/nimburion/mds/pkg/controller"
	"github.com/nimburion/mds/pkg/observability/logger"
	"github.com/nimburion/mds/pkg/server/router"
)

// Recovery creates middleware that recovers from panics in HTTP handlers.
// The panic is logged with its stack trace and the client gets the standard
// internal_server_error envelope, unless a response was already started.
func Recovery(log logger.Logger) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				ctx := c.Request().Context()
				log.WithContext(ctx).Error("panic recovered",
					"request_id", logger.RequestIDFromContext(ctx),
					"method", c.Request().Method,
					"path", c.Request().URL.Path,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				if c.Response().Written() {
					err = nil
					return
				}
				status, body := controller.MapError(ctx, fmt.Errorf("panic: %v", r))
				if writeErr := c.JSON(status, body); writeErr != nil {
					log.Error("failed to send error response", "error", writeErr)
				}
				err = nil
			}()

			return next(c)
		}
	}
}
