// Package requestsize bounds request bodies.
package requestsize

import (
	"errors"
	"net/http"

	"github.com/nimburion/mds/pkg/controller"
	"github.com/nimburion/mds/pkg/server/router"
)

// Middleware enforces a maximum request body size in bytes.
// A non-positive maxBytes disables the middleware.
func Middleware(maxBytes int64) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		if maxBytes <= 0 {
			return next
		}
		return func(c router.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			// declared length is checked before anything is read
			if req.ContentLength > maxBytes {
				return tooLarge(c, &http.MaxBytesError{Limit: maxBytes})
			}

			req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBytes)
			c.SetRequest(req)

			err := next(c)
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) && !c.Response().Written() {
				return tooLarge(c, maxErr)
			}
			return err
		}
	}
}

func tooLarge(c router.Context, err *http.MaxBytesError) error {
	status, resp := controller.MapError(c.Request().Context(), err)
	return c.JSON(status, resp)
}
