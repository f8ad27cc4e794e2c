// Package requestid tags every request with a correlation ID.
package requestid

import (
	"context"

	"github.com/google/uuid"

	"github.com/nimburion/mds/pkg/observability/logger"
	"github.com/nimburion/mds/pkg/server/router"
)

// RequestIDHeader is the HTTP header name for request ID.
const RequestIDHeader = "X-Request-ID"

// maxLength bounds client-supplied IDs; longer or non-printable values are
// replaced rather than echoed into logs.
const maxLength = 128

// RequestID creates middleware that generates or extracts request IDs.
// A valid X-Request-ID header is kept, otherwise a UUID is generated. The ID
// is echoed in the response header and stored in the request context, where
// logger.WithContext and the error envelopes pick it up.
func RequestID() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			requestID := c.Request().Header.Get(RequestIDHeader)
			if !valid(requestID) {
				requestID = uuid.NewString()
			}

			c.Set(logger.RequestIDContextKey, requestID)
			c.Response().Header().Set(RequestIDHeader, requestID)
			c.SetRequest(c.Request().WithContext(logger.ContextWithRequestID(c.Request().Context(), requestID)))

			return next(c)
		}
	}
}

// GetRequestID extracts the request ID from a context.
// Returns empty string if no request ID is found.
func GetRequestID(ctx context.Context) string {
	return logger.RequestIDFromContext(ctx)
}

func valid(id string) bool {
	if id == "" || len(id) > maxLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
