// Package controller turns engine results and failures into HTTP responses.
package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/nimburion/mds/pkg/observability/logger"
	"github.com/nimburion/mds/pkg/query"
)

// ErrorResponse represents the consistent error response format.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// StatusFor returns the HTTP status used for a failure kind.
func StatusFor(kind query.Kind) int {
	switch kind {
	case query.KindInvalidPath,
		query.KindInvalidFilter,
		query.KindInvalidPageSize,
		query.KindPageOutOfRange,
		query.KindInvalidDocument:
		return http.StatusBadRequest
	case query.KindConflictingFilter:
		return http.StatusConflict
	case query.KindNotFound:
		return http.StatusNotFound
	case query.KindTooGeneric:
		return http.StatusForbidden
	case query.KindQueryTimeout:
		return http.StatusGatewayTimeout
	case query.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// MapError maps application errors to HTTP responses.
func MapError(ctx context.Context, err error) (int, ErrorResponse) {
	requestID := logger.RequestIDFromContext(ctx)

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:     "request_too_large",
			Message:   "request body is too large",
			RequestID: requestID,
			Details:   map[string]interface{}{"max_size": tooLarge.Limit},
		}
	}

	var qe *query.Error
	if !errors.As(err, &qe) {
		return http.StatusInternalServerError, ErrorResponse{
			Error:     "internal_server_error",
			Message:   "an unexpected error occurred",
			RequestID: requestID,
		}
	}

	status := StatusFor(qe.Kind)
	message := qe.Message
	if status >= 500 && qe.Kind != query.KindStorageUnavailable && qe.Kind != query.KindQueryTimeout {
		message = "an unexpected error occurred"
	}
	return status, ErrorResponse{
		Error:     errorCategory(status),
		Code:      string(qe.Kind),
		Message:   message,
		RequestID: requestID,
		Details:   qe.Details,
	}
}

func errorCategory(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusGatewayTimeout:
		return "timeout"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		if status >= 500 {
			return "internal_server_error"
		}
		return "application_error"
	}
}
