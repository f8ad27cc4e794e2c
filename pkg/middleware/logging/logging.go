// Package logging writes one structured log line per HTTP request.
package logging

import (
	"strings"
	"time"

	"github.com/nimburion/mds/pkg/observability/logger"
	"github.com/nimburion/mds/pkg/server/router"
)

// Log field names.
const (
	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldRoute      = "route"
	FieldQuery      = "query"
	FieldStatus     = "status"
	FieldDurationMS = "duration_ms"
	FieldRemoteAddr = "remote_addr"
	FieldUserAgent  = "user_agent"
	FieldError      = "error"
)

// Config configures request logging.
type Config struct {
	Enabled bool
	// LogStart also logs a line when a request begins, at debug level.
	LogStart             bool
	ExcludedPathPrefixes []string
}

// DefaultConfig logs every request except probes and metrics scrapes.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		ExcludedPathPrefixes: []string{"/health", "/ready", "/metrics"},
	}
}

// Logging creates middleware with default configuration.
func Logging(log logger.Logger) router.MiddlewareFunc {
	return WithConfig(log, DefaultConfig())
}

// WithConfig creates request logging middleware. The completion line is
// logged at error level for 5xx, warn for 4xx and info otherwise, so client
// mistakes and store outages are told apart without reading bodies.
func WithConfig(log logger.Logger, cfg Config) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			req := c.Request()
			if !cfg.Enabled || excluded(req.URL.Path, cfg.ExcludedPathPrefixes) {
				return next(c)
			}

			start := time.Now()
			reqLog := log.WithContext(req.Context())
			if cfg.LogStart {
				reqLog.Debug("request started",
					FieldMethod, req.Method,
					FieldPath, req.URL.Path,
				)
			}

			err := next(c)

			// Handlers may replace the request; read the ID afterwards.
			ctx := c.Request().Context()
			status := c.Response().Status()
			fields := []any{
				FieldRequestID, logger.RequestIDFromContext(ctx),
				FieldMethod, req.Method,
				FieldPath, req.URL.Path,
				FieldRoute, router.Pattern(c),
				FieldStatus, status,
				FieldDurationMS, time.Since(start).Milliseconds(),
				FieldRemoteAddr, req.RemoteAddr,
			}
			if req.URL.RawQuery != "" {
				fields = append(fields, FieldQuery, req.URL.RawQuery)
			}
			if ua := req.UserAgent(); ua != "" {
				fields = append(fields, FieldUserAgent, ua)
			}

			switch {
			case err != nil:
				log.Error("request failed", append(fields, FieldError, err)...)
			case status >= 500:
				log.Error("request completed", fields...)
			case status >= 400:
				log.Warn("request completed", fields...)
			default:
				log.Info("request completed", fields...)
			}
			return err
		}
	}
}

func excluded(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
