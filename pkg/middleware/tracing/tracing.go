// Package tracing starts an OpenTelemetry server span per request.
package tracing

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/nimburion/mds/pkg/middleware/requestid"
	"github.com/nimburion/mds/pkg/server/router"
)

// Config holds configuration for the tracing middleware.
type Config struct {
	// TracerName defaults to "mds/http".
	TracerName string
	// RouteFunc names the route for the span name and the http.route
	// attribute. Defaults to the matched pattern.
	RouteFunc func(router.Context) string
	// ExcludedPathPrefixes are not traced.
	ExcludedPathPrefixes []string
}

// Tracing extracts the incoming trace context, starts a server span and
// stores it in the request context so engine and store spans nest under it.
func Tracing(cfg Config) router.MiddlewareFunc {
	if cfg.TracerName == "" {
		cfg.TracerName = "mds/http"
	}
	if cfg.RouteFunc == nil {
		cfg.RouteFunc = router.Pattern
	}

	tracer := otel.Tracer(cfg.TracerName)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			req := c.Request()
			for _, prefix := range cfg.ExcludedPathPrefixes {
				if strings.HasPrefix(req.URL.Path, prefix) {
					return next(c)
				}
			}

			route := cfg.RouteFunc(c)
			if route == "" {
				route = req.URL.Path
			}

			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx, span := tracer.Start(ctx, req.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()

			span.SetAttributes(
				attribute.String("http.request.method", req.Method),
				attribute.String("http.route", route),
				attribute.String("url.path", req.URL.Path),
				attribute.String("url.query", req.URL.RawQuery),
				attribute.String("user_agent.original", req.UserAgent()),
			)
			if id := requestid.GetRequestID(req.Context()); id != "" {
				span.SetAttributes(attribute.String("request.id", id))
			}

			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}

			status := c.Response().Status()
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if status >= 500 {
				span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
			}
			return nil
		}
	}
}
