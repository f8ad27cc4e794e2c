package server

import (
	"strings"

	"github.com/nimburion/mds/pkg/config"
	"github.com/nimburion/mds/pkg/middleware/compression"
	"github.com/nimburion/mds/pkg/middleware/cors"
	"github.com/nimburion/mds/pkg/middleware/logging"
	"github.com/nimburion/mds/pkg/middleware/metrics"
	"github.com/nimburion/mds/pkg/middleware/ratelimit"
	"github.com/nimburion/mds/pkg/middleware/recovery"
	"github.com/nimburion/mds/pkg/middleware/requestid"
	"github.com/nimburion/mds/pkg/middleware/requestsize"
	"github.com/nimburion/mds/pkg/middleware/timeout"
	"github.com/nimburion/mds/pkg/middleware/tracing"
	"github.com/nimburion/mds/pkg/observability/logger"
	"github.com/nimburion/mds/pkg/server/router"
)

// PublicOptions carries the collaborators of the public middleware stack.
type PublicOptions struct {
	// Limiter is used when rate limiting is enabled. Nil selects a local
	// token bucket.
	Limiter ratelimit.RateLimiter
	// RouteLabel names routes in metrics and spans. Nil uses the matched
	// pattern.
	RouteLabel func(router.Context) string
}

// PublicAPIServer serves the /api routes.
type PublicAPIServer struct {
	*Server
}

// NewPublicAPIServer installs the middleware stack on r. Handlers are
// registered by the caller on Router().
//
// Order: request id, cors, logging, recovery, metrics, tracing, rate limit,
// timeout, request size, compression.
func NewPublicAPIServer(cfg *config.Config, r router.Router, log logger.Logger, opts PublicOptions) *PublicAPIServer {
	type entry struct {
		name string
		fn   router.MiddlewareFunc
	}
	stack := []entry{
		{name: "request_id", fn: requestid.RequestID()},
		{name: "cors", fn: cors.Middleware(cors.Config{
			Enabled:          cfg.CORS.Enabled,
			AllowOrigins:     cfg.CORS.AllowOrigins,
			AllowMethods:     cfg.CORS.AllowMethods,
			AllowHeaders:     cfg.CORS.AllowHeaders,
			ExposeHeaders:    cfg.CORS.ExposeHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           cfg.CORS.MaxAge,
		})},
		{name: "logging", fn: logging.WithConfig(log, logging.DefaultConfig())},
		{name: "recovery", fn: recovery.Recovery(log)},
		{name: "metrics", fn: metrics.Metrics(opts.RouteLabel)},
	}

	if cfg.Observability.TracingEnabled {
		stack = append(stack, entry{name: "tracing", fn: tracing.Tracing(tracing.Config{
			TracerName: cfg.Service.Name + "/http",
			RouteFunc:  opts.RouteLabel,
		})})
	}

	if cfg.RateLimit.Enabled {
		limiter := opts.Limiter
		if limiter == nil {
			limiter = ratelimit.NewTokenBucketLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		}
		stack = append(stack, entry{name: "rate_limit", fn: ratelimit.RateLimit(limiter, ratelimit.Config{})})
	}

	stack = append(stack,
		entry{name: "timeout", fn: timeout.Middleware(timeout.Config{
			Enabled: cfg.HTTP.RequestTimeout > 0,
			Default: cfg.HTTP.RequestTimeout,
		})},
		entry{name: "request_size", fn: requestsize.Middleware(cfg.HTTP.MaxRequestSize)},
	)

	if cfg.Compression.Enabled {
		stack = append(stack, entry{name: "compression", fn: compression.Middleware(compression.Config{
			Enabled:      true,
			EnableBrotli: cfg.Compression.EnableBrotli,
			GzipLevel:    cfg.Compression.GzipLevel,
			BrotliLevel:  cfg.Compression.BrotliLevel,
			MinSize:      cfg.Compression.MinSize,
		})})
	}

	fns := make([]router.MiddlewareFunc, 0, len(stack))
	names := make([]string, 0, len(stack))
	for _, e := range stack {
		fns = append(fns, e.fn)
		names = append(names, e.name)
	}
	log.Debug("active middleware stack", "middlewares", strings.Join(names, ", "))
	r.Use(fns...)

	return &PublicAPIServer{
		Server: NewServer(Config{
			Name:         "public",
			Port:         cfg.HTTP.Port,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			IdleTimeout:  cfg.HTTP.IdleTimeout,
		}, r, log),
	}
}
