// Package cors answers cross-origin requests from browser clients.
package cors

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nimburion/mds/pkg/server/router"
)

// Config configures CORS middleware behavior.
//
// AllowOrigins entries are exact origins, "*" for any origin, or a
// subdomain wildcard such as "https://*.example.org".
type Config struct {
	Enabled          bool
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultConfig returns CORS middleware defaults.
func DefaultConfig() Config {
	return Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
}

// Middleware returns a router middleware implementing CORS. Preflight
// requests are answered here and never reach the handler.
func Middleware(cfg Config) router.MiddlewareFunc {
	if len(cfg.AllowMethods) == 0 {
		cfg.AllowMethods = DefaultConfig().AllowMethods
	}
	allowMethods := strings.Join(cfg.AllowMethods, ", ")
	allowHeaders := strings.Join(cfg.AllowHeaders, ", ")
	exposeHeaders := strings.Join(cfg.ExposeHeaders, ", ")
	allowAll := false
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			allowAll = true
		}
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if !cfg.Enabled {
				return next(c)
			}
			req := c.Request()
			origin := req.Header.Get("Origin")
			if origin == "" {
				return next(c)
			}

			preflight := req.Method == http.MethodOptions && req.Header.Get("Access-Control-Request-Method") != ""
			h := c.Response().Header()
			h.Add("Vary", "Origin")

			if !allowAll && !originAllowed(cfg.AllowOrigins, origin) {
				if preflight {
					c.Response().WriteHeader(http.StatusForbidden)
					return nil
				}
				return next(c)
			}

			if allowAll && !cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if exposeHeaders != "" {
				h.Set("Access-Control-Expose-Headers", exposeHeaders)
			}

			if !preflight {
				return next(c)
			}

			h.Set("Access-Control-Allow-Methods", allowMethods)
			switch {
			case allowHeaders != "":
				h.Set("Access-Control-Allow-Headers", allowHeaders)
			case req.Header.Get("Access-Control-Request-Headers") != "":
				h.Set("Access-Control-Allow-Headers", req.Header.Get("Access-Control-Request-Headers"))
			}
			if cfg.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(int(cfg.MaxAge/time.Second)))
			}
			c.Response().WriteHeader(http.StatusNoContent)
			return nil
		}
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, pattern := range allowed {
		if strings.EqualFold(pattern, origin) {
			return true
		}
		scheme, host, ok := strings.Cut(pattern, "://*.")
		if !ok {
			continue
		}
		prefix := scheme + "://"
		if !strings.HasPrefix(origin, prefix) {
			continue
		}
		if rest := origin[len(prefix):]; strings.HasSuffix(rest, "."+host) && len(rest) > len(host)+1 {
			return true
		}
	}
	return false
}
