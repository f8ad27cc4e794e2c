package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimburion/mds/pkg/config"
	"github.com/nimburion/mds/pkg/observability/logger"
	"github.com/nimburion/mds/pkg/server/router"
	ginadapter "github.com/nimburion/mds/pkg/server/router/gin"
)

func TestBuildHTTPServers_Management(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
	}{
		{name: "enabled", enabled: true},
		{name: "disabled", enabled: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Management.Enabled = tt.enabled

			servers, err := BuildHTTPServers(&RunHTTPServersOptions{Config: cfg, Logger: logger.Nop()})
			if err != nil {
				t.Fatalf("build servers: %v", err)
			}
			if servers.Public == nil {
				t.Fatal("expected public server")
			}
			if (servers.Management != nil) != tt.enabled {
				t.Fatalf("management server presence = %v, want %v", servers.Management != nil, tt.enabled)
			}
		})
	}
}

func TestBuildHTTPServers_RegistersRoutesBehindMiddleware(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Management.Enabled = false

	var registered atomic.Bool
	servers, err := BuildHTTPServers(&RunHTTPServersOptions{
		Config:       cfg,
		Logger:       logger.Nop(),
		PublicRouter: ginadapter.NewRouter(),
		RegisterRoutes: func(r router.Router) {
			registered.Store(true)
			r.GET("/api/media", func(c router.Context) error {
				return c.String(http.StatusOK, "media")
			})
		},
	})
	if err != nil {
		t.Fatalf("build servers: %v", err)
	}
	if !registered.Load() {
		t.Fatal("expected RegisterRoutes to be called")
	}

	rec := httptest.NewRecorder()
	servers.Public.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/media", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected the public middleware stack to run before the handler")
	}
}

func TestBuildHTTPServers_UnknownRouter(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RouterType = "chi"
	if _, err := BuildHTTPServers(&RunHTTPServersOptions{Config: cfg, Logger: logger.Nop()}); err == nil {
		t.Fatal("expected an error for an unsupported router type")
	}
}

func TestResolveServiceNameAndEnvironment(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Service.Name = " mds-eu "
	cfg.Service.Environment = "staging"
	opts := &RunHTTPServersOptions{Config: cfg}

	if got := resolveServiceName(opts); got != "mds-eu" {
		t.Fatalf("service name = %q", got)
	}
	if got := resolveEnvironment(opts); got != "staging" {
		t.Fatalf("environment = %q", got)
	}
	if got := resolveEnvironment(&RunHTTPServersOptions{}); got != "unknown" {
		t.Fatalf("expected unknown environment, got %q", got)
	}
}

func TestRunHTTPServers_ValidatesRequiredOptions(t *testing.T) {
	err := RunHTTPServers(context.Background(), nil, &RunHTTPServersOptions{})
	if err == nil || err.Error() != "servers and public server are required" {
		t.Fatalf("expected servers validation error, got %v", err)
	}

	servers := &HTTPServers{Public: &PublicAPIServer{}}
	err = RunHTTPServers(context.Background(), servers, &RunHTTPServersOptions{Config: config.DefaultConfig()})
	if err == nil || err.Error() != "logger is required" {
		t.Fatalf("expected logger validation error, got %v", err)
	}
}

func TestRunHTTPServers_StartupHookFailureStopsBoot(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Management.Enabled = false

	var shutdownRan atomic.Bool
	opts := &RunHTTPServersOptions{
		Config: cfg,
		Logger: logger.Nop(),
		StartupHooks: []LifecycleHook{
			{Name: "warm_index", Fn: func(context.Context) error { return errors.New("store unreachable") }},
		},
		ShutdownHooks: []LifecycleHook{
			{Name: "close_store", Fn: func(context.Context) error { shutdownRan.Store(true); return nil }},
		},
	}
	servers, err := BuildHTTPServers(opts)
	if err != nil {
		t.Fatalf("build servers: %v", err)
	}

	err = RunHTTPServers(context.Background(), servers, opts)
	if err == nil || !strings.Contains(err.Error(), `startup hook "warm_index" failed`) {
		t.Fatalf("unexpected error: %v", err)
	}
	if shutdownRan.Load() {
		t.Fatal("shutdown hooks must not run when startup fails")
	}
}

func TestRunShutdownHooks(t *testing.T) {
	var runs atomic.Int32
	err := runShutdownHooks(&RunHTTPServersOptions{
		Logger:              logger.Nop(),
		ShutdownHookTimeout: 50 * time.Millisecond,
		ShutdownHooks: []LifecycleHook{
			{Name: "close_store", Fn: func(context.Context) error { runs.Add(1); return errors.New("disconnect failed") }},
			{Fn: nil},
			{Name: "close_redis", Fn: func(context.Context) error { runs.Add(1); return nil }},
			{Fn: func(ctx context.Context) error {
				runs.Add(1)
				<-ctx.Done()
				return ctx.Err()
			}},
		},
	})

	if runs.Load() != 3 {
		t.Fatalf("expected 3 hooks to run, got %d", runs.Load())
	}
	if err == nil {
		t.Fatal("expected joined error")
	}
	for _, want := range []string{`shutdown hook "close_store" failed`, `shutdown hook "unnamed" failed`} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded in %v", err)
	}
}
