package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimburion/mds/pkg/config"
	"github.com/nimburion/mds/pkg/health"
	"github.com/nimburion/mds/pkg/observability/logger"
	"github.com/nimburion/mds/pkg/observability/metrics"
	"github.com/nimburion/mds/pkg/observability/tracing"
	"github.com/nimburion/mds/pkg/server/router"
	"github.com/nimburion/mds/pkg/server/router/factory"
	"github.com/nimburion/mds/pkg/version"
)

// LifecycleHook defines a named startup/shutdown action.
type LifecycleHook struct {
	Name string
	Fn   func(context.Context) error
}

// RunHTTPServersOptions defines inputs for building and running the servers.
type RunHTTPServersOptions struct {
	Config *config.Config
	Logger logger.Logger

	// PublicRouter is optional. If nil, a router is created from Config.RouterType.
	PublicRouter router.Router
	// ManagementRouter is optional. If nil and management is enabled, one is created.
	ManagementRouter router.Router

	// RegisterRoutes mounts the application handlers on the public router.
	RegisterRoutes func(r router.Router)
	Public         PublicOptions

	HealthRegistry  *health.Registry
	MetricsRegistry *metrics.Registry

	StartupHooks        []LifecycleHook
	ShutdownHooks       []LifecycleHook
	ShutdownHookTimeout time.Duration
}

// HTTPServers groups the runtime public/management servers.
type HTTPServers struct {
	Public     *PublicAPIServer
	Management *ManagementServer
}

// BuildHTTPServers constructs both servers from opts. The management server
// is omitted when disabled in the configuration.
func BuildHTTPServers(opts *RunHTTPServersOptions) (*HTTPServers, error) {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Logger == nil {
		log, err := logger.NewZapLogger(logger.DefaultConfig())
		if err != nil {
			return nil, err
		}
		opts.Logger = log
	}

	if opts.PublicRouter == nil {
		r, err := factory.NewRouter(opts.Config.RouterType)
		if err != nil {
			return nil, fmt.Errorf("create public router: %w", err)
		}
		opts.PublicRouter = r
	}

	public := NewPublicAPIServer(opts.Config, opts.PublicRouter, opts.Logger, opts.Public)
	if opts.RegisterRoutes != nil {
		opts.RegisterRoutes(opts.PublicRouter)
	}

	servers := &HTTPServers{Public: public}
	if !opts.Config.Management.Enabled {
		return servers, nil
	}

	if opts.ManagementRouter == nil {
		r, err := factory.NewRouter(opts.Config.RouterType)
		if err != nil {
			return nil, fmt.Errorf("create management router: %w", err)
		}
		opts.ManagementRouter = r
	}
	if opts.HealthRegistry == nil {
		opts.HealthRegistry = health.NewRegistry()
	}
	if opts.MetricsRegistry == nil {
		opts.MetricsRegistry = metrics.NewRegistry()
	}

	servers.Management = NewManagementServer(
		opts.Config.Management,
		opts.ManagementRouter,
		opts.Logger,
		opts.HealthRegistry,
		opts.MetricsRegistry,
		version.Current(resolveServiceName(opts)),
	)
	return servers, nil
}

// RunHTTPServers starts public server and (optionally) management server.
func RunHTTPServers(ctx context.Context, servers *HTTPServers, opts *RunHTTPServersOptions) error {
	if servers == nil || servers.Public == nil {
		return errors.New("servers and public server are required")
	}
	if opts.Logger == nil {
		return errors.New("logger is required")
	}
	if opts.Config == nil {
		return errors.New("config is required")
	}

	versionInfo := version.Current(resolveServiceName(opts))
	opts.Logger.Info("application version metadata",
		"service", versionInfo.Service,
		"version", versionInfo.Version,
		"commit", versionInfo.Commit,
		"build_time", versionInfo.BuildTime,
	)

	tracerProvider, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    versionInfo.Service,
		ServiceVersion: versionInfo.Version,
		Environment:    resolveEnvironment(opts),
		Endpoint:       opts.Config.Observability.TracingEndpoint,
		SampleRate:     opts.Config.Observability.TracingSampleRate,
		Enabled:        opts.Config.Observability.TracingEnabled,
	})
	if err != nil {
		return fmt.Errorf("initialize tracing provider: %w", err)
	}
	defer shutdownTracerProvider(tracerProvider, opts.Logger)

	if err := runStartupHooks(ctx, opts); err != nil {
		return err
	}
	defer func() {
		if shutdownErr := runShutdownHooks(opts); shutdownErr != nil {
			opts.Logger.Error("shutdown hooks completed with errors", "error", shutdownErr)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverCount := 1
	if servers.Management != nil {
		serverCount = 2
	}

	errCh := make(chan error, serverCount)
	go func() { errCh <- servers.Public.Start(runCtx) }()
	if servers.Management != nil {
		go func() { errCh <- servers.Management.Start(runCtx) }()
	}

	var firstErr error
	for idx := 0; idx < serverCount; idx++ {
		currentErr := <-errCh
		if currentErr != nil && firstErr == nil {
			firstErr = currentErr
			cancel()
		}
	}
	return firstErr
}

func shutdownTracerProvider(provider *tracing.TracerProvider, log logger.Logger) {
	if provider == nil {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := provider.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown tracing provider", "error", err)
	}
}

func resolveServiceName(opts *RunHTTPServersOptions) string {
	if opts.Config != nil {
		if name := strings.TrimSpace(opts.Config.Service.Name); name != "" {
			return name
		}
	}
	return version.Unknown
}

func resolveEnvironment(opts *RunHTTPServersOptions) string {
	if opts.Config != nil {
		if env := strings.TrimSpace(opts.Config.Service.Environment); env != "" {
			return env
		}
	}
	return version.Unknown
}

func hookName(h LifecycleHook) string {
	if name := strings.TrimSpace(h.Name); name != "" {
		return name
	}
	return "unnamed"
}

// runStartupHooks stops at the first failing hook.
func runStartupHooks(ctx context.Context, opts *RunHTTPServersOptions) error {
	for _, hook := range opts.StartupHooks {
		if hook.Fn == nil {
			continue
		}
		name := hookName(hook)
		opts.Logger.Info("startup hook start", "hook", name)
		if err := hook.Fn(ctx); err != nil {
			opts.Logger.Error("startup hook failed", "hook", name, "error", err)
			return fmt.Errorf("startup hook %q failed: %w", name, err)
		}
	}
	return nil
}

// runShutdownHooks runs every hook, each with its own timeout, and joins
// the failures.
func runShutdownHooks(opts *RunHTTPServersOptions) error {
	timeout := opts.ShutdownHookTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var errs []error
	for _, hook := range opts.ShutdownHooks {
		if hook.Fn == nil {
			continue
		}
		name := hookName(hook)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := hook.Fn(ctx)
		cancel()
		if err != nil {
			opts.Logger.Error("shutdown hook failed", "hook", name, "error", err)
			errs = append(errs, fmt.Errorf("shutdown hook %q failed: %w", name, err))
			continue
		}
		opts.Logger.Info("shutdown hook complete", "hook", name)
	}
	return errors.Join(errs...)
}

// RunHTTPServersWithSignals runs the servers until ctx ends or one of
// signals arrives. SIGINT and SIGTERM are used when none are given.
func RunHTTPServersWithSignals(ctx context.Context, servers *HTTPServers, opts *RunHTTPServersOptions, signals ...os.Signal) error {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	ctx, stop := signal.NotifyContext(ctx, signals...)
	defer stop()
	return RunHTTPServers(ctx, servers, opts)
}
