package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nimburion/mds/pkg/api"
	"github.com/nimburion/mds/pkg/config"
	"github.com/nimburion/mds/pkg/middleware/ratelimit"
	"github.com/nimburion/mds/pkg/observability/logger"
	"github.com/nimburion/mds/pkg/observability/metrics"
	"github.com/nimburion/mds/pkg/relindex"
	"github.com/nimburion/mds/pkg/server"
	goredis "github.com/redis/go-redis/v9"
)

func newServeCommand(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the public API and management servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfigAndLogger(cmd.Flags(), opts.EnvPrefix, os.Stdout)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, log)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("failed to close connections", "error", err)
		}
	}()

	opts, err := a.serverOptions()
	if err != nil {
		return err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if a.notifier != nil {
		opts.StartupHooks = append(opts.StartupHooks, server.LifecycleHook{
			Name: "relationship_index_watch",
			Fn: func(context.Context) error {
				relindex.Watch(watchCtx, a.index, a.notifier, log)
				return nil
			},
		})
		opts.ShutdownHooks = append(opts.ShutdownHooks, server.LifecycleHook{
			Name: "relationship_index_watch",
			Fn: func(context.Context) error {
				stopWatch()
				return nil
			},
		})
	}

	servers, err := server.BuildHTTPServers(opts)
	if err != nil {
		return err
	}
	return server.RunHTTPServersWithSignals(ctx, servers, opts)
}

// serverOptions wires the engine into the HTTP servers.
func (a *app) serverOptions() (*server.RunHTTPServersOptions, error) {
	opts := &server.RunHTTPServersOptions{
		Config:          a.cfg,
		Logger:          a.log,
		RegisterRoutes:  api.NewHandler(a.engine, a.log).Register,
		Public:          server.PublicOptions{RouteLabel: api.MetricsLabel},
		HealthRegistry:  a.healthRegistry(),
		MetricsRegistry: metrics.NewRegistry(),
		StartupHooks: []server.LifecycleHook{{
			Name: "relationship_index_warmup",
			Fn: func(ctx context.Context) error {
				// A cold index is rebuilt on first use; readiness reports it.
				if _, err := a.index.Snapshot(ctx); err != nil {
					a.log.Warn("relationship index warmup failed", "error", err)
				}
				return nil
			},
		}},
	}

	if a.cfg.RateLimit.Enabled {
		var client *goredis.Client
		if a.redis != nil {
			client = a.redis.Client()
		}
		limiter, err := ratelimit.New(a.cfg.RateLimit, client, a.cfg.Redis.OperationTimeout, a.log)
		if err != nil {
			return nil, fmt.Errorf("create rate limiter: %w", err)
		}
		opts.Public.Limiter = limiter
	}
	return opts, nil
}
