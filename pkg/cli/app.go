package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimburion/mds/pkg/config"
	"github.com/nimburion/mds/pkg/engine"
	"github.com/nimburion/mds/pkg/health"
	"github.com/nimburion/mds/pkg/observability/logger"
	"github.com/nimburion/mds/pkg/paging"
	"github.com/nimburion/mds/pkg/relindex"
	"github.com/nimburion/mds/pkg/repository/document"
	"github.com/nimburion/mds/pkg/store"
	"github.com/nimburion/mds/pkg/store/redis"
)

// app holds the long-lived collaborators shared by the commands.
type app struct {
	cfg    *config.Config
	log    logger.Logger
	store  document.Store
	redis  *redis.RedisAdapter
	index  *relindex.Index
	engine *engine.Engine
	// notifier is nil when Redis is not configured.
	notifier *relindex.RedisNotifier
}

// openApp connects the document store and, when configured, Redis.
func openApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	docs, err := store.NewDocumentStore(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}

	a := &app{cfg: cfg, log: log, store: docs}
	a.redis, err = store.NewRedisAdapter(cfg.Redis, log)
	if err != nil {
		_ = docs.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	a.index = relindex.New(docs, log, relindex.Config{
		BatchSize:      cfg.Index.BatchSize,
		MaxAge:         cfg.Index.MaxAge,
		RebuildTimeout: cfg.Index.RebuildTimeout,
	})

	var opts []engine.Option
	if a.redis != nil {
		a.notifier = relindex.NewRedisNotifier(a.redis, log)
		opts = append(opts, engine.WithNotifier(a.notifier))
	}
	a.engine = engine.New(docs, a.index, log, engineConfig(cfg), opts...)
	return a, nil
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Paging: paging.Config{
			DefaultLimit: cfg.Query.DefaultPageSize,
			MaxLimit:     cfg.Query.MaxPageSize,
		},
		QueryTimeout:        cfg.Query.Timeout,
		RetryReadsOnTimeout: cfg.Query.RetryReadsOnTimeout,
		Restricted:          cfg.Query.Restricted,
		CountConcurrency:    cfg.Query.CountConcurrency,
		BreakerMaxFailures:  cfg.Breaker.MaxFailures,
		BreakerReset:        cfg.Breaker.ResetTimeout,
	}
}

// healthRegistry registers the readiness checks of the server.
func (a *app) healthRegistry() *health.Registry {
	registry := health.NewRegistry()
	registry.Register(health.NewAdapterChecker("document_store", a.store, a.cfg.Database.QueryTimeout))
	registry.Register(health.NewBreakerChecker(a.engine.Breaker))
	registry.Register(health.NewIndexChecker(a.index, a.cfg.Index.MaxAge))
	if a.redis != nil {
		registry.Register(health.NewAdapterChecker("redis", a.redis, a.cfg.Redis.OperationTimeout))
	}
	return registry
}

func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close document store: %w", err))
	}
	return errors.Join(errs...)
}
