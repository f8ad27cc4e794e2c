package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/nimburion/mds/pkg/config"
	"github.com/nimburion/mds/pkg/observability/logger"
	"github.com/nimburion/mds/pkg/repository/document"
	"github.com/nimburion/mds/pkg/store/mongodb"
	"github.com/nimburion/mds/pkg/store/redis"
)

// NewDocumentStore opens the document store selected by cfg.Type. MongoDB
// stores get their lookup indexes created before they are returned.
//
// Cosa fa: seleziona e inizializza lo store dei documenti in base alla config.
// Cosa NON fa: non gestisce fallback tra provider diversi.
func NewDocumentStore(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (document.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case config.DatabaseTypeMemory:
		log.Warn("using in-memory document store, data is lost on restart")
		return document.NewMemoryStore(), nil
	case config.DatabaseTypeMongoDB:
		adapter, err := mongodb.NewAdapter(mongodb.Config{
			URL:              cfg.URL,
			Database:         cfg.DatabaseName,
			ConnectTimeout:   cfg.ConnectTimeout,
			OperationTimeout: cfg.QueryTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		s, err := document.NewMongoStore(adapter)
		if err != nil {
			_ = adapter.Close()
			return nil, err
		}
		if err := s.EnsureIndexes(ctx); err != nil {
			_ = adapter.Close()
			return nil, fmt.Errorf("ensure mongodb indexes: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database.type %q (supported: %s, %s)", cfg.Type, config.DatabaseTypeMongoDB, config.DatabaseTypeMemory)
	}
}

// NewRedisAdapter connects to Redis when a URL is configured. It returns
// nil, nil when Redis is not configured.
func NewRedisAdapter(cfg config.RedisConfig, log logger.Logger) (*redis.RedisAdapter, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, nil
	}
	return redis.NewRedisAdapter(redis.Config{
		URL:              cfg.URL,
		MaxConns:         cfg.MaxConns,
		OperationTimeout: cfg.OperationTimeout,
	}, log)
}
