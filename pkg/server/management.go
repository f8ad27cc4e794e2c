package server

import (
	"net/http"
	"time"

	"github.com/nimburion/mds/pkg/config"
	"github.com/nimburion/mds/pkg/health"
	"github.com/nimburion/mds/pkg/middleware/logging"
	"github.com/nimburion/mds/pkg/middleware/recovery"
	"github.com/nimburion/mds/pkg/middleware/requestid"
	"github.com/nimburion/mds/pkg/observability/logger"
	"github.com/nimburion/mds/pkg/observability/metrics"
	"github.com/nimburion/mds/pkg/server/router"
	"github.com/nimburion/mds/pkg/version"
)

// ManagementServer serves probes, metrics and build metadata on their own
// port:
//
//	/health   liveness, always 200
//	/ready    dependency checks, 503 when any is unhealthy
//	/metrics  Prometheus exposition
//	/version  build metadata
type ManagementServer struct {
	*Server
	health  *health.Registry
	metrics *metrics.Registry
	version version.Info
}

// NewManagementServer registers the management endpoints on r.
func NewManagementServer(
	cfg config.ManagementConfig,
	r router.Router,
	log logger.Logger,
	healthRegistry *health.Registry,
	metricsRegistry *metrics.Registry,
	info version.Info,
) *ManagementServer {
	r.Use(
		requestid.RequestID(),
		logging.WithConfig(log, logging.DefaultConfig()),
		recovery.Recovery(log),
	)

	s := &ManagementServer{
		Server: NewServer(Config{
			Name:         "management",
			Port:         cfg.Port,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		}, r, log),
		health:  healthRegistry,
		metrics: metricsRegistry,
		version: info,
	}

	r.GET("/health", s.handleHealth)
	r.GET("/ready", s.handleReady)
	r.GET("/metrics", s.handleMetrics)
	r.GET("/version", s.handleVersion)
	return s
}

func (s *ManagementServer) handleHealth(c router.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": health.StatusHealthy,
	})
}

func (s *ManagementServer) handleReady(c router.Context) error {
	result := s.health.Check(c.Request().Context())
	if !result.IsReady() {
		return c.JSON(http.StatusServiceUnavailable, result)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *ManagementServer) handleMetrics(c router.Context) error {
	s.metrics.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *ManagementServer) handleVersion(c router.Context) error {
	return c.JSON(http.StatusOK, s.version)
}
