package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nimburion/jobqueue/pkg/config"
	"github.com/nimburion/jobqueue/pkg/health"
	"github.com/nimburion/jobqueue/pkg/middleware/logging"
	"github.com/nimburion/jobqueue/pkg/middleware/recovery"
	"github.com/nimburion/jobqueue/pkg/middleware/requestid"
	"github.com/nimburion/jobqueue/pkg/observability/logger"
	"github.com/nimburion/jobqueue/pkg/observability/metrics"
	"github.com/nimburion/jobqueue/pkg/version"
)

// ManagementServer serves operational endpoints on their own port:
//   - /health: liveness, always 200 while the process serves requests
//   - /ready: runs the health registry, 503 when a check is unhealthy
//   - /metrics: Prometheus exposition
//   - /version: build metadata
type ManagementServer struct {
	*Server
	engine          *gin.Engine
	liveness        health.Checker
	healthRegistry  *health.Registry
	metricsRegistry *metrics.Registry
	info            version.Info
}

// NewManagementServer wires the management endpoints. metricsRegistry may be
// nil when metrics are disabled; /metrics then answers 404.
func NewManagementServer(
	cfg config.ManagementConfig,
	log logger.Logger,
	healthRegistry *health.Registry,
	metricsRegistry *metrics.Registry,
	info version.Info,
) *ManagementServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(
		requestid.RequestID(),
		logging.Logging(log),
		recovery.Recovery(log),
	)

	s := &ManagementServer{
		Server: NewServer("management", Config{
			Port:         cfg.Port,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		}, engine, log),
		engine:          engine,
		liveness:        health.NewPingChecker("liveness"),
		healthRegistry:  healthRegistry,
		metricsRegistry: metricsRegistry,
		info:            info,
	}

	engine.GET("/health", s.handleHealth)
	engine.GET("/ready", s.handleReady)
	engine.GET("/version", s.handleVersion)
	if metricsRegistry != nil {
		engine.GET("/metrics", gin.WrapH(metricsRegistry.Handler()))
	}
	return s
}

func (s *ManagementServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.liveness.Check(c.Request.Context()))
}

// Degraded checks keep the service ready; only unhealthy ones fail readiness.
func (s *ManagementServer) handleReady(c *gin.Context) {
	result := s.healthRegistry.Check(c.Request.Context())
	if result.Status == health.StatusUnhealthy {
		c.JSON(http.StatusServiceUnavailable, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *ManagementServer) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, s.info)
}

// Engine returns the gin engine for registering extra admin routes.
func (s *ManagementServer) Engine() *gin.Engine {
	return s.engine
}
