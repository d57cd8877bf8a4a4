package server

import (
	"github.com/gin-gonic/gin"

	"github.com/nimburion/jobqueue/pkg/config"
	"github.com/nimburion/jobqueue/pkg/middleware/logging"
	"github.com/nimburion/jobqueue/pkg/middleware/recovery"
	"github.com/nimburion/jobqueue/pkg/middleware/requestid"
	"github.com/nimburion/jobqueue/pkg/middleware/tracing"
	"github.com/nimburion/jobqueue/pkg/observability/logger"
	"github.com/nimburion/jobqueue/pkg/observability/metrics"
	"github.com/nimburion/jobqueue/pkg/server/api"
)

// PublicAPIServer serves the job API. Middleware runs in this order:
// request id, tracing, metrics (when enabled), access log, panic recovery.
type PublicAPIServer struct {
	*Server
	engine *gin.Engine
}

// NewPublicAPIServer mounts the job routes for queue. metricsRegistry may be nil.
func NewPublicAPIServer(
	cfg config.HTTPConfig,
	log logger.Logger,
	queue api.Queue,
	metricsRegistry *metrics.Registry,
) *PublicAPIServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(requestid.RequestID(), tracing.Tracing(tracing.Config{TracerName: "jobqueue-http"}))
	if metricsRegistry != nil {
		engine.Use(metricsRegistry.Middleware())
	}
	engine.Use(logging.Logging(log), recovery.Recovery(log))

	api.NewHandler(queue, log, cfg.MaxRequestSize).Register(engine)

	return &PublicAPIServer{
		Server: NewServer("public", Config{
			Port:         cfg.Port,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		}, engine, log),
		engine: engine,
	}
}

// Engine returns the gin engine for registering extra routes.
func (s *PublicAPIServer) Engine() *gin.Engine {
	return s.engine
}
