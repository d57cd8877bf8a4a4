package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nimburion/jobqueue/pkg/config"
	"github.com/nimburion/jobqueue/pkg/health"
	"github.com/nimburion/jobqueue/pkg/jobs"
	"github.com/nimburion/jobqueue/pkg/observability/logger"
	"github.com/nimburion/jobqueue/pkg/observability/metrics"
	"github.com/nimburion/jobqueue/pkg/observability/tracing"
	"github.com/nimburion/jobqueue/pkg/server"
	"github.com/nimburion/jobqueue/pkg/version"
)

// rejectionLogBurst is how many admission rejections are logged before
// logging drops to one line per second.
const rejectionLogBurst = 10

// Runtime is everything Serve starts, assembled from configuration.
type Runtime struct {
	Manager    *jobs.Manager
	Health     *health.Registry
	Metrics    *metrics.Registry
	Tracer     *tracing.TracerProvider
	Public     *server.PublicAPIServer
	Management *server.ManagementServer
}

// NewRuntime wires the queue and its servers without starting anything.
func NewRuntime(ctx context.Context, cfg *config.Config, log logger.Logger, register HandlerRegistrar) (*Runtime, error) {
	if register == nil {
		return nil, errors.New("no job handlers configured")
	}
	info := version.Current(cfg.Service.Name)

	tracer, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Service.Name,
		ServiceVersion: info.Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}

	sinks := jobs.MultiMetricsSink{jobs.LogMetricsSink{
		Log:    log,
		Sample: &rate.Sometimes{First: rejectionLogBurst, Interval: time.Second},
	}}
	var metricsRegistry *metrics.Registry
	if cfg.Metrics.Enabled {
		metricsRegistry = metrics.NewRegistry(cfg.Metrics.Namespace)
		promSink := jobs.NewPrometheusSink(cfg.Metrics.Namespace)
		for _, collector := range promSink.Collectors() {
			if err := metricsRegistry.Register(collector); err != nil {
				return nil, fmt.Errorf("register job metrics: %w", err)
			}
		}
		sinks = append(sinks, promSink)
	}

	policy, err := jobs.NewPolicy(policyConfig(cfg.Queue))
	if err != nil {
		return nil, fmt.Errorf("create admission policy: %w", err)
	}

	manager, err := jobs.NewManager(jobs.ManagerDeps{
		Policy:  policy,
		Metrics: sinks,
		Errors:  jobs.LogErrorSink{Log: log},
		Logger:  log,
	}, managerConfig(cfg.Queue))
	if err != nil {
		return nil, fmt.Errorf("create job manager: %w", err)
	}
	if err := register(cfg, log, manager); err != nil {
		return nil, fmt.Errorf("register job handlers: %w", err)
	}

	healthRegistry := health.NewRegistry()
	healthRegistry.Register(jobs.NewManagerHealthChecker("", manager, 0))
	healthRegistry.Register(jobs.NewBacklogHealthChecker(manager, cfg.Queue.Capacity, cfg.Queue.BacklogThreshold))

	rt := &Runtime{
		Manager: manager,
		Health:  healthRegistry,
		Metrics: metricsRegistry,
		Tracer:  tracer,
	}
	if cfg.HTTP.Enabled {
		rt.Public = server.NewPublicAPIServer(cfg.HTTP, log, manager, metricsRegistry)
	}
	if cfg.Management.Enabled {
		rt.Management = server.NewManagementServer(cfg.Management, log, healthRegistry, metricsRegistry, info)
	}
	return rt, nil
}

// Run starts the dispatch loop and the servers and blocks until ctx is
// cancelled or one of them fails. The dispatch loop drains before the
// tracer flushes.
func (rt *Runtime) Run(ctx context.Context, log logger.Logger) error {
	defer func() {
		if err := rt.Tracer.Shutdown(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return rt.Manager.Run(groupCtx)
	})
	if rt.Public != nil {
		group.Go(func() error { return rt.Public.Start(groupCtx) })
	}
	if rt.Management != nil {
		group.Go(func() error { return rt.Management.Start(groupCtx) })
	}

	err := group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("jobqueue stopped", "stats", rt.Manager.Stats())
	return nil
}

// Serve builds a Runtime from cfg and runs it.
func Serve(ctx context.Context, cfg *config.Config, log logger.Logger, register HandlerRegistrar) error {
	rt, err := NewRuntime(ctx, cfg, log, register)
	if err != nil {
		return err
	}
	log.Info("starting jobqueue", version.Current(cfg.Service.Name).LogFields()...)
	return rt.Run(ctx, log)
}

func policyConfig(q config.QueueConfig) jobs.PolicyConfig {
	limits := make(map[string]jobs.RateLimit, len(q.RateLimits))
	for jobType, limit := range q.RateLimits {
		limits[jobType] = jobs.RateLimit{Limit: limit.Limit, Window: limit.Window}
	}
	return jobs.PolicyConfig{
		AllowedTypes:     q.AllowedTypes,
		Capacity:         q.Capacity,
		RateLimits:       limits,
		DefaultRateLimit: jobs.RateLimit{Limit: q.DefaultRateLimit.Limit, Window: q.DefaultRateLimit.Window},
	}
}

func managerConfig(q config.QueueConfig) jobs.ManagerConfig {
	return jobs.ManagerConfig{
		Concurrency:        q.Concurrency,
		PollInterval:       q.PollInterval,
		ErrorBackoff:       q.ErrorBackoff,
		HandlerTimeout:     q.HandlerTimeout,
		StopTimeout:        q.StopTimeout,
		DefaultMaxAttempts: q.DefaultMaxAttempts,
		InitialBackoff:     q.InitialBackoff,
		MaxBackoff:         q.MaxBackoff,
	}
}

