package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nimburion/jobqueue/pkg/observability/logger"
	"github.com/nimburion/jobqueue/pkg/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultConcurrency    = 1
	DefaultPollInterval   = time.Second
	DefaultErrorBackoff   = 5 * time.Second
	DefaultHandlerTimeout = 30 * time.Second
	DefaultStopTimeout    = 10 * time.Second
)

// ManagerConfig controls the dispatch loop.
type ManagerConfig struct {
	// Concurrency is the number of workers claiming from the store.
	Concurrency int
	// PollInterval bounds how long an idle worker waits before re-polling.
	PollInterval time.Duration
	// ErrorBackoff is the pause after a loop-level error.
	ErrorBackoff time.Duration
	// HandlerTimeout bounds one handler execution unless the job sets its own.
	HandlerTimeout time.Duration
	// StopTimeout is the grace period given to in-flight jobs on shutdown.
	StopTimeout time.Duration
	// DefaultMaxAttempts applies when EnqueueOptions.MaxAttempts is zero.
	DefaultMaxAttempts int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
}

func (c *ManagerConfig) normalize() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = DefaultHandlerTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.DefaultMaxAttempts <= 0 {
		c.DefaultMaxAttempts = DefaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
}

// ManagerDeps are the collaborators injected into a Manager.
// Policy and Logger are required; the rest have in-process defaults.
type ManagerDeps struct {
	Store    Store
	Policy   AdmissionPolicy
	Registry *Registry
	Metrics  MetricsSink
	Errors   ErrorSink
	Logger   logger.Logger
	Clock    func() time.Time
}

// EnqueueOptions tunes a single job.
type EnqueueOptions struct {
	Priority    Priority
	MaxAttempts int
	// Timeout overrides ManagerConfig.HandlerTimeout for this job.
	Timeout time.Duration
}

// Manager is the entry point of the queue: it admits jobs, stores them and
// runs the dispatch loop that executes them.
type Manager struct {
	store    Store
	policy   AdmissionPolicy
	registry *Registry
	stats    *StatsCollector
	metrics  MetricsSink
	errSink  ErrorSink
	log      logger.Logger
	now      func() time.Time
	config   ManagerConfig

	admitMu sync.Mutex
	wake    chan struct{}

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	// stopPending is set by a Stop that arrives before Run; the next Run
	// consumes it and shuts down at once.
	stopPending bool
}

// NewManager wires a manager from its dependencies.
func NewManager(deps ManagerDeps, cfg ManagerConfig) (*Manager, error) {
	if deps.Policy == nil {
		return nil, errors.New("admission policy is required")
	}
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()

	if deps.Store == nil {
		deps.Store = NewMemoryStore()
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry(deps.Logger)
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetricsSink{}
	}
	if deps.Errors == nil {
		deps.Errors = NopErrorSink{}
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &Manager{
		store:    deps.Store,
		policy:   deps.Policy,
		registry: deps.Registry,
		stats:    NewStatsCollector(),
		metrics:  deps.Metrics,
		errSink:  deps.Errors,
		log:      deps.Logger,
		now:      deps.Clock,
		config:   cfg,
		wake:     make(chan struct{}, 1),
	}, nil
}

// RegisterProcessor binds a handler to a job type.
func (m *Manager) RegisterProcessor(jobType string, handler Handler) error {
	return m.registry.Register(jobType, handler)
}

// Enqueue admits, stores and announces a new job and returns its id.
// A rejected job is never stored; the error is an *AdmissionError.
func (m *Manager) Enqueue(ctx context.Context, jobType string, payload []byte, opts EnqueueOptions) (string, error) {
	jobType = strings.TrimSpace(jobType)
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = m.config.DefaultMaxAttempts
	}
	if opts.MaxAttempts < 1 {
		return "", jobsError(ErrValidation, "max attempts must be >= 1")
	}
	if !opts.Priority.Valid() {
		return "", jobsError(ErrValidation, "priority is invalid")
	}
	if opts.Timeout < 0 {
		return "", jobsError(ErrValidation, "timeout must not be negative")
	}

	ctx, span := tracing.StartJobSpan(
		ctx,
		tracing.OperationEnqueue,
		tracing.WithJobType(jobType),
		tracing.WithPriority(opts.Priority.String()),
		tracing.WithPayloadSize(len(payload)),
	)
	defer span.End()

	// Admission, insert and rate accounting happen as one step so concurrent
	// callers cannot overshoot capacity or a rate window.
	m.admitMu.Lock()
	now := m.now()
	active, err := m.store.ActiveCount(ctx)
	if err != nil {
		m.admitMu.Unlock()
		tracing.RecordError(span, err)
		return "", fmt.Errorf("count active jobs: %w", err)
	}
	if err := m.policy.Admit(AdmissionRequest{
		JobType:    jobType,
		Payload:    payload,
		Options:    opts,
		ActiveJobs: active,
		Now:        now,
	}); err != nil {
		m.admitMu.Unlock()
		tracing.RecordError(span, err)
		m.trackRejection(ctx, jobType, err)
		return "", err
	}

	job := &Job{
		ID:          NewJobID(now),
		Type:        jobType,
		Payload:     cloneBytes(payload),
		Status:      StatusPending,
		Priority:    opts.Priority,
		MaxAttempts: opts.MaxAttempts,
		Timeout:     opts.Timeout,
		CreatedAt:   now,
	}
	if err := m.store.Add(ctx, job); err != nil {
		m.admitMu.Unlock()
		tracing.RecordError(span, err)
		return "", fmt.Errorf("store job: %w", err)
	}
	m.policy.Record(jobType, now)
	m.admitMu.Unlock()

	m.stats.Record(EventEnqueue)
	span.SetAttributes(attribute.String("messaging.message.id", job.ID))
	m.trackMetric(ctx, EventEnqueue, job, 0)
	m.log.Debug("jobs enqueued", "job_id", job.ID, "job_type", job.Type, "priority", job.Priority.String())
	m.signal()
	tracing.RecordSuccess(span)
	return job.ID, nil
}

// Get returns the current state of a job.
func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	return m.store.Get(ctx, id)
}

// List returns stored jobs, optionally filtered by status.
func (m *Manager) List(ctx context.Context, status Status, limit int) ([]*Job, error) {
	return m.store.List(ctx, status, limit)
}

// Stats returns the aggregate counters.
func (m *Manager) Stats() Stats {
	return m.stats.Snapshot()
}

// Running reports whether the dispatch loop is active.
func (m *Manager) Running() bool {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	return m.running
}

// HealthCheck fails when the dispatch loop is not running.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if !m.Running() {
		return errors.New("jobs dispatch loop is not running")
	}
	if _, err := m.store.ActiveCount(ctx); err != nil {
		return fmt.Errorf("jobs store unavailable: %w", err)
	}
	return nil
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) trackMetric(ctx context.Context, event Event, job *Job, duration time.Duration) {
	data := MetricEvent{
		JobID:     job.ID,
		JobType:   job.Type,
		Status:    job.Status,
		Attempt:   job.Attempts,
		Duration:  duration,
		Timestamp: m.now(),
	}
	err := safeTrack(func() error { return m.metrics.Track(ctx, event, data) })
	if err != nil {
		m.log.Warn("jobs metrics sink failed", "event", string(event), "job_id", job.ID, "error", err)
	}
}

func (m *Manager) trackError(ctx context.Context, failure error, fields map[string]any) {
	err := safeTrack(func() error { return m.errSink.Track(ctx, failure, fields) })
	if err != nil {
		m.log.Warn("jobs error sink failed", "failure", failure, "error", err)
	}
}

func (m *Manager) trackRejection(ctx context.Context, jobType string, failure error) {
	reason, _ := AdmissionReasonOf(failure)
	if tracker, ok := m.metrics.(rejectionTracker); ok {
		tracker.TrackRejection(jobType, reason)
	}
	m.log.Debug("jobs admission rejected", "job_type", jobType, "reason", string(reason))
	m.trackError(ctx, failure, map[string]any{
		"stage":    "admission",
		"job_type": jobType,
		"reason":   string(reason),
	})
}

// safeTrack runs a sink call and turns a panic into an error.
func safeTrack(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sink panic: %v", rec)
		}
	}()
	return fn()
}
