package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nimburion/jobqueue/pkg/observability/logger"
	"github.com/nimburion/jobqueue/pkg/observability/tracing"
	"github.com/nimburion/jobqueue/pkg/resilience"
)

const abandonedReason = "released after shutdown while processing"

// Run starts the dispatch loop and blocks until ctx is cancelled or Stop is called.
// On shutdown workers stop claiming jobs, in-flight handlers get StopTimeout to
// finish, then their context is cancelled. Jobs still marked processing
// afterwards are released back to pending.
func (m *Manager) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	m.lifecycleMu.Lock()
	if m.running {
		m.lifecycleMu.Unlock()
		return jobsError(ErrConflict, "manager already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.running = true
	m.cancel = cancel
	m.done = done
	if m.stopPending {
		m.stopPending = false
		cancel()
	}
	m.lifecycleMu.Unlock()

	defer func() {
		m.lifecycleMu.Lock()
		m.running = false
		m.cancel = nil
		m.lifecycleMu.Unlock()
		close(done)
	}()

	// Handlers outlive loopCtx by the stop grace period.
	execCtx, cancelExec := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelExec()

	m.log.Info("jobs dispatch loop started", "concurrency", m.config.Concurrency)

	var wg sync.WaitGroup
	for idx := 0; idx < m.config.Concurrency; idx++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			m.runWorker(loopCtx, execCtx, worker)
		}(idx)
	}

	<-loopCtx.Done()
	m.log.Info("jobs dispatch loop stopping", "grace", m.config.StopTimeout)

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	grace := time.NewTimer(m.config.StopTimeout)
	defer grace.Stop()
	select {
	case <-waitCh:
	case <-grace.C:
		m.log.Warn("jobs stop timeout reached, cancelling in-flight handlers")
		cancelExec()
		<-waitCh
	}

	released, err := m.store.ReleaseProcessing(context.WithoutCancel(ctx), abandonedReason, m.now())
	if err != nil {
		m.log.Error("jobs release processing failed", "error", err)
		return fmt.Errorf("release processing jobs: %w", err)
	}
	if len(released) > 0 {
		m.log.Warn("jobs released after shutdown", "job_ids", released)
	}
	m.log.Info("jobs dispatch loop stopped")
	return nil
}

// Stop cancels the dispatch loop and waits for Run to return. Called before
// Run, it is remembered: the next Run stops immediately.
func (m *Manager) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m.lifecycleMu.Lock()
	if !m.running {
		m.stopPending = true
		m.lifecycleMu.Unlock()
		return nil
	}
	cancel := m.cancel
	done := m.done
	m.lifecycleMu.Unlock()
	cancel()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// ProcessNext runs one dispatch cycle: claim the next eligible job, execute it
// and record the outcome. It reports whether a job was processed.
func (m *Manager) ProcessNext(ctx context.Context) (bool, error) {
	return m.dispatchOnce(ctx, ctx)
}

func (m *Manager) runWorker(ctx, execCtx context.Context, worker int) {
	idle := time.NewTimer(m.config.PollInterval)
	defer idle.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := m.dispatchOnce(ctx, execCtx)
		if err != nil {
			m.log.Error("jobs dispatch failed", "worker", worker, "error", err)
			m.trackError(ctx, err, map[string]any{"stage": "dispatch", "worker": worker})
			if !sleepContext(ctx, m.config.ErrorBackoff) {
				return
			}
			continue
		}
		if processed {
			continue
		}

		resetTimer(idle, m.config.PollInterval)
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-idle.C:
		}
	}
}

func (m *Manager) dispatchOnce(claimCtx, execCtx context.Context) (processed bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in dispatch loop: %v; stack=%s", rec, string(debug.Stack()))
		}
	}()

	job, err := m.store.Claim(claimCtx, m.now())
	if err != nil {
		return false, fmt.Errorf("claim next job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	return true, m.execute(execCtx, job)
}

func (m *Manager) execute(ctx context.Context, job *Job) error {
	traceCtx, span := tracing.StartJobSpan(
		logger.ContextWithJobID(ctx, job.ID),
		tracing.OperationProcess,
		tracing.WithJobType(job.Type),
		tracing.WithJobID(job.ID),
		tracing.WithPriority(job.Priority.String()),
		tracing.WithAttempt(job.Attempts, job.MaxAttempts),
		tracing.WithPayloadSize(len(job.Payload)),
	)
	defer span.End()

	if tracker, ok := m.metrics.(inFlightTracker); ok {
		tracker.IncrementInFlight()
		defer tracker.DecrementInFlight()
	}

	started := time.Now()
	result, execErr := m.executeHandler(traceCtx, job)
	duration := time.Since(started)

	if execErr != nil {
		tracing.RecordError(span, execErr)
		return m.handleFailure(traceCtx, job, execErr, duration)
	}

	job.Status = StatusCompleted
	job.CompletedAt = m.now()
	job.NextAttempt = time.Time{}
	job.Result = result
	if err := m.store.Update(traceCtx, job); err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("update completed job %s: %w", job.ID, err)
	}
	m.stats.Record(EventComplete)
	m.trackMetric(traceCtx, EventComplete, job, duration)
	m.log.WithContext(traceCtx).Debug("jobs completed", "job_id", job.ID, "job_type", job.Type, "duration", duration)
	tracing.RecordSuccess(span)
	return nil
}

func (m *Manager) executeHandler(ctx context.Context, job *Job) ([]byte, error) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = m.config.HandlerTimeout
	}

	return resilience.Call(ctx, timeout, func(runCtx context.Context) (result []byte, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic while handling job: %v; stack=%s", rec, string(debug.Stack()))
			}
		}()
		return m.registry.Process(runCtx, job)
	})
}

// handleFailure records one failed attempt and either schedules a retry or
// fails the job for good. Unregistered types fail immediately.
func (m *Manager) handleFailure(ctx context.Context, job *Job, failure error, duration time.Duration) error {
	now := m.now()
	job.Attempts++
	job.LastError = failure.Error()

	fields := map[string]any{
		"stage":        "handler",
		"job_id":       job.ID,
		"job_type":     job.Type,
		"attempt":      job.Attempts,
		"max_attempts": job.MaxAttempts,
	}

	if errors.Is(failure, ErrUnregisteredType) || job.Attempts >= job.MaxAttempts {
		job.Status = StatusFailed
		job.CompletedAt = now
		job.NextAttempt = time.Time{}
		if err := m.store.Update(ctx, job); err != nil {
			return fmt.Errorf("update failed job %s: %w", job.ID, err)
		}
		m.stats.Record(EventFail)
		m.trackMetric(ctx, EventFail, job, duration)
		fields["terminal"] = true
		m.trackError(ctx, failure, fields)
		m.log.Warn("jobs failed", "job_id", job.ID, "job_type", job.Type, "attempts", job.Attempts, "error", failure)
		return nil
	}

	delay := exponentialBackoff(job.Attempts, m.config.InitialBackoff, m.config.MaxBackoff)
	job.Status = StatusPending
	job.NextAttempt = now.Add(delay)
	if err := m.store.Update(ctx, job); err != nil {
		return fmt.Errorf("update retried job %s: %w", job.ID, err)
	}
	m.stats.Record(EventRetry)
	m.trackMetric(ctx, EventRetry, job, duration)
	fields["terminal"] = false
	fields["next_attempt"] = job.NextAttempt
	m.trackError(ctx, failure, fields)
	m.log.Info("jobs retry scheduled", "job_id", job.ID, "job_type", job.Type, "attempt", job.Attempts, "backoff", delay)
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}
