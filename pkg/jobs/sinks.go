package jobs

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/nimburion/jobqueue/pkg/observability/logger"
)

// MetricEvent describes one lifecycle event sent to a MetricsSink.
type MetricEvent struct {
	JobID     string
	JobType   string
	Status    Status
	Attempt   int
	Duration  time.Duration
	Timestamp time.Time
}

// MetricsSink receives lifecycle events. Calls are fire-and-forget: the
// manager logs a returned error and carries on.
type MetricsSink interface {
	Track(ctx context.Context, event Event, data MetricEvent) error
}

// ErrorSink receives errors raised by admission, handlers and the dispatch loop.
// Like MetricsSink, a returned error is logged and otherwise ignored.
type ErrorSink interface {
	Track(ctx context.Context, err error, fields map[string]any) error
}

// MetricsSinkFunc adapts a function to MetricsSink.
type MetricsSinkFunc func(ctx context.Context, event Event, data MetricEvent) error

// Track implements MetricsSink.
func (f MetricsSinkFunc) Track(ctx context.Context, event Event, data MetricEvent) error {
	return f(ctx, event, data)
}

// ErrorSinkFunc adapts a function to ErrorSink.
type ErrorSinkFunc func(ctx context.Context, err error, fields map[string]any) error

// Track implements ErrorSink.
func (f ErrorSinkFunc) Track(ctx context.Context, err error, fields map[string]any) error {
	return f(ctx, err, fields)
}

// NopMetricsSink discards every event.
type NopMetricsSink struct{}

// Track implements MetricsSink.
func (NopMetricsSink) Track(context.Context, Event, MetricEvent) error { return nil }

// NopErrorSink discards every error.
type NopErrorSink struct{}

// Track implements ErrorSink.
func (NopErrorSink) Track(context.Context, error, map[string]any) error { return nil }

// MultiMetricsSink fans an event out to several sinks and joins their errors.
type MultiMetricsSink []MetricsSink

// Track implements MetricsSink.
func (m MultiMetricsSink) Track(ctx context.Context, event Event, data MetricEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Track(ctx, event, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogMetricsSink writes lifecycle events at debug level and admission
// rejections at warn level. Sample, when set, limits how often rejections are
// logged; a burst of rejected enqueues then yields a few lines, not one each.
type LogMetricsSink struct {
	Log    logger.Logger
	Sample *rate.Sometimes
}

// Track implements MetricsSink.
func (s LogMetricsSink) Track(ctx context.Context, event Event, data MetricEvent) error {
	if s.Log == nil {
		return nil
	}
	s.Log.WithContext(ctx).Debug("jobs event",
		"event", string(event),
		"job_id", data.JobID,
		"job_type", data.JobType,
		"status", string(data.Status),
		"attempt", data.Attempt,
		"duration_ms", data.Duration.Milliseconds(),
	)
	return nil
}

// TrackRejection implements the rejection extension of MetricsSink.
func (s LogMetricsSink) TrackRejection(jobType string, reason AdmissionReason) {
	if s.Log == nil {
		return
	}
	write := func() {
		s.Log.Warn("jobs admission rejected", "job_type", jobType, "reason", string(reason))
	}
	if s.Sample == nil {
		write()
		return
	}
	s.Sample.Do(write)
}

// LogErrorSink writes tracked errors at error level with their context fields.
type LogErrorSink struct {
	Log logger.Logger
}

// Track implements ErrorSink.
func (s LogErrorSink) Track(ctx context.Context, err error, fields map[string]any) error {
	if s.Log == nil || err == nil {
		return nil
	}
	args := make([]any, 0, 2*len(fields)+2)
	args = append(args, "error", err)
	for key, value := range fields {
		args = append(args, key, value)
	}
	s.Log.WithContext(ctx).Error("jobs error", args...)
	return nil
}

// TrackRejection forwards to every sink that counts admission rejections.
func (m MultiMetricsSink) TrackRejection(jobType string, reason AdmissionReason) {
	for _, sink := range m {
		if tracker, ok := sink.(rejectionTracker); ok {
			tracker.TrackRejection(jobType, reason)
		}
	}
}

// IncrementInFlight forwards to every sink that tracks in-flight jobs.
func (m MultiMetricsSink) IncrementInFlight() {
	for _, sink := range m {
		if tracker, ok := sink.(inFlightTracker); ok {
			tracker.IncrementInFlight()
		}
	}
}

// DecrementInFlight forwards to every sink that tracks in-flight jobs.
func (m MultiMetricsSink) DecrementInFlight() {
	for _, sink := range m {
		if tracker, ok := sink.(inFlightTracker); ok {
			tracker.DecrementInFlight()
		}
	}
}
