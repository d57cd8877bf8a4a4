package jobs

import (
	"context"
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink is a MetricsSink that keeps job counters, an in-flight gauge
// and a handler duration histogram. Register it with a prometheus registry
// through Collectors.
type PrometheusSink struct {
	enqueued   *prometheus.CounterVec
	processed  *prometheus.CounterVec
	retries    *prometheus.CounterVec
	rejections *prometheus.CounterVec
	inFlight   prometheus.Gauge
	duration   *prometheus.HistogramVec
}

// NewPrometheusSink creates the job collectors under the given namespace.
func NewPrometheusSink(namespace string) *PrometheusSink {
	namespace = normalizeMetricLabel(namespace, "jobqueue")
	return &PrometheusSink{
		enqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_enqueued_total",
				Help:      "Total number of jobs enqueued",
			},
			[]string{"job_type"},
		),
		processed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_processed_total",
				Help:      "Total number of job executions by outcome",
			},
			[]string{"job_type", "status"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_retry_total",
				Help:      "Total number of job retries scheduled",
			},
			[]string{"job_type"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_admission_rejected_total",
				Help:      "Total number of enqueue requests rejected by admission policy",
			},
			[]string{"job_type", "reason"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_inflight",
				Help:      "Current number of jobs being processed",
			},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "jobs_handler_duration_seconds",
				Help:      "Handler execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"job_type", "status"},
		),
	}
}

// Collectors returns every collector owned by the sink.
func (s *PrometheusSink) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.enqueued, s.processed, s.retries, s.rejections, s.inFlight, s.duration}
}

// Track implements MetricsSink.
func (s *PrometheusSink) Track(_ context.Context, event Event, data MetricEvent) error {
	jobType := normalizeMetricLabel(data.JobType, "unknown")
	switch event {
	case EventEnqueue:
		s.enqueued.WithLabelValues(jobType).Inc()
	case EventComplete:
		s.observeFinished(jobType, "success", data)
	case EventRetry:
		s.retries.WithLabelValues(jobType).Inc()
		s.observeFinished(jobType, "retry", data)
	case EventFail:
		s.observeFinished(jobType, "failed", data)
	default:
		return errors.New("unknown jobs event " + string(event))
	}
	return nil
}

// TrackRejection counts an admission rejection.
func (s *PrometheusSink) TrackRejection(jobType string, reason AdmissionReason) {
	s.rejections.WithLabelValues(
		normalizeMetricLabel(jobType, "unknown"),
		normalizeMetricLabel(string(reason), "unknown"),
	).Inc()
}

// IncrementInFlight marks the start of a handler execution.
func (s *PrometheusSink) IncrementInFlight() { s.inFlight.Inc() }

// DecrementInFlight marks the end of a handler execution.
func (s *PrometheusSink) DecrementInFlight() { s.inFlight.Dec() }

func (s *PrometheusSink) observeFinished(jobType, status string, data MetricEvent) {
	s.processed.WithLabelValues(jobType, status).Inc()
	if data.Duration > 0 {
		s.duration.WithLabelValues(jobType, status).Observe(data.Duration.Seconds())
	}
}

// rejectionTracker and inFlightTracker are optional MetricsSink extensions.
type rejectionTracker interface {
	TrackRejection(jobType string, reason AdmissionReason)
}

type inFlightTracker interface {
	IncrementInFlight()
	DecrementInFlight()
}

func normalizeMetricLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
