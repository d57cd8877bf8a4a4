package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"
)

func TestMultiMetricsSink(t *testing.T) {
	first := &captureMetricsSink{}
	second := &captureMetricsSink{}
	failing := MetricsSinkFunc(func(context.Context, Event, MetricEvent) error {
		return errors.New("sink down")
	})
	multi := MultiMetricsSink{first, nil, failing, second}

	err := multi.Track(context.Background(), EventEnqueue, MetricEvent{JobType: "email"})
	if err == nil || err.Error() != "sink down" {
		t.Fatalf("expected joined sink error, got %v", err)
	}
	if first.count(EventEnqueue) != 1 || second.count(EventEnqueue) != 1 {
		t.Fatal("every sink should receive the event")
	}
}

func TestPrometheusSink(t *testing.T) {
	sink := NewPrometheusSink("")
	registry := prometheus.NewRegistry()
	for _, collector := range sink.Collectors() {
		if err := registry.Register(collector); err != nil {
			t.Fatalf("register collector: %v", err)
		}
	}

	ctx := context.Background()
	_ = sink.Track(ctx, EventEnqueue, MetricEvent{JobType: "email"})
	_ = sink.Track(ctx, EventEnqueue, MetricEvent{JobType: "email"})
	_ = sink.Track(ctx, EventRetry, MetricEvent{JobType: "email", Duration: time.Millisecond})
	_ = sink.Track(ctx, EventComplete, MetricEvent{JobType: "email", Duration: 2 * time.Millisecond})
	_ = sink.Track(ctx, EventFail, MetricEvent{JobType: ""})
	if err := sink.Track(ctx, Event("bogus"), MetricEvent{}); err == nil {
		t.Fatal("expected error for unknown event")
	}

	if got := testutil.ToFloat64(sink.enqueued.WithLabelValues("email")); got != 2 {
		t.Fatalf("expected 2 enqueued, got %v", got)
	}
	if got := testutil.ToFloat64(sink.retries.WithLabelValues("email")); got != 1 {
		t.Fatalf("expected 1 retry, got %v", got)
	}
	if got := testutil.ToFloat64(sink.processed.WithLabelValues("email", "success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(sink.processed.WithLabelValues("unknown", "failed")); got != 1 {
		t.Fatalf("expected empty type to be labelled unknown, got %v", got)
	}

	sink.TrackRejection("sms", ReasonRateLimited)
	if got := testutil.ToFloat64(sink.rejections.WithLabelValues("sms", "rate_limited")); got != 1 {
		t.Fatalf("expected 1 rejection, got %v", got)
	}

	multi := MultiMetricsSink{sink}
	multi.IncrementInFlight()
	multi.IncrementInFlight()
	multi.DecrementInFlight()
	if got := testutil.ToFloat64(sink.inFlight); got != 1 {
		t.Fatalf("expected 1 in flight, got %v", got)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, family := range families {
		if family.GetName() == "jobqueue_jobs_handler_duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected duration histogram under the default namespace")
	}
}

func TestManager_PrometheusSinkCountsRejections(t *testing.T) {
	sink := NewPrometheusSink("test")
	policy, _ := NewPolicy(PolicyConfig{AllowedTypes: []string{"email"}})
	manager, _ := NewManager(ManagerDeps{Policy: policy, Logger: &managerTestLogger{}, Metrics: sink}, ManagerConfig{})

	_, _ = manager.Enqueue(context.Background(), "sms", nil, EnqueueOptions{})
	if got := testutil.ToFloat64(sink.rejections.WithLabelValues("sms", "unknown_type")); got != 1 {
		t.Fatalf("expected rejection counter, got %v", got)
	}
}

func TestLogSinks(t *testing.T) {
	log := &managerTestLogger{}
	if err := (LogMetricsSink{Log: log}).Track(context.Background(), EventComplete, MetricEvent{JobID: "a"}); err != nil {
		t.Fatalf("log metrics sink: %v", err)
	}
	if err := (LogErrorSink{Log: log}).Track(context.Background(), errors.New("boom"), map[string]any{"stage": "handler"}); err != nil {
		t.Fatalf("log error sink: %v", err)
	}
	if err := (LogErrorSink{}).Track(context.Background(), errors.New("boom"), nil); err != nil {
		t.Fatalf("nil logger should be ignored: %v", err)
	}
}

func TestLogMetricsSink_SampledRejections(t *testing.T) {
	log := &managerTestLogger{}
	sink := LogMetricsSink{Log: log, Sample: &rate.Sometimes{First: 2}}
	for idx := 0; idx < 50; idx++ {
		sink.TrackRejection("sms", ReasonUnknownType)
	}
	if got := len(log.warnings()); got != 2 {
		t.Fatalf("expected 2 sampled warnings, got %d", got)
	}

	unsampled := &managerTestLogger{}
	for idx := 0; idx < 5; idx++ {
		LogMetricsSink{Log: unsampled}.TrackRejection("sms", ReasonCapacity)
	}
	if got := len(unsampled.warnings()); got != 5 {
		t.Fatalf("expected every rejection logged without sampling, got %d", got)
	}
}
