package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer name used for queue spans.
const InstrumentationName = "github.com/nimburion/jobqueue/pkg/jobs"

// messagingSystem is reported as messaging.system on every job span.
const messagingSystem = "jobqueue"

// JobOperation names a traced step of the job lifecycle.
type JobOperation string

// Job span operations
const (
	// OperationEnqueue covers admission and insertion of a job.
	OperationEnqueue JobOperation = "enqueue"
	// OperationProcess covers one handler execution.
	OperationProcess JobOperation = "process"
)

// StartJobSpan starts a span for a job operation. Enqueue spans are producer
// spans, process spans are consumer spans.
func StartJobSpan(ctx context.Context, operation JobOperation, opts ...JobSpanOption) (context.Context, trace.Span) {
	spanOpts := &jobSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("messaging.system", messagingSystem),
			attribute.String("messaging.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("jobs %s", operation)
	if spanOpts.jobType != "" {
		spanName = fmt.Sprintf("jobs %s %s", operation, spanOpts.jobType)
	}

	kind := trace.SpanKindInternal
	switch operation {
	case OperationEnqueue:
		kind = trace.SpanKindProducer
	case OperationProcess:
		kind = trace.SpanKindConsumer
	}

	ctx, span := otel.Tracer(InstrumentationName).Start(ctx, spanName, trace.WithSpanKind(kind))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// JobSpanOption configures a job span.
type JobSpanOption func(*jobSpanOptions)

type jobSpanOptions struct {
	jobType    string
	attributes []attribute.KeyValue
}

// WithJobType sets the job type, used as the messaging destination.
func WithJobType(jobType string) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.jobType = jobType
		opts.attributes = append(opts.attributes, attribute.String("messaging.destination.name", jobType))
	}
}

// WithJobID sets the job id.
func WithJobID(id string) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("messaging.message.id", id))
	}
}

// WithPayloadSize sets the payload size in bytes.
func WithPayloadSize(size int) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("messaging.message.body.size", size))
	}
}

// WithAttempt sets the attempt counters of the job being processed.
func WithAttempt(attempts, maxAttempts int) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes,
			attribute.Int("jobs.attempts", attempts),
			attribute.Int("jobs.max_attempts", maxAttempts),
		)
	}
}

// WithPriority sets the job priority name.
func WithPriority(priority string) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("jobs.priority", priority))
	}
}

// RecordError marks the span as failed.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
