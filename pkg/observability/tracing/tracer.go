// Package tracing wires OpenTelemetry tracing for the job queue.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const defaultShutdownTimeout = 10 * time.Second

// TracerProvider owns the SDK tracer provider and its exporter.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	config   TracerConfig
}

// TracerConfig holds configuration for the tracer provider.
type TracerConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is the OTLP gRPC collector address, for example "localhost:4317".
	Endpoint string
	// Insecure disables TLS towards the collector.
	Insecure bool
	// SampleRate is the fraction of root spans sampled, between 0 and 1.
	SampleRate float64
}

// Validate checks an enabled configuration.
func (c TracerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.Endpoint == "" {
		errs = append(errs, errors.New("OTLP endpoint is required"))
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		errs = append(errs, errors.New("sample rate must be between 0 and 1"))
	}
	return errors.Join(errs...)
}

// NewTracerProvider builds a provider exporting over OTLP gRPC and installs it
// as the global provider. When tracing is disabled the SDK provider has no
// exporter and is not installed, so spans stay no-ops.
func NewTracerProvider(ctx context.Context, cfg TracerConfig, opts ...sdktrace.TracerProviderOption) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{provider: sdktrace.NewTracerProvider(opts...), config: cfg}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(clientOpts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	providerOpts := append([]sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}, opts...)
	provider := sdktrace.NewTracerProvider(providerOpts...)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{provider: provider, config: cfg}, nil
}

// Tracer returns a tracer for the given instrumentation scope.
func (tp *TracerProvider) Tracer(name string) trace.Tracer {
	return tp.provider.Tracer(name)
}

// Enabled reports whether spans are exported.
func (tp *TracerProvider) Enabled() bool {
	return tp.config.Enabled
}

// Shutdown flushes pending spans and stops the exporter.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := tp.provider.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	return nil
}
