package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	previousPropagator := otel.GetTextMapPropagator()
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		otel.SetTextMapPropagator(previousPropagator)
	})
	return recorder
}

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(Tracing(Config{ExcludedPathPrefixes: []string{"/metrics"}}))
	engine.GET("/jobs/:id", func(c *gin.Context) {
		if !trace.SpanContextFromContext(c.Request.Context()).IsValid() {
			c.Status(http.StatusTeapot)
			return
		}
		c.Status(http.StatusOK)
	})
	engine.GET("/fail", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	engine.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })
	return engine
}

func attr(span sdktrace.ReadOnlySpan, key attribute.Key) attribute.Value {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestTracingCreatesServerSpan(t *testing.T) {
	recorder := installRecorder(t)
	engine := newEngine()

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/42", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected span in handler context, got status %d", rec.Code)
	}
	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "GET /jobs/:id" {
		t.Fatalf("unexpected span name %q", span.Name())
	}
	if span.SpanKind() != trace.SpanKindServer {
		t.Fatalf("expected server span, got %v", span.SpanKind())
	}
	if got := attr(span, "http.status_code").AsInt64(); got != http.StatusOK {
		t.Fatalf("expected status attribute 200, got %d", got)
	}
}

func TestTracingContinuesRemoteParent(t *testing.T) {
	recorder := installRecorder(t)
	engine := newEngine()

	req := httptest.NewRequest(http.MethodGet, "/jobs/42", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	engine.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].SpanContext().TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected propagated trace id, got %s", got)
	}
}

func TestTracingMarksServerErrors(t *testing.T) {
	recorder := installRecorder(t)
	engine := newEngine()

	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))
	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected excluded path to produce no span, got %d spans", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", spans[0].Status())
	}
}
