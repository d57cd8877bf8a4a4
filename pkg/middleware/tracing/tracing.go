// Package tracing starts a server span for every HTTP request and continues
// traces propagated by the caller.
package tracing

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/nimburion/jobqueue/pkg/middleware/requestid"
)

// Config controls span creation.
type Config struct {
	TracerName           string
	ExcludedPathPrefixes []string
}

// Tracing returns middleware that uses the global tracer provider and propagator.
func Tracing(cfg Config) gin.HandlerFunc {
	if cfg.TracerName == "" {
		cfg.TracerName = "http-server"
	}
	tracer := otel.Tracer(cfg.TracerName)

	return func(c *gin.Context) {
		req := c.Request
		for _, prefix := range cfg.ExcludedPathPrefixes {
			if prefix != "" && strings.HasPrefix(req.URL.Path, prefix) {
				c.Next()
				return
			}
		}

		ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracer.Start(ctx, fmt.Sprintf("%s %s", req.Method, route), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			semconv.HTTPMethod(req.Method),
			semconv.HTTPRoute(route),
			attribute.String("http.target", req.URL.Path),
			attribute.String("request.id", requestid.GetRequestID(ctx)),
		)

		c.Request = req.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(semconv.HTTPStatusCode(status))
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("http status %d", status))
		}
		if errs := c.Errors.ByType(gin.ErrorTypeAny); len(errs) > 0 {
			span.RecordError(errs.Last().Err)
		}
	}
}
