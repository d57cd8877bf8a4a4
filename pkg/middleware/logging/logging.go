// Package logging writes one structured access log entry per HTTP request.
package logging

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nimburion/jobqueue/pkg/middleware/requestid"
	"github.com/nimburion/jobqueue/pkg/observability/logger"
)

// Log entry field names.
const (
	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldRoute      = "route"
	FieldStatus     = "status"
	FieldDurationMS = "duration_ms"
	FieldRemoteAddr = "remote_addr"
	FieldError      = "error"
)

// Config controls which requests are logged.
type Config struct {
	Enabled bool
	// ExcludedPathPrefixes are skipped entirely, typically probes and scrapes.
	ExcludedPathPrefixes []string
}

// DefaultConfig logs everything except the liveness and metrics endpoints.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		ExcludedPathPrefixes: []string{"/health", "/metrics"},
	}
}

// Logging logs requests with DefaultConfig.
func Logging(log logger.Logger) gin.HandlerFunc {
	return LoggingWithConfig(log, DefaultConfig())
}

// LoggingWithConfig logs each completed request. Server errors are logged at
// error level, client errors at warn and everything else at info.
func LoggingWithConfig(log logger.Logger, cfg Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled || excluded(cfg.ExcludedPathPrefixes, c.Request.URL.Path) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		args := []any{
			FieldRequestID, requestid.GetRequestID(c.Request.Context()),
			FieldMethod, c.Request.Method,
			FieldPath, c.Request.URL.Path,
			FieldRoute, c.FullPath(),
			FieldStatus, status,
			FieldDurationMS, time.Since(start).Milliseconds(),
			FieldRemoteAddr, c.ClientIP(),
		}
		if errs := c.Errors.ByType(gin.ErrorTypeAny); len(errs) > 0 {
			args = append(args, FieldError, errs.String())
		}

		entry := log.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			entry.Error("http request", args...)
		case status >= 400:
			entry.Warn("http request", args...)
		default:
			entry.Info("http request", args...)
		}
	}
}

func excluded(prefixes []string, path string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
