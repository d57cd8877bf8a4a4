package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/nimburion/jobqueue/pkg/middleware/requestid"
	"github.com/nimburion/jobqueue/pkg/observability/logger"
)

type entry struct {
	level  string
	msg    string
	fields map[string]any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []entry
}

func (l *recordingLogger) record(level, msg string, args []any) {
	fields := map[string]any{}
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			fields[key] = args[i+1]
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry{level: level, msg: msg, fields: fields})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any) { l.record("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any) { l.record("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record("error", msg, args) }
func (l *recordingLogger) With(...any) logger.Logger { return l }
func (l *recordingLogger) WithContext(context.Context) logger.Logger { return l }

func newEngine(log logger.Logger, cfg Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(requestid.RequestID(), LoggingWithConfig(log, cfg))
	engine.GET("/jobs/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	engine.GET("/broken", func(c *gin.Context) {
		_ = c.Error(context.DeadlineExceeded)
		c.Status(http.StatusServiceUnavailable)
	})
	engine.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	return engine
}

func TestLoggingLevelsByStatus(t *testing.T) {
	log := &recordingLogger{}
	engine := newEngine(log, DefaultConfig())

	for _, path := range []string{"/jobs/abc", "/missing", "/broken"} {
		engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if len(log.entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(log.entries))
	}
	wantLevels := []string{"info", "warn", "error"}
	for i, want := range wantLevels {
		if log.entries[i].level != want {
			t.Fatalf("entry %d: expected level %s, got %s", i, want, log.entries[i].level)
		}
	}

	first := log.entries[0].fields
	if first[FieldRoute] != "/jobs/:id" || first[FieldPath] != "/jobs/abc" || first[FieldStatus] != http.StatusOK {
		t.Fatalf("unexpected fields %v", first)
	}
	if first[FieldRequestID] == "" {
		t.Fatal("expected request id field")
	}
	if _, ok := log.entries[2].fields[FieldError]; !ok {
		t.Fatalf("expected error field on failed request, got %v", log.entries[2].fields)
	}
}

func TestLoggingSkipsExcludedPaths(t *testing.T) {
	log := &recordingLogger{}
	engine := newEngine(log, DefaultConfig())

	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if len(log.entries) != 0 {
		t.Fatalf("expected no entries, got %v", log.entries)
	}
}

func TestLoggingDisabled(t *testing.T) {
	log := &recordingLogger{}
	engine := newEngine(log, Config{Enabled: false})

	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/jobs/abc", nil))

	if len(log.entries) != 0 {
		t.Fatalf("expected no entries, got %v", log.entries)
	}
}
