package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nimburion/jobqueue/pkg/controller"
	"github.com/nimburion/jobqueue/pkg/jobs"
	"github.com/nimburion/jobqueue/pkg/middleware/requestid"
	"github.com/nimburion/jobqueue/pkg/observability/logger"
)

func newManager(t *testing.T, policy jobs.PolicyConfig) *jobs.Manager {
	t.Helper()
	p, err := jobs.NewPolicy(policy)
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	m, err := jobs.NewManager(jobs.ManagerDeps{Policy: p, Logger: logger.Nop()}, jobs.ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func newEngine(queue Queue, maxRequestSize int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(requestid.RequestID())
	NewHandler(queue, logger.Nop(), maxRequestSize).Register(engine)
	return engine
}

func do(engine http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestEnqueueAndGet(t *testing.T) {
	m := newManager(t, jobs.PolicyConfig{AllowedTypes: []string{"echo"}})
	engine := newEngine(m, 0)

	rec := do(engine, http.MethodPost, "/jobs", `{"type":"echo","payload":{"msg":"hi"},"priority":"high","max_attempts":5,"timeout":"45s"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[EnqueueResponse](t, rec)
	if created.ID == "" || created.Status != jobs.StatusPending {
		t.Fatalf("unexpected response %+v", created)
	}
	if rec.Header().Get("Location") != "/jobs/"+created.ID {
		t.Fatalf("unexpected location %q", rec.Header().Get("Location"))
	}

	rec = do(engine, http.MethodGet, "/jobs/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	job := decode[jobs.Job](t, rec)
	if job.Type != "echo" || job.Priority != jobs.PriorityHigh || job.MaxAttempts != 5 || job.Timeout != 45*time.Second {
		t.Fatalf("unexpected job %+v", job)
	}
	if !bytes.Equal(job.Payload, []byte(`{"msg":"hi"}`)) {
		t.Fatalf("unexpected payload %s", job.Payload)
	}
}

func TestGetCompletedJobWithBinaryResult(t *testing.T) {
	m := newManager(t, jobs.PolicyConfig{AllowedTypes: []string{"thumbnail"}})
	if err := m.RegisterProcessor("thumbnail", func(context.Context, []byte) ([]byte, error) {
		return []byte("\x89PNG not json"), nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	engine := newEngine(m, 0)

	created := decode[EnqueueResponse](t, do(engine, http.MethodPost, "/jobs", `{"type":"thumbnail"}`))
	if processed, err := m.ProcessNext(context.Background()); !processed || err != nil {
		t.Fatalf("expected job processed, got %v err=%v", processed, err)
	}

	rec := do(engine, http.MethodGet, "/jobs/"+created.ID, "")
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		t.Fatalf("expected 200 with a body, got %d %q", rec.Code, rec.Body.String())
	}
	var body struct {
		Status jobs.Status `json:"status"`
		Result string      `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	if body.Status != jobs.StatusCompleted || body.Result != base64.StdEncoding.EncodeToString([]byte("\x89PNG not json")) {
		t.Fatalf("unexpected job %+v", body)
	}

	rec = do(engine, http.MethodGet, "/jobs?status=completed", "")
	if list := decode[ListResponse](t, rec); rec.Code != http.StatusOK || list.Count != 1 {
		t.Fatalf("expected the completed job listed, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestEnqueueRejections(t *testing.T) {
	m := newManager(t, jobs.PolicyConfig{AllowedTypes: []string{"echo"}, Capacity: 1})
	engine := newEngine(m, 0)

	if rec := do(engine, http.MethodPost, "/jobs", `{"type":"echo"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("expected first job admitted, got %d", rec.Code)
	}

	rec := do(engine, http.MethodPost, "/jobs", `{"type":"echo"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 at capacity, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if body := decode[controller.ErrorResponse](t, rec); body.Reason != string(jobs.ReasonCapacity) || body.RequestID == "" {
		t.Fatalf("unexpected body %+v", body)
	}

	rec = do(engine, http.MethodPost, "/jobs", `{"type":"resize"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown type, got %d", rec.Code)
	}
	if body := decode[controller.ErrorResponse](t, rec); body.Reason != string(jobs.ReasonUnknownType) {
		t.Fatalf("unexpected reason %q", body.Reason)
	}

	if got := m.Stats().Enqueued; got != 1 {
		t.Fatalf("expected rejected jobs not to count, got %d enqueued", got)
	}
}

func TestEnqueueRateLimited(t *testing.T) {
	m := newManager(t, jobs.PolicyConfig{
		AllowedTypes: []string{"email"},
		RateLimits:   map[string]jobs.RateLimit{"email": {Limit: 1, Window: time.Hour}},
	})
	engine := newEngine(m, 0)

	do(engine, http.MethodPost, "/jobs", `{"type":"email"}`)
	rec := do(engine, http.MethodPost, "/jobs", `{"type":"email"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if body := decode[controller.ErrorResponse](t, rec); body.Reason != string(jobs.ReasonRateLimited) {
		t.Fatalf("unexpected reason %q", body.Reason)
	}
}

func TestEnqueueBadRequests(t *testing.T) {
	m := newManager(t, jobs.PolicyConfig{AllowedTypes: []string{"echo"}})
	engine := newEngine(m, 64)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "not json", body: `nope`, status: http.StatusBadRequest},
		{name: "missing type", body: `{"payload":1}`, status: http.StatusBadRequest},
		{name: "bad priority", body: `{"type":"echo","priority":"urgent"}`, status: http.StatusBadRequest},
		{name: "bad timeout", body: `{"type":"echo","timeout":"soon"}`, status: http.StatusBadRequest},
		{name: "negative attempts", body: `{"type":"echo","max_attempts":-1}`, status: http.StatusBadRequest},
		{name: "too large", body: `{"type":"echo","payload":"` + strings.Repeat("x", 128) + `"}`, status: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(engine, http.MethodPost, "/jobs", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
	if got := m.Stats().Enqueued; got != 0 {
		t.Fatalf("expected nothing enqueued, got %d", got)
	}
}

func TestGetNotFound(t *testing.T) {
	engine := newEngine(newManager(t, jobs.PolicyConfig{AllowedTypes: []string{"echo"}}), 0)

	rec := do(engine, http.MethodGet, "/jobs/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListAndStats(t *testing.T) {
	m := newManager(t, jobs.PolicyConfig{AllowedTypes: []string{"echo"}})
	engine := newEngine(m, 0)
	for i := 0; i < 3; i++ {
		do(engine, http.MethodPost, "/jobs", `{"type":"echo"}`)
	}

	rec := do(engine, http.MethodGet, "/jobs?status=pending&limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if list := decode[ListResponse](t, rec); list.Count != 2 || len(list.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %+v", list)
	}

	rec = do(engine, http.MethodGet, "/jobs?status=completed", "")
	if list := decode[ListResponse](t, rec); list.Count != 0 || list.Jobs == nil {
		t.Fatalf("expected empty non-nil list, got %+v", list)
	}

	for _, target := range []string{"/jobs?status=lost", "/jobs?limit=0", "/jobs?limit=abc"} {
		if rec := do(engine, http.MethodGet, target, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
	}

	rec = do(engine, http.MethodGet, "/jobs/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if stats := decode[jobs.Stats](t, rec); stats.Enqueued != 3 || stats.Completed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

type failingQueue struct{ err error }

func (q failingQueue) Enqueue(context.Context, string, []byte, jobs.EnqueueOptions) (string, error) {
	return "", q.err
}
func (q failingQueue) Get(context.Context, string) (*jobs.Job, error) { return nil, q.err }
func (q failingQueue) List(context.Context, jobs.Status, int) ([]*jobs.Job, error) {
	return nil, q.err
}
func (q failingQueue) Stats() jobs.Stats { return jobs.Stats{} }

func TestStoreFailuresAre500(t *testing.T) {
	engine := newEngine(failingQueue{err: errors.New("store offline")}, 0)

	for _, tc := range []struct{ method, target, body string }{
		{http.MethodPost, "/jobs", `{"type":"echo"}`},
		{http.MethodGet, "/jobs/abc", ""},
		{http.MethodGet, "/jobs", ""},
	} {
		rec := do(engine, tc.method, tc.target, tc.body)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("%s %s: expected 500, got %d", tc.method, tc.target, rec.Code)
		}
		if strings.Contains(rec.Body.String(), "store offline") {
			t.Fatalf("%s %s: internal error leaked: %s", tc.method, tc.target, rec.Body.String())
		}
	}
}
