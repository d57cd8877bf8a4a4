package jobs

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/nimburion/jobqueue/pkg/observability/logger"
)

// Handler executes the payload of one job and returns its result.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Registry maps job types to handlers.
type Registry struct {
	log logger.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty processor registry.
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		log:      log,
		handlers: map[string]Handler{},
	}
}

// Register binds a handler to a job type. Registering a type twice replaces
// the previous handler and logs a warning.
func (r *Registry) Register(jobType string, handler Handler) error {
	if r == nil {
		return errors.New("registry is not initialized")
	}
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return jobsError(ErrValidation, "job type is required")
	}
	if handler == nil {
		return jobsError(ErrValidation, "handler is required")
	}

	r.mu.Lock()
	_, replaced := r.handlers[jobType]
	r.handlers[jobType] = handler
	r.mu.Unlock()

	if replaced && r.log != nil {
		r.log.Warn("jobs handler replaced", "job_type", jobType)
	}
	return nil
}

// Lookup returns the handler registered for a type.
func (r *Registry) Lookup(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[strings.TrimSpace(jobType)]
	return handler, ok
}

// Types returns the registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.handlers))
	for jobType := range r.handlers {
		out = append(out, jobType)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Process runs the handler registered for job.Type.
// It returns *UnregisteredTypeError when no handler exists.
func (r *Registry) Process(ctx context.Context, job *Job) ([]byte, error) {
	handler, ok := r.Lookup(job.Type)
	if !ok {
		return nil, &UnregisteredTypeError{JobType: job.Type}
	}
	return handler(ctx, cloneBytes(job.Payload))
}
