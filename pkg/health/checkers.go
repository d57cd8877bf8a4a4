package health

import (
	"context"
	"time"

	"github.com/nimburion/jobqueue/pkg/resilience"
)

const defaultCheckTimeout = 5 * time.Second

// Checkable is implemented by components that can report their own health.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker turns a Checkable into a Checker bounded by a timeout. A
// component that ignores its context still reports unhealthy once the timeout
// passes.
type AdapterChecker struct {
	name    string
	adapter Checkable
	timeout time.Duration
}

// NewAdapterChecker creates a checker for a Checkable component.
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &AdapterChecker{name: name, adapter: adapter, timeout: timeout}
}

// Check calls HealthCheck on the component.
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := resilience.WithTimeout(ctx, c.timeout, c.adapter.HealthCheck)
	result := CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = ""
		result.Error = err.Error()
	}
	return result
}

// Name returns the name of the health check
func (c *AdapterChecker) Name() string {
	return c.name
}

// PingChecker always reports healthy. It answers the management /health endpoint.
type PingChecker struct {
	name string
}

// NewPingChecker creates a new ping checker
func NewPingChecker(name string) *PingChecker {
	return &PingChecker{name: name}
}

// Check always returns healthy status
func (c *PingChecker) Check(context.Context) CheckResult {
	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "Service is alive",
		Timestamp: time.Now(),
	}
}

// Name returns the name of the health check
func (c *PingChecker) Name() string {
	return c.name
}

// CustomChecker builds a check from a function returning status, message and error.
type CustomChecker struct {
	name      string
	checkFunc func(ctx context.Context) (Status, string, map[string]any, error)
}

// NewCustomChecker creates a checker from checkFunc. Metadata returned by
// checkFunc is copied to the result.
func NewCustomChecker(name string, checkFunc func(ctx context.Context) (Status, string, map[string]any, error)) *CustomChecker {
	return &CustomChecker{name: name, checkFunc: checkFunc}
}

// Check executes the custom check function
func (c *CustomChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	status, message, metadata, err := c.checkFunc(ctx)
	result := CheckResult{
		Name:      c.name,
		Status:    status,
		Message:   message,
		Metadata:  metadata,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Error = err.Error()
		if result.Status == "" || result.Status == StatusHealthy {
			result.Status = StatusUnhealthy
		}
	}
	return result
}

// Name returns the name of the health check
func (c *CustomChecker) Name() string {
	return c.name
}
