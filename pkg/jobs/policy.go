package jobs

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is the active-job ceiling used when none is configured.
const DefaultCapacity = 10000

// RateLimit bounds how many jobs of one type may be admitted per window.
// A zero Limit disables rate limiting for the type.
type RateLimit struct {
	Limit  int
	Window time.Duration
}

func (r RateLimit) enabled() bool {
	return r.Limit > 0 && r.Window > 0
}

// PolicyConfig configures the admission policy.
type PolicyConfig struct {
	// AllowedTypes is the job type allow-list. It must not be empty.
	AllowedTypes []string
	// Capacity is the ceiling on pending+processing jobs.
	Capacity int
	// RateLimits overrides DefaultRateLimit per job type.
	RateLimits map[string]RateLimit
	// DefaultRateLimit applies to allowed types without an explicit entry.
	DefaultRateLimit RateLimit
}

func (c *PolicyConfig) normalize() {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
}

// AdmissionRequest carries everything the policy needs to decide.
type AdmissionRequest struct {
	JobType    string
	Payload    []byte
	Options    EnqueueOptions
	ActiveJobs int
	Now        time.Time
}

// AdmissionPolicy decides whether a job may enter the queue.
type AdmissionPolicy interface {
	// Admit returns nil or an *AdmissionError. It must not change any state.
	Admit(req AdmissionRequest) error
	// Record counts an admitted job against its type's rate window.
	Record(jobType string, at time.Time)
}

// Policy is the default AdmissionPolicy: allow-list, capacity ceiling and a
// per-type sliding window. A type may have at most Limit admissions in any
// interval of length Window.
type Policy struct {
	config  PolicyConfig
	allowed map[string]struct{}

	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewPolicy creates an admission policy from configuration.
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	cfg.normalize()

	allowed := make(map[string]struct{}, len(cfg.AllowedTypes))
	for _, jobType := range cfg.AllowedTypes {
		trimmed := strings.TrimSpace(jobType)
		if trimmed != "" {
			allowed[trimmed] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return nil, jobsError(ErrValidation, "at least one allowed job type is required")
	}
	for jobType, limit := range cfg.RateLimits {
		if limit.Limit < 0 || limit.Window < 0 {
			return nil, jobsError(ErrValidation, fmt.Sprintf("rate limit for %q must not be negative", jobType))
		}
	}

	return &Policy{
		config:  cfg,
		allowed: allowed,
		windows: map[string][]time.Time{},
	}, nil
}

// Admit checks the allow-list, the capacity ceiling and the type's rate limit in that order.
func (p *Policy) Admit(req AdmissionRequest) error {
	jobType := strings.TrimSpace(req.JobType)
	if _, ok := p.allowed[jobType]; !ok {
		return &AdmissionError{Reason: ReasonUnknownType, JobType: jobType}
	}
	if req.ActiveJobs >= p.config.Capacity {
		return &AdmissionError{
			Reason:  ReasonCapacity,
			JobType: jobType,
			Detail:  fmt.Sprintf("%d active jobs, capacity %d", req.ActiveJobs, p.config.Capacity),
		}
	}

	limit := p.limitFor(jobType)
	if !limit.enabled() {
		return nil
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	if p.countInWindow(jobType, now, limit.Window) >= limit.Limit {
		return &AdmissionError{
			Reason:  ReasonRateLimited,
			JobType: jobType,
			Detail:  fmt.Sprintf("limit %d per %s", limit.Limit, limit.Window),
		}
	}
	return nil
}

// Record counts one admission at the given time and drops entries that have
// left the window.
func (p *Policy) Record(jobType string, at time.Time) {
	jobType = strings.TrimSpace(jobType)
	limit := p.limitFor(jobType)
	if !limit.enabled() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := at.Add(-limit.Window)
	kept := p.windows[jobType][:0]
	for _, ts := range p.windows[jobType] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	p.windows[jobType] = append(kept, at)
}

// countInWindow counts admissions in (now-window, now]. It only reads.
func (p *Policy) countInWindow(jobType string, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, ts := range p.windows[jobType] {
		if ts.After(cutoff) && !ts.After(now) {
			count++
		}
	}
	return count
}

func (p *Policy) limitFor(jobType string) RateLimit {
	if limit, ok := p.config.RateLimits[jobType]; ok {
		return limit
	}
	return p.config.DefaultRateLimit
}
