package jobs

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultMaxAttempts is used when a job is enqueued without an explicit attempt budget.
const DefaultMaxAttempts = 3

// Status is the lifecycle state of a job.
type Status string

// Job status constants
const (
	// StatusPending marks a job waiting for dispatch (possibly behind a backoff gate).
	StatusPending Status = "pending"
	// StatusProcessing marks a job currently executed by a worker.
	StatusProcessing Status = "processing"
	// StatusCompleted is terminal: the handler succeeded.
	StatusCompleted Status = "completed"
	// StatusFailed is terminal: attempts exhausted or handler missing.
	StatusFailed Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ParseStatus converts a string to a Status.
func ParseStatus(value string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	if !status.Valid() {
		return "", jobsError(ErrValidation, fmt.Sprintf("invalid status %q", value))
	}
	return status, nil
}

// Priority orders eligible jobs at selection time. It never preempts a running job.
type Priority int

// Priority constants. The zero value is PriorityNormal, so omitted options
// mean normal; selection order comes from rank, not the numeric value.
const (
	PriorityNormal Priority = iota
	PriorityLow
	PriorityHigh
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether p is one of the declared priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// MarshalJSON encodes the priority by name.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts the priority name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return errors.Join(jobsError(ErrValidation, "priority must be a string"), err)
	}
	parsed, err := ParsePriority(name)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePriority converts a name to a Priority. Empty means normal.
func ParsePriority(value string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "high":
		return PriorityHigh, nil
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityNormal, jobsError(ErrValidation, fmt.Sprintf("invalid priority %q", value))
	}
}

// Job describes one unit of work and its lifecycle state.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     Data          `json:"payload,omitempty"`
	Status      Status        `json:"status"`
	Priority    Priority      `json:"priority"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   time.Time     `json:"started_at,omitzero"`
	CompletedAt time.Time     `json:"completed_at,omitzero"`
	NextAttempt time.Time     `json:"next_attempt,omitzero"`
	LastError   string        `json:"last_error,omitempty"`
	Result      Data          `json:"result,omitempty"`
}

// Data holds opaque job bytes. It encodes as embedded JSON when the bytes are
// valid JSON and as a base64 string otherwise.
type Data []byte

// MarshalJSON implements json.Marshaler.
func (d Data) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	if json.Valid(d) {
		return cloneBytes(d), nil
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(d))
}

// UnmarshalJSON keeps the raw JSON value.
func (d *Data) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = nil
		return nil
	}
	*d = cloneBytes(data)
	return nil
}

// Validate checks the fields required by the store and the dispatch loop.
func (j *Job) Validate() error {
	if j == nil {
		return jobsError(ErrValidation, "job is nil")
	}
	if strings.TrimSpace(j.ID) == "" {
		return jobsError(ErrValidation, "job id is required")
	}
	if strings.TrimSpace(j.Type) == "" {
		return jobsError(ErrValidation, "job type is required")
	}
	if !j.Status.Valid() {
		return jobsError(ErrValidation, fmt.Sprintf("job status %q is invalid", j.Status))
	}
	if !j.Priority.Valid() {
		return jobsError(ErrValidation, "job priority is invalid")
	}
	if j.MaxAttempts < 1 {
		return jobsError(ErrValidation, "job max attempts must be >= 1")
	}
	if j.Attempts < 0 {
		return jobsError(ErrValidation, "job attempts must be >= 0")
	}
	if j.Attempts > j.MaxAttempts {
		return jobsError(ErrValidation, "job attempts cannot exceed max attempts")
	}
	return nil
}

// Eligible reports whether the job may be dispatched at now.
func (j *Job) Eligible(now time.Time) bool {
	if j == nil || j.Status != StatusPending {
		return false
	}
	return j.NextAttempt.IsZero() || !j.NextAttempt.After(now)
}

// before reports whether j should be dispatched ahead of other:
// higher priority first, then earlier creation, then id for a stable order.
func (j *Job) before(other *Job) bool {
	if j.Priority != other.Priority {
		return j.Priority.rank() > other.Priority.rank()
	}
	if !j.CreatedAt.Equal(other.CreatedAt) {
		return j.CreatedAt.Before(other.CreatedAt)
	}
	return j.ID < other.ID
}

// MarshalPayloadJSON marshals an arbitrary value into a job payload.
func MarshalPayloadJSON(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Join(jobsError(ErrValidation, "marshal job payload failed"), err)
	}
	return data, nil
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	copyJob := *job
	copyJob.Payload = cloneBytes(job.Payload)
	copyJob.Result = cloneBytes(job.Result)
	return &copyJob
}

func cloneBytes(input []byte) []byte {
	if len(input) == 0 {
		return nil
	}
	out := make([]byte, len(input))
	copy(out, input)
	return out
}
