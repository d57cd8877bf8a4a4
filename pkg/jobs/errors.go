package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies input/config/payload validation failures.
	ErrValidation = errors.New("jobs validation error")
	// ErrConflict classifies state conflicts (for example already-running manager).
	ErrConflict = errors.New("jobs conflict")
	// ErrNotFound classifies missing job records in the store.
	ErrNotFound = errors.New("jobs not found")
	// ErrDuplicateID classifies an insert whose job id already exists in the store.
	ErrDuplicateID = errors.New("jobs duplicate id")
	// ErrClosed classifies operations on an already closed manager.
	ErrClosed = errors.New("jobs closed")
	// ErrAdmission classifies enqueue requests rejected by the admission policy.
	ErrAdmission = errors.New("jobs admission rejected")
	// ErrUnregisteredType classifies jobs whose type has no registered handler.
	ErrUnregisteredType = errors.New("jobs unregistered type")
)

// AdmissionReason tells callers why an enqueue request was rejected.
type AdmissionReason string

const (
	// ReasonUnknownType means the job type is not in the allow-list. Permanent.
	ReasonUnknownType AdmissionReason = "unknown_type"
	// ReasonCapacity means the queue holds as many active jobs as it may.
	ReasonCapacity AdmissionReason = "capacity"
	// ReasonRateLimited means the per-type admission rate was exceeded.
	ReasonRateLimited AdmissionReason = "rate_limited"
)

// Temporary reports whether retrying the same request later may succeed.
func (r AdmissionReason) Temporary() bool {
	return r == ReasonCapacity || r == ReasonRateLimited
}

// AdmissionError is returned by Enqueue when the policy refuses a job.
// The job is never stored when this error is returned.
type AdmissionError struct {
	Reason  AdmissionReason
	JobType string
	Detail  string
}

func (e *AdmissionError) Error() string {
	msg := fmt.Sprintf("%s: %s (type %q)", ErrAdmission, e.Reason, e.JobType)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is lets errors.Is match ErrAdmission.
func (e *AdmissionError) Is(target error) bool {
	return target == ErrAdmission
}

// UnregisteredTypeError reports a stored job whose type has no handler.
// It is a configuration error: the job fails without retry.
type UnregisteredTypeError struct {
	JobType string
}

func (e *UnregisteredTypeError) Error() string {
	return fmt.Sprintf("%s: no handler registered for %q", ErrUnregisteredType, e.JobType)
}

// Is lets errors.Is match ErrUnregisteredType.
func (e *UnregisteredTypeError) Is(target error) bool {
	return target == ErrUnregisteredType
}

// AdmissionReasonOf extracts the admission reason from err, if any.
func AdmissionReasonOf(err error) (AdmissionReason, bool) {
	var admissionErr *AdmissionError
	if errors.As(err, &admissionErr) {
		return admissionErr.Reason, true
	}
	return "", false
}

func jobsError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
