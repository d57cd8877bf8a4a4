// Package controller maps queue errors to HTTP answers.
package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/nimburion/jobqueue/pkg/jobs"
	"github.com/nimburion/jobqueue/pkg/middleware/requestid"
)

// Error codes returned in ErrorResponse.Error.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeRequestTooLarge   = "request_too_large"
	CodeNotFound          = "not_found"
	CodeAdmissionRejected = "admission_rejected"
	CodeInternal          = "internal_server_error"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// APIError carries its HTTP status and public message.
type APIError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.Err }

// NewValidationError reports a malformed request.
func NewValidationError(message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: CodeInvalidRequest, Message: message}
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(message string) *APIError {
	return &APIError{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

// MapError converts err into a status and a body. Internal failures never
// expose their message.
//
//   - *APIError: its own status
//   - admission rejection: 429 when temporary, 422 for unknown types
//   - jobs.ErrValidation: 400
//   - jobs.ErrNotFound: 404
//   - oversized body: 413
//   - anything else: 500
func MapError(ctx context.Context, err error) (int, ErrorResponse) {
	resp := ErrorResponse{RequestID: requestid.GetRequestID(ctx)}

	var apiErr *APIError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &apiErr):
		resp.Error, resp.Message = apiErr.Code, apiErr.Message
		return apiErr.Status, resp
	case errors.Is(err, jobs.ErrAdmission):
		reason, _ := jobs.AdmissionReasonOf(err)
		resp.Error, resp.Message, resp.Reason = CodeAdmissionRejected, err.Error(), string(reason)
		if reason.Temporary() {
			return http.StatusTooManyRequests, resp
		}
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, jobs.ErrValidation):
		resp.Error, resp.Message = CodeInvalidRequest, err.Error()
		return http.StatusBadRequest, resp
	case errors.Is(err, jobs.ErrNotFound):
		resp.Error, resp.Message = CodeNotFound, "job not found"
		return http.StatusNotFound, resp
	case errors.As(err, &tooLarge):
		resp.Error, resp.Message = CodeRequestTooLarge, "request body exceeds the size limit"
		return http.StatusRequestEntityTooLarge, resp
	default:
		resp.Error, resp.Message = CodeInternal, "an unexpected error occurred"
		return http.StatusInternalServerError, resp
	}
}
