package pipeline

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ollamagate/gateway/internal/backend"
	"github.com/ollamagate/gateway/internal/guardrails"
)

// Kind is the caller-facing failure class.
type Kind string

const (
	KindValidationFailed   Kind = "validation_failed"
	KindRateLimitExceeded  Kind = "rate_limit_exceeded"
	KindServiceUnavailable Kind = "service_unavailable"
	KindInternalError      Kind = "internal_error"
)

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidationFailed:
		return http.StatusUnprocessableEntity
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Slug returns the value of the "error" field in the response body.
func (k Kind) Slug() string {
	switch k {
	case KindValidationFailed:
		return "validation_error"
	case KindRateLimitExceeded:
		return "rate_limit_exceeded"
	case KindServiceUnavailable:
		return "service_unavailable"
	default:
		return "internal_server_error"
	}
}

const (
	msgServiceUnavailable = "LLM service is temporarily unavailable"
	msgInternalError      = "An unexpected error occurred"
)

// Error is the single error type leaving the pipeline. Message is safe for
// callers; Err is the cause and only ever logged.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is set for KindRateLimitExceeded, in seconds.
	RetryAfter int
	// State is the state the pipeline failed to reach.
	State State
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Envelope is the JSON body of every non-2xx response.
type Envelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// Envelope renders the caller-facing body.
func (e *Error) Envelope(requestID string) Envelope {
	return Envelope{Error: e.Kind.Slug(), Message: e.Message, RequestID: requestID}
}

// NewValidationError reports a malformed request detected before the
// pipeline runs (the schema layer).
func NewValidationError(message string, cause error) *Error {
	return &Error{Kind: KindValidationFailed, Message: message, State: StateInputValidated, Err: cause}
}

// panicError carries a recovered panic value into classification.
type panicError struct {
	value any
}

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

// Recovered classifies a value recovered from a panic outside the pipeline.
func Recovered(value any) *Error {
	return Classify(&panicError{value: value})
}

// Classify maps any error onto an *Error. Errors that are already classified
// pass through; unknown errors become KindInternalError with a generic
// message.
func Classify(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}

	var violation *guardrails.Violation
	if errors.As(err, &violation) {
		if violation.Stage == "output" {
			// A healthy backend never returns degenerate output.
			return &Error{Kind: KindServiceUnavailable, Message: msgServiceUnavailable, Err: err}
		}
		return &Error{Kind: KindValidationFailed, Message: violation.Message, Err: err}
	}

	var failure *backend.Failure
	if errors.As(err, &failure) {
		return &Error{Kind: KindServiceUnavailable, Message: msgServiceUnavailable, Err: err}
	}

	return &Error{Kind: KindInternalError, Message: msgInternalError, Err: err}
}

// ErrorType names the underlying failure's type for audit logs.
func (e *Error) ErrorType() string {
	cause := e.Err
	if p, ok := cause.(*panicError); ok {
		return fmt.Sprintf("%T", p.value)
	}
	if cause == nil {
		return fmt.Sprintf("%T", e)
	}
	return fmt.Sprintf("%T", cause)
}
