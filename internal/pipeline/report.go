package pipeline

import (
	"errors"

	"github.com/ollamagate/gateway/internal/backend"
	"github.com/ollamagate/gateway/internal/guardrails"
	"github.com/ollamagate/gateway/internal/logging"
)

// Origin identifies the request a failure belongs to in audit logs.
type Origin struct {
	RequestID string
	ClientIP  string
	Path      string
}

// Severity decides how loudly a failure is logged. Injection attempts and
// rate-limit hits are warnings; malformed input is informational.
func Severity(e *Error) logging.Severity {
	switch e.Kind {
	case KindValidationFailed:
		var v *guardrails.Violation
		if errors.As(e.Err, &v) && v.SecurityRelevant() {
			return logging.SeverityWarning
		}
		return logging.SeverityInfo
	case KindRateLimitExceeded:
		return logging.SeverityWarning
	case KindServiceUnavailable:
		return logging.SeverityError
	default:
		return logging.SeverityCritical
	}
}

func eventType(e *Error) string {
	switch e.Kind {
	case KindValidationFailed:
		var v *guardrails.Violation
		if errors.As(e.Err, &v) && v.SecurityRelevant() {
			return "injection_attempt"
		}
		return "validation_error"
	case KindRateLimitExceeded:
		return "rate_limit_exceeded"
	case KindServiceUnavailable:
		return "llm_service_error"
	default:
		return "unexpected_error"
	}
}

// Report writes the audit entry for a failure. Cause text goes to the log
// only.
func Report(e *Error, origin Origin) {
	sev := Severity(e)
	kind := eventType(e)

	event := logging.SecurityEvent(kind, sev).
		Str("request_id", origin.RequestID).
		Str("client_ip", origin.ClientIP).
		Str("path", origin.Path).
		Str("kind", string(e.Kind)).
		Int("status", e.Kind.Status())

	if e.State != StateStart {
		event = event.Str("state", e.State.String())
	}

	var v *guardrails.Violation
	if errors.As(e.Err, &v) {
		event = event.Str("reason", string(v.Reason))
		if v.Pattern != "" {
			event = event.Str("pattern", v.Pattern)
		}
	}

	var f *backend.Failure
	if errors.As(e.Err, &f) {
		event = event.Str("backend_failure", string(f.Kind))
	}

	switch e.Kind {
	case KindRateLimitExceeded:
		event = event.Int("retry_after", e.RetryAfter)
	case KindInternalError:
		event = event.Str("error_type", e.ErrorType())
	}

	if e.Err != nil {
		event = event.AnErr("cause", e.Err)
	}
	event.Msg("Security Event: " + kind + " - " + e.Message)
}
