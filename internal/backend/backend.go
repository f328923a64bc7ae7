// Package backend forwards validated prompts to the language-model service
// and classifies every transport or protocol failure.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Generator produces a completion for a prompt. Implementations must return
// a *Failure for every error so callers never see raw transport errors.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// FailureKind classifies a backend failure.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureUnreachable FailureKind = "unreachable"
	FailureProtocol    FailureKind = "protocol_error"
)

// Failure is a classified backend error. Err holds the underlying cause for
// logging; it is never shown to API callers.
type Failure struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("backend %s: %s", f.Op, f.Kind)
	}
	return fmt.Sprintf("backend %s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// IsKind reports whether err is a *Failure of the given kind.
func IsKind(err error, kind FailureKind) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == kind
}

// classifyTransport sorts an error from the HTTP round trip (or body read)
// into timeout versus unreachable. Protocol failures are decided by the
// caller once a response has arrived.
func classifyTransport(op string, err error) *Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: FailureTimeout, Op: op, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Failure{Kind: FailureTimeout, Op: op, Err: err}
	}
	return &Failure{Kind: FailureUnreachable, Op: op, Err: err}
}

func protocolFailure(op string, err error) *Failure {
	return &Failure{Kind: FailureProtocol, Op: op, Err: err}
}
