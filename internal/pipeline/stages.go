package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ollamagate/gateway/internal/backend"
	"github.com/ollamagate/gateway/internal/ratelimit"
)

// State tracks how far a request has progressed.
type State int

const (
	StateStart State = iota
	StateCorrelationAssigned
	StateRateChecked
	StateInputValidated
	StateBackendCalled
	StateOutputValidated
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateStart:               "start",
	StateCorrelationAssigned: "correlation_assigned",
	StateRateChecked:         "rate_checked",
	StateInputValidated:      "input_validated",
	StateBackendCalled:       "backend_called",
	StateOutputValidated:     "output_validated",
	StateDone:                "done",
	StateFailed:              "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Exchange is the request-scoped data threaded through the stages.
type Exchange struct {
	RequestID string
	ClientIP  string
	Path      string
	Body      []byte

	// Message is the decoded chat message; Prompt is it after the input
	// guardrail. Reply is the raw backend output; Response is it after the
	// output guardrail.
	Message  any
	Prompt   string
	Reply    string
	Response string

	State State
}

// Stage is one step of the pipeline. Handle either advances the exchange
// or returns an error that ends the request.
type Stage interface {
	Name() string
	// Reaches is the state the exchange is in once Handle succeeds.
	Reaches() State
	Handle(ctx context.Context, ex *Exchange) error
}

// ── Rate limit ──────────────────────────────────────────────

// Limiter is the admission check consumed by the rate limit stage.
type Limiter interface {
	CheckAndRecord(key string, now time.Time) ratelimit.Decision
	Limit() int
	Window() time.Duration
}

type rateLimitStage struct {
	limiter Limiter
	now     func() time.Time
}

// RateLimitStage admits or rejects the exchange by client IP.
func RateLimitStage(l Limiter, now func() time.Time) Stage {
	if now == nil {
		now = time.Now
	}
	return &rateLimitStage{limiter: l, now: now}
}

func (s *rateLimitStage) Name() string   { return "rate_limit" }
func (s *rateLimitStage) Reaches() State { return StateRateChecked }

func (s *rateLimitStage) Handle(_ context.Context, ex *Exchange) error {
	d := s.limiter.CheckAndRecord(ex.ClientIP, s.now())
	if d.Allowed {
		return nil
	}
	return &Error{
		Kind:       KindRateLimitExceeded,
		Message:    fmt.Sprintf("Rate limit exceeded. Max %d requests per %s.", s.limiter.Limit(), windowLabel(s.limiter.Window())),
		RetryAfter: d.RetryAfter,
	}
}

func windowLabel(w time.Duration) string {
	if w == time.Minute {
		return "minute"
	}
	return w.String()
}

// ── Guardrails ──────────────────────────────────────────────

// Guard is the text validation consumed by the guardrail stages.
type Guard interface {
	ValidateInput(value any) (string, error)
	ValidateOutput(value any) (string, error)
}

type inputStage struct{ guard Guard }

// InputGuardStage validates the raw message and stores the cleaned prompt.
func InputGuardStage(g Guard) Stage { return &inputStage{guard: g} }

func (s *inputStage) Name() string   { return "input_guardrail" }
func (s *inputStage) Reaches() State { return StateInputValidated }

func (s *inputStage) Handle(_ context.Context, ex *Exchange) error {
	prompt, err := s.guard.ValidateInput(ex.Message)
	if err != nil {
		return err
	}
	ex.Prompt = prompt
	return nil
}

type outputStage struct{ guard Guard }

// OutputGuardStage validates the backend reply and stores the response.
func OutputGuardStage(g Guard) Stage { return &outputStage{guard: g} }

func (s *outputStage) Name() string   { return "output_guardrail" }
func (s *outputStage) Reaches() State { return StateOutputValidated }

func (s *outputStage) Handle(_ context.Context, ex *Exchange) error {
	resp, err := s.guard.ValidateOutput(ex.Reply)
	if err != nil {
		return err
	}
	ex.Response = resp
	return nil
}

// ── Backend ─────────────────────────────────────────────────

type backendStage struct{ gen backend.Generator }

// BackendStage forwards the prompt to the model.
func BackendStage(g backend.Generator) Stage { return &backendStage{gen: g} }

func (s *backendStage) Name() string   { return "backend" }
func (s *backendStage) Reaches() State { return StateBackendCalled }

func (s *backendStage) Handle(ctx context.Context, ex *Exchange) error {
	reply, err := s.gen.Generate(ctx, ex.Prompt)
	if err != nil {
		return err
	}
	ex.Reply = reply
	return nil
}
