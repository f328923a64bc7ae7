// Package pipeline runs a chat request through the gateway's ordered
// stages: rate limit, request schema, input guardrail, backend call,
// output guardrail.
//
// The first failing stage ends the request. Its error is classified into a
// single *Error whose Kind decides the HTTP status, the response slug and
// the audit log severity:
//
//	validation failure        -> 422 validation_error
//	rate limit hit            -> 429 rate_limit_exceeded (+ Retry-After)
//	backend or output failure -> 503 service_unavailable
//	anything else, or panic   -> 500 internal_server_error
package pipeline

import (
	"context"

	"github.com/ollamagate/gateway/internal/backend"
	"github.com/ollamagate/gateway/pkg/middleware"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Request is the raw chat request handed over by the HTTP layer.
type Request struct {
	RequestID string
	ClientIP  string
	Path      string
	Body      []byte
}

// Result is the success body of the chat endpoint.
type Result struct {
	Response  string `json:"response"`
	RequestID string `json:"request_id"`
}

// Pipeline composes stages into one request flow.
type Pipeline struct {
	stages []Stage
	tracer trace.Tracer
}

// New builds a pipeline running stages in the given order.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{
		stages: stages,
		tracer: otel.Tracer("llm-gateway/pipeline"),
	}
}

// NewChat wires the standard chat flow.
func NewChat(l Limiter, g Guard, gen backend.Generator) *Pipeline {
	return New(
		RateLimitStage(l, nil),
		SchemaStage(MaxMessageLength),
		InputGuardStage(g),
		BackendStage(gen),
		OutputGuardStage(g),
	)
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes every stage. On failure the returned error is always a
// *Error and has already been reported to the audit log.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	ex := &Exchange{
		RequestID: req.RequestID,
		ClientIP:  req.ClientIP,
		Path:      req.Path,
		Body:      req.Body,
		State:     StateStart,
	}
	if ex.RequestID == "" {
		ex.RequestID = middleware.AssignRequestID("")
	}
	ex.State = StateCorrelationAssigned

	for _, stage := range p.stages {
		if err := p.runStage(ctx, stage, ex); err != nil {
			perr := Classify(err)
			perr.State = stage.Reaches()
			ex.State = StateFailed
			Report(perr, Origin{RequestID: ex.RequestID, ClientIP: ex.ClientIP, Path: ex.Path})
			return nil, perr
		}
		ex.State = stage.Reaches()
	}

	ex.State = StateDone
	return &Result{Response: ex.Response, RequestID: ex.RequestID}, nil
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, ex *Exchange) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+stage.Name(),
		trace.WithAttributes(attribute.String("gateway.request_id", ex.RequestID)),
	)
	defer span.End()

	err := handleRecovering(ctx, stage, ex)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(Classify(err).Kind))
	}
	return err
}

// handleRecovering turns a stage panic into an unclassified error.
func handleRecovering(ctx context.Context, stage Stage, ex *Exchange) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return stage.Handle(ctx, ex)
}
