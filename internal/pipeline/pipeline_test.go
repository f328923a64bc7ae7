package pipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollamagate/gateway/internal/backend"
	"github.com/ollamagate/gateway/internal/guardrails"
	"github.com/ollamagate/gateway/internal/pipeline"
	"github.com/ollamagate/gateway/internal/ratelimit"
)

// fakeGenerator is a test backend.Generator.
type fakeGenerator struct {
	calls    atomic.Int32
	generate func(ctx context.Context, prompt string) (string, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.calls.Add(1)
	return g.generate(ctx, prompt)
}

func replying(reply string) *fakeGenerator {
	return &fakeGenerator{generate: func(context.Context, string) (string, error) { return reply, nil }}
}

func failing(err error) *fakeGenerator {
	return &fakeGenerator{generate: func(context.Context, string) (string, error) { return "", err }}
}

// captureLogs redirects the global logger for the duration of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	return &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func body(message string) []byte {
	b, _ := json.Marshal(map[string]string{"message": message})
	return b
}

func newChat(limit int, gen backend.Generator) *pipeline.Pipeline {
	return pipeline.NewChat(
		ratelimit.NewSlidingWindow(limit, time.Minute),
		guardrails.New(guardrails.DefaultMaxInputLength),
		gen,
	)
}

func asPipelineError(t *testing.T, err error) *pipeline.Error {
	t.Helper()
	var perr *pipeline.Error
	require.True(t, errors.As(err, &perr), "expected *pipeline.Error, got %T", err)
	return perr
}

func TestRun_Success(t *testing.T) {
	captureLogs(t)
	gen := &fakeGenerator{generate: func(_ context.Context, prompt string) (string, error) {
		assert.Equal(t, "Hi there", prompt, "prompt reaches backend trimmed")
		return "  Hello!\n", nil
	}}
	p := newChat(10, gen)

	res, err := p.Run(context.Background(), pipeline.Request{
		RequestID: "req-1",
		ClientIP:  "10.0.0.1",
		Body:      body("  Hi there "),
	})
	require.NoError(t, err)
	assert.Equal(t, &pipeline.Result{Response: "Hello!", RequestID: "req-1"}, res)
}

func TestRun_GeneratesRequestIDWhenMissing(t *testing.T) {
	captureLogs(t)
	res, err := newChat(10, replying("ok")).Run(context.Background(), pipeline.Request{ClientIP: "k", Body: body("hi")})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RequestID)
}

func TestRun_RateLimitScenario(t *testing.T) {
	buf := captureLogs(t)
	gen := replying("ok")
	p := newChat(3, gen)

	var outcomes []string
	var last error
	for i := 0; i < 4; i++ {
		_, err := p.Run(context.Background(), pipeline.Request{RequestID: "r", ClientIP: "10.0.0.1", Body: body("hi")})
		if err == nil {
			outcomes = append(outcomes, "admit")
		} else {
			outcomes = append(outcomes, "deny")
			last = err
		}
	}
	assert.Equal(t, []string{"admit", "admit", "admit", "deny"}, outcomes)
	assert.Equal(t, int32(3), gen.calls.Load(), "denied request never reaches the backend")

	perr := asPipelineError(t, last)
	assert.Equal(t, pipeline.KindRateLimitExceeded, perr.Kind)
	assert.Equal(t, http.StatusTooManyRequests, perr.Kind.Status())
	assert.Greater(t, perr.RetryAfter, 0)
	assert.Equal(t, "Rate limit exceeded. Max 3 requests per minute.", perr.Message)
	assert.Equal(t, pipeline.StateRateChecked, perr.State)

	entry := lastEntry(t, buf)
	assert.Equal(t, "rate_limit_exceeded", entry["event_type"])
	assert.Equal(t, "WARNING", entry["severity"])
	assert.Equal(t, "10.0.0.1", entry["client_ip"])
}

func TestRun_DangerousInput(t *testing.T) {
	buf := captureLogs(t)
	gen := replying("never")
	_, err := newChat(10, gen).Run(context.Background(), pipeline.Request{
		RequestID: "req-x", ClientIP: "k", Body: body("<script>alert(1)</script>"),
	})

	perr := asPipelineError(t, err)
	assert.Equal(t, pipeline.KindValidationFailed, perr.Kind)
	assert.Equal(t, http.StatusUnprocessableEntity, perr.Kind.Status())
	assert.Equal(t, "validation_error", perr.Kind.Slug())
	assert.Equal(t, int32(0), gen.calls.Load())

	entry := lastEntry(t, buf)
	assert.Equal(t, "WARNING", entry["severity"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "injection_attempt", entry["event_type"])
	assert.Equal(t, "script_tag", entry["pattern"])
	assert.Equal(t, "req-x", entry["request_id"])
}

func TestRun_BlankMessageLogsAtInfo(t *testing.T) {
	buf := captureLogs(t)
	gen := replying("x")
	_, err := newChat(10, gen).Run(context.Background(), pipeline.Request{ClientIP: "k", Body: body("   ")})

	perr := asPipelineError(t, err)
	assert.Equal(t, pipeline.KindValidationFailed, perr.Kind)
	assert.Equal(t, "Field 'message' must not be blank", perr.Message)
	assert.Equal(t, int32(0), gen.calls.Load())

	entry := lastEntry(t, buf)
	assert.Equal(t, "INFO", entry["severity"])
	assert.Equal(t, "validation_error", entry["event_type"])
}

func TestRun_RateLimitAppliesBeforeSchema(t *testing.T) {
	captureLogs(t)
	p := newChat(1, replying("ok"))

	_, err := p.Run(context.Background(), pipeline.Request{ClientIP: "k", Body: []byte("not json")})
	assert.Equal(t, pipeline.KindValidationFailed, asPipelineError(t, err).Kind)

	_, err = p.Run(context.Background(), pipeline.Request{ClientIP: "k", Body: body("hi")})
	assert.Equal(t, pipeline.KindRateLimitExceeded, asPipelineError(t, err).Kind, "malformed requests still count")
}

func TestRun_BackendFailuresAreServiceUnavailable(t *testing.T) {
	kinds := []backend.FailureKind{backend.FailureTimeout, backend.FailureUnreachable, backend.FailureProtocol}

	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			buf := captureLogs(t)
			cause := &backend.Failure{Kind: kind, Op: "generate", Err: errors.New("dial tcp 127.0.0.1:11434: secret detail")}

			_, err := newChat(10, failing(cause)).Run(context.Background(), pipeline.Request{ClientIP: "k", Body: body("hi")})

			perr := asPipelineError(t, err)
			assert.Equal(t, pipeline.KindServiceUnavailable, perr.Kind)
			assert.Equal(t, http.StatusServiceUnavailable, perr.Kind.Status())
			assert.Equal(t, "service_unavailable", perr.Kind.Slug())
			assert.Equal(t, "LLM service is temporarily unavailable", perr.Message)
			assert.NotContains(t, perr.Envelope("r").Message, "secret")
			assert.Equal(t, pipeline.StateBackendCalled, perr.State)

			entry := lastEntry(t, buf)
			assert.Equal(t, "ERROR", entry["severity"])
			assert.Equal(t, string(kind), entry["backend_failure"])
		})
	}
}

func TestRun_DegenerateOutputIsServiceUnavailable(t *testing.T) {
	captureLogs(t)
	_, err := newChat(10, replying(" \n\t ")).Run(context.Background(), pipeline.Request{ClientIP: "k", Body: body("hi")})

	perr := asPipelineError(t, err)
	assert.Equal(t, pipeline.KindServiceUnavailable, perr.Kind)
	assert.Equal(t, pipeline.StateOutputValidated, perr.State)
}

func TestRun_PanicIsInternalError(t *testing.T) {
	buf := captureLogs(t)
	gen := &fakeGenerator{generate: func(context.Context, string) (string, error) {
		panic("nil map write in secret place")
	}}

	_, err := newChat(10, gen).Run(context.Background(), pipeline.Request{RequestID: "p", ClientIP: "k", Body: body("hi")})

	perr := asPipelineError(t, err)
	assert.Equal(t, pipeline.KindInternalError, perr.Kind)
	assert.Equal(t, http.StatusInternalServerError, perr.Kind.Status())
	assert.Equal(t, "internal_server_error", perr.Kind.Slug())
	assert.Equal(t, "An unexpected error occurred", perr.Envelope("p").Message)

	entry := lastEntry(t, buf)
	assert.Equal(t, "CRITICAL", entry["severity"])
	assert.Equal(t, "unexpected_error", entry["event_type"])
	assert.Equal(t, "string", entry["error_type"])
}

func TestRun_UnclassifiedErrorIsInternal(t *testing.T) {
	buf := captureLogs(t)
	_, err := newChat(10, failing(errors.New("plain"))).Run(context.Background(), pipeline.Request{ClientIP: "k", Body: body("hi")})

	perr := asPipelineError(t, err)
	assert.Equal(t, pipeline.KindInternalError, perr.Kind)
	assert.Equal(t, "*errors.errorString", lastEntry(t, buf)["error_type"])
}

func TestStages_Order(t *testing.T) {
	p := newChat(1, replying("x"))
	assert.Equal(t, []string{"rate_limit", "schema", "input_guardrail", "backend", "output_guardrail"}, p.Stages())
}

// recordingStage captures the state the exchange was in when it ran.
type recordingStage struct {
	name    string
	reaches pipeline.State
	seen    *[]pipeline.State
	err     error
}

func (s *recordingStage) Name() string            { return s.name }
func (s *recordingStage) Reaches() pipeline.State { return s.reaches }
func (s *recordingStage) Handle(_ context.Context, ex *pipeline.Exchange) error {
	*s.seen = append(*s.seen, ex.State)
	return s.err
}

func TestRun_StateProgressionAndShortCircuit(t *testing.T) {
	captureLogs(t)
	var seen []pipeline.State
	p := pipeline.New(
		&recordingStage{name: "a", reaches: pipeline.StateRateChecked, seen: &seen},
		&recordingStage{name: "b", reaches: pipeline.StateInputValidated, seen: &seen, err: guardrailsEmpty()},
		&recordingStage{name: "c", reaches: pipeline.StateBackendCalled, seen: &seen},
	)

	_, err := p.Run(context.Background(), pipeline.Request{ClientIP: "k"})
	require.Error(t, err)
	assert.Equal(t, []pipeline.State{pipeline.StateCorrelationAssigned, pipeline.StateRateChecked}, seen)
	assert.Equal(t, pipeline.StateInputValidated, asPipelineError(t, err).State)
}

func guardrailsEmpty() error {
	_, err := guardrails.ValidateInput("", 10)
	return err
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "backend_called", pipeline.StateBackendCalled.String())
	assert.Equal(t, "done", pipeline.StateDone.String())
	assert.Equal(t, "state(42)", pipeline.State(42).String())
}
