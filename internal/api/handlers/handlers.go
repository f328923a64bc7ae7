// Package handlers implements the HTTP handlers for the gateway.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ollamagate/gateway/internal/backend"
	"github.com/ollamagate/gateway/internal/pipeline"
	"github.com/ollamagate/gateway/internal/ratelimit"
	pkgmw "github.com/ollamagate/gateway/pkg/middleware"

	"github.com/rs/zerolog/log"
)

// MaxBodyBytes caps the chat request body read into memory.
const MaxBodyBytes = 64 << 10

// readyTimeout bounds the backend probe behind /ready.
const readyTimeout = 5 * time.Second

// Runner executes the chat pipeline.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// HealthChecker probes the backend for /ready.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (*backend.Health, error)
}

// Handlers holds all handler dependencies.
type Handlers struct {
	Pipeline       Runner
	Backend        HealthChecker
	ServiceName    string
	ServiceVersion string
}

// New creates a new Handlers instance with all dependencies.
func New(p Runner, hc HealthChecker, service, version string) *Handlers {
	return &Handlers{Pipeline: p, Backend: hc, ServiceName: service, ServiceVersion: version}
}

// Chat handles POST /api/chat.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	requestID := pkgmw.GetRequestID(r.Context())
	clientIP := ratelimit.ClientKey(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		perr := pipeline.NewValidationError("Request body is too large or could not be read", err)
		pipeline.Report(perr, pipeline.Origin{RequestID: requestID, ClientIP: clientIP, Path: r.URL.Path})
		respondError(w, perr, requestID)
		return
	}

	res, err := h.Pipeline.Run(r.Context(), pipeline.Request{
		RequestID: requestID,
		ClientIP:  clientIP,
		Path:      r.URL.Path,
		Body:      body,
	})
	if err != nil {
		respondError(w, pipeline.Classify(err), requestID)
		return
	}

	log.Debug().
		Str("request_id", res.RequestID).
		Int("response_chars", len([]rune(res.Response))).
		Msg("chat completed")
	respondJSON(w, http.StatusOK, res)
}

// Health handles GET /health. It never touches the pipeline.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /ready by probing the backend.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	requestID := pkgmw.GetRequestID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	health, err := h.Backend.HealthCheck(ctx)
	if err != nil {
		log.Warn().Err(err).Str("request_id", requestID).Msg("backend not ready")
		respondError(w, pipeline.Classify(err), requestID)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"backend":         "ok",
		"model_available": health.ModelAvailable,
		"latency_ms":      health.Latency.Milliseconds(),
	})
}

// Version handles GET /version.
func (h *Handlers) Version(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"version": h.ServiceVersion,
		"service": h.ServiceName,
	})
}

// NotFound writes the error envelope for unknown routes.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusNotFound, pipeline.Envelope{
		Error:     "not_found",
		Message:   "Resource not found",
		RequestID: pkgmw.GetRequestID(r.Context()),
	})
}

// MethodNotAllowed writes the error envelope for a known route hit with an
// unsupported method.
func (h *Handlers) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusMethodNotAllowed, pipeline.Envelope{
		Error:     "method_not_allowed",
		Message:   "Method not allowed",
		RequestID: pkgmw.GetRequestID(r.Context()),
	})
}

// ── Helpers ─────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, perr *pipeline.Error, requestID string) {
	if perr.Kind == pipeline.KindRateLimitExceeded && perr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(perr.RetryAfter))
	}
	respondJSON(w, perr.Kind.Status(), perr.Envelope(requestID))
}

