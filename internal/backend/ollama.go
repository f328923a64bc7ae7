package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultBaseURL is where a local Ollama listens out of the box.
	DefaultBaseURL = "http://localhost:11434"
	// DefaultTimeout bounds a single generate call.
	DefaultTimeout = 30 * time.Second

	maxErrorBody = 4 << 10
	// MaxResponseBody caps a generate reply read into memory.
	MaxResponseBody = 8 << 20
)

// OllamaClient implements Generator against Ollama's /api/generate.
type OllamaClient struct {
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
}

// Option configures the Ollama client.
type Option func(*OllamaClient)

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *OllamaClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *OllamaClient) {
		if hc != nil {
			c.client = hc
		}
	}
}

// NewOllamaClient creates a client for the given base URL and model.
func NewOllamaClient(baseURL, model string, opts ...Option) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		timeout: DefaultTimeout,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the model identifier sent with every request.
func (c *OllamaClient) Model() string { return c.model }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response *string `json:"response"`
}

// Generate sends one non-streaming generation request. There is no retry:
// the first failure is classified and returned.
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", protocolFailure("generate", fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", protocolFailure("generate", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", classifyTransport("generate", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody+1))
	if err != nil {
		return "", classifyTransport("generate", fmt.Errorf("read response: %w", err))
	}
	if len(respBody) > MaxResponseBody {
		return "", protocolFailure("generate", fmt.Errorf("response exceeds %d bytes", MaxResponseBody))
	}

	log.Debug().
		Str("model", c.model).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("ollama generate")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", protocolFailure("generate", fmt.Errorf("status %d: %s", resp.StatusCode, truncate(respBody)))
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", protocolFailure("generate", fmt.Errorf("decode response: %w", err))
	}
	if out.Response == nil {
		return "", protocolFailure("generate", errors.New("response field missing"))
	}
	return *out.Response, nil
}

// Health is the result of probing the backend.
type Health struct {
	Models         []string
	ModelAvailable bool
	Latency        time.Duration
}

// HealthCheck lists installed models via /api/tags. It reports whether the
// configured model is among them; a missing model is not an error.
func (c *OllamaClient) HealthCheck(ctx context.Context) (*Health, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, protocolFailure("health", fmt.Errorf("create request: %w", err))
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransport("health", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, protocolFailure("health", fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, protocolFailure("health", fmt.Errorf("decode response: %w", err))
	}

	h := &Health{Latency: time.Since(start)}
	for _, m := range tags.Models {
		h.Models = append(h.Models, m.Name)
		if m.Name == c.model {
			h.ModelAvailable = true
		}
	}
	return h, nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
