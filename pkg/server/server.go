// Package server provides the public entry point for initializing the
// gateway: configuration, logging, tracing, the chat pipeline and the HTTP
// router.
//
// This package exists in pkg/ (not internal/) so that other binaries can
// embed the gateway behind their own middleware.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(fmt.Sprintf(":%d", srv.Port), srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ollamagate/gateway/internal/api"
	"github.com/ollamagate/gateway/internal/api/handlers"
	"github.com/ollamagate/gateway/internal/backend"
	"github.com/ollamagate/gateway/internal/config"
	"github.com/ollamagate/gateway/internal/guardrails"
	"github.com/ollamagate/gateway/internal/logging"
	"github.com/ollamagate/gateway/internal/pipeline"
	"github.com/ollamagate/gateway/internal/ratelimit"
	"github.com/ollamagate/gateway/internal/retention"
	"github.com/ollamagate/gateway/internal/telemetry"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized gateway.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Config is the resolved configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown. It stops the
	// retention janitor and flushes telemetry.
	ShutdownFunc func(context.Context) error
}

// New loads configuration from the environment and returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig initializes the gateway with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	limiter := ratelimit.NewSlidingWindow(cfg.RateLimit.RPM, cfg.RateLimit.Window)
	guard := guardrails.New(cfg.Guardrail.MaxInputLength)
	client := backend.NewOllamaClient(cfg.Backend.OllamaURL, cfg.Backend.ModelName,
		backend.WithTimeout(cfg.Backend.Timeout),
	)

	log.Info().
		Int("rpm", limiter.Limit()).
		Dur("window", limiter.Window()).
		Int("max_input_length", guard.MaxInputLength()).
		Str("ollama_url", cfg.Backend.OllamaURL).
		Str("model", client.Model()).
		Dur("timeout", cfg.Backend.Timeout).
		Msg("gateway components initialized")

	chat := pipeline.NewChat(limiter, guard, client)
	h := handlers.New(chat, client, cfg.Telemetry.ServiceName, cfg.Version)
	router := api.NewRouter(cfg, h)

	stopJanitor := func() {}
	if cfg.RateLimit.SweepInterval > 0 {
		janitorCtx, cancel := context.WithCancel(context.Background())
		janitor := retention.NewJanitor(cfg.RateLimit.SweepInterval)
		janitor.Register("rate_limit", limiter)
		go janitor.Start(janitorCtx)
		stopJanitor = cancel
	}

	return &Server{
		Handler: router,
		Config:  cfg,
		Port:    cfg.Port,
		ShutdownFunc: func(ctx context.Context) error {
			stopJanitor()
			return shutdown(ctx)
		},
	}, nil
}
