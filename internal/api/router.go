package api

import (
	"net/http"

	"github.com/ollamagate/gateway/internal/api/handlers"
	"github.com/ollamagate/gateway/internal/api/middleware"
	"github.com/ollamagate/gateway/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all gateway routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware. RequestID runs first so every response, including
	// recovered panics, carries X-Request-ID.
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: !allowsAnyOrigin(cfg.AllowedOrigins),
		MaxAge:           300,
	}))

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	// Health & info
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Get("/version", h.Version)

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.Chat)
	})

	return r
}

func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
