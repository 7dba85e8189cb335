// Package api provides HTTP router setup.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/multaszero/recurso/internal/config"
)

// NewRouter creates a new HTTP router with all routes configured. ui may be
// nil to run the JSON API without the server-rendered frontend. quota is the
// shared analysis rate limiter; the frontend wraps its upload route with the
// same instance so UI and API analyses draw from one allowance.
func NewRouter(cfg *config.Config, handler *Handler, ui http.Handler, quota func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", handler.HealthCheck)

	// Analysis is the only quota-limited endpoint.
	r.Group(func(r chi.Router) {
		r.Use(quota)
		r.Post("/analyze", handler.Analyze)
	})

	r.Post("/generate-appeal", handler.GenerateAppeal)
	r.Post("/create-checkout", handler.CreateCheckout)
	r.Get("/verify-payment", handler.VerifyPayment)

	// Serve the frontend if enabled
	if cfg.Server.EnableUI && ui != nil {
		r.Mount("/", ui)
	}

	return r
}
