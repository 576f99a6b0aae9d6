/**
 * @description
 * This file sets up the HTTP router for the transfer-service. It defines the
 * API endpoints, associates them with their corresponding handlers, and applies
 * middleware for logging, panic recovery, timeouts, and authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/prometheus/client_golang: The /metrics endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AuthConfig carries the JWT validation parameters for the inbound boundary.
type AuthConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// TransferRoutes creates and returns the router for the transfer service.
func TransferRoutes(h *TransferHandlers, auth AuthConfig) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health and metrics endpoints are not authenticated.
	r.Get("/health", h.HealthHandler)
	r.Get("/health/ready", h.ReadyHandler)
	r.Handle("/metrics", promhttp.Handler())

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(auth.Secret, auth.Issuer, auth.Audience))

		r.Post("/transfers", h.CreateTransferHandler)
	})

	return r
}
