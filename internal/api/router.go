/**
 * @description
 * This file sets up the HTTP router for the disbursement service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for the web client.
 * - github.com/prometheus/client_golang: The /metrics endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions carries the router's security settings.
type RouterOptions struct {
	JWTSecret      string
	InternalAPIKey string
	AllowedOrigins []string
	ReviewLimiter  ReviewLimiter
}

// Routes creates and returns a new router for the disbursement service.
func Routes(h *Handlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Service-to-service routes.
	r.Group(func(r chi.Router) {
		r.Use(InternalKeyMiddleware(opts.InternalAPIKey))
		r.Post("/internal/transfer-requests/{id}/paid", h.MarkPaidHandler)
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware([]byte(opts.JWTSecret)))

		r.Route("/transfer-requests", func(r chi.Router) {
			r.Post("/", h.CreateTransferRequestHandler)
			r.Get("/{id}", h.GetTransferRequestHandler)
			r.Put("/{id}", h.UpdateTransferRequestHandler)
			r.Post("/{id}/void", h.VoidTransferRequestHandler)
			r.Get("/{id}/history", h.ListHistoryHandler)

			// Review actions share one per-approver budget.
			r.Group(func(r chi.Router) {
				r.Use(ReviewRateLimit(opts.ReviewLimiter, h.log))

				r.Post("/reviews", h.CreateReviewHandler)
				r.Post("/approve", h.BatchApproveHandler)
				r.Post("/reject", h.BatchRejectHandler)
				r.Post("/{id}/approve", h.ApproveHandler)
				r.Post("/{id}/reject", h.RejectHandler)
				r.Post("/{id}/require-changes", h.RequireChangesHandler)
				r.Post("/{id}/submitted", h.SubmittedHandler)
			})
		})

		r.Put("/programs/{programID}/approver-groups", h.UpdateApproverGroupsHandler)
		r.Put("/programs/{programID}/currency", h.UpdateProgramCurrencyHandler)
	})

	return r
}
