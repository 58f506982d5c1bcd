package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterOptions tunes the router. Zero values fall back to defaults.
type RouterOptions struct {
	DeleteBurst  int
	DeleteRefill time.Duration
}

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	if opts.DeleteBurst == 0 {
		opts.DeleteBurst = 100
	}
	if opts.DeleteRefill == 0 {
		opts.DeleteRefill = 100 * time.Millisecond
	}
	// Deleting a root removes its whole chain: burst of DeleteBurst, then one per DeleteRefill
	deleteRateLimiter := NewDeleteRateLimiter(opts.DeleteBurst, opts.DeleteRefill)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.Get("/snapshot", h.Snapshot)

			// Tenant-scoped routes
			r.Group(func(r chi.Router) {
				r.Use(OrganizationMiddleware)
				r.Get("/changes", h.Changes)

				r.Route("/items", func(r chi.Router) {
					r.Post("/", h.CreateItem)
					r.Get("/", h.ListItems)
					r.Post("/preview", h.PreviewItem)
					r.Get("/{id}", h.GetItem)
					r.Get("/{id}/chain", h.GetChain)
					r.Patch("/{id}", h.UpdateItem)
					// DELETE has additional rate limiting
					r.With(deleteRateLimiter.Middleware).Delete("/{id}", h.DeleteItem)
				})
			})
		})
	})

	return r
}
