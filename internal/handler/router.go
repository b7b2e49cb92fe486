package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter mounts every route of the booking server.
func NewRouter(h *BookingHandler, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(log))             // structured access log
	r.Use(CORS)                    // permissive CORS for demo

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.ListEvents)
			r.Get("/{eventId}", h.GetEvent)
			r.Get("/{eventId}/occupancy", h.Occupancy)
			r.Get("/{eventId}/occupancy/stream", h.OccupancyStream)
		})
		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.Book)
			r.Delete("/{participantId}", h.Cancel)
		})
	})

	r.Handle("/static/*", Static())
	r.Get("/", h.Index)
	r.Get("/{eventId}", h.Index)

	return r
}
