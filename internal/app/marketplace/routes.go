// Package marketplace предоставляет маршруты для основного приложения.
package marketplace

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brandonlmk/jobs-marketplace/internal/http-server/handlers/events"
	"github.com/brandonlmk/jobs-marketplace/internal/http-server/handlers/health"
	"github.com/brandonlmk/jobs-marketplace/internal/http-server/mware"
	dispatchservice "github.com/brandonlmk/jobs-marketplace/internal/services/dispatch"
	"github.com/brandonlmk/jobs-marketplace/internal/storage/repository"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, dispatchService *dispatchservice.Service, db *repository.Storage) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mware.RateLimitMiddleware(logger))
			r.Post("/events", events.New(logger, dispatchService).ServeHTTP)
		})
	})

	r.Get("/health", health.New(logger, db).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
}
