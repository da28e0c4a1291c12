package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/willswire/mcheyne/internal/config"
	"github.com/willswire/mcheyne/internal/metrics"
)

// SetupRoutes configures all HTTP routes and returns the router.
//
// Route structure:
//
//	GET    /health
//	GET    /metrics
//	GET    /api/v1/plan
//	GET    /api/v1/selections/today
//	GET    /api/v1/selections/date/{date}
//	GET    /api/v1/selections/{index}
//	PUT    /api/v1/selections/{index}/passages/{slot}   (auth) mark read
//	DELETE /api/v1/selections/{index}/passages/{slot}   (auth) mark unread
//	PUT    /api/v1/settings/start-date                  (auth)
//	PUT    /api/v1/settings/self-paced                  (auth)
//	POST   /api/v1/reset                                (auth)
func SetupRoutes(handlers *Handlers, m *metrics.Metrics, cfg *config.Config, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		RecoveryMiddleware(logger),
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
		CORSMiddleware(),
	)

	r.Get("/health", handlers.HealthCheck)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/plan", handlers.GetPlan)
		r.Get("/selections/today", handlers.GetTodaySelection)
		r.Get("/selections/date/{date}", handlers.GetDateSelection)
		r.Get("/selections/{index}", handlers.GetSelection)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg, logger))

			r.Put("/selections/{index}/passages/{slot}", handlers.MarkPassageRead)
			r.Delete("/selections/{index}/passages/{slot}", handlers.MarkPassageUnread)
			r.Put("/settings/start-date", handlers.UpdateStartDate)
			r.Put("/settings/self-paced", handlers.UpdateSelfPaced)
			r.Post("/reset", handlers.ResetPlan)
		})
	})

	return r
}
