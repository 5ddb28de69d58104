package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dashwise/dashboard-qa/internal/api/handler"
	customMiddleware "github.com/dashwise/dashboard-qa/internal/api/middleware"
	"github.com/dashwise/dashboard-qa/internal/config"
	"github.com/dashwise/dashboard-qa/internal/repository/redis"
	"github.com/dashwise/dashboard-qa/internal/repository/sqlite"
	"github.com/dashwise/dashboard-qa/internal/service"
)

// Deps carries the constructed services the router wires handlers onto.
// AnswerCache is nil when Redis is disabled.
type Deps struct {
	DB           *sqlite.DB
	Refresher    *service.Refresher
	Orchestrator *service.Orchestrator
	AnswerCache  *redis.AnswerCache
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	contextHandler := handler.NewContextHandler(deps.Refresher)
	analyzeHandler := handler.NewAnalyzeHandler(deps.Orchestrator)

	authMiddleware := customMiddleware.NewAuthMiddleware(cfg.Auth.APIToken)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.DB))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Route("/contexts", func(r chi.Router) {
				r.Post("/refresh", contextHandler.Refresh)
				r.Get("/status", contextHandler.Status)
			})

			r.Post("/analyze", analyzeHandler.Analyze)

			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Get("/events", analyzeHandler.Events)
				r.Get("/answer", analyzeHandler.Answer)
				r.Delete("/", analyzeHandler.Cancel)
			})

			if deps.AnswerCache != nil {
				r.Post("/cache/flush", handler.FlushCache(deps.AnswerCache))
			}
		})
	})

	return r
}
