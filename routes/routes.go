package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/upb/llm-failover/app"
	"github.com/upb/llm-failover/handlers"
	"github.com/upb/llm-failover/middleware"
	"github.com/upb/llm-failover/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware. No global timeout: generation calls carry their own
	// per-provider deadlines and streams stay open until done.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger, deps.Metrics))
	r.Use(chimiddleware.Recoverer)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	var db handlers.DatabaseChecker
	if deps.DB != nil {
		db = deps.DB
	}

	healthHandler := handlers.NewHealthHandler(deps.Monitor, db, deps.Logger)
	generateHandler := handlers.NewGenerateHandler(deps.Orchestrator, deps.Logger)
	providerHandler := handlers.NewProviderHandler(deps.Monitor, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(deps.MetricsRegistry, promhttp.HandlerOpts{}))
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/generate", func(r chi.Router) {
			r.Post("/text", generateHandler.HandleGenerateText)
			r.Post("/object", generateHandler.HandleGenerateObject)
			r.Post("/stream", generateHandler.HandleStreamText)
		})

		r.Route("/providers", func(r chi.Router) {
			r.Get("/health", providerHandler.HandleHealth)

			// Circuit administration (require admin role when a secret is configured)
			r.Group(func(r chi.Router) {
				if deps.AuthMiddleware != nil {
					r.Use(deps.AuthMiddleware.RequireAuth)
					r.Use(deps.AuthMiddleware.RequireRole(middleware.RoleAdmin))
				}
				r.Post("/reset", providerHandler.HandleResetAll)
				r.Post("/{id}/reset", providerHandler.HandleResetProvider)
			})
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
