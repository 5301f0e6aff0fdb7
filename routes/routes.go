package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dataplane/query-gateway/app"
	"github.com/dataplane/query-gateway/handlers"
	"github.com/dataplane/query-gateway/models"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(deps.Contract.QueryTimeout() + 30*time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	healthHandler := handlers.NewHealthHandler(deps.DB, deps.EventLog, deps.Logger)
	toolsHandler := handlers.NewToolsHandler(deps.QueryService, deps.Logger)
	deploymentHandler := handlers.NewDeploymentHandler(deps.DeployService, deps.Logger)
	eventsHandler := handlers.NewEventsHandler(deps.Events, deps.Logger)
	principalHandler := handlers.NewPrincipalHandler(deps.Logger)

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	// API v1 routes (all require a bearer token)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)

		r.Get("/whoami", principalHandler.HandleWhoAmI)

		r.Route("/tools", func(r chi.Router) {
			r.With(deps.AuthMiddleware.RequireCapability(models.CapabilityComposeQueryPlan)).
				Post("/compose_query_plan", toolsHandler.HandleComposeQueryPlan)
			r.With(deps.AuthMiddleware.RequireCapability(models.CapabilityRunQuery)).
				Post("/run_query", toolsHandler.HandleRunQuery)
			r.Post("/validate_plan", toolsHandler.HandleValidatePlan)
			r.Get("/list_sources", toolsHandler.HandleListSources)
		})

		r.Route("/deployments", func(r chi.Router) {
			r.With(deps.AuthMiddleware.RequireCapability(models.CapabilityDeployObject)).
				Post("/", deploymentHandler.HandleDeploy)
			r.Get("/", deploymentHandler.HandleListObjects)
			r.Get("/{type}/{name}", deploymentHandler.HandleGetCurrentVersion)
		})

		r.With(deps.AuthMiddleware.RequireCapability(models.CapabilityReadEvents)).
			Get("/events", eventsHandler.HandleListEvents)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
