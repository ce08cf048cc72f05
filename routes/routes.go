package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/memcrypt/console-gateway/app"
	"github.com/memcrypt/console-gateway/internal/observability"
	"github.com/memcrypt/console-gateway/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if cfg.Observability.MetricsEnabled {
		r.Use(deps.Metrics.Middleware)
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "", nil)
	})

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	if cfg.Observability.MetricsEnabled {
		r.Method(http.MethodGet, cfg.Observability.MetricsPath, deps.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if cfg.Server.RateLimit.Enabled && cfg.Server.RateLimit.Requests > 0 {
			r.Use(httprate.Limit(
				cfg.Server.RateLimit.Requests,
				cfg.Server.RateLimit.Window,
				httprate.WithKeyFuncs(httprate.KeyByRealIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					_ = utils.WriteTooManyRequests(w, "Too many requests")
				}),
			))
		}

		// User directory, behind the authentication and access gate.
		// The gate runs before routing so malformed paths are still judged by it.
		r.Route("/users", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AccessMiddleware.Authorize)

			h := deps.UserHandler
			r.Get("/", h.HandleList)
			r.Delete("/", h.HandleDelete)
			r.Get("/pending", h.HandlePending)
			r.Get("/{userId}", h.HandleGet)
			r.Put("/{userId}", h.HandleUpdate)
			r.Delete("/{userId}", h.HandleDelete)
			r.Post("/{userId}/approve", h.HandleApprove)
			r.Post("/{userId}/reject", h.HandleReject)
		})
	})

	return r
}
