package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds the router wiring.
type RouterConfig struct {
	Handler        *Handler
	AdminJWTSecret string
	// MetricsHandler defaults to promhttp.Handler when nil.
	MetricsHandler http.Handler
}

// NewRouter creates the chi router with the full API surface.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r.Get("/healthz", cfg.Handler.Healthz)
	r.Method(http.MethodGet, "/metrics", metricsHandler)
	r.Post("/events", cfg.Handler.PostEvent)

	r.Route("/admin", func(r chi.Router) {
		r.Use(AdminJWT(cfg.AdminJWTSecret))
		r.Get("/approvals/{id}", cfg.Handler.GetApproval)
		r.Post("/approvals/{id}/resolve", cfg.Handler.ResolveApproval)
		r.Post("/jobs/{id}/cancel", cfg.Handler.CancelJob)
		r.Get("/budget", cfg.Handler.GetBudget)
	})

	return r
}
