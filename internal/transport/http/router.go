package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"licensegate/internal/infrastructure"
	licmw "licensegate/internal/middleware"
)

// RouterConfig bundles the dependencies of the local API router.
type RouterConfig struct {
	LicenseHandler *LicenseHandler
	HealthHandler  *HealthHandler
	Gate           *licmw.LicenseGate
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// NewRouter assembles the local API: ungated license/health endpoints, the
// Prometheus scrape endpoint, and a gated subtree for protected operations.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(traceIDMiddleware)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Route("/api", func(r chi.Router) {
		r.Mount("/license", cfg.LicenseHandler.Routes())
		r.Get("/health", cfg.HealthHandler.Health)

		// Everything below runs behind the license gate.
		r.Group(func(r chi.Router) {
			r.Use(cfg.Gate.Handler)
			r.Mount("/protected", protectedRoutes())
		})
	})

	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	return r
}

// protectedRoutes hosts the operations that require a valid license. The
// ping endpoint lets gated clients confirm their license is accepted.
func protectedRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/ping", func(w http.ResponseWriter, req *http.Request) {
		render.JSON(w, req, map[string]string{"status": "licensed"})
	})
	return r
}

// traceIDMiddleware seeds each request context with a trace ID so log lines
// across the request correlate.
func traceIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := infrastructure.EnsureTraceID(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
