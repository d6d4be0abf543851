// Package middleware contains the HTTP middleware of the local API surface.
package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/license"
)

// LicenseGate is the HTTP-shaped gate: it consults the license engine before
// letting a request reach a protected handler. The next handler is an
// injected dependency; nothing is substituted or patched in place.
type LicenseGate struct {
	engine          license.Checker
	logger          *slog.Logger
	excludePaths    []string
	excludePrefixes []string
	enabled         bool
	redirectOnFail  bool
	licensePageURL  string
}

// NewLicenseGate creates the gate middleware over the given engine.
func NewLicenseGate(engine license.Checker, logger *slog.Logger) *LicenseGate {
	return &LicenseGate{
		engine:         engine,
		logger:         logger.With(slog.String("component", "license_middleware")),
		enabled:        true,
		redirectOnFail: true,
		licensePageURL: "/license",
		excludePaths: []string{
			"/",
			"/license",
			"/api/license/status",
			"/api/license/activate",
			"/api/license/renewal",
			"/api/health",
			"/metrics",
			"/favicon.ico",
		},
		excludePrefixes: []string{
			"/static/",
			"/assets/",
		},
	}
}

// Handler returns the middleware handler function.
func (lg *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tracer := otel.Tracer("license-middleware")

		ctx, span := tracer.Start(ctx, "license_middleware.check",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.Path),
				attribute.String("component", "license_middleware"),
			),
		)
		defer span.End()
		r = r.WithContext(ctx)

		traceID := infrastructure.TraceIDFromContext(ctx)
		if traceID == "" {
			traceID = middleware.GetReqID(ctx)
		}

		if !lg.enabled {
			next.ServeHTTP(w, r)
			return
		}

		if lg.shouldExcludePath(r.URL.Path) {
			span.SetAttributes(attribute.String("license.check", "excluded"))
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		outcome, err := lg.engine.Check(ctx, license.CheckOptions{})
		elapsed := time.Since(start)

		span.SetAttributes(
			attribute.Bool("license.valid", outcome.IsValid),
			attribute.String("license.status", string(outcome.Status)),
			attribute.Bool("license.was_offline", outcome.WasOffline),
			attribute.Float64("license.duration_ms", float64(elapsed.Milliseconds())),
		)

		if err != nil {
			// Storage write failures are the only errors the engine raises.
			span.RecordError(err)
			lg.logger.ErrorContext(ctx, "license check raised storage error",
				slog.String("error", err.Error()),
				slog.String("path", r.URL.Path),
				slog.String("trace_id", traceID))

			lg.denyWithProblem(w, r, http.StatusServiceUnavailable,
				"/errors/license-storage-failure",
				"License Storage Failure",
				"The license record could not be updated. Please retry.",
				traceID, outcome)
			return
		}

		if !outcome.IsValid {
			lg.logger.InfoContext(ctx, "request refused by license gate",
				slog.String("path", r.URL.Path),
				slog.String("status", string(outcome.Status)),
				slog.String("reason", outcome.Message),
				slog.Bool("was_offline", outcome.WasOffline),
				slog.String("trace_id", traceID))

			lg.handleDenied(w, r, outcome, traceID)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// shouldExcludePath checks if a path should bypass the gate.
func (lg *LicenseGate) shouldExcludePath(path string) bool {
	for _, excluded := range lg.excludePaths {
		if path == excluded {
			return true
		}
	}
	for _, prefix := range lg.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// handleDenied routes a denial either as an RFC 7807 response (API callers)
// or a redirect to the license page (browser callers). A denial is a normal
// outcome, not a server fault.
func (lg *LicenseGate) handleDenied(w http.ResponseWriter, r *http.Request, outcome license.Outcome, traceID string) {
	if isAPIRequest(r) {
		lg.denyWithProblem(w, r, http.StatusPreconditionRequired,
			"/errors/license-"+string(outcome.Status),
			deniedTitle(outcome.Status),
			outcome.Message,
			traceID, outcome)
		return
	}

	if lg.redirectOnFail {
		redirectURL := lg.licensePageURL + "?reason=" + string(outcome.Status)
		http.Redirect(w, r, redirectURL, http.StatusTemporaryRedirect)
		return
	}

	http.Error(w, outcome.Message, http.StatusPreconditionRequired)
}

func (lg *LicenseGate) denyWithProblem(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail, traceID string, outcome license.Outcome) {
	problem := errors.NewProblemDetails(
		status,
		problemType,
		title,
		detail,
		fmt.Sprintf("%s#%s", r.URL.Path, traceID),
	).WithExtension("trace_id", traceID).
		WithExtension("license_status", string(outcome.Status)).
		WithExtension("was_offline", outcome.WasOffline).
		WithExtension("redirect_url", lg.licensePageURL)

	render.Render(w, r, problem)
}

// deniedTitle maps a license status to a human-readable denial title.
func deniedTitle(status license.Status) string {
	switch status {
	case license.StatusExpired:
		return "License Expired"
	case license.StatusRevoked:
		return "License Revoked"
	case license.StatusGrace:
		return "Offline Grace Period Exceeded"
	default:
		return "License Not Activated"
	}
}

// SetEnabled enables or disables the gate.
func (lg *LicenseGate) SetEnabled(enabled bool) {
	lg.enabled = enabled
}

// SetRedirectOnFail sets whether browser requests are redirected on denial.
func (lg *LicenseGate) SetRedirectOnFail(redirect bool) {
	lg.redirectOnFail = redirect
}

// SetLicensePageURL sets the URL of the license activation page.
func (lg *LicenseGate) SetLicensePageURL(url string) {
	lg.licensePageURL = url
}

// AddExcludePath adds a path that bypasses the gate.
func (lg *LicenseGate) AddExcludePath(path string) {
	lg.excludePaths = append(lg.excludePaths, path)
}

// AddExcludePrefix adds a path prefix that bypasses the gate.
func (lg *LicenseGate) AddExcludePrefix(prefix string) {
	lg.excludePrefixes = append(lg.excludePrefixes, prefix)
}

// isAPIRequest checks if the request expects a JSON response.
func isAPIRequest(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}
