// Package http contains the handlers of the local license API surface.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	apierrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/license"
)

// requestValidator validates bound request payloads.
var requestValidator = validator.New()

// LicenseService is the slice of the engine the handlers need.
type LicenseService interface {
	Check(ctx context.Context, opts license.CheckOptions) (license.Outcome, error)
	Activate(ctx context.Context, key string) (license.Outcome, error)
	Deactivate(ctx context.Context) error
	Snapshot(ctx context.Context) (*license.Record, license.Status)
	Renewal(ctx context.Context) license.RenewalInfo
}

// LicenseHandler handles license-related HTTP requests.
type LicenseHandler struct {
	service LicenseService
	logger  *slog.Logger
	// limiter bounds activation attempts: keys are guessable and the server
	// round-trip is expensive.
	limiter *rate.Limiter
}

// NewLicenseHandler creates a new license handler. rps/burst bound the
// activation endpoint.
func NewLicenseHandler(service LicenseService, logger *slog.Logger, rps float64, burst int) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// ActivationRequest is the payload for POST /api/license/activate.
type ActivationRequest struct {
	LicenseKey string `json:"license_key" validate:"required,min=8"`
}

// Bind implements the render.Binder interface.
func (a *ActivationRequest) Bind(r *http.Request) error {
	if err := requestValidator.Struct(a); err != nil {
		return err
	}
	return license.ValidateKeyFormat(a.LicenseKey)
}

// StatusResponse is the payload for GET /api/license/status.
type StatusResponse struct {
	Outcome   license.Outcome     `json:"outcome"`
	Status    license.Status      `json:"status"`
	KeyMasked string              `json:"key_masked,omitempty"`
	ExpiresOn *time.Time          `json:"expires_on,omitempty"`
	Renewal   license.RenewalInfo `json:"renewal"`
	TraceID   string              `json:"trace_id"`
	Timestamp time.Time           `json:"timestamp"`
}

// ActivationResponse is the payload for POST /api/license/activate.
type ActivationResponse struct {
	Success   bool            `json:"success"`
	Outcome   license.Outcome `json:"outcome"`
	TraceID   string          `json:"trace_id"`
	Timestamp time.Time       `json:"timestamp"`
}

// Routes returns a chi router for the license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/status", h.GetStatus)
	r.Get("/renewal", h.GetRenewal)
	r.Post("/activate", h.Activate)
	r.Delete("/", h.Deactivate)

	return r
}

// GetStatus handles GET /api/license/status. The check is never forced
// online, so a healthy cached record answers without a network round-trip.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := h.traceID(ctx)
	start := time.Now()

	outcome, err := h.service.Check(ctx, license.CheckOptions{})
	if err != nil {
		h.logger.ErrorContext(ctx, "license status check raised storage error",
			slog.String("trace_id", traceID),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.StorageFailure(err))
		return
	}

	rec, status := h.service.Snapshot(ctx)
	resp := &StatusResponse{
		Outcome:   outcome,
		Status:    status,
		Renewal:   h.service.Renewal(ctx),
		TraceID:   traceID,
		Timestamp: time.Now(),
	}
	if rec != nil {
		resp.KeyMasked = maskKey(rec.Key)
		expires := rec.ExpiresOn
		resp.ExpiresOn = &expires
	}

	h.logger.InfoContext(ctx, "license status served",
		slog.String("trace_id", traceID),
		slog.String("status", string(status)),
		slog.Bool("is_valid", outcome.IsValid),
		slog.Duration("latency", time.Since(start)))

	render.JSON(w, r, resp)
}

// GetRenewal handles GET /api/license/renewal.
func (h *LicenseHandler) GetRenewal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	render.JSON(w, r, h.service.Renewal(ctx))
}

// Activate handles POST /api/license/activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := h.traceID(ctx)

	if !h.limiter.Allow() {
		h.logger.WarnContext(ctx, "activation rate limit exceeded",
			slog.String("trace_id", traceID),
			slog.String("remote_addr", r.RemoteAddr))
		render.Render(w, r, apierrors.ErrRateLimitExceeded)
		return
	}

	var req ActivationRequest
	if err := render.Bind(r, &req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	outcome, err := h.service.Activate(ctx, req.LicenseKey)
	if err != nil {
		h.logger.ErrorContext(ctx, "activation raised storage error",
			slog.String("trace_id", traceID),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.StorageFailure(err))
		return
	}

	resp := &ActivationResponse{
		Success:   outcome.IsValid,
		Outcome:   outcome,
		TraceID:   traceID,
		Timestamp: time.Now(),
	}

	if !outcome.IsValid {
		// An unsuccessful activation is a normal outcome; the status code
		// still distinguishes it for API clients.
		render.Status(r, http.StatusUnprocessableEntity)
	}
	render.JSON(w, r, resp)
}

// Deactivate handles DELETE /api/license.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := h.traceID(ctx)

	if err := h.service.Deactivate(ctx); err != nil {
		h.logger.ErrorContext(ctx, "deactivation raised storage error",
			slog.String("trace_id", traceID),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.StorageFailure(err))
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"success":  true,
		"message":  "license record cleared",
		"trace_id": traceID,
	})
}

func (h *LicenseHandler) traceID(ctx context.Context) string {
	if traceID := infrastructure.TraceIDFromContext(ctx); traceID != "" {
		return traceID
	}
	return middleware.GetReqID(ctx)
}

// maskKey keeps only the key prefix group for display.
func maskKey(key string) string {
	formatted := license.FormatKeyWithDashes(key)
	if len(formatted) < 7 {
		return "****"
	}
	return formatted[:7] + "-****"
}
