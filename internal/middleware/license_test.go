package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensegate/internal/license"
)

// stubChecker scripts the gate's engine dependency.
type stubChecker struct {
	outcome license.Outcome
	err     error
	calls   int
}

func (s *stubChecker) Check(ctx context.Context, opts license.CheckOptions) (license.Outcome, error) {
	s.calls++
	return s.outcome, s.err
}

func serveThrough(gate *LicenseGate, r *http.Request) (*httptest.ResponseRecorder, bool) {
	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	gate.Handler(next).ServeHTTP(rec, r)
	return rec, reached
}

func TestGateAllowsValidLicense(t *testing.T) {
	checker := &stubChecker{outcome: license.Outcome{IsValid: true, Status: license.StatusActive}}
	gate := NewLicenseGate(checker, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/api/protected/data", nil)
	rec, reached := serveThrough(gate, req)

	assert.True(t, reached)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, checker.calls)
}

func TestGateExcludedPathsBypassTheCheck(t *testing.T) {
	checker := &stubChecker{outcome: license.Outcome{IsValid: false, Status: license.StatusExpired}}
	gate := NewLicenseGate(checker, slog.Default())

	paths := []string{
		"/",
		"/license",
		"/api/license/status",
		"/api/license/activate",
		"/api/health",
		"/metrics",
		"/static/css/app.css",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			_, reached := serveThrough(gate, req)
			assert.True(t, reached)
		})
	}
	assert.Equal(t, 0, checker.calls)
}

func TestGateDeniesAPIRequestWithProblemDetails(t *testing.T) {
	checker := &stubChecker{outcome: license.Outcome{
		IsValid:    false,
		Status:     license.StatusExpired,
		Message:    "license expired on 2026-01-01",
		WasOffline: false,
	}}
	gate := NewLicenseGate(checker, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/api/protected/data", nil)
	req.Header.Set("Accept", "application/json")
	rec, reached := serveThrough(gate, req)

	assert.False(t, reached)
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "json")

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "License Expired", problem["title"])
	assert.Equal(t, "license expired on 2026-01-01", problem["detail"])
	assert.Equal(t, "expired", problem["license_status"])
	assert.Equal(t, false, problem["was_offline"])
	assert.Equal(t, "/license", problem["redirect_url"])
}

func TestGateRedirectsBrowserRequests(t *testing.T) {
	checker := &stubChecker{outcome: license.Outcome{
		IsValid: false,
		Status:  license.StatusUnactivated,
		Message: "no license activated",
	}}
	gate := NewLicenseGate(checker, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Accept", "text/html")
	rec, reached := serveThrough(gate, req)

	assert.False(t, reached)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/license?reason=unactivated", rec.Header().Get("Location"))
}

func TestGateBrowserDenialWithoutRedirect(t *testing.T) {
	checker := &stubChecker{outcome: license.Outcome{
		IsValid: false,
		Status:  license.StatusGrace,
		Message: "offline grace period exceeded",
	}}
	gate := NewLicenseGate(checker, slog.Default())
	gate.SetRedirectOnFail(false)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Accept", "text/html")
	rec, reached := serveThrough(gate, req)

	assert.False(t, reached)
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)
}

func TestGateStorageErrorIsServiceUnavailable(t *testing.T) {
	checker := &stubChecker{
		outcome: license.Outcome{IsValid: false, Status: license.StatusRevoked},
		err:     fmt.Errorf("license storage clear failed: medium locked"),
	}
	gate := NewLicenseGate(checker, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/api/protected/data", nil)
	rec, reached := serveThrough(gate, req)

	assert.False(t, reached)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "License Storage Failure", problem["title"])
}

func TestGateDisabledPassesEverything(t *testing.T) {
	checker := &stubChecker{outcome: license.Outcome{IsValid: false, Status: license.StatusExpired}}
	gate := NewLicenseGate(checker, slog.Default())
	gate.SetEnabled(false)

	req := httptest.NewRequest(http.MethodGet, "/api/protected/data", nil)
	_, reached := serveThrough(gate, req)

	assert.True(t, reached)
	assert.Equal(t, 0, checker.calls)
}

func TestGateCustomExclusions(t *testing.T) {
	checker := &stubChecker{outcome: license.Outcome{IsValid: false, Status: license.StatusExpired}}
	gate := NewLicenseGate(checker, slog.Default())
	gate.AddExcludePath("/api/custom")
	gate.AddExcludePrefix("/public/")

	for _, path := range []string{"/api/custom", "/public/docs/index.html"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		_, reached := serveThrough(gate, req)
		assert.True(t, reached, "path %s", path)
	}
}

func TestIsAPIRequest(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		accept   string
		expected bool
	}{
		{"json accept header", "/dashboard", "application/json", true},
		{"api path prefix", "/api/protected/data", "", true},
		{"browser request", "/dashboard", "text/html", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			assert.Equal(t, tt.expected, isAPIRequest(req))
		})
	}
}
