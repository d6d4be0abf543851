package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError(t *testing.T) {
	err := New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")

	assert.Equal(t, "Invalid request format", err.Error())
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", err.ErrorCode)
}

func TestStorageFailureCarriesDetails(t *testing.T) {
	err := StorageFailure(fmt.Errorf("disk full"))

	assert.Equal(t, http.StatusInternalServerError, err.StatusCode)
	assert.Equal(t, "STORAGE_ERROR", err.ErrorCode)
	assert.Equal(t, "disk full", err.Details)
}

func TestProblemDetailsMarshalsExtensionsTopLevel(t *testing.T) {
	problem := NewProblemDetails(
		http.StatusPreconditionRequired,
		"/errors/license-expired",
		"License Expired",
		"license expired on 2026-01-01",
		"/api/protected/data#trace-1",
	).WithExtension("license_status", "expired").
		WithExtension("was_offline", true)

	data, err := json.Marshal(problem)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "/errors/license-expired", decoded["type"])
	assert.Equal(t, "License Expired", decoded["title"])
	assert.Equal(t, float64(http.StatusPreconditionRequired), decoded["status"])
	assert.Equal(t, "expired", decoded["license_status"])
	assert.Equal(t, true, decoded["was_offline"])
}

func TestProblemDetailsOmitsEmptyFields(t *testing.T) {
	problem := NewProblemDetails(http.StatusBadRequest, "/errors/bad-request", "Bad Request", "", "")

	data, err := json.Marshal(problem)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	_, hasDetail := decoded["detail"]
	_, hasInstance := decoded["instance"]
	assert.False(t, hasDetail)
	assert.False(t, hasInstance)
}

func TestRateLimitExceeded(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, ErrRateLimitExceeded.StatusCode)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", ErrRateLimitExceeded.ErrorCode)
}
