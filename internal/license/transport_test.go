package license

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validServerResponse() ServerResponse {
	return ServerResponse{
		IsValid:       true,
		Message:       "license valid",
		ExpiresOn:     time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		IsRevoked:     false,
		GracePeriodMs: 604_800_000,
	}
}

func TestClientValidateSuccess(t *testing.T) {
	var gotAuth string
	var gotPath string
	var gotReq validateRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(validServerResponse())
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, Environment{
		AppName:    "licensegate",
		AppVersion: "1.0.0",
		Platform:   "linux/amd64",
	})

	resp, err := client.Validate(context.Background(), "LGABCDEFGHJKLMNPQR")
	require.NoError(t, err)

	assert.Equal(t, "/validate", gotPath)
	assert.Equal(t, "Bearer LGABCDEFGHJKLMNPQR", gotAuth)
	assert.Equal(t, client.SessionID(), gotReq.SessionID)
	assert.Equal(t, "licensegate", gotReq.Environment.AppName)

	assert.True(t, resp.IsValid)
	assert.False(t, resp.IsRevoked)
	assert.Equal(t, int64(604_800_000), resp.GracePeriodMs)
	assert.True(t, validServerResponse().ExpiresOn.Equal(resp.ExpiresOn))
}

func TestClientValidateOmitsAuthorizationWithoutKey(t *testing.T) {
	var sawAuthHeader bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawAuthHeader = r.Header["Authorization"]
		json.NewEncoder(w).Encode(ServerResponse{IsValid: false, Message: "no key supplied"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, Environment{})

	resp, err := client.Validate(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, sawAuthHeader)
	assert.False(t, resp.IsValid)
}

func TestClientValidateErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		expected   error
	}{
		{
			name:       "401 is an authoritative rejection",
			statusCode: http.StatusUnauthorized,
			body:       `{"error":"bad key"}`,
			expected:   ErrUnauthorized,
		},
		{
			name:       "403 is an authoritative rejection",
			statusCode: http.StatusForbidden,
			body:       `{"error":"bad key"}`,
			expected:   ErrUnauthorized,
		},
		{
			name:       "500 is unreachable",
			statusCode: http.StatusInternalServerError,
			body:       "boom",
			expected:   ErrUnreachable,
		},
		{
			name:       "404 is unreachable",
			statusCode: http.StatusNotFound,
			body:       "nothing here",
			expected:   ErrUnreachable,
		},
		{
			name:       "200 with unparsable body is malformed",
			statusCode: http.StatusOK,
			body:       "<html>definitely not json</html>",
			expected:   ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, nil, Environment{})

			resp, err := client.Validate(context.Background(), "LGABCDEFGHJKLMNPQR")
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestClientValidateMalformedIsAlsoUnreachable(t *testing.T) {
	// A malformed body means the network path cannot be trusted; callers that
	// only branch on unreachability still take the offline fallback.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{truncated"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, Environment{})

	_, err := client.Validate(context.Background(), "LGABCDEFGHJKLMNPQR")
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestClientValidateConnectionRefusedIsUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listening anymore

	client := NewClient(server.URL, nil, Environment{})

	_, err := client.Validate(context.Background(), "LGABCDEFGHJKLMNPQR")
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestClientValidateTimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		server.Close()
	}()

	client := NewClient(server.URL, nil, Environment{}, WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := client.Validate(context.Background(), "LGABCDEFGHJKLMNPQR")
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClientValidateHonorsContextCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		server.Close()
	}()

	client := NewClient(server.URL, nil, Environment{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Validate(ctx, "LGABCDEFGHJKLMNPQR")
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestClientSessionIDIsStablePerProcess(t *testing.T) {
	client := NewClient("http://localhost:0", nil, Environment{})

	assert.NotEmpty(t, client.SessionID())
	assert.Equal(t, client.SessionID(), client.SessionID())
}
