package license

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"licensegate/internal/infrastructure"
	"licensegate/internal/security"
)

// Transport failure taxonomy. ErrMalformedResponse wraps ErrUnreachable on
// purpose: an unparsable body means the network path is untrustworthy, not
// that the server made an authoritative statement, so both feed the offline
// fallback. ErrUnauthorized is the opposite: an authoritative rejection
// that must never fall back offline.
var (
	ErrUnreachable       = errors.New("license server unreachable")
	ErrUnauthorized      = errors.New("license key rejected by server")
	ErrMalformedResponse = fmt.Errorf("%w: malformed response body", ErrUnreachable)
)

// DefaultValidationTimeout bounds a single /validate exchange. An unreachable
// server must resolve to a denial, never a hang.
const DefaultValidationTimeout = 10 * time.Second

// ServerResponse is the license server's answer to a validation request.
type ServerResponse struct {
	IsValid       bool      `json:"isValid"`
	Message       string    `json:"message,omitempty"`
	ExpiresOn     time.Time `json:"expiresOn"`
	IsRevoked     bool      `json:"isRevoked"`
	GracePeriodMs int64     `json:"gracePeriodMs"`
}

// Environment describes the host application for the server's abuse
// detection. None of it is used for authorization on the client.
type Environment struct {
	AppName         string `json:"appName"`
	AppVersion      string `json:"appVersion"`
	Platform        string `json:"platform"`
	SoftwareVersion string `json:"softwareVersion"`
}

// validateRequest is the wire payload for POST /validate.
type validateRequest struct {
	MachineID   string      `json:"machineId"`
	SessionID   string      `json:"sessionId"`
	Environment Environment `json:"environment"`
}

// Validator is the single network exchange the engine depends on.
type Validator interface {
	Validate(ctx context.Context, key string) (*ServerResponse, error)
}

// Client performs the HTTP round-trip to the license server. The endpoint is
// fixed at construction; there is no runtime-mutable test-mode switch.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	fingerprint *security.FingerprintManager
	sessionID   string
	env         Environment
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient substitutes the underlying http.Client, mainly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds each validation exchange.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a validation transport against the given server URL.
// A fresh session ID identifies this process to the server across requests.
func NewClient(baseURL string, fingerprint *security.FingerprintManager, env Environment, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: DefaultValidationTimeout},
		fingerprint: fingerprint,
		sessionID:   uuid.New().String(),
		env:         env,
		logger:      infrastructure.GetLogger().With(slog.String("component", "license_transport")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionID returns the per-process session identifier sent with every
// validation request.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Validate performs one request/response exchange with the license server.
// It never retries internally: transient failures are reported as
// ErrUnreachable and handled by the caller's offline policy.
func (c *Client) Validate(ctx context.Context, key string) (*ServerResponse, error) {
	machineID := ""
	if c.fingerprint != nil {
		if fp, err := c.fingerprint.Generate(); err == nil {
			machineID = fp.Fingerprint
		}
	}

	payload := validateRequest{
		MachineID:   machineID,
		SessionID:   c.sessionID,
		Environment: c.env,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/validate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "license server request failed",
			slog.String("url", c.baseURL+"/validate"),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.logger.WarnContext(ctx, "license key rejected by server",
			slog.String("key_masked", maskLicenseKey(key)),
			slog.Int("status_code", resp.StatusCode),
		)
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		// Anything else non-2xx says nothing authoritative about the
		// license; treat it as an untrustworthy network path.
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnreachable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var sr ServerResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		c.logger.WarnContext(ctx, "license server returned malformed body",
			slog.Int("body_bytes", len(raw)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	c.logger.DebugContext(ctx, "license validation exchange completed",
		slog.Bool("is_valid", sr.IsValid),
		slog.Bool("is_revoked", sr.IsRevoked),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &sr, nil
}
