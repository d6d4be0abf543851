package license

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"licensegate/internal/infrastructure"
)

// logAction logs a structured engine action with trace correlation.
func (e *Engine) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	logger := e.logger
	traceID := infrastructure.TraceIDFromContext(ctx)

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("license.action", action),
			attribute.String("license.result", result),
		)
	}

	allAttrs := []slog.Attr{
		slog.String("action", action),
		slog.String("trace_id", traceID),
	}
	allAttrs = append(allAttrs, attrs...)

	logger.LogAttrs(ctx, level, result, allAttrs...)
}

// logLicenseAction logs an action that references a license key. The key is
// never logged in the clear: a masked form is kept for operators and a
// truncated hash for audit correlation.
func (e *Engine) logLicenseAction(ctx context.Context, level slog.Level, action, result, licenseKey string, attrs ...slog.Attr) {
	licenseAttrs := []slog.Attr{
		slog.String("license_key_masked", maskLicenseKey(licenseKey)),
		slog.String("license_key_hash", hashLicenseKey(licenseKey)),
	}
	licenseAttrs = append(licenseAttrs, attrs...)
	e.logAction(ctx, level, action, result, licenseAttrs...)
}

func (e *Engine) logDebug(ctx context.Context, action, result string, attrs ...slog.Attr) {
	e.logAction(ctx, slog.LevelDebug, action, result, attrs...)
}

func (e *Engine) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	e.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (e *Engine) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	e.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (e *Engine) logError(ctx context.Context, action, result string, attrs ...slog.Attr) {
	e.logAction(ctx, slog.LevelError, action, result, attrs...)
}

func (e *Engine) logLicenseInfo(ctx context.Context, action, result, licenseKey string, attrs ...slog.Attr) {
	e.logLicenseAction(ctx, slog.LevelInfo, action, result, licenseKey, attrs...)
}

func (e *Engine) logLicenseWarn(ctx context.Context, action, result, licenseKey string, attrs ...slog.Attr) {
	e.logLicenseAction(ctx, slog.LevelWarn, action, result, licenseKey, attrs...)
}

// maskLicenseKey keeps the first and last four characters of a key.
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// hashLicenseKey returns a truncated SHA-256 of the key for audit trails.
func hashLicenseKey(key string) string {
	if key == "" {
		return ""
	}
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)[:16]
}
