package license

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments for the license engine.
type Metrics struct {
	ChecksTotal        metric.Int64Counter
	CheckDuration      metric.Float64Histogram
	OfflineFallbacks   metric.Int64Counter
	Revocations        metric.Int64Counter
	Activations        metric.Int64Counter
	BackgroundRefreshes metric.Int64Counter
}

// NewMetrics registers the license instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ChecksTotal, err = meter.Int64Counter("license_checks_total",
		metric.WithDescription("Total license checks by status and validity"))
	if err != nil {
		return nil, err
	}

	m.CheckDuration, err = meter.Float64Histogram("license_check_duration_seconds",
		metric.WithDescription("License check duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.OfflineFallbacks, err = meter.Int64Counter("license_offline_fallbacks_total",
		metric.WithDescription("Checks resolved by the offline policy after a transport failure"))
	if err != nil {
		return nil, err
	}

	m.Revocations, err = meter.Int64Counter("license_revocations_total",
		metric.WithDescription("Server-reported revocations that destroyed the local record"))
	if err != nil {
		return nil, err
	}

	m.Activations, err = meter.Int64Counter("license_activations_total",
		metric.WithDescription("License activation attempts by result"))
	if err != nil {
		return nil, err
	}

	m.BackgroundRefreshes, err = meter.Int64Counter("license_background_refreshes_total",
		metric.WithDescription("Successful non-blocking background revalidations"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCheck records one completed license check.
func (m *Metrics) RecordCheck(ctx context.Context, out Outcome, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("status", string(out.Status)),
		attribute.Bool("valid", out.IsValid),
		attribute.Bool("offline", out.WasOffline),
	)
	m.ChecksTotal.Add(ctx, 1, attrs)
	m.CheckDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordOfflineFallback records a check resolved without the server.
func (m *Metrics) RecordOfflineFallback(ctx context.Context, valid bool) {
	m.OfflineFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("valid", valid)))
}

// RecordRevocation records a destructive server-reported revocation.
func (m *Metrics) RecordRevocation(ctx context.Context) {
	m.Revocations.Add(ctx, 1)
}

// RecordActivation records an activation attempt.
func (m *Metrics) RecordActivation(ctx context.Context, success bool) {
	m.Activations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordBackgroundRefresh records a persisted background revalidation.
func (m *Metrics) RecordBackgroundRefresh(ctx context.Context) {
	m.BackgroundRefreshes.Add(ctx, 1)
}
