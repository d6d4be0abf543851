package license

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestNewMetricsRegistersAllInstruments(t *testing.T) {
	provider := sdkmetric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	m, err := NewMetrics(provider.Meter("licensegate-test"))
	require.NoError(t, err)

	assert.NotNil(t, m.ChecksTotal)
	assert.NotNil(t, m.CheckDuration)
	assert.NotNil(t, m.OfflineFallbacks)
	assert.NotNil(t, m.Revocations)
	assert.NotNil(t, m.Activations)
	assert.NotNil(t, m.BackgroundRefreshes)
}

func TestMetricsRecordDoesNotPanic(t *testing.T) {
	provider := sdkmetric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	m, err := NewMetrics(provider.Meter("licensegate-test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordCheck(ctx, Outcome{IsValid: true, Status: StatusActive}, 25*time.Millisecond)
	m.RecordCheck(ctx, Outcome{Status: StatusGrace, WasOffline: true}, 5*time.Millisecond)
	m.RecordOfflineFallback(ctx, true)
	m.RecordRevocation(ctx)
	m.RecordActivation(ctx, false)
	m.RecordBackgroundRefresh(ctx)
}
