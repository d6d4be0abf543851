package infrastructure

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTraceID(t *testing.T) {
	first := GenerateTraceID()
	second := GenerateTraceID()

	assert.NotEqual(t, first, second)
	_, err := uuid.Parse(first)
	assert.NoError(t, err)
}

func TestTraceIDContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	ctx = WithTraceID(ctx, "trace-123")
	assert.Equal(t, "trace-123", GetTraceID(ctx))
	assert.Equal(t, "trace-123", TraceIDFromContext(ctx))
}

func TestEnsureTraceID(t *testing.T) {
	ctx := EnsureTraceID(context.Background())
	traceID := GetTraceID(ctx)
	require.NotEmpty(t, traceID)

	// An existing trace ID is preserved.
	again := EnsureTraceID(ctx)
	assert.Equal(t, traceID, GetTraceID(again))
}

func TestLoggerWithContext(t *testing.T) {
	logger := LoggerWithContext(context.Background())
	assert.NotNil(t, logger)

	ctx := WithTraceID(context.Background(), "trace-456")
	assert.NotNil(t, LoggerWithContext(ctx))
}

func TestWithComponentAndWithError(t *testing.T) {
	base := slog.Default()

	assert.NotNil(t, WithComponent(base, "license_engine"))
	assert.Same(t, base, WithError(base, nil))
	assert.NotSame(t, base, WithError(base, errors.New("boom")))
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, parseLogLevel(tt.input), "level %q", tt.input)
	}
}
