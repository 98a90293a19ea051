package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raincheck/raincheck/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        false,
	})

	require.NoError(t, err)
	assert.NotNil(t, provider.Tracer)
	assert.NotNil(t, provider.Meter)

	// noop provider has nothing to flush
	assert.Nil(t, provider.TracerProvider)
	assert.Nil(t, provider.MeterProvider)
	assert.NoError(t, provider.Shutdown(ctx))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("OTEL_SAMPLE_RATIO", "")
	t.Setenv("OTEL_METRIC_INTERVAL", "")

	cfg := telemetry.ConfigFromEnv("raincheck-api", "1.2.3")
	assert.Equal(t, "raincheck-api", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.False(t, cfg.Enabled)
	assert.Zero(t, cfg.SampleRatio)
	assert.Zero(t, cfg.MetricInterval)

	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("APP_ENV", "production")
	t.Setenv("OTEL_SAMPLE_RATIO", "0.25")
	t.Setenv("OTEL_METRIC_INTERVAL", "1m")
	cfg = telemetry.ConfigFromEnv("raincheck-api", "1.2.3")
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "production", cfg.Environment)
	assert.InDelta(t, 0.25, cfg.SampleRatio, 1e-9)
	assert.Equal(t, time.Minute, cfg.MetricInterval)
}

func TestWeatherMetrics(t *testing.T) {
	ctx := context.Background()

	metrics, err := telemetry.NewWeatherMetrics()
	require.NoError(t, err)

	// recording against the global noop meter must not panic
	metrics.HistoryInserted(ctx, "1.00,2.00")
	metrics.HistoryDuplicate(ctx, "1.00,2.00")
	metrics.ProviderCall(ctx, "openweathermap", "timemachine", errors.New("boom"))
	metrics.ForecastRefreshed(ctx, "1.00,2.00")
}

func TestWeatherMetrics_NilIsNoop(t *testing.T) {
	var metrics *telemetry.WeatherMetrics

	assert.NotPanics(t, func() {
		metrics.HistoryInserted(context.Background(), "1.00,2.00")
		metrics.ProviderCall(context.Background(), "openweathermap", "geocode", nil)
	})
}
