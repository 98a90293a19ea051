package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const weatherMeterName = "github.com/raincheck/raincheck/internal/weather"

// WeatherMetrics holds the instruments recorded by the weather synchronizer.
// A nil *WeatherMetrics records nothing.
type WeatherMetrics struct {
	historyInserted   metric.Int64Counter
	historyDuplicates metric.Int64Counter
	providerCalls     metric.Int64Counter
	forecastRefreshes metric.Int64Counter
}

// NewWeatherMetrics creates the synchronizer instruments on the global meter.
func NewWeatherMetrics() (*WeatherMetrics, error) {
	meter := otel.Meter(weatherMeterName)

	historyInserted, err := meter.Int64Counter(
		"weather.history.inserted",
		metric.WithDescription("History rows written by the synchronizer"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	historyDuplicates, err := meter.Int64Counter(
		"weather.history.duplicates",
		metric.WithDescription("History rows that already existed when inserted"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	providerCalls, err := meter.Int64Counter(
		"weather.provider.calls",
		metric.WithDescription("Calls made to the weather provider"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	forecastRefreshes, err := meter.Int64Counter(
		"weather.forecast.refreshes",
		metric.WithDescription("Forecast sets replaced"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, err
	}

	return &WeatherMetrics{
		historyInserted:   historyInserted,
		historyDuplicates: historyDuplicates,
		providerCalls:     providerCalls,
		forecastRefreshes: forecastRefreshes,
	}, nil
}

// HistoryInserted records one stored history row.
func (m *WeatherMetrics) HistoryInserted(ctx context.Context, locationID string) {
	if m == nil {
		return
	}
	m.historyInserted.Add(ctx, 1, metric.WithAttributes(attribute.String("location_id", locationID)))
}

// HistoryDuplicate records a history insert that hit an existing row.
func (m *WeatherMetrics) HistoryDuplicate(ctx context.Context, locationID string) {
	if m == nil {
		return
	}
	m.historyDuplicates.Add(ctx, 1, metric.WithAttributes(attribute.String("location_id", locationID)))
}

// ProviderCall records a provider request and whether it failed.
func (m *WeatherMetrics) ProviderCall(ctx context.Context, provider, operation string, err error) {
	if m == nil {
		return
	}
	m.providerCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.Bool("error", err != nil),
	))
}

// ForecastRefreshed records a replaced forecast set.
func (m *WeatherMetrics) ForecastRefreshed(ctx context.Context, locationID string) {
	if m == nil {
		return
	}
	m.forecastRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("location_id", locationID)))
}
