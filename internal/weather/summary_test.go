package weather_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raincheck/raincheck/internal/weather"
)

func newTestAggregator(repo weather.Repository, provider weather.Provider, now *time.Time) *weather.Aggregator {
	return weather.NewAggregator(repo, newTestSynchronizer(repo, provider, now))
}

func TestAggregator_SummarizeHistory_RollingWindows(t *testing.T) {
	repo := weather.NewInMemoryRepository()
	now := fixedNow
	agg := newTestAggregator(repo, &mockProvider{}, &now)
	loc := addLocation(t, repo, "Seattle", 47.6062, -122.3321)

	addHistory(t, repo, loc.ID, fixedNow.Add(-30*24*time.Hour), 50, 0)
	addHistory(t, repo, loc.ID, fixedNow.Add(-20*24*time.Hour), 2, 0)
	addHistory(t, repo, loc.ID, fixedNow.Add(-5*24*time.Hour), 3, 0)
	addHistory(t, repo, loc.ID, fixedNow.Add(-12*time.Hour), 5, 0)

	summary, err := agg.SummarizeHistory(context.Background(), loc)
	require.NoError(t, err)
	require.NotNil(t, summary.Rain)
	assert.Equal(t, weather.Totals{Day: 5, Week: 8, Month: 10}, *summary.Rain)
	assert.Nil(t, summary.Snow)
}

func TestAggregator_SummarizeHistory_SnowWindows(t *testing.T) {
	repo := weather.NewInMemoryRepository()
	now := fixedNow
	agg := newTestAggregator(repo, &mockProvider{}, &now)
	loc := addLocation(t, repo, "Whistler", 50.1163, -122.9574)

	addHistory(t, repo, loc.ID, fixedNow.Add(-27*24*time.Hour), 0, 40)
	addHistory(t, repo, loc.ID, fixedNow.Add(-6*24*time.Hour), 0, 25)
	addHistory(t, repo, loc.ID, fixedNow.Add(-2*time.Hour), 0, 4)

	summary, err := agg.SummarizeHistory(context.Background(), loc)
	require.NoError(t, err)
	assert.Nil(t, summary.Rain)
	require.NotNil(t, summary.Snow)
	assert.Equal(t, weather.Totals{Day: 4, Week: 29, Month: 69}, *summary.Snow)
}

func TestAggregator_SummarizeHistory_OmitsZeroRain(t *testing.T) {
	repo := weather.NewInMemoryRepository()
	now := fixedNow
	agg := newTestAggregator(repo, &mockProvider{}, &now)
	loc := addLocation(t, repo, "Phoenix", 33.4484, -112.0740)
	addHistory(t, repo, loc.ID, fixedNow.Add(-3*24*time.Hour), 0, 0)

	summary, err := agg.SummarizeHistory(context.Background(), loc)
	require.NoError(t, err)
	assert.Nil(t, summary.Rain)
	assert.Nil(t, summary.Snow)

	data, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestAggregator_SummarizeHistory_SyncsFirst(t *testing.T) {
	repo := weather.NewInMemoryRepository()
	now := fixedNow
	rain := 0.5
	provider := &mockProvider{
		historicalFn: func(_, _ float64, at time.Time) (*weather.Observation, error) {
			return &weather.Observation{
				Time: at.Unix(),
				Rain: &weather.Precipitation{OneHour: &rain},
			}, nil
		},
	}
	agg := newTestAggregator(repo, provider, &now)
	loc := addLocation(t, repo, "Seattle", 47.6062, -122.3321)

	summary, err := agg.SummarizeHistory(context.Background(), loc)
	require.NoError(t, err)
	assert.Equal(t, int32(48), provider.historicalCalls.Load())
	require.NotNil(t, summary.Rain)
	assert.InDelta(t, 12.0, summary.Rain.Day, 1e-9)
	assert.InDelta(t, 24.0, summary.Rain.Week, 1e-9)
	assert.InDelta(t, 24.0, summary.Rain.Month, 1e-9)
}

func TestAggregator_SummarizeForecast(t *testing.T) {
	repo := weather.NewInMemoryRepository()
	now := fixedNow
	provider := &mockProvider{
		forecastFn: func(_, _ float64) (*weather.Forecast, error) {
			return hourlyForecast(fixedNow, 60, 1), nil
		},
	}
	agg := newTestAggregator(repo, provider, &now)
	loc := addLocation(t, repo, "Seattle", 47.6062, -122.3321)

	summary, err := agg.SummarizeForecast(context.Background(), loc)
	require.NoError(t, err)
	assert.Equal(t, weather.ForecastSummary{Rain: 48, Snow: 0}, *summary)

	data, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rain":48,"snow":0}`, string(data))
}

func TestAggregator_SummarizeForecast_EmptyIsZero(t *testing.T) {
	repo := weather.NewInMemoryRepository()
	now := fixedNow
	agg := weather.NewAggregator(repo, weather.NewSynchronizer(weather.SynchronizerConfig{
		Repository: repo,
		Provider:   &mockProvider{},
		Logger:     zerolog.New(io.Discard),
		Now:        nowFunc(&now),
	}))
	loc := addLocation(t, repo, "Seattle", 47.6062, -122.3321)

	summary, err := agg.SummarizeForecast(context.Background(), loc)
	require.NoError(t, err)
	assert.Equal(t, weather.ForecastSummary{}, *summary)
}
