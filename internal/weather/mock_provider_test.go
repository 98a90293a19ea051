package weather_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raincheck/raincheck/internal/weather"
)

// fixedNow is hour aligned so window arithmetic in tests is exact.
var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// mockProvider is a test provider with per-call hooks and call counters.
type mockProvider struct {
	historicalFn func(lat, lon float64, at time.Time) (*weather.Observation, error)
	forecastFn   func(lat, lon float64) (*weather.Forecast, error)
	places       []weather.Place
	geocodeErr   error

	historicalCalls atomic.Int32
	forecastCalls   atomic.Int32

	mu        sync.Mutex
	requested []time.Time
}

func (m *mockProvider) GetHistorical(_ context.Context, lat, lon float64, at time.Time) (*weather.Observation, error) {
	m.historicalCalls.Add(1)
	m.mu.Lock()
	m.requested = append(m.requested, at)
	m.mu.Unlock()

	if m.historicalFn != nil {
		return m.historicalFn(lat, lon, at)
	}
	return &weather.Observation{Time: at.Unix(), Temp: 10}, nil
}

func (m *mockProvider) GetForecast(_ context.Context, lat, lon float64) (*weather.Forecast, error) {
	m.forecastCalls.Add(1)
	if m.forecastFn != nil {
		return m.forecastFn(lat, lon)
	}
	return &weather.Forecast{Lat: lat, Lon: lon}, nil
}

func (m *mockProvider) Geocode(_ context.Context, _ string) ([]weather.Place, error) {
	if m.geocodeErr != nil {
		return nil, m.geocodeErr
	}
	return m.places, nil
}

func (m *mockProvider) Name() string {
	return "mock"
}

func (m *mockProvider) requestedHours() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.requested...)
}

func nowFunc(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func hourlyForecast(start time.Time, hours int, rain float64) *weather.Forecast {
	f := &weather.Forecast{FetchedAt: start}
	for i := 0; i < hours; i++ {
		amount := rain
		f.Hourly = append(f.Hourly, weather.Observation{
			Time: start.Add(time.Duration(i) * time.Hour).Unix(),
			Temp: 12,
			Rain: &weather.Precipitation{Accumulated: &amount},
		})
	}
	return f
}

func addLocation(t *testing.T, repo weather.Repository, name string, lat, lon float64) weather.Location {
	t.Helper()
	loc := weather.NewLocation(name, lat, lon)
	require.NoError(t, repo.InsertLocation(context.Background(), loc))
	return loc
}

func addHistory(t *testing.T, repo weather.Repository, locationID string, at time.Time, rain, snow float64) {
	t.Helper()
	payload, err := weather.EncodePayload(weather.Observation{Time: at.Unix(), Temp: 5})
	require.NoError(t, err)
	require.NoError(t, repo.InsertHistory(context.Background(), weather.HistoryPoint{
		LocationID:  locationID,
		Time:        at,
		Temperature: 5,
		RainMM:      rain,
		SnowMM:      snow,
		Payload:     payload,
	}))
}

func collectHistory(t *testing.T, repo weather.Repository, locationID string, since time.Time) []weather.HistoryPoint {
	t.Helper()
	var points []weather.HistoryPoint
	for p, err := range repo.HistorySince(context.Background(), locationID, since) {
		require.NoError(t, err)
		points = append(points, p)
	}
	return points
}
