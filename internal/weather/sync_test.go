package weather_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raincheck/raincheck/internal/weather"
)

func newTestSynchronizer(repo weather.Repository, provider weather.Provider, now *time.Time) *weather.Synchronizer {
	return weather.NewSynchronizer(weather.SynchronizerConfig{
		Repository: repo,
		Provider:   provider,
		Logger:     zerolog.New(io.Discard),
		Now:        nowFunc(now),
	})
}

func TestSynchronizer_SyncHistory_EmptyLocation(t *testing.T) {
	repo := weather.NewInMemoryRepository()
	provider := &mockProvider{}
	now := fixedNow
	s := newTestSynchronizer(repo, provider, &now)
	loc := addLocation(t, repo, "Seattle", 47.6062, -122.3321)

	inserted, err := s.SyncHistory(context.Background(), loc, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 48, inserted)

	points := collectHistory(t, repo, loc.ID, fixedNow.Add(-100*time.Hour))
	require.Len(t, points, 48)
	assert.Equal(t, fixedNow.Add(-48*time.Hour), points[0].Time)
	assert.Equal(t, fixedNow.Add(-time.Hour), points[47].Time)

	seen := make(map[time.Time]bool)
	for _, p := range points {
		assert.Equal(t, 0, p.Time.Minute())
		assert.Equal(t, 0, p.Time.Second())
		assert.False(t, seen[p.Time], "duplicate hour %s", p.Time)
		seen[p.Time] = true
	}
}

func TestSynchronizer_SyncHistory_OnlyMissingHours(t *testing.T) {
	repo := weather.NewInMemoryRepository()
	provider := &mockProvider{}
	now := fixedNow
	s := newTestSynchronizer(repo, provider, &now)
	loc := addLocation(t, repo, "Seattle", 47.6062, -122.3321)
	addHistory(t, repo, loc.ID, fixedNow.Add(-11*time.Hour), 0, 0)

	inserted, err := s.SyncHistory(context.Background(), loc, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 10, inserted)
	assert.Equal(t, int32(10), provider.historicalCalls.Load())

	requested := provider.requestedHours()
	assert.Equal(t, fixedNow.Add(-10*time.Hour), requested[0])
	assert.Equal(t, fixedNow.Add(-time.Hour), requested[len(requested)-1])

	// second pass finds nothing missing
	inserted, err = s.SyncHistory(context.Background(), loc, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.Equal(t, int32(10), provider.historicalCalls.Load())
}

func TestSynchronizer_SyncHistory_DefaultsToCurrentHour(t *testing.T) {
	repo := weather.NewInMemoryRepository()
	provider := &mockProvider{}
	now := fixedNow.Add(34 * time.Minute)
	s := newTestSynchronizer(repo, provider, &now)
	loc := addLocation(t, repo, "Seattle", 47.6062, -122.3321)

	inserted, err := s.SyncHistory(context.Background(), loc, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 48, inserted)

	bounds, err := repo.HistoryBounds(context.Background(), loc.ID)
	require.NoError(t, err)
	require.NotNil(t, bounds)
	assert.Equal(t, fixedNow.Add(-time.Hour), bounds.Newest)
	assert.Equal(t, fixedNow.Add(-48*time.Hour), bounds.Oldest)
}

func TestSynchronizer_SyncHistory_AbsorbsDuplicates(t *testing.T) {
	repo := weather.NewInMemoryRepository()
	now := fixedNow
	loc := addLocation(t, repo, "Seattle", 47.6062, -122.3321)

	// another writer stores the hour between the fetch and the insert
	racer := fixedNow.Add(-30 * time.Hour)
	provider := &mockProvider{
		historicalFn: func(_, _ float64, at time.Time) (*weather.Observation, error) {
			if at.Equal(racer) {
				addHistory(t, repo, loc.ID, at, 0, 0)
			}
			return &weather.Observation{Time: at.Unix()}, nil
		},
	}
	s := newTestSynchronizer(repo, provider, &now)

	inserted, err := s.SyncHistory(context.Background(), loc, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 47, inserted)
	assert.Len(t, collectHistory(t, repo, loc.ID, fixedNow.Add(-48*time.Hour)), 48)
}

func TestSynchronizer_SyncHistory_Concurrent(t *testing.T) {
	repo := weather.NewInMemoryRepository()
	provider := &mockProvider{}
	now := fixedNow
	s := newTestSynchronizer(repo, provider, &now)
	loc := addLocation(t, repo, "Seattle", 47.6062, -122.3321)

	var (
		wg      sync.WaitGroup
		results [2]int
		errs    [2]error
	)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = s.SyncHistory(context.Background(), loc, fixedNow)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 48, results[0]+results[1])
	assert.Len(t, collectHistory(t, repo, loc.ID, fixedNow.Add(-48*time.Hour)), 48)
}

func TestSynchronizer_SyncHistory_ProviderErrorKeepsPartialRows(t *testing.T) {
	repo := weather.NewInMemoryRepository()
	now := fixedNow
	loc := addLocation(t, repo, "Seattle", 47.6062, -122.3321)

	failAt := fixedNow.Add(-44 * time.Hour)
	provider := &mockProvider{
		historicalFn: func(_, _ float64, at time.Time) (*weather.Observation, error) {
			if at.Equal(failAt) {
				return nil, &weather.ProviderError{Provider: "mock", Operation: "historical", StatusCode: http.StatusTooManyRequests}
			}
			return &weather.Observation{Time: at.Unix()}, nil
		},
	}
	s := newTestSynchronizer(repo, provider, &now)

	inserted, err := s.SyncHistory(context.Background(), loc, fixedNow)
	require.Error(t, err)
	assert.ErrorIs(t, err, weather.ErrProviderUnavailable)
	assert.Equal(t, 4, inserted)
	assert.Equal(t, int32(5), provider.historicalCalls.Load())

	points := collectHistory(t, repo, loc.ID, fixedNow.Add(-48*time.Hour))
	require.Len(t, points, 4)
	assert.Equal(t, fixedNow.Add(-45*time.Hour), points[3].Time)

	// the next pass resumes after the stored rows
	provider.historicalFn = nil
	inserted, err = s.SyncHistory(context.Background(), loc, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 44, inserted)
}

func TestSynchronizer_FetchAllHistory_ContinuesPastFailures(t *testing.T) {
	repo := weather.NewInMemoryRepository()
	now := fixedNow.Add(20 * time.Minute)
	addLocation(t, repo, "Seattle", 47.6062, -122.3321)
	broken := addLocation(t, repo, "Portland", 45.5152, -122.6784)
	addLocation(t, repo, "Tacoma", 47.2529, -122.4443)

	provider := &mockProvider{
		historicalFn: func(lat, _ float64, at time.Time) (*weather.Observation, error) {
			if lat == broken.Lat {
				return nil, errors.New("connection reset")
			}
			return &weather.Observation{Time: at.Unix()}, nil
		},
	}
	s := newTestSynchronizer(repo, provider, &now)

	result, err := s.FetchAllHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fixedNow, result.EndTime)
	assert.Equal(t, 3, result.Locations)
	assert.Equal(t, 96, result.Inserted)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, broken.ID, result.Errors[0].LocationID)

	for _, name := range []string{"Seattle", "Tacoma"} {
		loc, err := repo.GetLocation(context.Background(), name)
		require.NoError(t, err)
		require.NotNil(t, loc.LastWeatherTime)
		assert.Equal(t, fixedNow.Add(-time.Hour), *loc.LastWeatherTime)
	}
}

func TestSynchronizer_BackfillHistory(t *testing.T) {
	repo := weather.NewInMemoryRepository()
	provider := &mockProvider{}
	now := fixedNow
	s := newTestSynchronizer(repo, provider, &now)

	deep := addLocation(t, repo, "Seattle", 47.6062, -122.3321)
	shallow := addLocation(t, repo, "Portland", 45.5152, -122.6784)
	addLocation(t, repo, "Tacoma", 47.2529, -122.4443)
	addHistory(t, repo, deep.ID, fixedNow.Add(-100*time.Hour), 0, 0)
	addHistory(t, repo, shallow.ID, fixedNow.Add(-10*time.Hour), 0, 0)

	inserted, err := s.BackfillHistory(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, inserted)

	requested := provider.requestedHours()
	require.Len(t, requested, 5)
	for i, at := range requested {
		assert.Equal(t, fixedNow.Add(-time.Duration(11+i)*time.Hour), at)
	}

	points := collectHistory(t, repo, shallow.ID, fixedNow.Add(-200*time.Hour))
	assert.Len(t, points, 6)
	assert.Equal(t, fixedNow.Add(-15*time.Hour), points[0].Time)

	assert.Len(t, collectHistory(t, repo, deep.ID, fixedNow.Add(-200*time.Hour)), 1)
}

func TestSynchronizer_BackfillHistory_NoHistory(t *testing.T) {
	repo := weather.NewInMemoryRepository()
	provider := &mockProvider{}
	now := fixedNow
	s := newTestSynchronizer(repo, provider, &now)
	addLocation(t, repo, "Seattle", 47.6062, -122.3321)

	inserted, err := s.BackfillHistory(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.Equal(t, int32(0), provider.historicalCalls.Load())
}

func TestSynchronizer_RefreshForecast_OnlyWhenStale(t *testing.T) {
	repo := weather.NewInMemoryRepository()
	now := fixedNow.Add(10 * time.Minute)
	provider := &mockProvider{
		forecastFn: func(_, _ float64) (*weather.Forecast, error) {
			return hourlyForecast(weather.TruncateHour(now), 48, 0.5), nil
		},
	}
	s := newTestSynchronizer(repo, provider, &now)
	loc := addLocation(t, repo, "Seattle", 47.6062, -122.3321)

	refreshed, err := s.RefreshForecast(context.Background(), loc)
	require.NoError(t, err)
	assert.True(t, refreshed)

	now = now.Add(90 * time.Minute)
	refreshed, err = s.RefreshForecast(context.Background(), loc)
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Equal(t, int32(1), provider.forecastCalls.Load())

	now = now.Add(time.Hour)
	refreshed, err = s.RefreshForecast(context.Background(), loc)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, int32(2), provider.forecastCalls.Load())

	oldest, err := repo.OldestForecastTime(context.Background(), loc.ID)
	require.NoError(t, err)
	require.NotNil(t, oldest)
	assert.Equal(t, weather.TruncateHour(now), *oldest)
}

func TestSynchronizer_RefreshForecast_NoHourlyData(t *testing.T) {
	repo := weather.NewInMemoryRepository()
	provider := &mockProvider{}
	now := fixedNow
	s := newTestSynchronizer(repo, provider, &now)
	loc := addLocation(t, repo, "Seattle", 47.6062, -122.3321)

	refreshed, err := s.RefreshForecast(context.Background(), loc)
	require.NoError(t, err)
	assert.False(t, refreshed)

	oldest, err := repo.OldestForecastTime(context.Background(), loc.ID)
	require.NoError(t, err)
	assert.Nil(t, oldest)
}

func TestSynchronizer_RefreshForecast_FailedReplaceKeepsPreviousSet(t *testing.T) {
	repo := weather.NewInMemoryRepository()
	now := fixedNow
	calls := 0
	provider := &mockProvider{
		forecastFn: func(_, _ float64) (*weather.Forecast, error) {
			calls++
			f := hourlyForecast(weather.TruncateHour(now), 24, 1)
			if calls > 1 {
				// the same hour twice violates the forecast key
				f.Hourly = append(f.Hourly, f.Hourly[0])
			}
			return f, nil
		},
	}
	s := newTestSynchronizer(repo, provider, &now)
	loc := addLocation(t, repo, "Seattle", 47.6062, -122.3321)

	_, err := s.RefreshForecast(context.Background(), loc)
	require.NoError(t, err)

	now = now.Add(3 * time.Hour)
	_, err = s.RefreshForecast(context.Background(), loc)
	require.Error(t, err)
	assert.ErrorIs(t, err, weather.ErrConflict)

	var hours []time.Time
	for p, err := range repo.ForecastUntil(context.Background(), loc.ID, fixedNow.Add(100*time.Hour)) {
		require.NoError(t, err)
		hours = append(hours, p.Time)
	}
	require.Len(t, hours, 24)
	assert.Equal(t, fixedNow, hours[0])
}
