package weather_test

import (
	"context"
	"errors"
	"iter"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raincheck/raincheck/internal/migrate"
	"github.com/raincheck/raincheck/internal/weather"
	"github.com/raincheck/raincheck/pkg/geo"
)

func newSQLiteRepository(t *testing.T) *weather.SQLiteRepository {
	t.Helper()
	return newSQLiteRepositoryWithPool(t, 0)
}

func newSQLiteRepositoryWithPool(t *testing.T, maxOpenConns int) *weather.SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	repo, err := weather.OpenSQLite(ctx, filepath.Join(t.TempDir(), "weather.db"), maxOpenConns)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	require.NoError(t, repo.Migrate(ctx, zerolog.Nop()))
	return repo
}

// repositories runs fn against every Repository implementation. The
// PostgreSQL run is skipped unless a test database is configured.
func repositories(t *testing.T, fn func(t *testing.T, repo weather.Repository)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, weather.NewInMemoryRepository())
	})
	t.Run("sqlite", func(t *testing.T) {
		fn(t, newSQLiteRepository(t))
	})
	t.Run("postgres", func(t *testing.T) {
		fn(t, newPostgresRepository(t))
	})
}

func collectLocations(t *testing.T, seq iter.Seq2[weather.Location, error]) []string {
	t.Helper()
	var names []string
	for loc, err := range seq {
		require.NoError(t, err)
		names = append(names, loc.Name)
	}
	return names
}

func TestRepository_InsertAndGetLocation(t *testing.T) {
	repositories(t, func(t *testing.T, repo weather.Repository) {
		ctx := context.Background()
		loc := addLocation(t, repo, "Seattle", 47.6062, -122.3321)
		assert.Equal(t, "47.61,-122.33", loc.ID)

		byID, err := repo.GetLocation(ctx, "47.61,-122.33")
		require.NoError(t, err)
		assert.Equal(t, "Seattle", byID.Name)
		assert.Equal(t, 47.6062, byID.Lat)
		assert.Equal(t, -122.3321, byID.Lon)
		assert.Nil(t, byID.LastWeatherTime)
		assert.Nil(t, byID.OldestForecastTime)

		byName, err := repo.GetLocation(ctx, "Seattle")
		require.NoError(t, err)
		assert.Equal(t, byID.ID, byName.ID)

		_, err = repo.GetLocation(ctx, "Atlantis")
		assert.ErrorIs(t, err, weather.ErrLocationNotFound)

		_, err = repo.GetLocation(ctx, "1.00,2.00")
		assert.ErrorIs(t, err, weather.ErrLocationNotFound)
	})
}

func TestRepository_InsertLocation_Conflict(t *testing.T) {
	repositories(t, func(t *testing.T, repo weather.Repository) {
		ctx := context.Background()
		addLocation(t, repo, "Seattle", 47.6062, -122.3321)

		tests := []struct {
			name string
			loc  weather.Location
		}{
			{"same coordinates", weather.NewLocation("Emerald City", 47.6062, -122.3321)},
			{"same id", weather.NewLocation("Downtown", 47.6101, -122.3349)},
			{"same name", weather.NewLocation("Seattle", 40, -100)},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := repo.InsertLocation(ctx, tt.loc)
				require.Error(t, err)
				assert.ErrorIs(t, err, weather.ErrConflict)

				var conflict *weather.ConflictError
				require.True(t, errors.As(err, &conflict))
				require.NotNil(t, conflict.Existing)
				assert.Equal(t, "Seattle", conflict.Existing.Name)
				assert.Equal(t, "47.61,-122.33", conflict.Existing.ID)
			})
		}

		names := collectLocations(t, repo.ListLocations(ctx))
		assert.Equal(t, []string{"Seattle"}, names)
	})
}

func TestRepository_ListLocations_Restartable(t *testing.T) {
	repositories(t, func(t *testing.T, repo weather.Repository) {
		ctx := context.Background()
		addLocation(t, repo, "Seattle", 47.6062, -122.3321)
		addLocation(t, repo, "Portland", 45.5152, -122.6784)

		seq := repo.ListLocations(ctx)
		assert.ElementsMatch(t, []string{"Seattle", "Portland"}, collectLocations(t, seq))
		assert.ElementsMatch(t, []string{"Seattle", "Portland"}, collectLocations(t, seq))

		// stopping early releases the cursor
		for range seq {
			break
		}
		addLocation(t, repo, "Tacoma", 47.2529, -122.4443)
		assert.Len(t, collectLocations(t, repo.ListLocations(ctx)), 3)
	})
}

func TestRepository_ListLocationsWithin_StrictEdges(t *testing.T) {
	repositories(t, func(t *testing.T, repo weather.Repository) {
		ctx := context.Background()
		box := geo.BoxAround(geo.Point{Lat: 10, Lon: 20}, 2.5)

		addLocation(t, repo, "center", 10, 20)
		addLocation(t, repo, "inside corner", 12.49, 22.49)
		addLocation(t, repo, "low lat edge", 7.5, 20.5)
		addLocation(t, repo, "high lat edge", 12.5, 19.5)
		addLocation(t, repo, "low lon edge", 9.5, 17.5)
		addLocation(t, repo, "high lon edge", 10.5, 22.5)
		addLocation(t, repo, "outside", 30, 20)

		names := collectLocations(t, repo.ListLocationsWithin(ctx, box.Low, box.High))
		assert.ElementsMatch(t, []string{"center", "inside corner"}, names)
	})
}

func TestRepository_History(t *testing.T) {
	repositories(t, func(t *testing.T, repo weather.Repository) {
		ctx := context.Background()
		loc := addLocation(t, repo, "Seattle", 47.6062, -122.3321)

		bounds, err := repo.HistoryBounds(ctx, loc.ID)
		require.NoError(t, err)
		assert.Nil(t, bounds)

		for _, h := range []int{5, 1, 3, 2} {
			addHistory(t, repo, loc.ID, fixedNow.Add(-time.Duration(h)*time.Hour), float64(h), 0)
		}

		err = repo.InsertHistory(ctx, weather.HistoryPoint{
			LocationID: loc.ID,
			Time:       fixedNow.Add(-time.Hour),
			Payload:    []byte(`{"version":1}`),
		})
		assert.ErrorIs(t, err, weather.ErrConflict)

		points := collectHistory(t, repo, loc.ID, fixedNow.Add(-3*time.Hour))
		require.Len(t, points, 3)
		assert.Equal(t, fixedNow.Add(-3*time.Hour), points[0].Time)
		assert.Equal(t, fixedNow.Add(-time.Hour), points[2].Time)
		assert.Equal(t, 1.0, points[2].RainMM)
		assert.Equal(t, loc.ID, points[2].LocationID)

		obs, err := weather.DecodePayload(points[0].Payload)
		require.NoError(t, err)
		assert.Equal(t, fixedNow.Add(-3*time.Hour).Unix(), obs.Time)

		bounds, err = repo.HistoryBounds(ctx, loc.ID)
		require.NoError(t, err)
		require.NotNil(t, bounds)
		assert.Equal(t, fixedNow.Add(-5*time.Hour), bounds.Oldest)
		assert.Equal(t, fixedNow.Add(-time.Hour), bounds.Newest)

		got, err := repo.GetLocation(ctx, loc.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastWeatherTime)
		assert.Equal(t, fixedNow.Add(-time.Hour), *got.LastWeatherTime)
	})
}

func TestRepository_LeastBackfilled(t *testing.T) {
	repositories(t, func(t *testing.T, repo weather.Repository) {
		ctx := context.Background()

		_, _, err := repo.LeastBackfilled(ctx)
		assert.ErrorIs(t, err, weather.ErrLocationNotFound)

		deep := addLocation(t, repo, "Seattle", 47.6062, -122.3321)
		shallow := addLocation(t, repo, "Portland", 45.5152, -122.6784)
		addLocation(t, repo, "Tacoma", 47.2529, -122.4443)

		addHistory(t, repo, deep.ID, fixedNow.Add(-72*time.Hour), 0, 0)
		addHistory(t, repo, deep.ID, fixedNow.Add(-time.Hour), 0, 0)
		addHistory(t, repo, shallow.ID, fixedNow.Add(-6*time.Hour), 0, 0)

		loc, oldest, err := repo.LeastBackfilled(ctx)
		require.NoError(t, err)
		assert.Equal(t, shallow.ID, loc.ID)
		assert.Equal(t, fixedNow.Add(-6*time.Hour), oldest)
	})
}

func forecastPoints(start time.Time, hours int) []weather.ForecastPoint {
	points := make([]weather.ForecastPoint, 0, hours)
	for i := 0; i < hours; i++ {
		points = append(points, weather.ForecastPoint{
			Time:    start.Add(time.Duration(i) * time.Hour),
			RainMM:  1,
			Payload: []byte(`{"version":1}`),
		})
	}
	return points
}

func collectForecast(t *testing.T, repo weather.Repository, locationID string, until time.Time) []weather.ForecastPoint {
	t.Helper()
	var points []weather.ForecastPoint
	for p, err := range repo.ForecastUntil(context.Background(), locationID, until) {
		require.NoError(t, err)
		points = append(points, p)
	}
	return points
}

func TestRepository_ReplaceForecast(t *testing.T) {
	repositories(t, func(t *testing.T, repo weather.Repository) {
		ctx := context.Background()
		loc := addLocation(t, repo, "Seattle", 47.6062, -122.3321)

		oldest, err := repo.OldestForecastTime(ctx, loc.ID)
		require.NoError(t, err)
		assert.Nil(t, oldest)

		require.NoError(t, repo.ReplaceForecast(ctx, loc.ID, forecastPoints(fixedNow, 10)))
		require.NoError(t, repo.ReplaceForecast(ctx, loc.ID, forecastPoints(fixedNow.Add(2*time.Hour), 4)))

		points := collectForecast(t, repo, loc.ID, fixedNow.Add(24*time.Hour))
		require.Len(t, points, 4)
		assert.Equal(t, fixedNow.Add(2*time.Hour), points[0].Time)
		assert.Equal(t, loc.ID, points[0].LocationID)

		// until is exclusive
		assert.Len(t, collectForecast(t, repo, loc.ID, fixedNow.Add(5*time.Hour)), 3)

		oldest, err = repo.OldestForecastTime(ctx, loc.ID)
		require.NoError(t, err)
		require.NotNil(t, oldest)
		assert.Equal(t, fixedNow.Add(2*time.Hour), *oldest)

		got, err := repo.GetLocation(ctx, "Seattle")
		require.NoError(t, err)
		require.NotNil(t, got.OldestForecastTime)
		assert.Equal(t, fixedNow.Add(2*time.Hour), *got.OldestForecastTime)
	})
}

func TestRepository_ReplaceForecast_FailureKeepsPreviousSet(t *testing.T) {
	repositories(t, func(t *testing.T, repo weather.Repository) {
		ctx := context.Background()
		loc := addLocation(t, repo, "Seattle", 47.6062, -122.3321)
		require.NoError(t, repo.ReplaceForecast(ctx, loc.ID, forecastPoints(fixedNow, 6)))

		broken := forecastPoints(fixedNow.Add(10*time.Hour), 5)
		broken = append(broken, broken[2])
		err := repo.ReplaceForecast(ctx, loc.ID, broken)
		require.Error(t, err)
		assert.ErrorIs(t, err, weather.ErrConflict)

		points := collectForecast(t, repo, loc.ID, fixedNow.Add(48*time.Hour))
		require.Len(t, points, 6)
		assert.Equal(t, fixedNow, points[0].Time)
	})
}

func TestSQLiteRepository_MigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	version, err := repo.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	addLocation(t, repo, "Seattle", 47.6062, -122.3321)
	require.NoError(t, repo.Migrate(ctx, zerolog.Nop()))

	version, err = repo.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	_, err = repo.GetLocation(ctx, "Seattle")
	assert.NoError(t, err)
}

func TestSQLiteRepository_MigrateRejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	require.NoError(t, repo.ApplyMigration(ctx, migrate.Migration{Version: 7, Name: "future", Up: "SELECT 1"}))

	err := repo.Migrate(ctx, zerolog.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, migrate.ErrSchema)
}

func TestSQLiteRepository_FreshDatabaseHasNoVersion(t *testing.T) {
	ctx := context.Background()
	repo, err := weather.OpenSQLite(ctx, filepath.Join(t.TempDir(), "fresh.db"), 0)
	require.NoError(t, err)
	defer repo.Close()

	version, err := repo.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, version)
}

func TestOpenSQLite_PoolSize(t *testing.T) {
	ctx := context.Background()

	sized, err := weather.OpenSQLite(ctx, filepath.Join(t.TempDir(), "sized.db"), 7)
	require.NoError(t, err)
	defer sized.Close()
	assert.Equal(t, 7, sized.Stats().MaxOpenConnections)

	defaulted, err := weather.OpenSQLite(ctx, filepath.Join(t.TempDir(), "default.db"), 0)
	require.NoError(t, err)
	defer defaulted.Close()
	assert.Equal(t, weather.DefaultSQLiteMaxOpenConns, defaulted.Stats().MaxOpenConnections)
}
