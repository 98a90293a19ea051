package weather

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"github.com/raincheck/raincheck/internal/migrate"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrations returns the schema scripts for a dialect ("postgres" or "sqlite").
func Migrations(dialect string) ([]migrate.Migration, error) {
	return migrate.Load(migrationsFS, "migrations/"+dialect)
}

// rowScanner is satisfied by pgx.Row(s) and *sql.Row(s).
type rowScanner interface {
	Scan(dest ...any) error
}

func migrateSchema(ctx context.Context, target migrate.Target, dialect string, logger zerolog.Logger) error {
	migrations, err := Migrations(dialect)
	if err != nil {
		return &migrate.SchemaError{Err: fmt.Errorf("loading %s migrations: %w", dialect, err)}
	}

	applied, err := migrate.NewMigrator(target, migrations, logger).Up(ctx)
	if err != nil {
		return err
	}

	logger.Info().
		Str("dialect", dialect).
		Int("applied", applied).
		Msg("schema up to date")
	return nil
}

// Column lists shared by the SQL repositories. Every query projects exactly
// these columns in this order so Scan rejects any drift in shape.
const (
	locationColumns = `
		l.location_id, l.name, l.lat, l.lon,
		(SELECT MAX(h.weather_time) FROM weather_hourly_history h WHERE h.location_id = l.location_id),
		(SELECT MIN(f.forecast_time) FROM weather_hourly_forecast f WHERE f.location_id = l.location_id)`

	historyColumns  = `location_id, weather_time, weather, temperature, rain_mm, snow_mm`
	forecastColumns = `location_id, forecast_time, forecast, temperature, rain_mm, snow_mm`
)

func scanLocation(row rowScanner) (Location, error) {
	var (
		loc    Location
		last   sql.NullInt64
		oldest sql.NullInt64
	)
	if err := row.Scan(&loc.ID, &loc.Name, &loc.Lat, &loc.Lon, &last, &oldest); err != nil {
		return Location{}, err
	}
	loc.LastWeatherTime = unixPtr(last)
	loc.OldestForecastTime = unixPtr(oldest)
	return loc, nil
}

func scanHistoryPoint(row rowScanner) (HistoryPoint, error) {
	var (
		p    HistoryPoint
		unix int64
	)
	if err := row.Scan(&p.LocationID, &unix, &p.Payload, &p.Temperature, &p.RainMM, &p.SnowMM); err != nil {
		return HistoryPoint{}, err
	}
	p.Time = time.Unix(unix, 0).UTC()
	return p, nil
}

func scanForecastPoint(row rowScanner) (ForecastPoint, error) {
	var (
		p    ForecastPoint
		unix int64
	)
	if err := row.Scan(&p.LocationID, &unix, &p.Payload, &p.Temperature, &p.RainMM, &p.SnowMM); err != nil {
		return ForecastPoint{}, err
	}
	p.Time = time.Unix(unix, 0).UTC()
	return p, nil
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

// streamRows adapts a row cursor into a lazy sequence. The cursor is closed
// when the consumer stops or the rows run out.
func streamRows[T any](op string, open func() (rowCursor, func(), error), scan func(rowScanner) (T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		rows, closeRows, err := open()
		if err != nil {
			yield(zero, storageError(op, err))
			return
		}
		defer closeRows()

		for rows.Next() {
			item, err := scan(rows)
			if err != nil {
				yield(zero, storageError(op, err))
				return
			}
			if !yield(item, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(zero, storageError(op, err))
		}
	}
}

// rowCursor is the common surface of pgx.Rows and *sql.Rows; their Close
// signatures differ, so closing is passed separately.
type rowCursor interface {
	rowScanner
	Next() bool
	Err() error
}
