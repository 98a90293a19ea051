package weather

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/raincheck/raincheck/internal/migrate"
	"github.com/raincheck/raincheck/pkg/geo"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL weather repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Migrate brings the schema up to date.
func (r *PostgresRepository) Migrate(ctx context.Context, logger zerolog.Logger) error {
	return migrateSchema(ctx, r, "postgres", logger)
}

// Ping verifies the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// SchemaVersion returns the recorded schema version, 0 for a fresh database.
func (r *PostgresRepository) SchemaVersion(ctx context.Context) (int, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT to_regclass('schema_version') IS NOT NULL`).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = r.pool.QueryRow(ctx, `SELECT version FROM schema_version WHERE id = 1`).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return version, err
}

// ApplyMigration runs a migration script and records its version in one
// transaction.
func (r *PostgresRepository) ApplyMigration(ctx context.Context, m migrate.Migration) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback error is not critical

	// No arguments: pgx uses the simple protocol, which allows several
	// statements per script.
	if _, err := tx.Exec(ctx, m.Up); err != nil {
		return err
	}

	query := `
		INSERT INTO schema_version (id, version) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version
	`
	if _, err := tx.Exec(ctx, query, m.Version); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// InsertLocation stores a new location.
func (r *PostgresRepository) InsertLocation(ctx context.Context, loc Location) error {
	query := `INSERT INTO locations (location_id, name, lat, lon) VALUES ($1, $2, $3, $4)`

	_, err := r.pool.Exec(ctx, query, loc.ID, loc.Name, loc.Lat, loc.Lon)
	if err == nil {
		return nil
	}
	if !isPgUniqueViolation(err) {
		return storageError("insert location", err)
	}

	existing, lookupErr := r.conflictingLocation(ctx, loc)
	if lookupErr != nil {
		return &ConflictError{}
	}
	return &ConflictError{Existing: existing}
}

func (r *PostgresRepository) conflictingLocation(ctx context.Context, loc Location) (*Location, error) {
	query := `
		SELECT ` + locationColumns + `
		FROM locations l
		WHERE l.location_id = $1 OR l.name = $2 OR (l.lat = $3 AND l.lon = $4)
		LIMIT 1
	`
	found, err := scanLocation(r.pool.QueryRow(ctx, query, loc.ID, loc.Name, loc.Lat, loc.Lon))
	if err != nil {
		return nil, err
	}
	return &found, nil
}

// GetLocation looks a location up by id or name.
func (r *PostgresRepository) GetLocation(ctx context.Context, idOrName string) (*Location, error) {
	column := "l.name"
	if IsLocationID(idOrName) {
		column = "l.location_id"
	}
	query := `SELECT ` + locationColumns + ` FROM locations l WHERE ` + column + ` = $1`

	loc, err := scanLocation(r.pool.QueryRow(ctx, query, idOrName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, storageError("get location", err)
	}
	return &loc, nil
}

// ListLocations streams all locations.
func (r *PostgresRepository) ListLocations(ctx context.Context) iter.Seq2[Location, error] {
	query := `SELECT ` + locationColumns + ` FROM locations l`
	return streamRows("list locations", r.query(ctx, query), scanLocation)
}

// ListLocationsWithin streams locations strictly inside the box.
func (r *PostgresRepository) ListLocationsWithin(ctx context.Context, low, high geo.Point) iter.Seq2[Location, error] {
	query := `
		SELECT ` + locationColumns + `
		FROM locations l
		WHERE l.lat > $1 AND l.lat < $2 AND l.lon > $3 AND l.lon < $4
	`
	return streamRows("list locations within", r.query(ctx, query, low.Lat, high.Lat, low.Lon, high.Lon), scanLocation)
}

// InsertHistory stores one observed hour.
func (r *PostgresRepository) InsertHistory(ctx context.Context, p HistoryPoint) error {
	query := `
		INSERT INTO weather_hourly_history (` + historyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		p.LocationID, p.Time.Unix(), p.Payload, p.Temperature, p.RainMM, p.SnowMM)
	if err != nil {
		if isPgUniqueViolation(err) {
			return ErrConflict
		}
		return storageError("insert history", err)
	}
	return nil
}

// HistorySince streams hours at or after since, oldest first.
func (r *PostgresRepository) HistorySince(ctx context.Context, locationID string, since time.Time) iter.Seq2[HistoryPoint, error] {
	query := `
		SELECT ` + historyColumns + `
		FROM weather_hourly_history
		WHERE location_id = $1 AND weather_time >= $2
		ORDER BY weather_time ASC
	`
	return streamRows("history since", r.query(ctx, query, locationID, since.Unix()), scanHistoryPoint)
}

// HistoryBounds returns the oldest and newest stored hours.
func (r *PostgresRepository) HistoryBounds(ctx context.Context, locationID string) (*TimeRange, error) {
	query := `
		SELECT MIN(weather_time), MAX(weather_time)
		FROM weather_hourly_history
		WHERE location_id = $1
	`
	var oldest, newest *int64
	if err := r.pool.QueryRow(ctx, query, locationID).Scan(&oldest, &newest); err != nil {
		return nil, storageError("history bounds", err)
	}
	if oldest == nil || newest == nil {
		return nil, nil
	}
	return &TimeRange{
		Oldest: time.Unix(*oldest, 0).UTC(),
		Newest: time.Unix(*newest, 0).UTC(),
	}, nil
}

// LeastBackfilled returns the location whose oldest hour is the most recent.
func (r *PostgresRepository) LeastBackfilled(ctx context.Context) (*Location, time.Time, error) {
	query := `
		SELECT location_id, MIN(weather_time) AS oldest
		FROM weather_hourly_history
		GROUP BY location_id
		ORDER BY oldest DESC
		LIMIT 1
	`
	var (
		id     string
		oldest int64
	)
	if err := r.pool.QueryRow(ctx, query).Scan(&id, &oldest); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, time.Time{}, ErrLocationNotFound
		}
		return nil, time.Time{}, storageError("least backfilled", err)
	}

	loc, err := r.GetLocation(ctx, id)
	if err != nil {
		return nil, time.Time{}, err
	}
	return loc, time.Unix(oldest, 0).UTC(), nil
}

// ReplaceForecast swaps the forecast set of a location in one transaction.
func (r *PostgresRepository) ReplaceForecast(ctx context.Context, locationID string, points []ForecastPoint) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storageError("replace forecast", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback error is not critical

	if _, err := tx.Exec(ctx, `DELETE FROM weather_hourly_forecast WHERE location_id = $1`, locationID); err != nil {
		return storageError("replace forecast", err)
	}

	query := `
		INSERT INTO weather_hourly_forecast (` + forecastColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(query, locationID, p.Time.Unix(), p.Payload, p.Temperature, p.RainMM, p.SnowMM)
	}

	results := tx.SendBatch(ctx, batch)
	for range points {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			if isPgUniqueViolation(err) {
				return ErrConflict
			}
			return storageError("replace forecast", err)
		}
	}
	if err := results.Close(); err != nil {
		return storageError("replace forecast", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storageError("replace forecast", err)
	}
	return nil
}

// ForecastUntil streams forecast hours before until, oldest first.
func (r *PostgresRepository) ForecastUntil(ctx context.Context, locationID string, until time.Time) iter.Seq2[ForecastPoint, error] {
	query := `
		SELECT ` + forecastColumns + `
		FROM weather_hourly_forecast
		WHERE location_id = $1 AND forecast_time < $2
		ORDER BY forecast_time ASC
	`
	return streamRows("forecast until", r.query(ctx, query, locationID, until.Unix()), scanForecastPoint)
}

// OldestForecastTime returns the oldest stored forecast hour.
func (r *PostgresRepository) OldestForecastTime(ctx context.Context, locationID string) (*time.Time, error) {
	var oldest *int64
	err := r.pool.QueryRow(ctx,
		`SELECT MIN(forecast_time) FROM weather_hourly_forecast WHERE location_id = $1`,
		locationID,
	).Scan(&oldest)
	if err != nil {
		return nil, storageError("oldest forecast", err)
	}
	if oldest == nil {
		return nil, nil
	}
	t := time.Unix(*oldest, 0).UTC()
	return &t, nil
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) func() (rowCursor, func(), error) {
	return func() (rowCursor, func(), error) {
		rows, err := r.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, nil, err
		}
		return rows, rows.Close, nil
	}
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Ensure PostgresRepository implements Repository and migrate.Target.
var (
	_ Repository     = (*PostgresRepository)(nil)
	_ migrate.Target = (*PostgresRepository)(nil)
)
