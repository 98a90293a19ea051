package weather

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/raincheck/raincheck/internal/migrate"
	"github.com/raincheck/raincheck/pkg/geo"
)

// SQLiteRepository is a SQLite implementation of Repository for single-node
// deployments and local development.
type SQLiteRepository struct {
	db *sql.DB
}

// DefaultSQLiteMaxOpenConns bounds the pool when OpenSQLite is given no size.
const DefaultSQLiteMaxOpenConns = 4

// OpenSQLite opens (creating if needed) the database file at path with WAL
// journaling, so streaming reads do not block writers. A maxOpenConns of zero
// or less means DefaultSQLiteMaxOpenConns.
func OpenSQLite(ctx context.Context, path string, maxOpenConns int) (*SQLiteRepository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if maxOpenConns <= 0 {
		maxOpenConns = DefaultSQLiteMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// NewSQLiteRepository wraps an already opened database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Stats reports connection pool statistics.
func (r *SQLiteRepository) Stats() sql.DBStats {
	return r.db.Stats()
}

// Close closes the underlying database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Migrate brings the schema up to date.
func (r *SQLiteRepository) Migrate(ctx context.Context, logger zerolog.Logger) error {
	return migrateSchema(ctx, r, "sqlite", logger)
}

// Ping verifies the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// SchemaVersion returns the recorded schema version, 0 for a fresh database.
func (r *SQLiteRepository) SchemaVersion(ctx context.Context) (int, error) {
	var tables int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'`,
	).Scan(&tables)
	if err != nil {
		return 0, err
	}
	if tables == 0 {
		return 0, nil
	}

	var version int
	err = r.db.QueryRowContext(ctx, `SELECT version FROM schema_version WHERE id = 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return version, err
}

// ApplyMigration runs a migration script and records its version in one
// transaction.
func (r *SQLiteRepository) ApplyMigration(ctx context.Context, m migrate.Migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // rollback error is not critical

	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		return err
	}

	query := `
		INSERT INTO schema_version (id, version) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET version = excluded.version
	`
	if _, err := tx.ExecContext(ctx, query, m.Version); err != nil {
		return err
	}

	return tx.Commit()
}

// InsertLocation stores a new location.
func (r *SQLiteRepository) InsertLocation(ctx context.Context, loc Location) error {
	query := `INSERT INTO locations (location_id, name, lat, lon) VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query, loc.ID, loc.Name, loc.Lat, loc.Lon)
	if err == nil {
		return nil
	}
	if !isSQLiteUniqueViolation(err) {
		return storageError("insert location", err)
	}

	query = `
		SELECT ` + locationColumns + `
		FROM locations l
		WHERE l.location_id = ? OR l.name = ? OR (l.lat = ? AND l.lon = ?)
		LIMIT 1
	`
	existing, lookupErr := scanLocation(r.db.QueryRowContext(ctx, query, loc.ID, loc.Name, loc.Lat, loc.Lon))
	if lookupErr != nil {
		return &ConflictError{}
	}
	return &ConflictError{Existing: &existing}
}

// GetLocation looks a location up by id or name.
func (r *SQLiteRepository) GetLocation(ctx context.Context, idOrName string) (*Location, error) {
	column := "l.name"
	if IsLocationID(idOrName) {
		column = "l.location_id"
	}
	query := `SELECT ` + locationColumns + ` FROM locations l WHERE ` + column + ` = ?`

	loc, err := scanLocation(r.db.QueryRowContext(ctx, query, idOrName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, storageError("get location", err)
	}
	return &loc, nil
}

// ListLocations streams all locations.
func (r *SQLiteRepository) ListLocations(ctx context.Context) iter.Seq2[Location, error] {
	query := `SELECT ` + locationColumns + ` FROM locations l`
	return streamRows("list locations", r.query(ctx, query), scanLocation)
}

// ListLocationsWithin streams locations strictly inside the box.
func (r *SQLiteRepository) ListLocationsWithin(ctx context.Context, low, high geo.Point) iter.Seq2[Location, error] {
	query := `
		SELECT ` + locationColumns + `
		FROM locations l
		WHERE l.lat > ? AND l.lat < ? AND l.lon > ? AND l.lon < ?
	`
	return streamRows("list locations within", r.query(ctx, query, low.Lat, high.Lat, low.Lon, high.Lon), scanLocation)
}

// InsertHistory stores one observed hour.
func (r *SQLiteRepository) InsertHistory(ctx context.Context, p HistoryPoint) error {
	query := `
		INSERT INTO weather_hourly_history (` + historyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.LocationID, p.Time.Unix(), string(p.Payload), p.Temperature, p.RainMM, p.SnowMM)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrConflict
		}
		return storageError("insert history", err)
	}
	return nil
}

// HistorySince streams hours at or after since, oldest first.
func (r *SQLiteRepository) HistorySince(ctx context.Context, locationID string, since time.Time) iter.Seq2[HistoryPoint, error] {
	query := `
		SELECT ` + historyColumns + `
		FROM weather_hourly_history
		WHERE location_id = ? AND weather_time >= ?
		ORDER BY weather_time ASC
	`
	return streamRows("history since", r.query(ctx, query, locationID, since.Unix()), scanHistoryPoint)
}

// HistoryBounds returns the oldest and newest stored hours.
func (r *SQLiteRepository) HistoryBounds(ctx context.Context, locationID string) (*TimeRange, error) {
	query := `
		SELECT MIN(weather_time), MAX(weather_time)
		FROM weather_hourly_history
		WHERE location_id = ?
	`
	var oldest, newest sql.NullInt64
	if err := r.db.QueryRowContext(ctx, query, locationID).Scan(&oldest, &newest); err != nil {
		return nil, storageError("history bounds", err)
	}
	if !oldest.Valid || !newest.Valid {
		return nil, nil
	}
	return &TimeRange{
		Oldest: time.Unix(oldest.Int64, 0).UTC(),
		Newest: time.Unix(newest.Int64, 0).UTC(),
	}, nil
}

// LeastBackfilled returns the location whose oldest hour is the most recent.
func (r *SQLiteRepository) LeastBackfilled(ctx context.Context) (*Location, time.Time, error) {
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
	if err := r.db.QueryRowContext(ctx, query).Scan(&id, &oldest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
func (r *SQLiteRepository) ReplaceForecast(ctx context.Context, locationID string, points []ForecastPoint) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError("replace forecast", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback error is not critical

	if _, err := tx.ExecContext(ctx, `DELETE FROM weather_hourly_forecast WHERE location_id = ?`, locationID); err != nil {
		return storageError("replace forecast", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO weather_hourly_forecast (`+forecastColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return storageError("replace forecast", err)
	}
	defer stmt.Close()

	for _, p := range points {
		_, err := stmt.ExecContext(ctx,
			locationID, p.Time.Unix(), string(p.Payload), p.Temperature, p.RainMM, p.SnowMM)
		if err != nil {
			if isSQLiteUniqueViolation(err) {
				return ErrConflict
			}
			return storageError("replace forecast", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageError("replace forecast", err)
	}
	return nil
}

// ForecastUntil streams forecast hours before until, oldest first.
func (r *SQLiteRepository) ForecastUntil(ctx context.Context, locationID string, until time.Time) iter.Seq2[ForecastPoint, error] {
	query := `
		SELECT ` + forecastColumns + `
		FROM weather_hourly_forecast
		WHERE location_id = ? AND forecast_time < ?
		ORDER BY forecast_time ASC
	`
	return streamRows("forecast until", r.query(ctx, query, locationID, until.Unix()), scanForecastPoint)
}

// OldestForecastTime returns the oldest stored forecast hour.
func (r *SQLiteRepository) OldestForecastTime(ctx context.Context, locationID string) (*time.Time, error) {
	var oldest sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MIN(forecast_time) FROM weather_hourly_forecast WHERE location_id = ?`,
		locationID,
	).Scan(&oldest)
	if err != nil {
		return nil, storageError("oldest forecast", err)
	}
	return unixPtr(oldest), nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) func() (rowCursor, func(), error) {
	return func() (rowCursor, func(), error) {
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, nil, err
		}
		return rows, func() { _ = rows.Close() }, nil
	}
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	default:
		return false
	}
}

// Ensure SQLiteRepository implements Repository and migrate.Target.
var (
	_ Repository     = (*SQLiteRepository)(nil)
	_ migrate.Target = (*SQLiteRepository)(nil)
)
