package weather

import (
	"context"
	"iter"
	"time"

	"github.com/raincheck/raincheck/pkg/geo"
)

// LocationRepository persists registered locations.
type LocationRepository interface {
	// InsertLocation stores a new location. Returns a *ConflictError if the
	// id, name or coordinates are already taken.
	InsertLocation(ctx context.Context, loc Location) error

	// GetLocation looks a location up by id (if idOrName looks like one) or
	// by name. Returns ErrLocationNotFound if nothing matches.
	GetLocation(ctx context.Context, idOrName string) (*Location, error)

	// ListLocations streams all locations in storage order.
	ListLocations(ctx context.Context) iter.Seq2[Location, error]

	// ListLocationsWithin streams locations strictly inside the box spanned
	// by low and high.
	ListLocationsWithin(ctx context.Context, low, high geo.Point) iter.Seq2[Location, error]
}

// HistoryRepository persists observed hours.
type HistoryRepository interface {
	// InsertHistory stores one hour. Returns ErrConflict if the hour exists.
	InsertHistory(ctx context.Context, p HistoryPoint) error

	// HistorySince streams hours at or after since, oldest first.
	HistorySince(ctx context.Context, locationID string, since time.Time) iter.Seq2[HistoryPoint, error]

	// HistoryBounds returns the oldest and newest stored hours, nil if none.
	HistoryBounds(ctx context.Context, locationID string) (*TimeRange, error)

	// LeastBackfilled returns the location whose oldest stored hour is the
	// most recent, together with that hour. Locations without history are
	// not considered; ErrLocationNotFound if no location has any.
	LeastBackfilled(ctx context.Context) (*Location, time.Time, error)
}

// ForecastRepository persists forecast hours.
type ForecastRepository interface {
	// ReplaceForecast atomically swaps the forecast set of a location.
	ReplaceForecast(ctx context.Context, locationID string, points []ForecastPoint) error

	// ForecastUntil streams forecast hours before until, oldest first.
	ForecastUntil(ctx context.Context, locationID string, until time.Time) iter.Seq2[ForecastPoint, error]

	// OldestForecastTime returns the oldest stored forecast hour, nil if none.
	OldestForecastTime(ctx context.Context, locationID string) (*time.Time, error)
}

// Repository is the complete weather store.
type Repository interface {
	LocationRepository
	HistoryRepository
	ForecastRepository

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}

func errSeq[T any](err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}

// collectLocations drains a location scan. Callers that issue further store
// calls per location collect first, so the scan's connection is released
// before they need another one from the pool.
func collectLocations(seq iter.Seq2[Location, error]) ([]Location, error) {
	var locations []Location
	for loc, err := range seq {
		if err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	return locations, nil
}
