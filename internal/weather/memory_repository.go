package weather

import (
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/raincheck/raincheck/pkg/geo"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing. Production should use PostgresRepository.
type InMemoryRepository struct {
	mu        sync.RWMutex
	order     []string
	locations map[string]*Location
	history   map[string]map[int64]HistoryPoint
	forecasts map[string][]ForecastPoint
}

// NewInMemoryRepository creates a new in-memory weather repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		locations: make(map[string]*Location),
		history:   make(map[string]map[int64]HistoryPoint),
		forecasts: make(map[string][]ForecastPoint),
	}
}

// Ping always succeeds.
func (r *InMemoryRepository) Ping(_ context.Context) error {
	return nil
}

// InsertLocation stores a new location.
func (r *InMemoryRepository) InsertLocation(_ context.Context, loc Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		existing := r.locations[id]
		if existing.ID == loc.ID || existing.Name == loc.Name ||
			(existing.Lat == loc.Lat && existing.Lon == loc.Lon) {
			return &ConflictError{Existing: r.project(existing)}
		}
	}

	cpy := loc
	cpy.LastWeatherTime = nil
	cpy.OldestForecastTime = nil
	r.locations[loc.ID] = &cpy
	r.order = append(r.order, loc.ID)
	return nil
}

// GetLocation looks a location up by id or name.
func (r *InMemoryRepository) GetLocation(_ context.Context, idOrName string) (*Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if IsLocationID(idOrName) {
		if loc, ok := r.locations[idOrName]; ok {
			return r.project(loc), nil
		}
		return nil, ErrLocationNotFound
	}

	for _, id := range r.order {
		if loc := r.locations[id]; loc.Name == idOrName {
			return r.project(loc), nil
		}
	}
	return nil, ErrLocationNotFound
}

// ListLocations streams all locations in insertion order.
func (r *InMemoryRepository) ListLocations(_ context.Context) iter.Seq2[Location, error] {
	return r.scan(func(*Location) bool { return true })
}

// ListLocationsWithin streams locations strictly inside the box.
func (r *InMemoryRepository) ListLocationsWithin(_ context.Context, low, high geo.Point) iter.Seq2[Location, error] {
	box := geo.Box{Low: low, High: high}
	return r.scan(func(loc *Location) bool {
		return box.ContainsStrict(geo.Point{Lat: loc.Lat, Lon: loc.Lon})
	})
}

// scan snapshots matching rows so no lock is held while the consumer runs.
func (r *InMemoryRepository) scan(match func(*Location) bool) iter.Seq2[Location, error] {
	return func(yield func(Location, error) bool) {
		r.mu.RLock()
		var snapshot []Location
		for _, id := range r.order {
			if loc := r.locations[id]; match(loc) {
				snapshot = append(snapshot, *r.project(loc))
			}
		}
		r.mu.RUnlock()

		for _, loc := range snapshot {
			if !yield(loc, nil) {
				return
			}
		}
	}
}

// project returns a copy of loc with its derived fields filled in.
// Callers must hold r.mu.
func (r *InMemoryRepository) project(loc *Location) *Location {
	cpy := *loc
	if rng := r.historyBounds(loc.ID); rng != nil {
		newest := rng.Newest
		cpy.LastWeatherTime = &newest
	}
	if oldest := r.oldestForecast(loc.ID); oldest != nil {
		cpy.OldestForecastTime = oldest
	}
	return &cpy
}

// InsertHistory stores one observed hour.
func (r *InMemoryRepository) InsertHistory(_ context.Context, p HistoryPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.locations[p.LocationID]; !ok {
		return storageError("insert history", ErrLocationNotFound)
	}

	rows, ok := r.history[p.LocationID]
	if !ok {
		rows = make(map[int64]HistoryPoint)
		r.history[p.LocationID] = rows
	}

	key := p.Time.Unix()
	if _, exists := rows[key]; exists {
		return ErrConflict
	}
	p.Time = time.Unix(key, 0).UTC()
	rows[key] = p
	return nil
}

// HistorySince streams hours at or after since, oldest first.
func (r *InMemoryRepository) HistorySince(_ context.Context, locationID string, since time.Time) iter.Seq2[HistoryPoint, error] {
	return func(yield func(HistoryPoint, error) bool) {
		r.mu.RLock()
		var points []HistoryPoint
		for _, p := range r.history[locationID] {
			if !p.Time.Before(since) {
				points = append(points, p)
			}
		}
		r.mu.RUnlock()

		slices.SortFunc(points, func(a, b HistoryPoint) int {
			return a.Time.Compare(b.Time)
		})
		for _, p := range points {
			if !yield(p, nil) {
				return
			}
		}
	}
}

// HistoryBounds returns the oldest and newest stored hours.
func (r *InMemoryRepository) HistoryBounds(_ context.Context, locationID string) (*TimeRange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.historyBounds(locationID), nil
}

func (r *InMemoryRepository) historyBounds(locationID string) *TimeRange {
	rows := r.history[locationID]
	if len(rows) == 0 {
		return nil
	}

	var rng *TimeRange
	for _, p := range rows {
		if rng == nil {
			rng = &TimeRange{Oldest: p.Time, Newest: p.Time}
			continue
		}
		if p.Time.Before(rng.Oldest) {
			rng.Oldest = p.Time
		}
		if p.Time.After(rng.Newest) {
			rng.Newest = p.Time
		}
	}
	return rng
}

// LeastBackfilled returns the location whose oldest hour is the most recent.
func (r *InMemoryRepository) LeastBackfilled(_ context.Context) (*Location, time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best   *Location
		oldest time.Time
	)
	for _, id := range r.order {
		rng := r.historyBounds(id)
		if rng == nil {
			continue
		}
		if best == nil || rng.Oldest.After(oldest) {
			best = r.locations[id]
			oldest = rng.Oldest
		}
	}

	if best == nil {
		return nil, time.Time{}, ErrLocationNotFound
	}
	return r.project(best), oldest, nil
}

// ReplaceForecast swaps the forecast set of a location.
func (r *InMemoryRepository) ReplaceForecast(_ context.Context, locationID string, points []ForecastPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.locations[locationID]; !ok {
		return storageError("replace forecast", ErrLocationNotFound)
	}

	seen := make(map[int64]struct{}, len(points))
	batch := make([]ForecastPoint, 0, len(points))
	for _, p := range points {
		key := p.Time.Unix()
		if _, dup := seen[key]; dup {
			// the old set stays in place
			return ErrConflict
		}
		seen[key] = struct{}{}
		p.LocationID = locationID
		p.Time = time.Unix(key, 0).UTC()
		batch = append(batch, p)
	}

	slices.SortFunc(batch, func(a, b ForecastPoint) int {
		return a.Time.Compare(b.Time)
	})
	r.forecasts[locationID] = batch
	return nil
}

// ForecastUntil streams forecast hours before until.
func (r *InMemoryRepository) ForecastUntil(_ context.Context, locationID string, until time.Time) iter.Seq2[ForecastPoint, error] {
	return func(yield func(ForecastPoint, error) bool) {
		r.mu.RLock()
		points := slices.Clone(r.forecasts[locationID])
		r.mu.RUnlock()

		for _, p := range points {
			if !p.Time.Before(until) {
				return
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

// OldestForecastTime returns the oldest stored forecast hour.
func (r *InMemoryRepository) OldestForecastTime(_ context.Context, locationID string) (*time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.oldestForecast(locationID), nil
}

func (r *InMemoryRepository) oldestForecast(locationID string) *time.Time {
	points := r.forecasts[locationID]
	if len(points) == 0 {
		return nil
	}
	oldest := points[0].Time
	return &oldest
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
