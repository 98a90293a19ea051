package weather

import (
	"context"
	"iter"

	"github.com/raincheck/raincheck/pkg/geo"
)

// Proximity search limits.
const (
	SearchBoxDegrees   = 2.5
	SearchRadiusMeters = 300_000.0

	MaxDayRainMM  = 10.0
	MaxDaySnowMM  = 10.0
	MaxWeekSnowMM = 100.0
)

// Destination is a nearby location with acceptable recent weather.
type Destination struct {
	Location
	DistanceMeters float64          `json:"distanceMeters"`
	History        *HistorySummary  `json:"history"`
	Forecast       *ForecastSummary `json:"forecast"`
}

// ProximitySearch finds registered locations near a place.
type ProximitySearch struct {
	repo       Repository
	provider   Provider
	aggregator *Aggregator
}

// NewProximitySearch creates a new proximity search.
func NewProximitySearch(repo Repository, provider Provider, aggregator *Aggregator) *ProximitySearch {
	return &ProximitySearch{repo: repo, provider: provider, aggregator: aggregator}
}

// WhereToGo geocodes query and yields, in store scan order, every location
// within SearchRadiusMeters whose recent weather is not bad, with its
// forecast attached. ErrPlaceNotFound is yielded if the query resolves to
// nothing.
func (s *ProximitySearch) WhereToGo(ctx context.Context, query string) iter.Seq2[Destination, error] {
	return func(yield func(Destination, error) bool) {
		places, err := s.provider.Geocode(ctx, query)
		if err != nil {
			yield(Destination{}, err)
			return
		}
		if len(places) == 0 {
			yield(Destination{}, ErrPlaceNotFound)
			return
		}

		origin := geo.Point{Lat: places[0].Lat, Lon: places[0].Lon}
		box := geo.BoxAround(origin, SearchBoxDegrees)

		candidates, err := collectLocations(s.repo.ListLocationsWithin(ctx, box.Low, box.High))
		if err != nil {
			yield(Destination{}, err)
			return
		}

		for _, loc := range candidates {
			distance := geo.Haversine(origin, geo.Point{Lat: loc.Lat, Lon: loc.Lon})
			if distance > SearchRadiusMeters {
				continue
			}

			history, err := s.aggregator.SummarizeHistory(ctx, loc)
			if err != nil {
				yield(Destination{}, err)
				return
			}
			if badWeather(history) {
				continue
			}

			forecast, err := s.aggregator.SummarizeForecast(ctx, loc)
			if err != nil {
				yield(Destination{}, err)
				return
			}

			dest := Destination{
				Location:       loc,
				DistanceMeters: distance,
				History:        history,
				Forecast:       forecast,
			}
			if !yield(dest, nil) {
				return
			}
		}
	}
}

func badWeather(h *HistorySummary) bool {
	return h.DayRain() > MaxDayRainMM ||
		h.DaySnow() > MaxDaySnowMM ||
		h.WeekSnow() > MaxWeekSnowMM
}
