package weather

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/raincheck/raincheck/internal/telemetry"
)

// LocationSummary is a location with its recent and expected precipitation.
type LocationSummary struct {
	Location
	History  *HistorySummary  `json:"history,omitempty"`
	Forecast *ForecastSummary `json:"forecast,omitempty"`
}

// ServiceConfig holds configuration for the weather service.
type ServiceConfig struct {
	Repository Repository
	Provider   Provider
	Logger     zerolog.Logger
	Metrics    *telemetry.WeatherMetrics
	Now        func() time.Time
}

// Service is the entry point used by the HTTP API and the chat relay.
type Service struct {
	repo       Repository
	sync       *Synchronizer
	aggregator *Aggregator
	search     *ProximitySearch
	logger     zerolog.Logger
}

// NewService creates a new weather service.
func NewService(cfg ServiceConfig) *Service {
	sync := NewSynchronizer(SynchronizerConfig{
		Repository: cfg.Repository,
		Provider:   cfg.Provider,
		Logger:     cfg.Logger,
		Metrics:    cfg.Metrics,
		Now:        cfg.Now,
	})
	aggregator := NewAggregator(cfg.Repository, sync)

	return &Service{
		repo:       cfg.Repository,
		sync:       sync,
		aggregator: aggregator,
		search:     NewProximitySearch(cfg.Repository, cfg.Provider, aggregator),
		logger:     cfg.Logger,
	}
}

// Synchronizer returns the synchronizer used by the service, for batch jobs.
func (s *Service) Synchronizer() *Synchronizer {
	return s.sync
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// AddLocation registers a new location. On a collision the returned error is
// a *ConflictError holding the existing row.
func (s *Service) AddLocation(ctx context.Context, name string, lat, lon float64) (*Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidLocation)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("%w: %f,%f", ErrInvalidLocation, lat, lon)
	}

	loc := NewLocation(name, lat, lon)
	if err := s.repo.InsertLocation(ctx, loc); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("location_id", loc.ID).
		Str("name", loc.Name).
		Msg("location added")
	return &loc, nil
}

// ListLocations yields every location with its history summary.
func (s *Service) ListLocations(ctx context.Context) iter.Seq2[LocationSummary, error] {
	return func(yield func(LocationSummary, error) bool) {
		locations, err := collectLocations(s.repo.ListLocations(ctx))
		if err != nil {
			yield(LocationSummary{}, err)
			return
		}

		for _, loc := range locations {
			history, err := s.aggregator.SummarizeHistory(ctx, loc)
			if err != nil {
				yield(LocationSummary{}, err)
				return
			}
			if !yield(LocationSummary{Location: loc, History: history}, nil) {
				return
			}
		}
	}
}

// GetLocation returns one location with history and forecast summaries.
func (s *Service) GetLocation(ctx context.Context, idOrName string) (*LocationSummary, error) {
	loc, err := s.repo.GetLocation(ctx, idOrName)
	if err != nil {
		return nil, err
	}

	history, err := s.aggregator.SummarizeHistory(ctx, *loc)
	if err != nil {
		return nil, err
	}
	forecast, err := s.aggregator.SummarizeForecast(ctx, *loc)
	if err != nil {
		return nil, err
	}

	// re-read so the derived times reflect the refresh
	if fresh, err := s.repo.GetLocation(ctx, loc.ID); err == nil {
		loc = fresh
	}
	return &LocationSummary{Location: *loc, History: history, Forecast: forecast}, nil
}

// History yields the stored observations of a location since the given
// time, oldest first. Rows in a payload version this build does not know are
// skipped.
func (s *Service) History(ctx context.Context, idOrName string, since time.Time) iter.Seq2[Observation, error] {
	loc, err := s.repo.GetLocation(ctx, idOrName)
	if err != nil {
		return errSeq[Observation](err)
	}

	return func(yield func(Observation, error) bool) {
		for p, err := range s.repo.HistorySince(ctx, loc.ID, since) {
			if err != nil {
				yield(Observation{}, err)
				return
			}

			obs, err := DecodePayload(p.Payload)
			if errors.Is(err, ErrUnknownPayloadVersion) {
				s.logger.Warn().
					Err(err).
					Str("location_id", p.LocationID).
					Time("time", p.Time).
					Msg("skipping history row")
				continue
			}
			if err != nil {
				yield(Observation{}, err)
				return
			}
			if !yield(obs, nil) {
				return
			}
		}
	}
}

// WhereToGo yields nearby locations with acceptable weather.
func (s *Service) WhereToGo(ctx context.Context, query string) iter.Seq2[Destination, error] {
	return s.search.WhereToGo(ctx, query)
}
