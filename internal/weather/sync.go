package weather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/raincheck/raincheck/internal/telemetry"
)

const tracerName = "github.com/raincheck/raincheck/internal/weather"

const (
	// HistoryWindow is how far back the rolling sync looks.
	HistoryWindow = 48 * time.Hour

	// ForecastStaleAfter is the age the oldest forecast hour must reach
	// before the forecast is fetched again.
	ForecastStaleAfter = 2 * time.Hour
)

// SynchronizerConfig holds configuration for creating a Synchronizer.
type SynchronizerConfig struct {
	Repository Repository
	Provider   Provider
	Logger     zerolog.Logger

	// Metrics is optional.
	Metrics *telemetry.WeatherMetrics

	// Now defaults to time.Now.
	Now func() time.Time
}

// Synchronizer keeps stored history and forecast rows current. It holds no
// per-location state; every call recomputes what is missing from the store.
type Synchronizer struct {
	repo     Repository
	provider Provider
	logger   zerolog.Logger
	metrics  *telemetry.WeatherMetrics
	tracer   trace.Tracer
	now      func() time.Time
}

// NewSynchronizer creates a new synchronizer.
func NewSynchronizer(cfg SynchronizerConfig) *Synchronizer {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Synchronizer{
		repo:     cfg.Repository,
		provider: cfg.Provider,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tracer:   otel.Tracer(tracerName),
		now:      now,
	}
}

// BatchResult summarizes one FetchAllHistory pass.
type BatchResult struct {
	EndTime   time.Time
	Locations int
	Inserted  int
	Failed    int
	Errors    []LocationError
}

// LocationError is a per-location failure inside a batch.
type LocationError struct {
	LocationID string
	Err        error
}

// SyncHistory fetches and stores every missing hour of loc inside
// [end-HistoryWindow, end). A zero end means the start of the current hour.
// Hours that are already stored are skipped; the first other failure stops
// the pass and is returned with the number of rows written before it.
func (s *Synchronizer) SyncHistory(ctx context.Context, loc Location, end time.Time) (int, error) {
	if end.IsZero() {
		end = s.now()
	}
	end = TruncateHour(end)

	ctx, span := s.tracer.Start(ctx, "weather.SyncHistory",
		trace.WithAttributes(
			attribute.String("location_id", loc.ID),
			attribute.String("end_time", end.Format(time.RFC3339)),
		),
	)
	defer span.End()

	start := end.Add(-HistoryWindow)
	bounds, err := s.repo.HistoryBounds(ctx, loc.ID)
	if err != nil {
		recordSpanError(span, err)
		return 0, err
	}
	if bounds != nil {
		if next := bounds.Newest.Add(time.Hour); next.After(start) {
			start = next
		}
	}

	inserted := 0
	for at := start; at.Before(end); at = at.Add(time.Hour) {
		ok, err := s.fetchHistoryHour(ctx, loc, at)
		if err != nil {
			span.SetAttributes(attribute.Int("inserted", inserted))
			recordSpanError(span, err)
			return inserted, fmt.Errorf("syncing %s at %s: %w", loc.ID, at.Format(time.RFC3339), err)
		}
		if ok {
			inserted++
		}
	}

	span.SetAttributes(attribute.Int("inserted", inserted))
	if inserted > 0 {
		s.logger.Debug().
			Str("location_id", loc.ID).
			Int("inserted", inserted).
			Time("end_time", end).
			Msg("history synchronized")
	}
	return inserted, nil
}

// FetchAllHistory runs SyncHistory for every location against one shared end
// time. A failing location is logged and counted; the batch carries on.
func (s *Synchronizer) FetchAllHistory(ctx context.Context) (*BatchResult, error) {
	result := &BatchResult{EndTime: TruncateHour(s.now())}

	ctx, span := s.tracer.Start(ctx, "weather.FetchAllHistory")
	defer span.End()

	locations, err := collectLocations(s.repo.ListLocations(ctx))
	if err != nil {
		recordSpanError(span, err)
		return result, err
	}

	for _, loc := range locations {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result.Locations++
		n, err := s.SyncHistory(ctx, loc, result.EndTime)
		result.Inserted += n
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, LocationError{LocationID: loc.ID, Err: err})
			s.logger.Warn().
				Err(err).
				Str("location_id", loc.ID).
				Int("inserted", n).
				Msg("history sync failed for location")
		}
	}

	span.SetAttributes(
		attribute.Int("locations", result.Locations),
		attribute.Int("inserted", result.Inserted),
		attribute.Int("failed", result.Failed),
	)
	s.logger.Info().
		Int("locations", result.Locations).
		Int("inserted", result.Inserted).
		Int("failed", result.Failed).
		Time("end_time", result.EndTime).
		Msg("history batch complete")

	return result, nil
}

// BackfillHistory walks limit hours further into the past for the location
// with the shallowest history, starting one hour before its oldest row.
// Without any stored history there is nothing to extend and it returns 0.
func (s *Synchronizer) BackfillHistory(ctx context.Context, limit int) (int, error) {
	ctx, span := s.tracer.Start(ctx, "weather.BackfillHistory",
		trace.WithAttributes(attribute.Int("limit", limit)),
	)
	defer span.End()

	loc, oldest, err := s.repo.LeastBackfilled(ctx)
	if errors.Is(err, ErrLocationNotFound) {
		s.logger.Debug().Msg("no history to backfill")
		return 0, nil
	}
	if err != nil {
		recordSpanError(span, err)
		return 0, err
	}
	span.SetAttributes(attribute.String("location_id", loc.ID))

	inserted := 0
	at := oldest
	for i := 0; i < limit; i++ {
		at = at.Add(-time.Hour)
		ok, err := s.fetchHistoryHour(ctx, *loc, at)
		if err != nil {
			recordSpanError(span, err)
			return inserted, fmt.Errorf("backfilling %s at %s: %w", loc.ID, at.Format(time.RFC3339), err)
		}
		if ok {
			inserted++
		}
	}

	s.logger.Info().
		Str("location_id", loc.ID).
		Int("inserted", inserted).
		Time("oldest", at).
		Msg("history backfilled")
	return inserted, nil
}

// RefreshForecast replaces the stored forecast of loc when its oldest hour
// is older than ForecastStaleAfter. It reports whether a new set was stored.
func (s *Synchronizer) RefreshForecast(ctx context.Context, loc Location) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "weather.RefreshForecast",
		trace.WithAttributes(attribute.String("location_id", loc.ID)),
	)
	defer span.End()

	oldest, err := s.repo.OldestForecastTime(ctx, loc.ID)
	if err != nil {
		recordSpanError(span, err)
		return false, err
	}
	if oldest != nil && oldest.After(s.now().Add(-ForecastStaleAfter)) {
		span.SetAttributes(attribute.Bool("fresh", true))
		return false, nil
	}

	forecast, err := s.provider.GetForecast(ctx, loc.Lat, loc.Lon)
	s.metrics.ProviderCall(ctx, s.provider.Name(), "forecast", err)
	if err != nil {
		recordSpanError(span, err)
		return false, fmt.Errorf("fetching forecast for %s: %w", loc.ID, err)
	}
	if forecast == nil || len(forecast.Hourly) == 0 {
		s.logger.Warn().
			Str("location_id", loc.ID).
			Str("provider", s.provider.Name()).
			Msg("forecast without hourly data")
		return false, nil
	}

	points := make([]ForecastPoint, 0, len(forecast.Hourly))
	for _, obs := range forecast.Hourly {
		payload, err := EncodePayload(obs)
		if err != nil {
			return false, fmt.Errorf("encoding forecast payload: %w", err)
		}
		points = append(points, ForecastPoint{
			LocationID:  loc.ID,
			Time:        time.Unix(obs.Time, 0).UTC(),
			Temperature: obs.Temp,
			RainMM:      obs.RainMM(),
			SnowMM:      obs.SnowMM(),
			Payload:     payload,
		})
	}

	if err := s.repo.ReplaceForecast(ctx, loc.ID, points); err != nil {
		recordSpanError(span, err)
		return false, fmt.Errorf("replacing forecast for %s: %w", loc.ID, err)
	}

	s.metrics.ForecastRefreshed(ctx, loc.ID)
	s.logger.Debug().
		Str("location_id", loc.ID).
		Int("hours", len(points)).
		Msg("forecast refreshed")
	return true, nil
}

// fetchHistoryHour stores the observation for one hour. A row that already
// exists is not an error; it reports false.
func (s *Synchronizer) fetchHistoryHour(ctx context.Context, loc Location, at time.Time) (bool, error) {
	obs, err := s.provider.GetHistorical(ctx, loc.Lat, loc.Lon, at)
	s.metrics.ProviderCall(ctx, s.provider.Name(), "historical", err)
	if err != nil {
		return false, err
	}

	payload, err := EncodePayload(*obs)
	if err != nil {
		return false, fmt.Errorf("encoding history payload: %w", err)
	}

	err = s.repo.InsertHistory(ctx, HistoryPoint{
		LocationID:  loc.ID,
		Time:        at,
		Temperature: obs.Temp,
		RainMM:      obs.RainMM(),
		SnowMM:      obs.SnowMM(),
		Payload:     payload,
	})
	switch {
	case errors.Is(err, ErrConflict):
		s.metrics.HistoryDuplicate(ctx, loc.ID)
		return false, nil
	case err != nil:
		return false, err
	}

	s.metrics.HistoryInserted(ctx, loc.ID)
	return true, nil
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
