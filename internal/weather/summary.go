package weather

import (
	"context"
	"time"
)

// Summary windows.
const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 28 * Day

	// ForecastHorizon bounds the forecast sums.
	ForecastHorizon = 48 * time.Hour
)

// Totals are rolling precipitation sums in millimetres. Each window contains
// the shorter ones.
type Totals struct {
	Day   float64 `json:"day"`
	Week  float64 `json:"week"`
	Month float64 `json:"month"`
}

// HistorySummary holds recent precipitation. Rain or Snow is nil when the
// month total is zero.
type HistorySummary struct {
	Rain *Totals `json:"rain,omitempty"`
	Snow *Totals `json:"snow,omitempty"`
}

// ForecastSummary holds precipitation expected within ForecastHorizon.
type ForecastSummary struct {
	Rain float64 `json:"rain"`
	Snow float64 `json:"snow"`
}

// Aggregator reduces stored rows into summaries, bringing them up to date
// first.
type Aggregator struct {
	repo Repository
	sync *Synchronizer
}

// NewAggregator creates a new aggregator.
func NewAggregator(repo Repository, sync *Synchronizer) *Aggregator {
	return &Aggregator{repo: repo, sync: sync}
}

// SummarizeHistory synchronizes loc and sums its last month of history in a
// single pass.
func (a *Aggregator) SummarizeHistory(ctx context.Context, loc Location) (*HistorySummary, error) {
	if _, err := a.sync.SyncHistory(ctx, loc, time.Time{}); err != nil {
		return nil, err
	}

	now := a.sync.now()
	dayStart := now.Add(-Day)
	weekStart := now.Add(-Week)
	monthStart := now.Add(-Month)

	var rain, snow Totals
	for p, err := range a.repo.HistorySince(ctx, loc.ID, monthStart) {
		if err != nil {
			return nil, err
		}
		if !p.Time.Before(dayStart) {
			rain.Day += p.RainMM
			snow.Day += p.SnowMM
		}
		if !p.Time.Before(weekStart) {
			rain.Week += p.RainMM
			snow.Week += p.SnowMM
		}
		rain.Month += p.RainMM
		snow.Month += p.SnowMM
	}

	summary := &HistorySummary{}
	if rain.Month != 0 {
		summary.Rain = &rain
	}
	if snow.Month != 0 {
		summary.Snow = &snow
	}
	return summary, nil
}

// SummarizeForecast refreshes the forecast of loc if stale and sums it up to
// ForecastHorizon from now.
func (a *Aggregator) SummarizeForecast(ctx context.Context, loc Location) (*ForecastSummary, error) {
	if _, err := a.sync.RefreshForecast(ctx, loc); err != nil {
		return nil, err
	}

	summary := &ForecastSummary{}
	for p, err := range a.repo.ForecastUntil(ctx, loc.ID, a.sync.now().Add(ForecastHorizon)) {
		if err != nil {
			return nil, err
		}
		summary.Rain += p.RainMM
		summary.Snow += p.SnowMM
	}
	return summary, nil
}

// DayRain returns the rain of the last day, 0 without rain.
func (s *HistorySummary) DayRain() float64 {
	if s == nil || s.Rain == nil {
		return 0
	}
	return s.Rain.Day
}

// DaySnow returns the snow of the last day, 0 without snow.
func (s *HistorySummary) DaySnow() float64 {
	if s == nil || s.Snow == nil {
		return 0
	}
	return s.Snow.Day
}

// WeekSnow returns the snow of the last week, 0 without snow.
func (s *HistorySummary) WeekSnow() float64 {
	if s == nil || s.Snow == nil {
		return 0
	}
	return s.Snow.Week
}
