package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/raincheck/raincheck/internal/weather"
)

// Job names.
const (
	JobHistorySync = "history_sync"
	JobBackfill    = "history_backfill"
)

// HistorySyncer is the part of the weather synchronizer the jobs drive.
type HistorySyncer interface {
	FetchAllHistory(ctx context.Context) (*weather.BatchResult, error)
	BackfillHistory(ctx context.Context, limit int) (int, error)
}

// Jobs runs the history jobs and keeps statistics about them.
type Jobs struct {
	syncer HistorySyncer
	config Config
	logger zerolog.Logger

	mu    sync.RWMutex
	stats map[string]JobStats
}

// JobStats tracks statistics of one job.
type JobStats struct {
	Runs     int64 `json:"runs"`
	Failures int64 `json:"failures"`

	// Inserted is the total number of history rows written.
	Inserted int64 `json:"inserted"`

	LastRunAt       time.Time     `json:"lastRunAt"`
	LastRunDuration time.Duration `json:"lastRunDuration"`
	LastError       string        `json:"lastError,omitempty"`
}

// RunResult contains the result of one job run.
type RunResult struct {
	Job      string
	Started  time.Time
	Duration time.Duration
	Inserted int

	// Failed counts locations that could not be synchronized.
	Failed int
	Err    error
}

// JobsConfig holds configuration for creating Jobs.
type JobsConfig struct {
	Syncer HistorySyncer
	Config Config
	Logger zerolog.Logger
}

// NewJobs creates the job runner.
func NewJobs(cfg JobsConfig) *Jobs {
	config := cfg.Config
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.HistorySyncInterval <= 0 {
		config.HistorySyncInterval = defaults.HistorySyncInterval
	}
	if config.BackfillInterval <= 0 {
		config.BackfillInterval = defaults.BackfillInterval
	}

	return &Jobs{
		syncer: cfg.Syncer,
		config: config,
		logger: cfg.Logger,
		stats:  make(map[string]JobStats),
	}
}

// SyncHistory brings the 48 hour window of every location up to date. A
// location that fails is counted but does not fail the run.
func (j *Jobs) SyncHistory(ctx context.Context) *RunResult {
	result := &RunResult{Job: JobHistorySync, Started: time.Now()}

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	batch, err := j.syncer.FetchAllHistory(ctx)
	if batch != nil {
		result.Inserted = batch.Inserted
		result.Failed = batch.Failed
		for _, le := range batch.Errors {
			j.logger.Warn().
				Err(le.Err).
				Str("location_id", le.LocationID).
				Msg("history sync failed for location")
		}
	}
	result.Err = err

	j.finish(result)
	return result
}

// Backfill fetches up to the configured number of older hours.
func (j *Jobs) Backfill(ctx context.Context) *RunResult {
	result := &RunResult{Job: JobBackfill, Started: time.Now()}

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	result.Inserted, result.Err = j.syncer.BackfillHistory(ctx, j.config.BackfillLimit)

	j.finish(result)
	return result
}

func (j *Jobs) finish(result *RunResult) {
	result.Duration = time.Since(result.Started)

	j.mu.Lock()
	s := j.stats[result.Job]
	s.Runs++
	s.Inserted += int64(result.Inserted)
	s.LastRunAt = result.Started
	s.LastRunDuration = result.Duration
	s.LastError = ""
	if result.Err != nil {
		s.Failures++
		s.LastError = result.Err.Error()
	}
	j.stats[result.Job] = s
	j.mu.Unlock()

	event := j.logger.Info()
	if result.Err != nil {
		event = j.logger.Error().Err(result.Err)
	}
	event.
		Str("job", result.Job).
		Dur("duration", result.Duration).
		Int("inserted", result.Inserted).
		Int("failed", result.Failed).
		Msg("job completed")
}

// Stats returns a copy of the statistics of the named job.
func (j *Jobs) Stats(job string) JobStats {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stats[job]
}

// StatsSnapshot returns the statistics of every job that has run.
func (j *Jobs) StatsSnapshot() map[string]JobStats {
	j.mu.RLock()
	defer j.mu.RUnlock()

	snapshot := make(map[string]JobStats, len(j.stats))
	for name, s := range j.stats {
		snapshot[name] = s
	}
	return snapshot
}
