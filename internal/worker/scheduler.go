package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
)

// Scheduler runs the jobs on their intervals. A job still running when its
// next tick arrives is not started again.
type Scheduler struct {
	scheduler *gocron.Scheduler
	jobs      *Jobs
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewScheduler creates a scheduler for jobs. Runs get a context derived from
// ctx, which Stop cancels.
func NewScheduler(ctx context.Context, jobs *Jobs) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		jobs:      jobs,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules both jobs and starts the underlying scheduler. Each job
// runs once immediately.
func (s *Scheduler) Start() error {
	s.scheduler.SingletonModeAll()

	if _, err := s.scheduler.Every(s.jobs.config.HistorySyncInterval).
		Tag(JobHistorySync).
		Do(func() { s.jobs.SyncHistory(s.ctx) }); err != nil {
		return fmt.Errorf("scheduling %s: %w", JobHistorySync, err)
	}

	if s.jobs.config.BackfillLimit > 0 {
		if _, err := s.scheduler.Every(s.jobs.config.BackfillInterval).
			Tag(JobBackfill).
			Do(func() { s.jobs.Backfill(s.ctx) }); err != nil {
			return fmt.Errorf("scheduling %s: %w", JobBackfill, err)
		}
	}

	s.jobs.logger.Info().
		Dur("history_sync_interval", s.jobs.config.HistorySyncInterval).
		Dur("backfill_interval", s.jobs.config.BackfillInterval).
		Int("backfill_limit", s.jobs.config.BackfillLimit).
		Msg("starting scheduler")

	s.scheduler.StartAsync()
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.scheduler.Stop()
}
