// Package worker runs the periodic history jobs for raincheck.
package worker

import (
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the background jobs.
type Config struct {
	// HistorySyncInterval is how often the 48 hour window of every location
	// is brought up to date.
	// Default: 1 hour
	HistorySyncInterval time.Duration

	// BackfillInterval is how often older history is fetched.
	// Default: 15 minutes
	BackfillInterval time.Duration

	// BackfillLimit is the number of hours fetched per backfill run.
	// Default: 24
	BackfillLimit int

	// Timeout bounds a single job run.
	// Default: 10 minutes
	Timeout time.Duration
}

// DefaultConfig returns the default job configuration.
func DefaultConfig() Config {
	return Config{
		HistorySyncInterval: time.Hour,
		BackfillInterval:    15 * time.Minute,
		BackfillLimit:       24,
		Timeout:             10 * time.Minute,
	}
}

// ConfigFromEnv creates a Config from environment variables, falling back to
// DefaultConfig for anything unset or unparsable.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.HistorySyncInterval = durationFromEnv("HISTORY_SYNC_INTERVAL", cfg.HistorySyncInterval)
	cfg.BackfillInterval = durationFromEnv("BACKFILL_INTERVAL", cfg.BackfillInterval)
	cfg.Timeout = durationFromEnv("JOB_TIMEOUT", cfg.Timeout)
	if v, err := strconv.Atoi(os.Getenv("BACKFILL_LIMIT")); err == nil && v >= 0 {
		cfg.BackfillLimit = v
	}
	return cfg
}

func durationFromEnv(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
