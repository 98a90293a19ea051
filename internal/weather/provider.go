package weather

import (
	"context"
	"time"
)

// Provider defines the interface for weather data providers.
type Provider interface {
	// GetHistorical fetches the observation for the hour starting at at.
	GetHistorical(ctx context.Context, lat, lon float64, at time.Time) (*Observation, error)

	// GetForecast fetches the hourly forecast for a location.
	GetForecast(ctx context.Context, lat, lon float64) (*Forecast, error)

	// Geocode resolves free text to candidate places, best match first.
	Geocode(ctx context.Context, query string) ([]Place, error)

	// Name returns the provider name for logging.
	Name() string
}
