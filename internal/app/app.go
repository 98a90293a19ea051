// Package app wires the components shared by the API server and the worker.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/raincheck/raincheck/internal/database"
	"github.com/raincheck/raincheck/internal/provider/resilience"
	"github.com/raincheck/raincheck/internal/secrets"
	"github.com/raincheck/raincheck/internal/telemetry"
	"github.com/raincheck/raincheck/internal/weather"
	"github.com/raincheck/raincheck/internal/weather/openweathermap"
)

// DefaultKeyName is the secret holding the OpenWeatherMap API key.
const DefaultKeyName = "openweathermap-api-key"

// ProviderConfig describes where the weather provider finds its API key.
type ProviderConfig struct {
	// SecretsDir, when set, is a directory of mounted secret files.
	SecretsDir string
	// KeyName is the secret name of the API key.
	KeyName string
	// APIKey is used when SecretsDir is empty.
	APIKey string
	// OneCallURL and GeocodeURL override the provider endpoints.
	OneCallURL string
	GeocodeURL string
}

// ProviderConfigFromEnv creates a ProviderConfig from environment variables.
func ProviderConfigFromEnv() ProviderConfig {
	keyName := os.Getenv("OPENWEATHERMAP_KEY_NAME")
	if keyName == "" {
		keyName = DefaultKeyName
	}
	return ProviderConfig{
		SecretsDir: os.Getenv("SECRETS_DIR"),
		KeyName:    keyName,
		APIKey:     os.Getenv("OPENWEATHERMAP_API_KEY"),
		OneCallURL: os.Getenv("OPENWEATHERMAP_ONECALL_URL"),
		GeocodeURL: os.Getenv("OPENWEATHERMAP_GEOCODE_URL"),
	}
}

func (c ProviderConfig) source() openweathermap.SecretSource {
	if c.SecretsDir != "" {
		return secrets.NewFileSource(c.SecretsDir)
	}
	return secrets.Static{c.KeyName: c.APIKey}
}

// Config holds everything New needs.
type Config struct {
	Database database.Config
	Provider ProviderConfig
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv() Config {
	return Config{
		Database: database.ConfigFromEnv(),
		Provider: ProviderConfigFromEnv(),
	}
}

// App holds the opened store and the weather service built on it.
type App struct {
	Store    *database.Store
	Registry *resilience.Registry
	Service  *weather.Service
}

// New opens the store and builds the weather service. Close releases the store.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*App, error) {
	if cfg.Provider.SecretsDir == "" && cfg.Provider.APIKey == "" {
		logger.Warn().Msg("no OpenWeatherMap API key configured - provider calls will fail")
	}

	metrics, err := telemetry.NewWeatherMetrics()
	if err != nil {
		return nil, fmt.Errorf("init weather metrics: %w", err)
	}

	store, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry := resilience.NewRegistry()
	httpConfig := resilience.DefaultClientConfig(openweathermap.ProviderName)
	httpConfig.Registry = registry

	provider := openweathermap.NewClient(openweathermap.ClientConfig{
		Credential: openweathermap.Credential{
			Name:   cfg.Provider.KeyName,
			Source: cfg.Provider.source(),
		},
		OneCallURL: cfg.Provider.OneCallURL,
		GeocodeURL: cfg.Provider.GeocodeURL,
		HTTPClient: resilience.NewClient(httpConfig),
		Logger:     logger,
	})

	service := weather.NewService(weather.ServiceConfig{
		Repository: store,
		Provider:   provider,
		Logger:     logger,
		Metrics:    metrics,
	})

	return &App{Store: store, Registry: registry, Service: service}, nil
}

// Close releases the store.
func (a *App) Close() {
	a.Store.Close()
}
