// Package openweathermap implements weather.Provider against the
// OpenWeatherMap One Call 3.0 and Geocoding 1.0 APIs.
package openweathermap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/raincheck/raincheck/internal/provider/resilience"
	"github.com/raincheck/raincheck/internal/weather"
)

const (
	// ProviderName identifies this weather provider.
	ProviderName = "openweathermap"

	// DefaultOneCallURL is the One Call 3.0 base URL.
	DefaultOneCallURL = "https://api.openweathermap.org/data/3.0/onecall"

	// DefaultGeocodeURL is the Geocoding 1.0 base URL.
	DefaultGeocodeURL = "https://api.openweathermap.org/geo/1.0"

	geocodeLimit = 5
)

// SecretSource resolves named secrets.
type SecretSource interface {
	Secret(ctx context.Context, name string) (string, error)
}

// Credential names the API key and where to read it from.
type Credential struct {
	Name   string
	Source SecretSource
}

// ClientConfig holds configuration for the OpenWeatherMap client.
type ClientConfig struct {
	// Credential resolves the API key (required).
	Credential Credential

	// OneCallURL overrides DefaultOneCallURL.
	OneCallURL string

	// GeocodeURL overrides DefaultGeocodeURL.
	GeocodeURL string

	// HTTPClient defaults to a resilient client named after the provider.
	HTTPClient *resilience.Client

	Logger zerolog.Logger
}

// Client is an OpenWeatherMap API client.
type Client struct {
	credential Credential
	oneCallURL string
	geocodeURL string
	httpClient *resilience.Client
	logger     zerolog.Logger

	mu   sync.Mutex
	keys map[string]string
}

// NewClient creates a new OpenWeatherMap client.
func NewClient(cfg ClientConfig) *Client {
	oneCallURL := cfg.OneCallURL
	if oneCallURL == "" {
		oneCallURL = DefaultOneCallURL
	}

	geocodeURL := cfg.GeocodeURL
	if geocodeURL == "" {
		geocodeURL = DefaultGeocodeURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}

	return &Client{
		credential: cfg.Credential,
		oneCallURL: oneCallURL,
		geocodeURL: geocodeURL,
		httpClient: httpClient,
		logger:     cfg.Logger,
		keys:       make(map[string]string),
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// GetHistorical fetches the observation for the hour starting at at.
func (c *Client) GetHistorical(ctx context.Context, lat, lon float64, at time.Time) (*weather.Observation, error) {
	query := coordinates(lat, lon)
	query.Set("dt", strconv.FormatInt(at.Unix(), 10))

	var resp timeMachineResponse
	if err := c.get(ctx, "historical", c.oneCallURL+"/timemachine", query, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: no observation at %s", weather.ErrProviderUnavailable, at.UTC().Format(time.RFC3339))
	}

	obs := resp.Data[0]
	return &obs, nil
}

// GetForecast fetches the hourly forecast for a location.
func (c *Client) GetForecast(ctx context.Context, lat, lon float64) (*weather.Forecast, error) {
	query := coordinates(lat, lon)
	query.Set("exclude", "current,minutely,daily,alerts")

	var resp oneCallResponse
	if err := c.get(ctx, "forecast", c.oneCallURL, query, &resp); err != nil {
		return nil, err
	}

	return &weather.Forecast{
		Lat:       resp.Lat,
		Lon:       resp.Lon,
		Hourly:    resp.Hourly,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// Geocode resolves free text to candidate places, best match first.
func (c *Client) Geocode(ctx context.Context, q string) ([]weather.Place, error) {
	query := url.Values{}
	query.Set("q", q)
	query.Set("limit", strconv.Itoa(geocodeLimit))

	var places []weather.Place
	if err := c.get(ctx, "geocode", c.geocodeURL+"/direct", query, &places); err != nil {
		return nil, err
	}
	return places, nil
}

func (c *Client) get(ctx context.Context, operation, endpoint string, query url.Values, out any) error {
	key, err := c.apiKey(ctx)
	if err != nil {
		return err
	}
	query.Set("appid", key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return fmt.Errorf("%s %s: %w: %w", ProviderName, operation, weather.ErrProviderUnavailable, err)
		}
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().
			Str("provider", ProviderName).
			Str("operation", operation).
			Int("status", resp.StatusCode).
			Msg("provider request failed")
		return &weather.ProviderError{
			Provider:   ProviderName,
			Operation:  operation,
			StatusCode: resp.StatusCode,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", operation, err)
	}
	return nil
}

// apiKey resolves the credential once per name and reuses it afterwards.
func (c *Client) apiKey(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.keys[c.credential.Name]; ok {
		return key, nil
	}
	if c.credential.Source == nil {
		return "", fmt.Errorf("no source for credential %q", c.credential.Name)
	}

	key, err := c.credential.Source.Secret(ctx, c.credential.Name)
	if err != nil {
		return "", fmt.Errorf("loading credential %q: %w", c.credential.Name, err)
	}
	c.keys[c.credential.Name] = key
	return key, nil
}

func coordinates(lat, lon float64) url.Values {
	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	query.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	query.Set("units", "metric")
	return query
}

// OpenWeatherMap API response structures. Hours decode straight into
// weather.Observation, whose field names follow the provider's.

type timeMachineResponse struct {
	Lat  float64               `json:"lat"`
	Lon  float64               `json:"lon"`
	Data []weather.Observation `json:"data"`
}

type oneCallResponse struct {
	Lat    float64               `json:"lat"`
	Lon    float64               `json:"lon"`
	Hourly []weather.Observation `json:"hourly"`
}

// Ensure Client implements weather.Provider.
var _ weather.Provider = (*Client)(nil)
