// Package weather tracks registered locations, keeps their hourly weather
// history and forecast in a durable store, and answers precipitation and
// proximity queries over the stored data.
package weather

import (
	"fmt"
	"math"
	"regexp"
	"time"
)

// locationIDPattern classifies lookup keys: anything matching it is an id,
// everything else is a name.
var locationIDPattern = regexp.MustCompile(`^-?\d+\.\d\d,-?\d+\.\d\d$`)

// Location is a registered point of interest.
type Location struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`

	// LastWeatherTime is the newest stored history hour, nil without history.
	LastWeatherTime *time.Time `json:"lastWeatherTime,omitempty"`

	// OldestForecastTime is the oldest stored forecast hour, nil without forecast.
	OldestForecastTime *time.Time `json:"oldestForecastTime,omitempty"`
}

// NewLocation builds a location with its id derived from the coordinates.
func NewLocation(name string, lat, lon float64) Location {
	return Location{
		ID:   LocationID(lat, lon),
		Name: name,
		Lat:  lat,
		Lon:  lon,
	}
}

// LocationID returns the natural key for a coordinate pair: both values
// rounded to two decimals, e.g. "47.61,-122.33".
func LocationID(lat, lon float64) string {
	return fmt.Sprintf("%s,%s", twoDecimals(lat), twoDecimals(lon))
}

// IsLocationID reports whether s has the shape of a location id.
func IsLocationID(s string) bool {
	return locationIDPattern.MatchString(s)
}

func twoDecimals(v float64) string {
	rounded := math.Round(v*100) / 100
	if rounded == 0 {
		// avoid "-0.00"
		rounded = 0
	}
	return fmt.Sprintf("%.2f", rounded)
}

// HistoryPoint is one observed hour at a location.
type HistoryPoint struct {
	LocationID  string
	Time        time.Time
	Temperature float64
	RainMM      float64
	SnowMM      float64

	// Payload is the versioned provider observation (see EncodePayload).
	Payload []byte
}

// ForecastPoint is one predicted hour at a location.
type ForecastPoint struct {
	LocationID  string
	Time        time.Time
	Temperature float64
	RainMM      float64
	SnowMM      float64
	Payload     []byte
}

// TimeRange is the span of stored rows for one location.
type TimeRange struct {
	Oldest time.Time
	Newest time.Time
}

// Place is a geocoding candidate.
type Place struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
	State   string  `json:"state,omitempty"`
}

// Forecast is the hourly forecast returned by a provider.
type Forecast struct {
	Lat    float64
	Lon    float64
	Hourly []Observation

	FetchedAt time.Time
}

// TruncateHour returns t floored to the whole UTC hour.
func TruncateHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
