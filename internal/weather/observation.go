package weather

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// PayloadVersion1 is the only payload layout currently written.
const PayloadVersion1 = 1

// ErrUnknownPayloadVersion is returned when a stored payload carries a
// version this build cannot interpret.
var ErrUnknownPayloadVersion = errors.New("unknown payload version")

// Observation is a single hour of weather as reported by the provider.
// It is stored verbatim (versioned) next to the extracted columns.
type Observation struct {
	Time       int64          `json:"dt"`
	Temp       float64        `json:"temp"`
	FeelsLike  float64        `json:"feels_like"`
	Pressure   float64        `json:"pressure"`
	Humidity   float64        `json:"humidity"`
	DewPoint   float64        `json:"dew_point"`
	UVI        float64        `json:"uvi"`
	Clouds     float64        `json:"clouds"`
	Visibility float64        `json:"visibility"`
	WindSpeed  float64        `json:"wind_speed"`
	WindDeg    float64        `json:"wind_deg"`
	WindGust   float64        `json:"wind_gust,omitempty"`
	Weather    []Condition    `json:"weather,omitempty"`
	Rain       *Precipitation `json:"rain,omitempty"`
	Snow       *Precipitation `json:"snow,omitempty"`

	// Pop is the probability of precipitation (0-1); forecast hours only.
	Pop *float64 `json:"pop,omitempty"`
}

// Condition is a provider weather condition code with its description.
type Condition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
}

// RainMM returns the hour's rain in millimetres, 0 when absent.
func (o *Observation) RainMM() float64 {
	return o.Rain.Amount()
}

// SnowMM returns the hour's snow in millimetres, 0 when absent.
func (o *Observation) SnowMM() float64 {
	return o.Snow.Amount()
}

// Precipitation holds either a one-hour rate ({"1h": x}) or a plain
// accumulated value, whichever the provider sent. It re-encodes in the
// same shape.
type Precipitation struct {
	OneHour     *float64
	Accumulated *float64
}

// Amount returns the precipitation in millimetres.
func (p *Precipitation) Amount() float64 {
	switch {
	case p == nil:
		return 0
	case p.OneHour != nil:
		return *p.OneHour
	case p.Accumulated != nil:
		return *p.Accumulated
	default:
		return 0
	}
}

type precipitationRate struct {
	OneHour *float64 `json:"1h,omitempty"`
}

// UnmarshalJSON accepts both {"1h": x} and a bare number.
func (p *Precipitation) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '{' {
		var rate precipitationRate
		if err := json.Unmarshal(data, &rate); err != nil {
			return err
		}
		p.OneHour = rate.OneHour
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("precipitation: %w", err)
	}
	p.Accumulated = &v
	return nil
}

// MarshalJSON writes the shape the value was decoded from.
func (p Precipitation) MarshalJSON() ([]byte, error) {
	if p.OneHour == nil && p.Accumulated != nil {
		return json.Marshal(*p.Accumulated)
	}
	return json.Marshal(precipitationRate{OneHour: p.OneHour})
}

type payloadEnvelope struct {
	Version int `json:"version"`
}

type observationV1 struct {
	Version int `json:"version"`
	Observation
}

// EncodePayload wraps an observation in the current payload version.
func EncodePayload(o Observation) ([]byte, error) {
	return json.Marshal(observationV1{Version: PayloadVersion1, Observation: o})
}

// DecodePayload reads a stored payload. Payloads of an unrecognized version
// return ErrUnknownPayloadVersion and should be skipped by the caller.
func DecodePayload(data []byte) (Observation, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Observation{}, fmt.Errorf("decoding payload envelope: %w", err)
	}

	switch env.Version {
	case PayloadVersion1:
		var v1 observationV1
		if err := json.Unmarshal(data, &v1); err != nil {
			return Observation{}, fmt.Errorf("decoding v1 payload: %w", err)
		}
		return v1.Observation, nil
	default:
		return Observation{}, fmt.Errorf("%w: %d", ErrUnknownPayloadVersion, env.Version)
	}
}
