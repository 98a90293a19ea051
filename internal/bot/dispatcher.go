// Package bot answers chat bot requests relayed over Pub/Sub.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/raincheck/raincheck/internal/weather"
)

// Request kinds.
const (
	KindAddLocation   = "addLocation"
	KindListLocations = "listLocations"
	KindWhereToGo     = "whereToGo"
)

// CodeInvalid is sent for requests that fail validation. The other codes
// come from weather.ErrorCode.
const CodeInvalid weather.Code = "Invalid"

// ErrMalformedRequest is returned for payloads that cannot be answered
// because no request id can be read from them.
var ErrMalformedRequest = errors.New("malformed request")

// Request is the envelope published by the chat bot.
type Request struct {
	Kind      string `json:"kind" validate:"required,oneof=addLocation listLocations whereToGo"`
	RequestID string `json:"requestId" validate:"required,max=128"`
	Session   string `json:"session,omitempty" validate:"max=256"`

	// addLocation
	Name string   `json:"name,omitempty" validate:"required_if=Kind addLocation,max=200"`
	Lat  *float64 `json:"lat,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Lon  *float64 `json:"lon,omitempty" validate:"omitempty,gte=-180,lte=180"`

	// whereToGo
	Query string `json:"query,omitempty" validate:"required_if=Kind whereToGo,max=200"`
}

// Reply is one message sent back for a request. A request produces zero or
// more result replies followed by exactly one terminal reply with Done or
// Error set.
type Reply struct {
	ID        string `json:"id"`
	RequestID string `json:"requestId"`
	Session   string `json:"session,omitempty"`
	Seq       int    `json:"seq"`

	// Location is a *weather.Location, weather.LocationSummary or
	// weather.Destination depending on the request kind.
	Location any `json:"location,omitempty"`

	Done  bool        `json:"done,omitempty"`
	Error *ReplyError `json:"error,omitempty"`
}

// ReplyError is the terminal error of a request.
type ReplyError struct {
	Code weather.Code `json:"code"`

	// Location is the existing row on a conflict.
	Location *weather.Location `json:"location,omitempty"`
}

// Service is the part of weather.Service the dispatcher needs.
type Service interface {
	AddLocation(ctx context.Context, name string, lat, lon float64) (*weather.Location, error)
	ListLocations(ctx context.Context) iter.Seq2[weather.LocationSummary, error]
	WhereToGo(ctx context.Context, query string) iter.Seq2[weather.Destination, error]
}

// SendFunc delivers one reply. An error aborts the request.
type SendFunc func(ctx context.Context, reply Reply) error

// Dispatcher turns requests into replies independent of the transport.
type Dispatcher struct {
	service  Service
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(service Service, logger zerolog.Logger) *Dispatcher {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterStructValidation(validateCoordinates, Request{})

	return &Dispatcher{
		service:  service,
		validate: validate,
		logger:   logger,
	}
}

// validateCoordinates requires both coordinates on addLocation, so a missing
// one is not read as zero.
func validateCoordinates(sl validator.StructLevel) {
	req := sl.Current().Interface().(Request)
	if req.Kind != KindAddLocation {
		return
	}
	if req.Lat == nil {
		sl.ReportError(req.Lat, "lat", "Lat", "required_if", "Kind addLocation")
	}
	if req.Lon == nil {
		sl.ReportError(req.Lon, "lon", "Lon", "required_if", "Kind addLocation")
	}
}

// Handle decodes one request payload and streams its replies through send.
// Failures of the request itself are reported to the bot as an error reply;
// the returned error is either ErrMalformedRequest or a send failure.
func (d *Dispatcher) Handle(ctx context.Context, data []byte, send SendFunc) error {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if req.RequestID == "" {
		return fmt.Errorf("%w: missing requestId", ErrMalformedRequest)
	}

	logger := d.logger.With().
		Str("request_id", req.RequestID).
		Str("kind", req.Kind).
		Logger()

	r := &replier{req: req, send: send}

	if err := d.validate.Struct(req); err != nil {
		logger.Warn().Err(err).Msg("invalid bot request")
		return r.fail(ctx, &ReplyError{Code: CodeInvalid})
	}

	var err error
	switch req.Kind {
	case KindAddLocation:
		err = d.addLocation(ctx, r)
	case KindListLocations:
		err = stream(ctx, r, d.service.ListLocations(ctx))
	case KindWhereToGo:
		err = stream(ctx, r, d.service.WhereToGo(ctx, req.Query))
	}

	var sendErr *sendError
	switch {
	case errors.As(err, &sendErr):
		return sendErr.err
	case err != nil:
		logger.Error().Err(err).Msg("bot request failed")
		return r.fail(ctx, replyError(err))
	}

	logger.Debug().Int("results", r.seq).Msg("bot request completed")
	return r.done(ctx)
}

func (d *Dispatcher) addLocation(ctx context.Context, r *replier) error {
	loc, err := d.service.AddLocation(ctx, r.req.Name, *r.req.Lat, *r.req.Lon)
	if err != nil {
		return err
	}
	return r.result(ctx, loc)
}

func stream[T any](ctx context.Context, r *replier, seq iter.Seq2[T, error]) error {
	for item, err := range seq {
		if err != nil {
			return err
		}
		if err := r.result(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func replyError(err error) *ReplyError {
	re := &ReplyError{Code: weather.ErrorCode(err)}
	if errors.Is(err, weather.ErrInvalidLocation) {
		re.Code = CodeInvalid
	}
	var conflict *weather.ConflictError
	if errors.As(err, &conflict) {
		re.Location = conflict.Existing
	}
	return re
}

type replier struct {
	req  Request
	send SendFunc
	seq  int
}

type sendError struct {
	err error
}

func (e *sendError) Error() string {
	return "sending reply: " + e.err.Error()
}

func (r *replier) reply(ctx context.Context, reply Reply) error {
	reply.ID = uuid.NewString()
	reply.RequestID = r.req.RequestID
	reply.Session = r.req.Session
	reply.Seq = r.seq
	r.seq++
	return r.send(ctx, reply)
}

// result sends one result. A send failure is marked so it is not mistaken
// for a failure of the request.
func (r *replier) result(ctx context.Context, location any) error {
	if err := r.reply(ctx, Reply{Location: location}); err != nil {
		return &sendError{err: err}
	}
	return nil
}

func (r *replier) done(ctx context.Context) error {
	return r.reply(ctx, Reply{Done: true})
}

func (r *replier) fail(ctx context.Context, re *ReplyError) error {
	return r.reply(ctx, Reply{Error: re})
}
