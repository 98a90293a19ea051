package handler

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/raincheck/raincheck/internal/api/middleware"
	"github.com/raincheck/raincheck/internal/api/models"
	"github.com/raincheck/raincheck/internal/api/response"
	"github.com/raincheck/raincheck/internal/weather"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// WeatherService is the part of weather.Service the handlers need.
type WeatherService interface {
	AddLocation(ctx context.Context, name string, lat, lon float64) (*weather.Location, error)
	ListLocations(ctx context.Context) iter.Seq2[weather.LocationSummary, error]
	GetLocation(ctx context.Context, idOrName string) (*weather.LocationSummary, error)
	History(ctx context.Context, idOrName string, since time.Time) iter.Seq2[weather.Observation, error]
	WhereToGo(ctx context.Context, query string) iter.Seq2[weather.Destination, error]
}

// LocationHandler handles location and search endpoints.
type LocationHandler struct {
	service  WeatherService
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
}

// NewLocationHandler creates a new LocationHandler.
func NewLocationHandler(service WeatherService, logger zerolog.Logger) *LocationHandler {
	return &LocationHandler{
		service:  service,
		validate: models.NewValidator(),
		logger:   logger,
		now:      time.Now,
	}
}

// CreateLocation handles POST /v1/locations - register a location.
func (h *LocationHandler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err != nil || mediaType != "application/json" {
			response.UnsupportedMediaType(w, r, "Content-Type must be application/json")
			return
		}
	}

	var input models.CreateLocationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if err := h.validate.Struct(input); err != nil {
		response.BadRequest(w, r, "invalid location", models.FieldErrors(err))
		return
	}

	loc, err := h.service.AddLocation(r.Context(), input.Name, *input.Lat, *input.Lon)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.Created(w, r, (&url.URL{Path: "/v1/locations/" + loc.ID}).EscapedPath(), loc)
}

// ListLocations handles GET /v1/locations - stream every location with its
// history summary.
func (h *LocationHandler) ListLocations(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, func(ctx context.Context) (bool, error) {
		return response.NDJSON(w, r, h.service.ListLocations(ctx))
	})
}

// GetLocation handles GET /v1/locations/{idOrName} - one location with
// history and forecast summaries.
func (h *LocationHandler) GetLocation(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GetLocation(r.Context(), chi.URLParam(r, "idOrName"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, summary)
}

// GetHistory handles GET /v1/locations/{idOrName}/history - stream stored
// observations, oldest first. since defaults to the start of the rolling
// history window.
func (h *LocationHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	since := h.now().Add(-weather.HistoryWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.BadRequest(w, r, "since must be an RFC 3339 timestamp", []models.FieldError{
				{Field: "since", Message: "is invalid", Code: "RFC3339"},
			})
			return
		}
		since = parsed
	}

	idOrName := chi.URLParam(r, "idOrName")
	h.stream(w, r, func(ctx context.Context) (bool, error) {
		return response.NDJSON(w, r, h.service.History(ctx, idOrName, since))
	})
}

// WhereToGo handles GET /v1/where-to-go?q= - stream nearby locations with
// acceptable weather.
func (h *LocationHandler) WhereToGo(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		response.BadRequest(w, r, "q is required", []models.FieldError{
			{Field: "q", Message: "is required", Code: "REQUIRED"},
		})
		return
	}

	h.stream(w, r, func(ctx context.Context) (bool, error) {
		return response.NDJSON(w, r, h.service.WhereToGo(ctx, query))
	})
}

func (h *LocationHandler) stream(w http.ResponseWriter, r *http.Request, run func(ctx context.Context) (bool, error)) {
	started, err := run(r.Context())
	switch {
	case err == nil:
	case !started:
		h.writeError(w, r, err)
	case r.Context().Err() != nil:
		// client went away
	default:
		h.logger.Error().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("stream aborted")
	}
}

func (h *LocationHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *weather.ConflictError
	switch {
	case errors.As(err, &conflict):
		response.Conflict(w, r, "location already exists", conflict.Existing)
	case errors.Is(err, weather.ErrInvalidLocation):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, weather.ErrLocationNotFound):
		response.NotFound(w, r, "location not found")
	case errors.Is(err, weather.ErrPlaceNotFound):
		response.NotFound(w, r, "place not found")
	case errors.Is(err, weather.ErrProviderUnavailable):
		h.logger.Warn().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Msg("weather provider unavailable")
		response.ServiceUnavailable(w, r, "weather provider unavailable")
	default:
		h.logger.Error().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		response.InternalError(w, r, "an unexpected error occurred")
	}
}
