// Package response provides utilities for HTTP response handling.
package response

import (
	"encoding/json"
	"iter"
	"net/http"

	"github.com/raincheck/raincheck/internal/api/middleware"
	"github.com/raincheck/raincheck/internal/api/models"
	"github.com/raincheck/raincheck/internal/weather"
)

// ContentTypeNDJSON is the media type of streamed collections.
const ContentTypeNDJSON = "application/x-ndjson"

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	setRequestID(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Created writes a 201 Created response with Location header.
func Created(w http.ResponseWriter, r *http.Request, location string, data any) {
	if location != "" {
		w.Header().Set("Location", location)
	}
	JSON(w, r, http.StatusCreated, data)
}

// StreamError is the last line of a stream that failed after it started.
type StreamError struct {
	Error struct {
		Code weather.Code `json:"code"`
	} `json:"error"`
}

// NDJSON writes seq as newline-delimited JSON, flushing after every item so
// clients see results as they are produced.
//
// The status line is only written once the first item (or the end of an
// empty sequence) is reached. An error before that point is returned with
// started false and nothing written, so the caller can still answer with a
// problem. An error after that point ends the stream with a StreamError line
// and is returned with started true.
func NDJSON[T any](w http.ResponseWriter, r *http.Request, seq iter.Seq2[T, error]) (started bool, err error) {
	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)

	start := func() {
		setRequestID(w, r)
		w.Header().Set("Content-Type", ContentTypeNDJSON)
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		started = true
	}

	for item, err := range seq {
		if err != nil {
			if started {
				var line StreamError
				line.Error.Code = weather.ErrorCode(err)
				_ = enc.Encode(line)
				_ = rc.Flush()
			}
			return started, err
		}

		if !started {
			start()
		}
		if err := enc.Encode(item); err != nil {
			// client went away
			return true, err
		}
		_ = rc.Flush()
	}

	if !started {
		start()
	}
	return true, nil
}

// Error writes a Problem+JSON error response.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// BadRequest writes a 400 Bad Request error response.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	Error(w, r, models.NewBadRequest(middleware.GetRequestID(r.Context()), detail, errors))
}

// NotFound writes a 404 Not Found error response.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewNotFound(middleware.GetRequestID(r.Context()), detail))
}

// Conflict writes a 409 Conflict error response naming the existing location.
func Conflict(w http.ResponseWriter, r *http.Request, detail string, existing *weather.Location) {
	Error(w, r, models.NewConflict(middleware.GetRequestID(r.Context()), detail, existing))
}

// UnsupportedMediaType writes a 415 Unsupported Media Type error response.
func UnsupportedMediaType(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewUnsupportedMediaType(middleware.GetRequestID(r.Context()), detail))
}

// InternalError writes a 500 Internal Server Error response.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewInternalError(middleware.GetRequestID(r.Context()), detail))
}

// ServiceUnavailable writes a 503 Service Unavailable error response.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewServiceUnavailable(middleware.GetRequestID(r.Context()), detail))
}

func setRequestID(w http.ResponseWriter, r *http.Request) {
	if requestID := middleware.GetRequestID(r.Context()); requestID != "" {
		w.Header().Set("X-Request-Id", requestID)
	}
}
