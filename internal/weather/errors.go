package weather

import (
	"errors"
	"fmt"
)

// Weather errors.
var (
	ErrConflict            = errors.New("conflict")
	ErrLocationNotFound    = errors.New("location not found")
	ErrPlaceNotFound       = errors.New("place not found")
	ErrProviderUnavailable = errors.New("weather provider unavailable")
	ErrInvalidLocation     = errors.New("invalid location")
)

// ConflictError reports a location insert that collided with an existing
// row. Existing is the row that holds the id, name or coordinates.
type ConflictError struct {
	Existing *Location
}

func (e *ConflictError) Error() string {
	if e.Existing == nil {
		return "location already exists"
	}
	return fmt.Sprintf("location already exists: %s (%s)", e.Existing.Name, e.Existing.ID)
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StorageError wraps an unexpected failure from the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// ProviderError reports a non-success response from the weather provider.
type ProviderError struct {
	Provider   string
	Operation  string
	StatusCode int
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status code: %d", e.Provider, e.Operation, e.StatusCode)
}

// Is matches ErrProviderUnavailable.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderUnavailable
}

// Code is the small error vocabulary exposed to front ends.
type Code string

const (
	CodeConflict Code = "Conflict"
	CodeNotFound Code = "NotFound"
	CodeInternal Code = "Internal"
)

// ErrorCode maps err onto the front-end error vocabulary without leaking
// internal detail.
func ErrorCode(err error) Code {
	switch {
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrLocationNotFound), errors.Is(err, ErrPlaceNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}
