package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by the backend channel when no live
	// connection is available.
	ErrNotConnected = errors.New("not connected")

	// ErrClosed is returned by operations on a store or manager that has
	// been shut down.
	ErrClosed = errors.New("closed")

	// ErrEmptyResponse is returned when the backend answers a fetch
	// without a node.
	ErrEmptyResponse = errors.New("empty response")
)

// FetchError reports that the backend rejected, or the network failed, a
// fetch for Path. It is delivered to error listeners, never thrown into
// rendering code.
type FetchError struct {
	Path Path
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Path.Key(), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// BackendError is an error message returned by the backend for a request.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string { return "backend: " + e.Message }

// AppError is a structured application error with HTTP status code.
type AppError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`
}

func (e *AppError) Error() string { return e.Message }

// Error constructors.
var (
	ErrNotFound = func(msg string) *AppError {
		return &AppError{Code: "NOT_FOUND", Message: msg, Status: 404}
	}
	ErrBadRequest = func(msg string) *AppError {
		return &AppError{Code: "BAD_REQUEST", Message: msg, Status: 400}
	}
	ErrInternal = func(msg string) *AppError {
		return &AppError{Code: "INTERNAL", Message: msg, Status: 500}
	}
	ErrUnauthorized = func(msg string) *AppError {
		return &AppError{Code: "UNAUTHORIZED", Message: msg, Status: 401}
	}
	ErrUnavailable = func(msg string) *AppError {
		return &AppError{Code: "UNAVAILABLE", Message: msg, Status: 503}
	}
)
