package server

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is an error with an HTTP status.
type StatusError struct {
	Status int
	Err    error
}

// Errorf returns a StatusError with a formatted cause.
func Errorf(status int, format string, args ...any) *StatusError {
	return &StatusError{Status: status, Err: fmt.Errorf(format, args...)}
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return http.StatusText(e.Status)
	}
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// StatusOf returns the status carried by err, or 500.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) && se.Status >= 400 && se.Status <= 599 {
		return se.Status
	}
	return http.StatusInternalServerError
}
