// Package app wires the portal components together and runs the HTTP
// server.
package app

import (
	"errors"
	"fmt"
)

// Application errors.
var (
	// ErrAlreadyRunning indicates Run was called twice.
	ErrAlreadyRunning = errors.New("application already running")

	// ErrShutDown indicates the application was shut down before Run.
	ErrShutDown = errors.New("application shut down")

	// ErrInvalidOption indicates an invalid option value.
	ErrInvalidOption = errors.New("invalid option")
)

// InitError represents an initialization error.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// OptionError reports an invalid option.
type OptionError struct {
	Option string
	Value  string
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Option, e.Value)
}

// Is matches ErrInvalidOption.
func (e *OptionError) Is(target error) bool {
	return target == ErrInvalidOption
}
