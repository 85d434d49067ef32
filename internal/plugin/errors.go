package plugin

import (
	"errors"
	"fmt"
)

// Plugin errors.
var (
	// ErrMissingName is returned when a descriptor has no name.
	ErrMissingName = errors.New("plugin: name is required")

	// ErrInvalidName is returned when a descriptor name cannot be used as
	// a path prefix.
	ErrInvalidName = errors.New("plugin: name must not contain separators or spaces")

	// ErrNilDescriptor is returned when a nil descriptor is provided.
	ErrNilDescriptor = errors.New("plugin: descriptor is nil")

	// ErrNoDescriptor is returned when a plugin directory has no
	// descriptor file.
	ErrNoDescriptor = errors.New("plugin: no descriptor file")

	// ErrInvalidDescriptor is returned when a descriptor file has a
	// field of the wrong type.
	ErrInvalidDescriptor = errors.New("plugin: invalid descriptor")

	// ErrPluginNotFound is returned when a plugin cannot be located.
	ErrPluginNotFound = errors.New("plugin not found")
)

// DescriptorError reports a problem with a plugin's descriptor file.
type DescriptorError struct {
	Plugin string
	Path   string
	Err    error
}

func (e *DescriptorError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("plugin %s: descriptor %s: %v", e.Plugin, e.Path, e.Err)
	}
	return fmt.Sprintf("plugin %s: %v", e.Plugin, e.Err)
}

func (e *DescriptorError) Unwrap() error {
	return e.Err
}
