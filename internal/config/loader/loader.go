// Package loader reads configuration files into configuration trees.
//
// The loader understands JSON (with comments and trailing commas), YAML,
// TOML and Java-style .properties files. A missing file is not an error:
// loaders return nil, nil so callers can substitute defaults.
package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/geoladris/internal/config/tree"
)

// Format identifies a configuration file syntax.
type Format string

const (
	// FormatJSON is JSON, optionally with comments and trailing commas.
	FormatJSON Format = "json"
	// FormatYAML is YAML 1.2.
	FormatYAML Format = "yaml"
	// FormatTOML is TOML 1.0.
	FormatTOML Format = "toml"
	// FormatProperties is the Java .properties format.
	FormatProperties Format = "properties"
)

// ErrUnsupportedFormat is returned for files whose extension has no parser.
var ErrUnsupportedFormat = errors.New("unsupported configuration format")

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".toml":
		return FormatTOML, true
	case ".properties":
		return FormatProperties, true
	default:
		return "", false
	}
}

// FileSystem is an abstraction for file system operations.
// This allows for easy testing with in-memory file systems.
type FileSystem interface {
	// ReadFile reads the entire file at path.
	ReadFile(path string) ([]byte, error)
	// Stat returns file info for path.
	Stat(path string) (fs.FileInfo, error)
}

// OSFS implements FileSystem using the real OS file system.
type OSFS struct{}

// ReadFile reads the entire file at path.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Stat returns file info for path.
func (OSFS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// Loader reads configuration files through a FileSystem.
type Loader struct {
	fs FileSystem
}

// Option configures a Loader.
type Option func(*Loader)

// WithFS sets the file system used by the loader.
func WithFS(fsys FileSystem) Option {
	return func(l *Loader) {
		if fsys != nil {
			l.fs = fsys
		}
	}
}

// New creates a loader backed by the OS file system.
func New(opts ...Option) *Loader {
	l := &Loader{fs: OSFS{}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Exists reports whether path exists.
func (l *Loader) Exists(path string) bool {
	_, err := l.fs.Stat(path)
	return err == nil
}

// LoadFile reads a tree from path, choosing the parser from the extension.
// Returns nil, nil if the file doesn't exist.
func (l *Loader) LoadFile(path string) (map[string]any, error) {
	format, ok := FormatFromPath(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	data, err := l.read(path)
	if err != nil || data == nil {
		return nil, err
	}

	return Parse(format, path, data)
}

// LoadProperties reads a .properties file into a flat string map.
// Returns nil, nil if the file doesn't exist.
func (l *Loader) LoadProperties(path string) (map[string]string, error) {
	data, err := l.read(path)
	if err != nil || data == nil {
		return nil, err
	}

	return ParseProperties(path, data)
}

func (l *Loader) read(path string) ([]byte, error) {
	data, err := l.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil // File doesn't exist, not an error
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Parse decodes data in the given format. The source names the input in
// error messages.
func Parse(format Format, source string, data []byte) (map[string]any, error) {
	var (
		result map[string]any
		err    error
	)

	switch format {
	case FormatJSON:
		result, err = parseJSON(data)
	case FormatYAML:
		result, err = parseYAML(data)
	case FormatTOML:
		result, err = parseTOML(data)
	case FormatProperties:
		var props map[string]string
		props, err = ParseProperties(source, data)
		if err == nil {
			result = make(map[string]any, len(props))
			for k, v := range props {
				result[k] = v
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			if perr.Path == "" {
				perr.Path = source
			}
			return nil, perr
		}
		return nil, &ParseError{Path: source, Message: err.Error(), Err: err}
	}

	return tree.NormalizeMap(result), nil
}

// ParseError represents an error while parsing a configuration file.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
