package provider

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dshills/geoladris/internal/config/loader"
	"github.com/dshills/geoladris/internal/config/tree"
)

// DefaultFileBase is the base name of the portal override file.
const DefaultFileBase = "plugin-conf"

// fileExtensions are tried in order after the base name.
var fileExtensions = []string{".json", ".yaml", ".yml", ".toml"}

// File reads overrides from plugin-conf.json (or .yaml, .yml, .toml) in
// the configuration directory. The file content is localized before it
// is parsed, so ${key} placeholders become messages for the request
// locale.
type File struct {
	base   string
	logger *slog.Logger
}

// FileOption configures a File provider.
type FileOption func(*File)

// WithFileBase sets the base name of the override file.
func WithFileBase(base string) FileOption {
	return func(f *File) {
		if base != "" {
			f.base = base
		}
	}
}

// WithFileLogger sets the logger.
func WithFileLogger(logger *slog.Logger) FileOption {
	return func(f *File) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFile creates a File provider.
func NewFile(opts ...FileOption) *File {
	f := &File{
		base:   DefaultFileBase,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("component", "provider", "provider", f.Name())
	return f
}

// Name returns the provider name.
func (f *File) Name() string {
	return "file:" + f.base
}

// CanBeCached returns true: the file only changes on disk.
func (f *File) CanBeCached() bool {
	return true
}

// Path returns the override file in dir, if one exists.
func (f *File) Path(dir string) (string, bool) {
	for _, ext := range fileExtensions {
		p := filepath.Join(dir, f.base+ext)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// PluginConfig reads and parses the override file. A missing file yields
// no overrides.
func (f *File) PluginConfig(_ context.Context, rc RequestContext, _ *http.Request) (map[string]any, error) {
	path, ok := f.Path(rc.ConfigDir())
	if !ok {
		f.logger.Debug("no override file", "dir", rc.ConfigDir())
		return map[string]any{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	format, _ := loader.FormatFromPath(path)
	conf, err := loader.Parse(format, path, []byte(rc.Localize(string(data))))
	if err != nil {
		return nil, err
	}

	for name, fragment := range conf {
		if _, ok := tree.AsMap(fragment); !ok {
			return nil, fmt.Errorf("%s: configuration for plugin %q must be a mapping, got %T", path, name, fragment)
		}
	}
	return conf, nil
}

func cloneConf(conf map[string]any) map[string]any {
	if conf == nil {
		return map[string]any{}
	}
	return tree.CloneMap(conf)
}
