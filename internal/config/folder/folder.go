// Package folder reads portal state from a configuration directory.
//
// A configuration directory has the layout:
//
//	<dir>/portal.properties          flat portal properties
//	<dir>/messages/messages*.properties  message bundles
//	<dir>/plugin-conf.json           plugin overrides (read by providers)
//
// Missing files are never errors: they produce empty values and a logged
// warning.
package folder

import (
	"log/slog"
	"maps"
	"path/filepath"

	"golang.org/x/text/language"

	"github.com/dshills/geoladris/internal/config/loader"
)

// File and directory names inside a configuration directory.
const (
	PropertiesFile = "portal.properties"
	MessagesDir    = "messages"
	MessagesBase   = "messages"
)

// Folder is a configuration directory.
type Folder struct {
	dir    string
	loader *loader.Loader
	logger *slog.Logger
}

// Option configures a Folder.
type Option func(*Folder)

// WithLoader sets the loader used to read files.
func WithLoader(l *loader.Loader) Option {
	return func(f *Folder) {
		if l != nil {
			f.loader = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Folder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New creates a Folder rooted at dir.
func New(dir string, opts ...Option) *Folder {
	f := &Folder{
		dir:    dir,
		loader: loader.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("component", "config-folder")
	return f
}

// Dir returns the configuration directory.
func (f *Folder) Dir() string {
	return f.dir
}

// Path joins elem onto the configuration directory.
func (f *Folder) Path(elem ...string) string {
	return filepath.Join(append([]string{f.dir}, elem...)...)
}

// Properties reads portal.properties. A missing or unreadable file yields
// an empty map.
func (f *Folder) Properties() map[string]string {
	path := f.Path(PropertiesFile)
	f.logger.Debug("reading portal properties", "path", path)

	props, err := f.loader.LoadProperties(path)
	if err != nil {
		f.logger.Error("error reading portal properties", "path", path, "error", err)
		return map[string]string{}
	}
	if props == nil {
		f.logger.Warn("missing portal properties file", "path", path)
		return map[string]string{}
	}
	return props
}

// Messages returns the message bundle for tag. Bundles are layered from
// the most general to the most specific file:
//
//	messages.properties
//	messages_<lang>.properties
//	messages_<lang>_<REGION>.properties
//
// with later files overriding earlier ones.
func (f *Folder) Messages(tag language.Tag) Messages {
	bundle := make(Messages)
	found := false

	for _, name := range bundleNames(tag) {
		path := f.Path(MessagesDir, name+".properties")
		props, err := f.loader.LoadProperties(path)
		if err != nil {
			f.logger.Error("error reading message bundle", "path", path, "error", err)
			continue
		}
		if props == nil {
			continue
		}
		found = true
		maps.Copy(bundle, props)
	}

	if !found {
		f.logger.Warn("no message bundle found", "locale", tag.String(), "dir", f.Path(MessagesDir))
	}
	return bundle
}

// bundleNames returns the bundle file names for tag, general first.
func bundleNames(tag language.Tag) []string {
	names := []string{MessagesBase}
	if tag == language.Und {
		return names
	}

	base, _, region := tag.Raw()
	if base.String() == "und" {
		return names
	}
	lang := MessagesBase + "_" + base.String()
	names = append(names, lang)

	if region != (language.Region{}) && region.String() != "ZZ" {
		names = append(names, lang+"_"+region.String())
	}
	return names
}
