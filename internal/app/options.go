package app

import (
	"fmt"
	"io"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/dshills/geoladris/internal/config/cache"
)

// Options configures the application.
type Options struct {
	// RootPath is the application root holding WEB-INF/default_config.
	RootPath string `env:"PORTAL_ROOT" envDefault:"."`

	// ContextPath is joined onto a configured config directory.
	ContextPath string `env:"PORTAL_CONTEXT_PATH"`

	// ConfigDir is the configured config directory. PORTAL_CONFIG_DIR,
	// read during directory resolution, takes precedence.
	ConfigDir string

	// PluginsDirs are scanned for plugins, in priority order.
	PluginsDirs []string `env:"PORTAL_PLUGINS_DIR" envSeparator:","`

	// Cache enables caching of folder state and provider results.
	Cache bool `env:"PORTAL_CACHE" envDefault:"true"`

	// CacheTTL bounds cached values. Zero keeps them until invalidated.
	CacheTTL time.Duration `env:"PORTAL_CACHE_TTL"`

	// Watch invalidates caches when the config or plugin directories
	// change.
	Watch bool `env:"PORTAL_WATCH"`

	// Addr is the HTTP listen address.
	Addr string `env:"PORTAL_ADDR" envDefault:":8080"`

	LogLevel  string `env:"PORTAL_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"PORTAL_LOG_FORMAT" envDefault:"text"`

	// LogOutput defaults to os.Stderr.
	LogOutput io.Writer `env:"-"`

	// Environment overrides the process environment, for tests.
	Environment map[string]string `env:"-"`
}

// LoadOptions reads options from environ, or from the process environment
// when environ is nil.
func LoadOptions(environ map[string]string) (Options, error) {
	var opts Options
	if err := env.ParseWithOptions(&opts, env.Options{Environment: environ}); err != nil {
		return Options{}, fmt.Errorf("parse env: %w", err)
	}
	opts.Environment = environ
	return opts, nil
}

// Validate checks option values.
func (o Options) Validate() error {
	if _, ok := ParseLogLevel(o.LogLevel); !ok {
		return &OptionError{Option: "log level", Value: o.LogLevel}
	}
	switch o.LogFormat {
	case LogFormatText, LogFormatJSON, "":
	default:
		return &OptionError{Option: "log format", Value: o.LogFormat}
	}
	if o.CacheTTL < 0 {
		return &OptionError{Option: "cache TTL", Value: o.CacheTTL.String()}
	}
	return nil
}

// CachePolicy returns the cache policy the options describe.
func (o Options) CachePolicy() cache.Policy {
	ttl := o.CacheTTL
	if ttl == 0 {
		ttl = cache.Forever
	}
	return cache.Policy{Enabled: o.Cache, TTL: ttl}
}
