package folder

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// DefaultConfigDir is the configuration directory used when none is set,
// relative to the application root.
const DefaultConfigDir = "WEB-INF/default_config"

// ResolveOptions locates the configuration directory.
type ResolveOptions struct {
	// RootPath is the application root holding the default directory.
	RootPath string

	// ContextPath is joined onto a configured directory, so one
	// PORTAL_CONFIG_DIR can serve several deployments.
	ContextPath string

	// InitParameter is used when PORTAL_CONFIG_DIR is not set.
	InitParameter string

	// Environment overrides the process environment, for tests.
	Environment map[string]string

	Logger *slog.Logger
}

type resolveEnv struct {
	ConfigDir string `env:"PORTAL_CONFIG_DIR"`
}

// Resolve returns the configuration directory. PORTAL_CONFIG_DIR wins over
// the init parameter; when neither is set, or the configured directory
// does not exist, the default directory under RootPath is used.
func Resolve(opts ResolveOptions) string {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config-folder")

	defaultDir := filepath.Join(opts.RootPath, filepath.FromSlash(DefaultConfigDir))

	var cfg resolveEnv
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: opts.Environment}); err != nil {
		logger.Warn("cannot read environment", "error", err)
	}

	configured := strings.TrimSpace(cfg.ConfigDir)
	if configured == "" {
		configured = strings.TrimSpace(opts.InitParameter)
	}

	dir := defaultDir
	if configured == "" {
		logger.Warn("PORTAL_CONFIG_DIR not set, using default config", "dir", defaultDir)
	} else {
		candidate := filepath.Join(configured, opts.ContextPath)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			dir = candidate
		} else {
			logger.Warn("PORTAL_CONFIG_DIR does not exist, using default config",
				"configured", candidate, "dir", defaultDir)
		}
	}

	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	logger.Info("using configuration directory", "PORTAL_CONFIG_DIR", dir)
	return dir
}
