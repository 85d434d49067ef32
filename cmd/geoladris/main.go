// Package main is the entry point for the Geoladris portal server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/dshills/geoladris/internal/app"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := app.LoadOptions(nil)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	done, err := parseFlags(args, &opts, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if done {
		return 0
	}

	application, err := app.New(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// parseFlags applies command-line flags over opts. It reports done when
// the invocation only asked for help or the version.
func parseFlags(args []string, opts *app.Options, stdout, stderr io.Writer) (bool, error) {
	var showVersion bool

	fs := pflag.NewFlagSet("geoladris", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.RootPath, "root", opts.RootPath, "Application root holding WEB-INF/default_config")
	fs.StringVarP(&opts.ConfigDir, "config-dir", "c", opts.ConfigDir, "Configuration directory (PORTAL_CONFIG_DIR wins if set)")
	fs.StringVar(&opts.ContextPath, "context-path", opts.ContextPath, "Sub-directory of the configuration directory for this deployment")
	fs.StringSliceVarP(&opts.PluginsDirs, "plugins-dir", "p", opts.PluginsDirs, "Plugin directories, in priority order")
	fs.BoolVar(&opts.Cache, "cache", opts.Cache, "Cache configuration between requests")
	fs.DurationVar(&opts.CacheTTL, "cache-ttl", opts.CacheTTL, "Lifetime of cached configuration (0 keeps it until a change is detected)")
	fs.BoolVarP(&opts.Watch, "watch", "w", opts.Watch, "Reload configuration when files change")
	fs.StringVarP(&opts.Addr, "addr", "a", opts.Addr, "HTTP listen address")
	fs.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&opts.LogFormat, "log-format", opts.LogFormat, "Log format (text, json)")
	fs.BoolVarP(&showVersion, "version", "v", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Geoladris - plugin configuration server for map portals\n\n")
		fmt.Fprintf(stderr, "Usage: geoladris [options]\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nEvery option can also be set with its PORTAL_* environment variable.\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, err
	}

	if showVersion {
		fmt.Fprintf(stdout, "Geoladris %s\n", version)
		fmt.Fprintf(stdout, "Commit: %s\n", commit)
		fmt.Fprintf(stdout, "Built: %s\n", date)
		return true, nil
	}

	if fs.NArg() > 0 {
		return false, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return false, opts.Validate()
}
