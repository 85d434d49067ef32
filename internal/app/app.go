package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/geoladris/internal/config"
	"github.com/dshills/geoladris/internal/config/folder"
	"github.com/dshills/geoladris/internal/config/notify"
	"github.com/dshills/geoladris/internal/config/provider"
	"github.com/dshills/geoladris/internal/config/watcher"
	"github.com/dshills/geoladris/internal/plugin"
	"github.com/dshills/geoladris/internal/server"
)

// LuaConfigFile is the optional scripted provider in the config directory.
const LuaConfigFile = "plugin-conf.lua"

const shutdownTimeout = 5 * time.Second

// Application owns the portal components.
type Application struct {
	opts   Options
	logger *slog.Logger

	folder   *folder.Folder
	scanner  *plugin.Scanner
	notifier *notify.Notifier
	config   *config.Config
	server   *server.Server
	watcher  *watcher.Watcher
	sub      *notify.Subscription

	httpServer *http.Server
	listener   atomic.Pointer[net.Listener]
	ready      chan struct{}

	running  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

// New creates an Application. Components are built in dependency order;
// a failure is reported as an InitError naming the component.
func New(opts Options) (*Application, error) {
	if err := opts.Validate(); err != nil {
		return nil, &InitError{Component: "options", Err: err}
	}

	app := &Application{
		opts:  opts,
		ready: make(chan struct{}),
	}
	if err := app.bootstrap(); err != nil {
		app.closeComponents()
		return nil, err
	}
	return app, nil
}

func (app *Application) bootstrap() error {
	logger, err := NewLogger(app.opts.LogOutput, app.opts.LogLevel, app.opts.LogFormat)
	if err != nil {
		return &InitError{Component: "logger", Err: err}
	}
	app.logger = logger

	dir := folder.Resolve(folder.ResolveOptions{
		RootPath:      app.opts.RootPath,
		ContextPath:   app.opts.ContextPath,
		InitParameter: app.opts.ConfigDir,
		Environment:   app.opts.Environment,
		Logger:        logger,
	})
	app.folder = folder.New(dir, folder.WithLogger(logger))

	app.notifier = notify.New(notify.WithAsync(64))
	app.sub = app.notifier.Subscribe(app.logChange)

	cfgOpts := []config.Option{
		config.WithSource(app.folder),
		config.WithCache(app.opts.CachePolicy()),
		config.WithLogger(logger),
		config.WithNotifier(app.notifier),
		config.WithProviders(provider.NewFile(provider.WithFileLogger(logger))),
	}
	if len(app.opts.PluginsDirs) > 0 {
		app.scanner = plugin.NewScanner(app.opts.PluginsDirs, plugin.WithScanLogger(logger))
		cfgOpts = append(cfgOpts, config.WithPluginSource(app.scanner))
	}
	if lua := filepath.Join(dir, LuaConfigFile); fileExists(lua) {
		cfgOpts = append(cfgOpts, config.WithProviders(provider.NewLua(lua, provider.WithLuaLogger(logger))))
	}
	app.config = config.New(cfgOpts...)

	app.server = server.New(app.config, server.WithLogger(logger))
	app.httpServer = &http.Server{
		Addr:              app.opts.Addr,
		Handler:           app.server,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	if app.opts.Watch {
		if err := app.startWatcher(dir); err != nil {
			return &InitError{Component: "watcher", Err: err}
		}
	}

	logger.Info("portal configured",
		"config_dir", dir,
		"plugins_dirs", app.opts.PluginsDirs,
		"cache", app.opts.Cache,
		"providers", app.config.Providers(),
	)
	return nil
}

func (app *Application) startWatcher(dir string) error {
	w, err := watcher.New(watcher.WithLogger(app.logger))
	if err != nil {
		return err
	}
	app.watcher = w

	if err := w.Add(dir, func(watcher.Batch) { app.config.Invalidate() }); err != nil {
		if !errors.Is(err, watcher.ErrPathNotExist) {
			return err
		}
		app.logger.Warn("config directory not watched", "dir", dir, "error", err)
	}

	for _, pd := range app.opts.PluginsDirs {
		if err := w.Add(pd, app.rescan); err != nil {
			if !errors.Is(err, watcher.ErrPathNotExist) && !errors.Is(err, watcher.ErrAlreadyWatching) {
				return err
			}
			app.logger.Warn("plugins directory not watched", "dir", pd, "error", err)
		}
	}
	return nil
}

func (app *Application) rescan(b watcher.Batch) {
	ds, err := app.scanner.Plugins()
	if err != nil {
		app.logger.Warn("error rescanning plugins", "root", b.Root, "error", err)
		if len(ds) == 0 {
			return
		}
	}
	app.config.SetPlugins(ds)
}

func (app *Application) logChange(c notify.Change) {
	app.logger.Debug("configuration changed", "type", c.Type.String(), "source", c.Source, "plugins", c.Plugins)
}

// Config returns the configuration aggregator.
func (app *Application) Config() *config.Config {
	return app.config
}

// Handler returns the HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.server
}

// Logger returns the root logger.
func (app *Application) Logger() *slog.Logger {
	return app.logger
}

// Addr returns the listen address once Run has started listening, or "".
func (app *Application) Addr() string {
	if ln := app.listener.Load(); ln != nil {
		return (*ln).Addr().String()
	}
	return ""
}

// Ready is closed once Run is accepting connections.
func (app *Application) Ready() <-chan struct{} {
	return app.ready
}

// IsRunning reports whether Run is serving.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}

// Run serves HTTP until ctx is cancelled or Shutdown is called, then shuts
// the application down.
func (app *Application) Run(ctx context.Context) error {
	if app.stopped.Load() {
		return ErrShutDown
	}
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer app.running.Store(false)

	ln, err := net.Listen("tcp", app.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", app.opts.Addr, err)
	}
	app.listener.Store(&ln)
	app.logger.Info("listening", "addr", ln.Addr().String())
	close(app.ready)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- app.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.Shutdown(shutdownCtx)
	case err := <-serveErr:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		stopErr := app.Shutdown(shutdownCtx)
		if errors.Is(err, http.ErrServerClosed) {
			return stopErr
		}
		return errors.Join(fmt.Errorf("serve: %w", err), stopErr)
	}
}

// Shutdown stops the server, the watcher and the notifier. It is safe to
// call Shutdown multiple times.
func (app *Application) Shutdown(ctx context.Context) error {
	app.stopOnce.Do(func() {
		app.stopped.Store(true)
		var errs []error
		if app.httpServer != nil {
			if err := app.httpServer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("http server: %w", err))
			}
		}
		errs = append(errs, app.closeComponents())
		app.stopErr = errors.Join(errs...)
		if app.logger != nil {
			app.logger.Info("shut down", "error", app.stopErr)
		}
	})
	return app.stopErr
}

func (app *Application) closeComponents() error {
	var err error
	if app.watcher != nil {
		if cerr := app.watcher.Close(); cerr != nil {
			err = fmt.Errorf("watcher: %w", cerr)
		}
	}
	if app.sub != nil {
		app.sub.Unsubscribe()
	}
	if app.notifier != nil {
		app.notifier.Close()
	}
	return err
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
