// Package server serves the portal client configuration over HTTP.
//
// GET /config.js returns a RequireJS bootstrap script:
//
//	var require = {"config": {"customization": {...}, "i18n": {...}, ...},
//		"paths": {...}, "shim": {...}}
//
// GET /plugins.json lists the enabled plugins with their modules and
// stylesheets.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"

	"golang.org/x/text/language"

	"github.com/dshills/geoladris/internal/config"
	"github.com/dshills/geoladris/internal/config/folder"
	"github.com/dshills/geoladris/internal/plugin"
)

// DefaultTitle is used when no title message is configured.
const DefaultTitle = "Untitled"

// Configuration is the view of config.Config the server needs.
type Configuration interface {
	PluginConfig(ctx context.Context, locale language.Tag, r *http.Request) []*plugin.Descriptor
	Messages(tag language.Tag) folder.Messages
	Languages() []config.Language
	DefaultLang() string
	Property(key string) (string, bool)
	PropertyAsArray(key string) []string
}

var _ Configuration = (*config.Config)(nil)

// Server is the HTTP handler of the portal.
type Server struct {
	cfg     Configuration
	logger  *slog.Logger
	mux     *http.ServeMux
	handler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Server for cfg.
func New(cfg Configuration, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		logger: slog.Default(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")

	s.mux.Handle("GET /config.js", s.handle(s.configJS))
	s.mux.Handle("GET /plugins.json", s.handle(s.pluginsJSON))
	s.handler = Chain(s.mux, WithRequestID())
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handle(fn HandlerFunc) http.Handler {
	return errorHandler{fn: fn, logger: s.logger}
}

// Locale resolves the locale of r against the configured languages.
func (s *Server) Locale(r *http.Request) language.Tag {
	return ResolveLocale(r, s.cfg.Languages(), s.cfg.DefaultLang())
}

// ClientConfig builds the "config" object served in config.js.
func (s *Server) ClientConfig(r *http.Request) map[string]any {
	locale := s.Locale(r)
	return s.clientConfig(r, locale, s.cfg.PluginConfig(r.Context(), locale, r))
}

func (s *Server) clientConfig(r *http.Request, locale language.Tag, plugins []*plugin.Descriptor) map[string]any {
	messages := s.cfg.Messages(locale)
	if messages == nil {
		messages = folder.Messages{}
	}

	modules := append([]string{}, s.cfg.PropertyAsArray(config.PropertyClientModules)...)
	stylesheets := []string{}
	for _, d := range plugins {
		modules = append(modules, d.Modules()...)
		stylesheets = append(stylesheets, d.Stylesheets()...)
	}

	var zoom any
	if v, ok := s.cfg.Property(config.PropertyMapZoom); ok {
		zoom = v
	}
	languages := s.cfg.Languages()
	if languages == nil {
		languages = []config.Language{}
	}
	customization := map[string]any{
		"title":                  messages.GetOr("title", DefaultTitle),
		config.PropertyLanguages: languages,
		"languageCode":           languageCode(locale),
		config.PropertyMapCenter: s.cfg.PropertyAsArray(config.PropertyMapCenter),
		config.PropertyMapZoom:   zoom,
		"modules":                modules,
		"stylesheets":            stylesheets,
	}

	out := map[string]any{
		"customization":  customization,
		"i18n":           map[string]string(messages),
		"url-parameters": r.URL.Query(),
	}
	for _, d := range plugins {
		for key, value := range d.Configuration() {
			out[key] = value
		}
	}
	return out
}

// RequireConfig builds the RequireJS configuration object served in
// config.js: the client configuration under "config" plus the "paths"
// and "shim" sections of the enabled plugins, when any declares them.
func (s *Server) RequireConfig(r *http.Request) map[string]any {
	locale := s.Locale(r)
	plugins := s.cfg.PluginConfig(r.Context(), locale, r)
	out := map[string]any{"config": s.clientConfig(r, locale, plugins)}

	paths := map[string]string{}
	shim := map[string]any{}
	for _, d := range plugins {
		maps.Copy(paths, d.RequirePaths())
		maps.Copy(shim, d.RequireShim())
	}
	if len(paths) > 0 {
		out["paths"] = paths
	}
	if len(shim) > 0 {
		out["shim"] = shim
	}
	return out
}

func (s *Server) configJS(w http.ResponseWriter, r *http.Request) error {
	data, err := json.Marshal(s.RequireConfig(r))
	if err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}

	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, "var require = %s", data); err != nil {
		s.logger.Debug("writing config.js", "error", err)
	}
	return nil
}

// PluginInfo is one entry of plugins.json.
type PluginInfo struct {
	Name          string            `json:"name"`
	InstallInRoot bool              `json:"installInRoot"`
	Modules       []string          `json:"modules"`
	Stylesheets   []string          `json:"stylesheets"`
	RequirePaths  map[string]string `json:"paths,omitempty"`
	RequireShim   map[string]any    `json:"shim,omitempty"`
}

func (s *Server) pluginsJSON(w http.ResponseWriter, r *http.Request) error {
	plugins := s.cfg.PluginConfig(r.Context(), s.Locale(r), r)
	out := make([]PluginInfo, 0, len(plugins))
	for _, d := range plugins {
		info := PluginInfo{
			Name:          d.Name(),
			InstallInRoot: d.InstallInRoot(),
			Modules:       d.Modules(),
			Stylesheets:   d.Stylesheets(),
			RequirePaths:  d.RequirePaths(),
			RequireShim:   d.RequireShim(),
		}
		if info.Modules == nil {
			info.Modules = []string{}
		}
		if info.Stylesheets == nil {
			info.Stylesheets = []string{}
		}
		out = append(out, info)
	}
	return writeJSON(w, http.StatusOK, out)
}
