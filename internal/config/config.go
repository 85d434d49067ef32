package config

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/text/language"

	"github.com/dshills/geoladris/internal/config/cache"
	"github.com/dshills/geoladris/internal/config/folder"
	"github.com/dshills/geoladris/internal/config/notify"
	"github.com/dshills/geoladris/internal/config/provider"
	"github.com/dshills/geoladris/internal/plugin"
)

// Property names with a meaning to the portal.
const (
	PropertyLanguages     = "languages"
	PropertyDefaultLang   = "languages.default"
	PropertyClientModules = "client.modules"
	PropertyMapCenter     = "map.centerLonLat"
	PropertyMapZoom       = "map.initialZoomLevel"
)

// Source supplies portal properties and message bundles.
type Source interface {
	Dir() string
	Properties() map[string]string
	Messages(tag language.Tag) folder.Messages
}

// PluginSource supplies the plugin set. plugin.Scanner implements it.
type PluginSource interface {
	Plugins() ([]*plugin.Descriptor, error)
}

var (
	_ Source       = (*folder.Folder)(nil)
	_ PluginSource = (*plugin.Scanner)(nil)
)

// registeredProvider pairs a provider with its per-locale result cache.
type registeredProvider struct {
	provider provider.Provider
	name     string
	results  *cache.Keyed[map[string]any]
}

// Config aggregates plugin configuration. It is safe for concurrent use.
type Config struct {
	source       Source
	pluginSource PluginSource
	policy       cache.Policy
	clock        cache.Clock
	logger       *slog.Logger
	notifier     *notify.Notifier

	registry *plugin.Registry
	state    *cache.Cell[*folderState]

	// providers is replaced, never modified, by AddProvider.
	providers  atomic.Pointer[[]*registeredProvider]
	providerMu sync.Mutex

	initial []*plugin.Descriptor
	pending []provider.Provider
}

// Option configures a Config instance.
type Option func(*Config)

// WithSource sets the property and message source.
func WithSource(src Source) Option {
	return func(c *Config) {
		c.source = src
	}
}

// WithPluginSource loads the plugin set from ps whenever folder-backed
// state is reloaded.
func WithPluginSource(ps PluginSource) Option {
	return func(c *Config) {
		c.pluginSource = ps
	}
}

// WithPlugins sets the initial plugin set.
func WithPlugins(ds ...*plugin.Descriptor) Option {
	return func(c *Config) {
		c.initial = append(c.initial, ds...)
	}
}

// WithProviders registers providers, in order.
func WithProviders(ps ...provider.Provider) Option {
	return func(c *Config) {
		c.pending = append(c.pending, ps...)
	}
}

// WithCache sets the cache policy. The default policy disables caching.
func WithCache(policy cache.Policy) Option {
	return func(c *Config) {
		c.policy = policy
	}
}

// WithClock sets the time source of the caches, for tests.
func WithClock(clock cache.Clock) Option {
	return func(c *Config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNotifier sets the notifier that receives change events.
func WithNotifier(n *notify.Notifier) Option {
	return func(c *Config) {
		if n != nil {
			c.notifier = n
		}
	}
}

// New creates a Config.
func New(opts ...Option) *Config {
	c := &Config{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = notify.New()
	}
	c.logger = c.logger.With("component", "config")

	c.state = cache.New[*folderState](c.policy, c.cacheOptions()...)
	c.registry = plugin.NewRegistry()
	if err := c.registry.Replace(c.initial); err != nil {
		c.logger.Warn("invalid plugin descriptors", "error", err)
	}
	c.initial = nil

	empty := []*registeredProvider{}
	c.providers.Store(&empty)
	for _, p := range c.pending {
		c.AddProvider(p)
	}
	c.pending = nil

	return c
}

func (c *Config) cacheOptions() []cache.Option {
	if c.clock == nil {
		return nil
	}
	return []cache.Option{cache.WithClock(c.clock)}
}

// Policy returns the cache policy.
func (c *Config) Policy() cache.Policy {
	return c.policy
}

// Subscribe registers an observer for change events.
func (c *Config) Subscribe(observer notify.Observer) *notify.Subscription {
	return c.notifier.Subscribe(observer)
}

// AddProvider registers p after the providers already registered.
func (c *Config) AddProvider(p provider.Provider) {
	if p == nil {
		return
	}
	c.providerMu.Lock()
	defer c.providerMu.Unlock()

	current := *c.providers.Load()
	next := make([]*registeredProvider, len(current), len(current)+1)
	copy(next, current)
	next = append(next, &registeredProvider{
		provider: p,
		name:     provider.NameOf(p),
		results:  cache.NewKeyed[map[string]any](c.policy, append(c.cacheOptions(), cache.WithMaxKeys(maxCachedLocales))...),
	})
	c.providers.Store(&next)
}

// Providers returns the names of the registered providers, in order.
func (c *Config) Providers() []string {
	current := *c.providers.Load()
	names := make([]string, len(current))
	for i, rp := range current {
		names[i] = rp.name
	}
	return names
}

// SetPlugins replaces the plugin set and drops every cached provider
// result. Invalid descriptors are logged and left out.
func (c *Config) SetPlugins(ds []*plugin.Descriptor) {
	c.replacePlugins(ds, "set")
}

func (c *Config) replacePlugins(ds []*plugin.Descriptor, source string) {
	if err := c.registry.Replace(ds); err != nil {
		c.logger.Warn("invalid plugin descriptors", "error", err)
	}
	c.invalidateProviders()

	snap := c.registry.Snapshot()
	c.logger.Debug("plugin set replaced",
		"version", snap.Version(),
		"plugins", snap.Names(),
		"source", source,
	)
	c.notifier.Notify(notify.Change{Type: notify.ChangePlugins, Source: source, Plugins: snap.Len()})
}

// Invalidate drops all cached state. The next call reloads the folder,
// the plugin set (with a PluginSource) and every provider result.
func (c *Config) Invalidate() {
	c.state.Invalidate()
	c.invalidateProviders()
	c.notifier.Notify(notify.Change{
		Type:    notify.ChangeInvalidate,
		Source:  "invalidate",
		Plugins: c.registry.Snapshot().Len(),
	})
}

func (c *Config) invalidateProviders() {
	for _, rp := range *c.providers.Load() {
		rp.results.Invalidate()
	}
}

// Dir returns the configuration directory, or "" without a source.
func (c *Config) Dir() string {
	if c.source == nil {
		return ""
	}
	return c.source.Dir()
}

// Properties returns a copy of the portal properties.
func (c *Config) Properties() map[string]string {
	return maps.Clone(c.current().properties)
}

// Property returns a single portal property.
func (c *Config) Property(key string) (string, bool) {
	v, ok := c.current().properties[key]
	return v, ok
}

// PropertyAsArray splits a comma-separated property into trimmed parts.
// Returns nil if the property is not set.
func (c *Config) PropertyAsArray(key string) []string {
	v, ok := c.Property(key)
	if !ok {
		return nil
	}
	parts := strings.Split(v, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// Languages returns the configured languages in declaration order, or nil
// if none are configured.
func (c *Config) Languages() []Language {
	return slices.Clone(c.current().languages)
}

// DefaultLang returns the default language code, or "" if none is set.
func (c *Config) DefaultLang() string {
	return c.current().defaultLang
}

// Messages returns a copy of the message bundle for tag, reduced with
// NormalizeLocale.
func (c *Config) Messages(tag language.Tag) folder.Messages {
	return c.current().messagesFor(NormalizeLocale(tag)).Clone()
}

// Plugin returns a copy of the named plugin's descriptor.
func (c *Config) Plugin(name string) (*plugin.Descriptor, error) {
	c.current()
	d, err := c.registry.Get(name)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return d, nil
}

// Plugins returns copies of every registered descriptor, enabled or not,
// sorted by name.
func (c *Config) Plugins() []*plugin.Descriptor {
	c.current()
	all := c.registry.Snapshot().All()
	out := make([]*plugin.Descriptor, len(all))
	for i, d := range all {
		out[i] = d.Clone()
	}
	return out
}
