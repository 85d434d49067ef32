// Package provider defines the sources of per-request plugin
// configuration overrides.
//
// A Provider returns a mapping from plugin name to a configuration
// fragment. The aggregator deep-merges the fragments of every registered
// provider, in registration order, onto each plugin's default
// configuration. Fragments for plugins that are not registered are
// dropped: providers adjust plugins, they never introduce them.
//
// Providers that report CanBeCached may have their result reused while the
// aggregator's cache policy allows it. Results are cached per locale.
package provider

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/text/language"

	"github.com/dshills/geoladris/internal/config/folder"
)

// RequestContext gives providers access to the request locale and the
// portal configuration.
type RequestContext interface {
	// Locale returns the locale the document is built for.
	Locale() language.Tag

	// Localize replaces ${key} placeholders with messages for Locale.
	Localize(template string) string

	// ConfigDir returns the portal configuration directory.
	ConfigDir() string

	// UsingCache reports whether the portal caches configuration.
	UsingCache() bool
}

// Provider supplies configuration overrides keyed by plugin name.
type Provider interface {
	// PluginConfig returns plugin name to configuration fragment. The
	// request may be nil when configuration is built outside a request.
	PluginConfig(ctx context.Context, rc RequestContext, r *http.Request) (map[string]any, error)

	// CanBeCached reports whether the result may be reused across
	// requests with the same locale.
	CanBeCached() bool
}

// Named is implemented by providers that have a name for logging.
type Named interface {
	Name() string
}

// NameOf returns the provider's name, or its type when it has none.
func NameOf(p Provider) string {
	if n, ok := p.(Named); ok {
		if name := n.Name(); name != "" {
			return name
		}
	}
	return fmt.Sprintf("%T", p)
}

// Error records a provider failure.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Context is a RequestContext with fixed values.
type Context struct {
	Tag      language.Tag
	Messages folder.Messages
	Dir      string
	Cache    bool
}

var _ RequestContext = Context{}

// Locale returns Tag.
func (c Context) Locale() language.Tag { return c.Tag }

// Localize replaces ${key} placeholders using Messages.
func (c Context) Localize(template string) string { return c.Messages.Localize(template) }

// ConfigDir returns Dir.
func (c Context) ConfigDir() string { return c.Dir }

// UsingCache returns Cache.
func (c Context) UsingCache() bool { return c.Cache }

// Func adapts a function to a Provider.
type Func struct {
	// ProviderName is used in log messages.
	ProviderName string

	// Cacheable is returned by CanBeCached.
	Cacheable bool

	Fn func(ctx context.Context, rc RequestContext, r *http.Request) (map[string]any, error)
}

// PluginConfig calls Fn.
func (f *Func) PluginConfig(ctx context.Context, rc RequestContext, r *http.Request) (map[string]any, error) {
	if f.Fn == nil {
		return nil, nil
	}
	return f.Fn(ctx, rc, r)
}

// CanBeCached returns Cacheable.
func (f *Func) CanBeCached() bool { return f.Cacheable }

// Name returns ProviderName.
func (f *Func) Name() string { return f.ProviderName }

// Static returns a cacheable provider that always yields a copy of conf.
func Static(name string, conf map[string]any) *Func {
	return &Func{
		ProviderName: name,
		Cacheable:    true,
		Fn: func(context.Context, RequestContext, *http.Request) (map[string]any, error) {
			return cloneConf(conf), nil
		},
	}
}
