package config

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"

	"golang.org/x/text/language"

	"github.com/dshills/geoladris/internal/config/provider"
	"github.com/dshills/geoladris/internal/config/tree"
	"github.com/dshills/geoladris/internal/plugin"
)

// PluginConfig returns the enabled plugins, sorted by name, each carrying
// its default configuration merged with the fragments of every provider
// in registration order. The returned descriptors are private copies.
//
// locale is reduced with NormalizeLocale before it reaches providers.
// r may be nil. ctx is handed to providers untouched.
func (c *Config) PluginConfig(ctx context.Context, locale language.Tag, r *http.Request) []*plugin.Descriptor {
	locale = NormalizeLocale(locale)
	state := c.current()
	snap := c.registry.Snapshot()

	rc := provider.Context{
		Tag:      locale,
		Messages: state.messagesFor(locale),
		Dir:      c.Dir(),
		Cache:    c.policy.Enabled,
	}

	providers := *c.providers.Load()
	fragments := make([]map[string]any, 0, len(providers))
	for _, rp := range providers {
		if conf := c.providerConfig(ctx, rp, rc, r); len(conf) > 0 {
			fragments = append(fragments, conf)
		}
	}

	for _, conf := range fragments {
		for name := range conf {
			if _, ok := snap.Lookup(name); !ok {
				c.logger.Debug("ignoring configuration for unknown plugin", "plugin", name)
			}
		}
	}

	enabled := snap.Enabled()
	out := make([]*plugin.Descriptor, 0, len(enabled))
	for _, d := range enabled {
		merged := d.Configuration()
		for _, conf := range fragments {
			fragment, ok := conf[d.Name()]
			if !ok || fragment == nil {
				continue
			}
			m, ok := tree.AsMap(fragment)
			if !ok {
				c.logger.Warn("ignoring non-mapping plugin configuration",
					"plugin", d.Name(), "type", fmt.Sprintf("%T", fragment))
				continue
			}
			merged = tree.MergeMaps(merged, d.QualifyKeys(m))
		}
		out = append(out, d.WithConfiguration(merged))
	}
	return out
}

// providerConfig returns one provider's fragments, from its cache when
// both the policy and the provider allow it. Failures are logged and
// yield nil.
func (c *Config) providerConfig(ctx context.Context, rp *registeredProvider, rc provider.Context, r *http.Request) map[string]any {
	call := func() (map[string]any, error) {
		return c.callProvider(ctx, rp, rc, r)
	}

	var (
		conf map[string]any
		err  error
	)
	if c.policy.Reuses() && rp.provider.CanBeCached() {
		conf, err = rp.results.Get(rc.Tag.String(), call)
	} else {
		conf, err = call()
	}

	if err != nil {
		c.logger.Error("provider failed", "provider", rp.name, "locale", rc.Tag.String(), "error", err)
		return nil
	}
	return conf
}

// callProvider invokes the provider, turning a panic into an error.
func (c *Config) callProvider(ctx context.Context, rp *registeredProvider, rc provider.Context, r *http.Request) (conf map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Debug("provider panic", "provider", rp.name, "stack", string(debug.Stack()))
			conf, err = nil, &provider.Error{Provider: rp.name, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	conf, err = rp.provider.PluginConfig(ctx, rc, r)
	if err != nil {
		return nil, &provider.Error{Provider: rp.name, Err: err}
	}
	return tree.NormalizeMap(conf), nil
}
