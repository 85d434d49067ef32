package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/text/language"

	"github.com/dshills/geoladris/internal/config/cache"
	"github.com/dshills/geoladris/internal/config/folder"
	"github.com/dshills/geoladris/internal/config/notify"
	"github.com/dshills/geoladris/internal/config/provider"
	"github.com/dshills/geoladris/internal/plugin"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeSource is an in-memory Source that counts property loads.
type fakeSource struct {
	mu       sync.Mutex
	dir      string
	props    map[string]string
	messages map[string]folder.Messages
	loads    atomic.Int32
}

func (s *fakeSource) Dir() string { return s.dir }

func (s *fakeSource) Properties() map[string]string {
	s.loads.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.props))
	for k, v := range s.props {
		out[k] = v
	}
	return out
}

func (s *fakeSource) Messages(tag language.Tag) folder.Messages {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[tag.String()]
}

func (s *fakeSource) set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props[key] = value
}

// countingProvider returns conf and counts calls.
type countingProvider struct {
	name      string
	cacheable bool
	calls     atomic.Int32

	mu   sync.Mutex
	conf map[string]any
	err  error
}

func (p *countingProvider) Name() string { return p.name }

func (p *countingProvider) CanBeCached() bool { return p.cacheable }

func (p *countingProvider) PluginConfig(context.Context, provider.RequestContext, *http.Request) (map[string]any, error) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conf, p.err
}

func (p *countingProvider) setConf(conf map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conf = conf
}

func rootPlugin(name string, conf map[string]any) *plugin.Descriptor {
	d := plugin.NewDescriptor(name, true)
	d.SetDefaultConfiguration(conf)
	return d
}

func configOf(t *testing.T, ds []*plugin.Descriptor, name string) map[string]any {
	t.Helper()
	for _, d := range ds {
		if d.Name() == name {
			return d.Configuration()
		}
	}
	t.Fatalf("plugin %q not in result", name)
	return nil
}

func TestMergeOrder(t *testing.T) {
	p1 := &countingProvider{name: "p1", conf: map[string]any{"p": map[string]any{"m": map[string]any{"a": 1, "b": 2}}}}
	p2 := &countingProvider{name: "p2", conf: map[string]any{"p": map[string]any{"m": map[string]any{"a": 10, "c": 3}}}}

	cfg := New(
		WithLogger(quietLogger()),
		WithPlugins(rootPlugin("p", nil)),
		WithProviders(p1, p2),
	)

	got := configOf(t, cfg.PluginConfig(context.Background(), language.English, nil), "p")
	want := map[string]any{"m": map[string]any{"a": int64(10), "b": int64(2), "c": int64(3)}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PluginConfig() mismatch (-want +got):\n%s", diff)
	}
}

func TestSequencesReplaced(t *testing.T) {
	p := &countingProvider{name: "p", conf: map[string]any{"p": map[string]any{"m": map[string]any{"list": []any{"x"}}}}}
	cfg := New(
		WithLogger(quietLogger()),
		WithPlugins(rootPlugin("p", map[string]any{"m": map[string]any{"list": []any{"a", "b"}, "keep": true}})),
		WithProviders(p),
	)

	got := configOf(t, cfg.PluginConfig(context.Background(), language.English, nil), "p")
	want := map[string]any{"m": map[string]any{"list": []any{"x"}, "keep": true}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PluginConfig() mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultConfigurationImmutable(t *testing.T) {
	p := &countingProvider{name: "p"}
	cfg := New(
		WithLogger(quietLogger()),
		WithPlugins(rootPlugin("base", map[string]any{"m": map[string]any{"x": 1, "y": 2}})),
		WithProviders(p),
	)

	p.setConf(map[string]any{"base": map[string]any{"m": map[string]any{"x": 5}}})
	first := configOf(t, cfg.PluginConfig(context.Background(), language.English, nil), "base")
	if diff := cmp.Diff(map[string]any{"m": map[string]any{"x": int64(5), "y": int64(2)}}, first); diff != "" {
		t.Errorf("first PluginConfig() mismatch (-want +got):\n%s", diff)
	}

	// Mutating a result must not leak into later calls.
	first["m"].(map[string]any)["y"] = int64(100)

	p.setConf(map[string]any{"base": map[string]any{"m": map[string]any{"y": 7}}})
	second := configOf(t, cfg.PluginConfig(context.Background(), language.English, nil), "base")
	if diff := cmp.Diff(map[string]any{"m": map[string]any{"x": int64(1), "y": int64(7)}}, second); diff != "" {
		t.Errorf("second PluginConfig() mismatch (-want +got):\n%s", diff)
	}

	d, err := cfg.Plugin("base")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"m": map[string]any{"x": int64(1), "y": int64(2)}}, d.Configuration()); diff != "" {
		t.Errorf("default configuration changed (-want +got):\n%s", diff)
	}
}

func TestProviderCacheCalls(t *testing.T) {
	tests := []struct {
		name       string
		useCache   bool
		cacheable  bool
		wantCalls  int32
	}{
		{"cache on, cacheable", true, true, 1},
		{"cache on, not cacheable", true, false, 2},
		{"cache off, cacheable", false, true, 2},
		{"cache off, not cacheable", false, false, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &countingProvider{name: "p", cacheable: tt.cacheable, conf: map[string]any{}}
			cfg := New(
				WithLogger(quietLogger()),
				WithCache(cache.Policy{Enabled: tt.useCache, TTL: cache.Forever}),
				WithPlugins(rootPlugin("p", nil)),
				WithProviders(p),
			)

			cfg.PluginConfig(context.Background(), language.English, nil)
			cfg.PluginConfig(context.Background(), language.English, nil)

			if got := p.calls.Load(); got != tt.wantCalls {
				t.Errorf("provider calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestProviderCachedPerLocale(t *testing.T) {
	p := &countingProvider{name: "p", cacheable: true, conf: map[string]any{}}
	cfg := New(
		WithLogger(quietLogger()),
		WithCache(cache.Policy{Enabled: true, TTL: cache.Forever}),
		WithProviders(p),
	)

	cfg.PluginConfig(context.Background(), language.Spanish, nil)
	cfg.PluginConfig(context.Background(), language.French, nil)
	cfg.PluginConfig(context.Background(), language.Spanish, nil)

	if got := p.calls.Load(); got != 2 {
		t.Errorf("provider calls = %d, want 2", got)
	}
}

func TestProvidersCachedIndependently(t *testing.T) {
	cached := &countingProvider{name: "cached", cacheable: true, conf: map[string]any{}}
	live := &countingProvider{name: "live", conf: map[string]any{}}
	cfg := New(
		WithLogger(quietLogger()),
		WithCache(cache.Policy{Enabled: true, TTL: cache.Forever}),
		WithProviders(cached, live),
	)

	for i := 0; i < 3; i++ {
		cfg.PluginConfig(context.Background(), language.English, nil)
	}

	if got := cached.calls.Load(); got != 1 {
		t.Errorf("cached provider calls = %d, want 1", got)
	}
	if got := live.calls.Load(); got != 3 {
		t.Errorf("live provider calls = %d, want 3", got)
	}
}

func TestTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSource{dir: "/conf", props: map[string]string{"title": "first"}}
	p := &countingProvider{name: "p", cacheable: true, conf: map[string]any{}}

	cfg := New(
		WithLogger(quietLogger()),
		WithSource(src),
		WithCache(cache.Policy{Enabled: true, TTL: time.Second}),
		WithClock(clock.Now),
		WithProviders(p),
	)

	cfg.PluginConfig(context.Background(), language.English, nil)
	if v, _ := cfg.Property("title"); v != "first" {
		t.Fatalf("Property(title) = %q, want first", v)
	}

	src.set("title", "second")
	clock.Advance(500 * time.Millisecond)
	cfg.PluginConfig(context.Background(), language.English, nil)
	if v, _ := cfg.Property("title"); v != "first" {
		t.Errorf("Property(title) before expiry = %q, want first", v)
	}
	if got := p.calls.Load(); got != 1 {
		t.Errorf("provider calls before expiry = %d, want 1", got)
	}
	if got := src.loads.Load(); got != 1 {
		t.Errorf("property loads before expiry = %d, want 1", got)
	}

	clock.Advance(time.Second)
	cfg.PluginConfig(context.Background(), language.English, nil)
	if v, _ := cfg.Property("title"); v != "second" {
		t.Errorf("Property(title) after expiry = %q, want second", v)
	}
	if got := p.calls.Load(); got != 2 {
		t.Errorf("provider calls after expiry = %d, want 2", got)
	}
	if got := src.loads.Load(); got != 2 {
		t.Errorf("property loads after expiry = %d, want 2", got)
	}
}

func TestCacheDisabledRereadsFolder(t *testing.T) {
	src := &fakeSource{props: map[string]string{"title": "first"}}
	cfg := New(WithLogger(quietLogger()), WithSource(src))

	if v, _ := cfg.Property("title"); v != "first" {
		t.Fatalf("Property(title) = %q, want first", v)
	}
	src.set("title", "second")
	if v, _ := cfg.Property("title"); v != "second" {
		t.Errorf("Property(title) = %q, want second", v)
	}
}

func TestUnknownPluginIgnored(t *testing.T) {
	p := &countingProvider{name: "p", conf: map[string]any{
		"ghost": map[string]any{"m": 1},
		"base":  map[string]any{"m": 2},
	}}
	cfg := New(
		WithLogger(quietLogger()),
		WithPlugins(rootPlugin("base", nil)),
		WithProviders(p),
	)

	got := cfg.PluginConfig(context.Background(), language.English, nil)
	if len(got) != 1 {
		t.Fatalf("PluginConfig() returned %d plugins, want 1", len(got))
	}
	if got[0].Name() != "base" {
		t.Errorf("PluginConfig()[0] = %s, want base", got[0].Name())
	}
}

type panicProvider struct{}

func (panicProvider) PluginConfig(context.Context, provider.RequestContext, *http.Request) (map[string]any, error) {
	panic("provider exploded")
}

func (panicProvider) CanBeCached() bool { return false }

func TestFailingProviderIsolated(t *testing.T) {
	failing := &countingProvider{name: "failing", err: errors.New("mock")}
	good := &countingProvider{name: "good", conf: map[string]any{"base": map[string]any{"m": "ok"}}}

	cfg := New(
		WithLogger(quietLogger()),
		WithPlugins(rootPlugin("base", map[string]any{"m": "default"}), rootPlugin("other", nil)),
		WithProviders(failing, panicProvider{}, good),
	)

	got := cfg.PluginConfig(context.Background(), language.English, nil)
	if len(got) != 2 {
		t.Fatalf("PluginConfig() returned %d plugins, want 2", len(got))
	}
	if v := configOf(t, got, "base")["m"]; v != "ok" {
		t.Errorf("base m = %v, want ok", v)
	}
}

func TestFailedProviderNotCached(t *testing.T) {
	p := &countingProvider{name: "p", cacheable: true, err: errors.New("temporary")}
	cfg := New(
		WithLogger(quietLogger()),
		WithCache(cache.Policy{Enabled: true, TTL: cache.Forever}),
		WithPlugins(rootPlugin("base", nil)),
		WithProviders(p),
	)

	cfg.PluginConfig(context.Background(), language.English, nil)
	p.mu.Lock()
	p.err = nil
	p.conf = map[string]any{"base": map[string]any{"m": "recovered"}}
	p.mu.Unlock()

	got := configOf(t, cfg.PluginConfig(context.Background(), language.English, nil), "base")
	if got["m"] != "recovered" {
		t.Errorf("m = %v, want recovered", got["m"])
	}
	if calls := p.calls.Load(); calls != 2 {
		t.Errorf("provider calls = %d, want 2", calls)
	}
}

func TestDisabledPluginsExcluded(t *testing.T) {
	off := rootPlugin("off", nil)
	off.SetEnabled(false)
	cfg := New(WithLogger(quietLogger()), WithPlugins(rootPlugin("on", nil), off))

	got := cfg.PluginConfig(context.Background(), language.English, nil)
	if len(got) != 1 || got[0].Name() != "on" {
		t.Errorf("PluginConfig() = %v, want only on", got)
	}
	if n := len(cfg.Plugins()); n != 2 {
		t.Errorf("len(Plugins()) = %d, want 2", n)
	}
}

func TestQualifiedPluginOverrides(t *testing.T) {
	d := plugin.NewDescriptor("plugin1", false)
	d.AddModule("m2")
	d.SetDefaultConfiguration(map[string]any{"m2": map[string]any{"a": 0, "b": 0}})

	p := &countingProvider{name: "p", conf: map[string]any{
		"plugin1": map[string]any{
			"m2":         map[string]any{"a": 1},
			"plugin1/m3": map[string]any{"c": 2},
		},
	}}
	cfg := New(WithLogger(quietLogger()), WithPlugins(d), WithProviders(p))

	got := cfg.PluginConfig(context.Background(), language.English, nil)
	want := map[string]any{
		"plugin1/m2": map[string]any{"a": int64(1), "b": int64(0)},
		"plugin1/m3": map[string]any{"c": int64(2)},
	}
	if diff := cmp.Diff(want, configOf(t, got, "plugin1")); diff != "" {
		t.Errorf("PluginConfig() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"plugin1/m2"}, got[0].Modules()); diff != "" {
		t.Errorf("Modules() mismatch (-want +got):\n%s", diff)
	}
}

func TestSetPluginsInvalidatesProviders(t *testing.T) {
	p := &countingProvider{name: "p", cacheable: true, conf: map[string]any{}}
	cfg := New(
		WithLogger(quietLogger()),
		WithCache(cache.Policy{Enabled: true, TTL: cache.Forever}),
		WithPlugins(rootPlugin("p1", nil)),
		WithProviders(p),
	)

	got := cfg.PluginConfig(context.Background(), language.English, nil)
	if len(got) != 1 {
		t.Fatalf("PluginConfig() returned %d plugins, want 1", len(got))
	}

	p2 := plugin.NewDescriptor("p2", false)
	p2.AddModule("m2")
	cfg.SetPlugins([]*plugin.Descriptor{rootPlugin("p1", nil), p2})

	got = cfg.PluginConfig(context.Background(), language.English, nil)
	if len(got) != 2 {
		t.Fatalf("PluginConfig() after SetPlugins returned %d plugins, want 2", len(got))
	}
	if diff := cmp.Diff([]string{"p2/m2"}, got[1].Modules()); diff != "" {
		t.Errorf("p2 Modules() mismatch (-want +got):\n%s", diff)
	}
	if calls := p.calls.Load(); calls != 2 {
		t.Errorf("provider calls = %d, want 2", calls)
	}
}

func TestInvalidate(t *testing.T) {
	src := &fakeSource{props: map[string]string{}}
	p := &countingProvider{name: "p", cacheable: true, conf: map[string]any{}}
	cfg := New(
		WithLogger(quietLogger()),
		WithSource(src),
		WithCache(cache.Policy{Enabled: true, TTL: cache.Forever}),
		WithProviders(p),
	)

	cfg.PluginConfig(context.Background(), language.English, nil)
	cfg.PluginConfig(context.Background(), language.English, nil)
	cfg.Invalidate()
	cfg.PluginConfig(context.Background(), language.English, nil)

	if got := src.loads.Load(); got != 2 {
		t.Errorf("property loads = %d, want 2", got)
	}
	if got := p.calls.Load(); got != 2 {
		t.Errorf("provider calls = %d, want 2", got)
	}
}

type fakePluginSource struct {
	mu    sync.Mutex
	ds    []*plugin.Descriptor
	err   error
	calls atomic.Int32
}

func (s *fakePluginSource) Plugins() ([]*plugin.Descriptor, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ds, s.err
}

func (s *fakePluginSource) set(ds []*plugin.Descriptor, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ds, s.err = ds, err
}

func TestPluginSourceReload(t *testing.T) {
	clock := newFakeClock()
	ps := &fakePluginSource{ds: []*plugin.Descriptor{rootPlugin("a", nil)}}
	cfg := New(
		WithLogger(quietLogger()),
		WithPluginSource(ps),
		WithCache(cache.Policy{Enabled: true, TTL: time.Minute}),
		WithClock(clock.Now),
	)

	if got := len(cfg.PluginConfig(context.Background(), language.English, nil)); got != 1 {
		t.Fatalf("PluginConfig() returned %d plugins, want 1", got)
	}

	ps.mu.Lock()
	ps.ds = []*plugin.Descriptor{rootPlugin("a", nil), rootPlugin("b", nil)}
	ps.mu.Unlock()

	if got := len(cfg.PluginConfig(context.Background(), language.English, nil)); got != 1 {
		t.Errorf("PluginConfig() before expiry returned %d plugins, want 1", got)
	}

	clock.Advance(2 * time.Minute)
	if got := len(cfg.PluginConfig(context.Background(), language.English, nil)); got != 2 {
		t.Errorf("PluginConfig() after expiry returned %d plugins, want 2", got)
	}
	if got := ps.calls.Load(); got != 2 {
		t.Errorf("plugin source calls = %d, want 2", got)
	}
}

func TestScannerAsPluginSource(t *testing.T) {
	dir := t.TempDir()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(os.MkdirAll(filepath.Join(dir, "viewer", "modules"), 0755))
	must(os.WriteFile(filepath.Join(dir, "viewer", "modules", "map.js"), nil, 0644))
	must(os.WriteFile(filepath.Join(dir, "viewer", "plugin.json"), []byte(`{"default-conf": {"map": {"zoom": 3}}}`), 0644))

	scanner := plugin.NewScanner([]string{dir}, plugin.WithScanLogger(quietLogger()))
	cfg := New(WithLogger(quietLogger()), WithPluginSource(scanner))

	got := cfg.PluginConfig(context.Background(), language.English, nil)
	if len(got) != 1 {
		t.Fatalf("PluginConfig() returned %d plugins, want 1", len(got))
	}
	if diff := cmp.Diff(map[string]any{"map": map[string]any{"zoom": int64(3)}}, got[0].Configuration()); diff != "" {
		t.Errorf("Configuration() mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestContextPassedToProviders(t *testing.T) {
	type ctxKey struct{}
	src := &fakeSource{
		dir:      "/conf",
		props:    map[string]string{},
		messages: map[string]folder.Messages{"es": {"title": "Título"}},
	}

	var seen struct {
		ctxValue any
		locale   language.Tag
		title    string
		dir      string
		cache    bool
		query    string
	}
	p := &provider.Func{
		ProviderName: "probe",
		Fn: func(ctx context.Context, rc provider.RequestContext, r *http.Request) (map[string]any, error) {
			seen.ctxValue = ctx.Value(ctxKey{})
			seen.locale = rc.Locale()
			seen.title = rc.Localize("${title}")
			seen.dir = rc.ConfigDir()
			seen.cache = rc.UsingCache()
			seen.query = r.URL.Query().Get("q")
			return nil, nil
		},
	}

	cfg := New(
		WithLogger(quietLogger()),
		WithSource(src),
		WithCache(cache.Policy{Enabled: true, TTL: time.Minute}),
		WithProviders(p),
	)

	ctx := context.WithValue(context.Background(), ctxKey{}, "v")
	r := httptest.NewRequest(http.MethodGet, "/config.js?q=1", nil)
	cfg.PluginConfig(ctx, language.Spanish, r)

	if seen.ctxValue != "v" {
		t.Errorf("context value = %v, want v", seen.ctxValue)
	}
	if seen.locale != language.Spanish {
		t.Errorf("Locale() = %v, want es", seen.locale)
	}
	if seen.title != "Título" {
		t.Errorf("Localize() = %q, want Título", seen.title)
	}
	if seen.dir != "/conf" || !seen.cache || seen.query != "1" {
		t.Errorf("ConfigDir() = %q, UsingCache() = %v, query = %q", seen.dir, seen.cache, seen.query)
	}
}

func TestNoSource(t *testing.T) {
	cfg := New(WithLogger(quietLogger()))

	if cfg.Dir() != "" {
		t.Errorf("Dir() = %q, want empty", cfg.Dir())
	}
	if got := cfg.PluginConfig(context.Background(), language.English, nil); got == nil {
		t.Error("PluginConfig() = nil, want empty slice")
	}
	if got := cfg.Properties(); got == nil || len(got) != 0 {
		t.Errorf("Properties() = %#v, want empty map", got)
	}
	if got := cfg.Messages(language.English); got == nil {
		t.Error("Messages() = nil, want empty bundle")
	}
	if got := cfg.DefaultLang(); got != "" {
		t.Errorf("DefaultLang() = %q, want empty", got)
	}
	if got := cfg.Languages(); got != nil {
		t.Errorf("Languages() = %v, want nil", got)
	}
}

func TestMissingFolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "doesnotexist")
	cfg := New(WithLogger(quietLogger()), WithSource(folder.New(dir, folder.WithLogger(quietLogger()))))

	if cfg.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", cfg.Dir(), dir)
	}
	if got := cfg.Properties(); got == nil {
		t.Error("Properties() = nil, want empty map")
	}
	if got := cfg.Messages(language.English); got == nil {
		t.Error("Messages() = nil, want empty bundle")
	}
	if got := cfg.PluginConfig(context.Background(), language.English, nil); got == nil {
		t.Error("PluginConfig() = nil, want empty slice")
	}
}

func TestLanguagesFromProperties(t *testing.T) {
	src := &fakeSource{props: map[string]string{
		PropertyLanguages:   `{"fr": "Français", "es": "Español", "en": "English"}`,
		PropertyDefaultLang: "es",
	}}
	cfg := New(WithLogger(quietLogger()), WithSource(src))

	want := []Language{{"fr", "Français"}, {"es", "Español"}, {"en", "English"}}
	if diff := cmp.Diff(want, cfg.Languages()); diff != "" {
		t.Errorf("Languages() mismatch (-want +got):\n%s", diff)
	}
	if got := cfg.DefaultLang(); got != "es" {
		t.Errorf("DefaultLang() = %q, want es", got)
	}

	src.set(PropertyLanguages, `not a map`)
	if got := cfg.Languages(); got != nil {
		t.Errorf("Languages() with malformed value = %v, want nil", got)
	}
	if got := cfg.DefaultLang(); got != "es" {
		t.Errorf("DefaultLang() with malformed languages = %q, want es", got)
	}
}

func TestPropertyAsArray(t *testing.T) {
	src := &fakeSource{props: map[string]string{
		PropertyMapCenter:     "-84, 12.5",
		PropertyClientModules: "layers,  legend ,",
	}}
	cfg := New(WithLogger(quietLogger()), WithSource(src))

	if diff := cmp.Diff([]string{"-84", "12.5"}, cfg.PropertyAsArray(PropertyMapCenter)); diff != "" {
		t.Errorf("PropertyAsArray(center) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"layers", "legend", ""}, cfg.PropertyAsArray(PropertyClientModules)); diff != "" {
		t.Errorf("PropertyAsArray(modules) mismatch (-want +got):\n%s", diff)
	}
	if got := cfg.PropertyAsArray("missing"); got != nil {
		t.Errorf("PropertyAsArray(missing) = %v, want nil", got)
	}
}

func TestPropertiesReturnsCopy(t *testing.T) {
	src := &fakeSource{props: map[string]string{"a": "1"}}
	cfg := New(WithLogger(quietLogger()), WithSource(src), WithCache(cache.Policy{Enabled: true, TTL: cache.Forever}))

	props := cfg.Properties()
	props["a"] = "changed"
	if v, _ := cfg.Property("a"); v != "1" {
		t.Errorf("Property(a) = %q, want 1", v)
	}
}

func TestPluginNotFound(t *testing.T) {
	cfg := New(WithLogger(quietLogger()))
	if _, err := cfg.Plugin("missing"); !errors.Is(err, plugin.ErrPluginNotFound) {
		t.Errorf("Plugin() error = %v, want %v", err, plugin.ErrPluginNotFound)
	}
}

func TestAddProviderOrder(t *testing.T) {
	cfg := New(WithLogger(quietLogger()), WithPlugins(rootPlugin("p", nil)))
	cfg.AddProvider(&countingProvider{name: "first", conf: map[string]any{"p": map[string]any{"m": "first"}}})
	cfg.AddProvider(nil)
	cfg.AddProvider(&countingProvider{name: "second", conf: map[string]any{"p": map[string]any{"m": "second"}}})

	if diff := cmp.Diff([]string{"first", "second"}, cfg.Providers()); diff != "" {
		t.Errorf("Providers() mismatch (-want +got):\n%s", diff)
	}
	got := configOf(t, cfg.PluginConfig(context.Background(), language.English, nil), "p")
	if got["m"] != "second" {
		t.Errorf("m = %v, want second", got["m"])
	}
}

func TestSubscribe(t *testing.T) {
	cfg := New(WithLogger(quietLogger()))

	var mu sync.Mutex
	var changes []notify.ChangeType
	cfg.Subscribe(func(c notify.Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c.Type)
	})

	cfg.SetPlugins([]*plugin.Descriptor{rootPlugin("a", nil)})
	cfg.Invalidate()

	mu.Lock()
	defer mu.Unlock()
	want := []notify.ChangeType{notify.ChangePlugins, notify.ChangeInvalidate}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Errorf("changes mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentPluginConfig(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	p := &provider.Func{
		ProviderName: "slow",
		Cacheable:    true,
		Fn: func(context.Context, provider.RequestContext, *http.Request) (map[string]any, error) {
			calls.Add(1)
			<-release
			return map[string]any{"p": map[string]any{"m": map[string]any{"v": 1}}}, nil
		},
	}
	cfg := New(
		WithLogger(quietLogger()),
		WithCache(cache.Policy{Enabled: true, TTL: cache.Forever}),
		WithPlugins(rootPlugin("p", map[string]any{"m": map[string]any{"d": 0}})),
		WithProviders(p),
	)

	const workers = 16
	var wg sync.WaitGroup
	results := make([][]*plugin.Descriptor, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cfg.PluginConfig(context.Background(), language.English, nil)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("provider calls = %d, want 1", got)
	}
	want := map[string]any{"m": map[string]any{"d": int64(0), "v": int64(1)}}
	for i, ds := range results {
		if diff := cmp.Diff(want, configOf(t, ds, "p")); diff != "" {
			t.Errorf("worker %d mismatch (-want +got):\n%s", i, diff)
		}
	}

	// Results are private copies.
	first := configOf(t, results[0], "p")
	first["m"].(map[string]any)["v"] = int64(99)
	again := configOf(t, cfg.PluginConfig(context.Background(), language.English, nil), "p")
	if diff := cmp.Diff(want, again); diff != "" {
		t.Errorf("result after mutation mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentSetPlugins(t *testing.T) {
	cfg := New(WithLogger(quietLogger()), WithCache(cache.Policy{Enabled: true, TTL: cache.Forever}))
	sets := [][]*plugin.Descriptor{
		{rootPlugin("a", nil), rootPlugin("b", nil)},
		{rootPlugin("c", nil), rootPlugin("d", nil), rootPlugin("e", nil)},
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			cfg.SetPlugins(sets[i%2])
		}(i)
		go func() {
			defer wg.Done()
			n := len(cfg.PluginConfig(context.Background(), language.English, nil))
			if n != 0 && n != 2 && n != 3 {
				t.Errorf("observed %d plugins, want 0, 2 or 3", n)
			}
		}()
	}
	wg.Wait()
}

func TestNormalizeLocale(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"es", "es"},
		{"es-AR", "es-AR"},
		{"en-x-a1", "en"},
		{"en-US-u-nu-latn", "en-US"},
		{"sr-Latn-RS", "sr-RS"},
		{"und", "und"},
		{"und-US", "und"},
	}

	for _, tt := range tests {
		got := NormalizeLocale(language.MustParse(tt.in))
		if got.String() != tt.want {
			t.Errorf("NormalizeLocale(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLocaleCacheBounded(t *testing.T) {
	src := &fakeSource{dir: "/conf", props: map[string]string{}}
	cached := &countingProvider{name: "cached", cacheable: true, conf: map[string]any{}}
	cfg := New(
		WithLogger(quietLogger()),
		WithSource(src),
		WithCache(cache.Policy{Enabled: true, TTL: cache.Forever}),
		WithProviders(cached),
	)

	for i := 0; i < 5000; i++ {
		tag := language.MustParse(fmt.Sprintf("en-x-a%d", i))
		cfg.PluginConfig(context.Background(), tag, nil)
		cfg.Messages(tag)
	}

	if got := cached.calls.Load(); got != 1 {
		t.Errorf("provider calls = %d, want 1", got)
	}
	rp := (*cfg.providers.Load())[0]
	if got := rp.results.Len(); got != 1 {
		t.Errorf("provider cells = %d, want 1", got)
	}
	if got := len(cfg.current().messages); got != 1 {
		t.Errorf("message bundles = %d, want 1", got)
	}

	// Distinct regions are real locales but still bounded.
	regions := []string{}
	for r := 'A'; r <= 'Z'; r++ {
		for s := 'A'; s <= 'Z'; s++ {
			regions = append(regions, string(r)+string(s))
		}
	}
	for _, region := range regions {
		tag, err := language.Parse("en-" + region)
		if err != nil {
			continue
		}
		cfg.PluginConfig(context.Background(), tag, nil)
		cfg.Messages(tag)
	}
	if got := rp.results.Len(); got > maxCachedLocales {
		t.Errorf("provider cells = %d, want at most %d", got, maxCachedLocales)
	}
	if got := len(cfg.current().messages); got > maxCachedLocales {
		t.Errorf("message bundles = %d, want at most %d", got, maxCachedLocales)
	}
}

func TestPluginSourceFailureKeepsPlugins(t *testing.T) {
	ps := &fakePluginSource{ds: []*plugin.Descriptor{rootPlugin("a", nil)}}
	cfg := New(
		WithLogger(quietLogger()),
		WithPluginSource(ps),
		WithCache(cache.Policy{Enabled: true, TTL: cache.Forever}),
	)
	if got := len(cfg.PluginConfig(context.Background(), language.English, nil)); got != 1 {
		t.Fatalf("PluginConfig() returned %d plugins, want 1", got)
	}

	ps.set(nil, errors.New("plugins dir unreadable"))
	cfg.Invalidate()
	if got := len(cfg.PluginConfig(context.Background(), language.English, nil)); got != 1 {
		t.Errorf("PluginConfig() after failed reload returned %d plugins, want 1", got)
	}

	ps.set([]*plugin.Descriptor{rootPlugin("b", nil)}, errors.New("one root unreadable"))
	cfg.Invalidate()
	ds := cfg.PluginConfig(context.Background(), language.English, nil)
	if len(ds) != 1 || ds[0].Name() != "b" {
		t.Errorf("PluginConfig() after partial reload = %v, want only b", ds)
	}
}
