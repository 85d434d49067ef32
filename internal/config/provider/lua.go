package provider

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/geoladris/internal/config/tree"
	"github.com/dshills/geoladris/internal/lua"
)

// LuaEntryPoint is the global function a configuration script defines.
const LuaEntryPoint = "plugin_config"

// DefaultLuaTimeout bounds a single script run.
const DefaultLuaTimeout = 5 * time.Second

// Lua runs a configuration script that defines
//
//	function plugin_config(ctx)
//	  return { viewer = { ["viewer/map"] = { zoom = 3 } } }
//	end
//
// ctx carries locale, using_cache and config_dir fields and the
// functions localize(template) and param(name), the latter returning the
// request's query parameter.
//
// Each call runs in a fresh sandboxed state, so a Lua provider is safe for
// concurrent use.
type Lua struct {
	path      string
	source    string
	cacheable bool
	timeout   time.Duration
	logger    *slog.Logger
}

// LuaOption configures a Lua provider.
type LuaOption func(*Lua)

// WithLuaCacheable sets the value reported by CanBeCached.
func WithLuaCacheable(cacheable bool) LuaOption {
	return func(l *Lua) {
		l.cacheable = cacheable
	}
}

// WithLuaTimeout bounds each script run. Zero or negative disables the
// bound; the request context still applies.
func WithLuaTimeout(d time.Duration) LuaOption {
	return func(l *Lua) {
		l.timeout = d
	}
}

// WithLuaSource runs code instead of reading the script file.
func WithLuaSource(code string) LuaOption {
	return func(l *Lua) {
		l.source = code
	}
}

// WithLuaLogger sets the logger.
func WithLuaLogger(logger *slog.Logger) LuaOption {
	return func(l *Lua) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLua creates a provider running the script at path. The script is
// read on every call.
func NewLua(path string, opts ...LuaOption) *Lua {
	l := &Lua{
		path:    path,
		timeout: DefaultLuaTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "provider", "provider", l.Name())
	return l
}

// Name returns the provider name.
func (l *Lua) Name() string {
	if l.path == "" {
		return "lua"
	}
	return "lua:" + l.path
}

// CanBeCached reports the configured cacheability, false by default.
func (l *Lua) CanBeCached() bool {
	return l.cacheable
}

// PluginConfig runs the script's plugin_config function.
func (l *Lua) PluginConfig(ctx context.Context, rc RequestContext, r *http.Request) (map[string]any, error) {
	code, ok, err := l.script()
	if err != nil || !ok {
		return map[string]any{}, err
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	state := lua.NewState()
	defer state.Close()
	bridge := lua.NewBridge(state.L)

	if err := state.DoString(ctx, code); err != nil {
		return nil, fmt.Errorf("loading script: %w", err)
	}

	results, err := state.Call(ctx, LuaEntryPoint, l.contextTable(state.L, bridge, rc, r))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || results[0] == glua.LNil {
		return map[string]any{}, nil
	}

	conf, ok := tree.AsMap(bridge.ToGoValue(results[0]))
	if !ok {
		return nil, fmt.Errorf("%s must return a table keyed by plugin name, got %s", LuaEntryPoint, results[0].Type())
	}
	for name, fragment := range conf {
		if _, ok := tree.AsMap(fragment); !ok {
			return nil, fmt.Errorf("configuration for plugin %q must be a table, got %T", name, fragment)
		}
	}
	return conf, nil
}

func (l *Lua) script() (string, bool, error) {
	if l.source != "" {
		return l.source, true, nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Debug("script not found")
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading script: %w", err)
	}
	return string(data), true, nil
}

func (l *Lua) contextTable(L *glua.LState, bridge *lua.Bridge, rc RequestContext, r *http.Request) *glua.LTable {
	t := L.NewTable()
	t.RawSetString("locale", glua.LString(rc.Locale().String()))
	t.RawSetString("using_cache", glua.LBool(rc.UsingCache()))
	t.RawSetString("config_dir", glua.LString(rc.ConfigDir()))

	t.RawSetString("localize", L.NewFunction(func(L *glua.LState) int {
		L.Push(glua.LString(rc.Localize(L.CheckString(1))))
		return 1
	}))

	t.RawSetString("param", L.NewFunction(bridge.WrapGoFunc(func(args []any) (any, error) {
		if len(args) == 0 {
			return nil, errors.New("param: name expected")
		}
		name, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("param: name must be a string, got %T", args[0])
		}
		if r == nil || r.URL == nil {
			return nil, nil
		}
		values, ok := r.URL.Query()[name]
		if !ok || len(values) == 0 {
			return nil, nil
		}
		return values[0], nil
	})))

	return t
}
