package plugin

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/dshills/geoladris/internal/config/tree"
)

// namePattern validates plugin names. Names become path prefixes, so
// separators and whitespace are rejected.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// Descriptor describes one plugin: its identity, flags, client modules,
// stylesheets, RequireJS settings and default configuration.
//
// A Descriptor is not safe for concurrent mutation. Once handed to a
// Registry it is copied and the registered copy is never modified.
type Descriptor struct {
	name          string
	enabled       bool
	installInRoot bool

	modules      map[string]struct{}
	stylesheets  []string
	requirePaths map[string]string
	requireShim  map[string]any

	// config is the default configuration, or the merged configuration
	// for descriptors produced by WithConfiguration.
	config map[string]any
}

// NewDescriptor creates an enabled descriptor with no modules,
// stylesheets or configuration.
func NewDescriptor(name string, installInRoot bool) *Descriptor {
	return &Descriptor{
		name:          name,
		enabled:       true,
		installInRoot: installInRoot,
		modules:       make(map[string]struct{}),
		config:        make(map[string]any),
	}
}

// Validate checks that the descriptor can be registered.
func (d *Descriptor) Validate() error {
	if d == nil {
		return ErrNilDescriptor
	}
	if d.name == "" {
		return ErrMissingName
	}
	if !namePattern.MatchString(d.name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, d.name)
	}
	return nil
}

// Name returns the plugin name.
func (d *Descriptor) Name() string {
	return d.name
}

// Enabled reports whether the plugin takes part in aggregation.
func (d *Descriptor) Enabled() bool {
	return d.enabled
}

// SetEnabled enables or disables the plugin.
func (d *Descriptor) SetEnabled(enabled bool) {
	d.enabled = enabled
}

// InstallInRoot reports whether the plugin's paths are stored unqualified.
func (d *Descriptor) InstallInRoot() bool {
	return d.installInRoot
}

// Qualify returns path as it is stored for this plugin: prefixed with
// the plugin name unless the plugin installs in root or path already
// carries the prefix.
func (d *Descriptor) Qualify(path string) string {
	if d.installInRoot {
		return path
	}
	prefix := d.name + "/"
	if strings.HasPrefix(path, prefix) {
		return path
	}
	return prefix + path
}

// QualifyKeys returns a shallow copy of m with its top-level keys
// qualified. Values are shared with m.
func (d *Descriptor) QualifyKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		qk := d.Qualify(k)
		if existing, ok := out[qk]; ok {
			// Both "m" and "<name>/m" were given; merge them so neither
			// silently disappears. Map iteration order makes the winner of
			// a scalar conflict unspecified.
			v = tree.Merge(existing, v)
		}
		out[qk] = v
	}
	return out
}

// AddModule adds a module identifier.
func (d *Descriptor) AddModule(path string) {
	d.modules[d.Qualify(path)] = struct{}{}
}

// Modules returns the qualified module identifiers, sorted.
func (d *Descriptor) Modules() []string {
	return slices.Sorted(maps.Keys(d.modules))
}

// AddStylesheet appends a stylesheet path. Duplicates are ignored.
func (d *Descriptor) AddStylesheet(path string) {
	q := d.Qualify(path)
	if slices.Contains(d.stylesheets, q) {
		return
	}
	d.stylesheets = append(d.stylesheets, q)
}

// Stylesheets returns the qualified stylesheet paths in insertion order.
func (d *Descriptor) Stylesheets() []string {
	return slices.Clone(d.stylesheets)
}

// SetRequirePaths sets the RequireJS "paths" section.
func (d *Descriptor) SetRequirePaths(paths map[string]string) {
	d.requirePaths = maps.Clone(paths)
}

// RequirePaths returns a copy of the RequireJS "paths" section.
func (d *Descriptor) RequirePaths() map[string]string {
	if d.requirePaths == nil {
		return map[string]string{}
	}
	return maps.Clone(d.requirePaths)
}

// SetRequireShim sets the RequireJS "shim" section.
func (d *Descriptor) SetRequireShim(shim map[string]any) {
	d.requireShim = tree.CloneMap(shim)
}

// RequireShim returns a deep copy of the RequireJS "shim" section.
func (d *Descriptor) RequireShim() map[string]any {
	if d.requireShim == nil {
		return map[string]any{}
	}
	return tree.CloneMap(d.requireShim)
}

// SetDefaultConfiguration replaces the default configuration. The value is
// normalized and deep-copied, and its top-level keys are qualified.
func (d *Descriptor) SetDefaultConfiguration(conf map[string]any) {
	d.config = d.QualifyKeys(tree.NormalizeMap(conf))
}

// Configuration returns a deep copy of the configuration.
func (d *Descriptor) Configuration() map[string]any {
	if d.config == nil {
		return map[string]any{}
	}
	return tree.CloneMap(d.config)
}

// WithConfiguration returns a copy of d carrying conf as its
// configuration. conf is owned by the returned descriptor and must not be
// modified by the caller afterwards.
func (d *Descriptor) WithConfiguration(conf map[string]any) *Descriptor {
	c := d.shallowClone()
	if conf == nil {
		conf = make(map[string]any)
	}
	c.config = conf
	return c
}

// Clone returns a deep copy of d.
func (d *Descriptor) Clone() *Descriptor {
	c := d.shallowClone()
	c.config = tree.CloneMap(d.config)
	return c
}

// shallowClone copies everything except the configuration tree.
func (d *Descriptor) shallowClone() *Descriptor {
	c := *d
	c.modules = maps.Clone(d.modules)
	if c.modules == nil {
		c.modules = make(map[string]struct{})
	}
	c.stylesheets = slices.Clone(d.stylesheets)
	c.requirePaths = maps.Clone(d.requirePaths)
	c.requireShim = tree.CloneMap(d.requireShim)
	return &c
}

// String returns a short human-readable description.
func (d *Descriptor) String() string {
	state := "enabled"
	if !d.enabled {
		state = "disabled"
	}
	return fmt.Sprintf("%s (%s, %d modules)", d.name, state, len(d.modules))
}
