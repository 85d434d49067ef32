package plugin

import (
	"errors"
	"fmt"
	"os"

	"github.com/dshills/geoladris/internal/config/loader"
	"github.com/dshills/geoladris/internal/config/tree"
)

// Descriptor file fields.
const (
	fieldEnabled       = "enabled"
	fieldInstallInRoot = "installInRoot"
	fieldDefaultConf   = "default-conf"
	fieldModules       = "modules"
	fieldStylesheets   = "stylesheets"
	fieldRequireJS     = "requirejs"
	fieldPaths         = "paths"
	fieldShim          = "shim"
)

// DescriptorFiles returns the descriptor file names searched for a plugin,
// in priority order.
func DescriptorFiles(name string) []string {
	return []string{
		name + "-conf.json",
		"plugin.json",
		"plugin.yaml",
		"plugin.yml",
		"plugin.toml",
	}
}

// LoadDescriptor reads and parses the descriptor file at path.
func LoadDescriptor(name, path string) (*Descriptor, error) {
	format, ok := loader.FormatFromPath(path)
	if !ok {
		return nil, &DescriptorError{Plugin: name, Path: path, Err: loader.ErrUnsupportedFormat}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DescriptorError{Plugin: name, Path: path, Err: err}
	}

	d, err := ParseDescriptor(name, data, format)
	if err != nil {
		var derr *DescriptorError
		if errors.As(err, &derr) {
			derr.Path = path
			return nil, derr
		}
		return nil, &DescriptorError{Plugin: name, Path: path, Err: err}
	}
	return d, nil
}

// ParseDescriptor decodes a descriptor file. Missing fields take their
// defaults: enabled and installed in root.
func ParseDescriptor(name string, data []byte, format loader.Format) (*Descriptor, error) {
	raw, err := loader.Parse(format, name, data)
	if err != nil {
		return nil, &DescriptorError{Plugin: name, Err: err}
	}

	enabled, err := boolField(raw, fieldEnabled, true)
	if err != nil {
		return nil, &DescriptorError{Plugin: name, Err: err}
	}
	installInRoot, err := boolField(raw, fieldInstallInRoot, true)
	if err != nil {
		return nil, &DescriptorError{Plugin: name, Err: err}
	}

	d := NewDescriptor(name, installInRoot)
	d.SetEnabled(enabled)
	if err := d.Validate(); err != nil {
		return nil, &DescriptorError{Plugin: name, Err: err}
	}

	if err := decodeInto(d, raw); err != nil {
		return nil, &DescriptorError{Plugin: name, Err: err}
	}
	return d, nil
}

// decodeInto applies the optional descriptor sections to d.
func decodeInto(d *Descriptor, raw map[string]any) error {
	if v, ok := raw[fieldDefaultConf]; ok && v != nil {
		conf, ok := tree.AsMap(v)
		if !ok {
			return fmt.Errorf("%w: %s must be a mapping, got %T", ErrInvalidDescriptor, fieldDefaultConf, v)
		}
		d.SetDefaultConfiguration(conf)
	}

	modules, err := stringList(raw, fieldModules)
	if err != nil {
		return err
	}
	for _, m := range modules {
		d.AddModule(m)
	}

	styles, err := stringList(raw, fieldStylesheets)
	if err != nil {
		return err
	}
	for _, s := range styles {
		d.AddStylesheet(s)
	}

	v, ok := raw[fieldRequireJS]
	if !ok || v == nil {
		return nil
	}
	requireJS, ok := tree.AsMap(v)
	if !ok {
		return fmt.Errorf("%w: %s must be a mapping, got %T", ErrInvalidDescriptor, fieldRequireJS, v)
	}

	if v, ok := requireJS[fieldPaths]; ok && v != nil {
		pm, ok := tree.AsMap(v)
		if !ok {
			return fmt.Errorf("%w: %s.%s must be a mapping, got %T", ErrInvalidDescriptor, fieldRequireJS, fieldPaths, v)
		}
		paths := make(map[string]string, len(pm))
		for k, p := range pm {
			paths[k] = fmt.Sprint(p)
		}
		d.SetRequirePaths(paths)
	}

	if v, ok := requireJS[fieldShim]; ok && v != nil {
		shim, ok := tree.AsMap(v)
		if !ok {
			return fmt.Errorf("%w: %s.%s must be a mapping, got %T", ErrInvalidDescriptor, fieldRequireJS, fieldShim, v)
		}
		d.SetRequireShim(shim)
	}

	return nil
}

func boolField(raw map[string]any, key string, def bool) (bool, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean, got %T", ErrInvalidDescriptor, key, v)
	}
	return b, nil
}

func stringList(raw map[string]any, key string) ([]string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list, got %T", ErrInvalidDescriptor, key, v)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] must be a string, got %T", ErrInvalidDescriptor, key, i, item)
		}
		out = append(out, s)
	}
	return out, nil
}
