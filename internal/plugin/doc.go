// Package plugin models the portal plugins that contribute client modules,
// stylesheets and a default configuration to the served document.
//
// # Descriptors
//
// A Descriptor is the in-memory form of one plugin:
//
//	d := plugin.NewDescriptor("viewer", false)
//	d.AddModule("lib/map")           // stored as "viewer/lib/map"
//	d.AddStylesheet("styles/map.css") // stored as "viewer/styles/map.css"
//	d.SetDefaultConfiguration(map[string]any{"lib/map": map[string]any{"zoom": 3}})
//
// Plugins installed in the root namespace (installInRoot, the default for
// parsed descriptors) keep their paths unqualified. Qualification is
// idempotent: a path that already carries the plugin prefix is stored as
// given. The top-level keys of the default configuration are module
// identifiers and follow the same rule.
//
// Configuration always returns a deep copy, so callers may merge into the
// result without affecting the stored template.
//
// # Descriptor files
//
// Plugin directories carry an optional descriptor file, searched in this
// order:
//
//	<name>-conf.json
//	plugin.json
//	plugin.yaml / plugin.yml
//	plugin.toml
//
// with the fields:
//
//	{
//	  "enabled": true,
//	  "installInRoot": true,
//	  "default-conf": { "module": { ... } },
//	  "modules": ["extra"],
//	  "stylesheets": ["styles/extra.css"],
//	  "requirejs": { "paths": { ... }, "shim": { ... } }
//	}
//
// JSON descriptors may contain comments and trailing commas.
//
// # Registry
//
// A Registry holds the current descriptor set as an immutable snapshot
// that is swapped atomically on Replace. Readers never observe a
// half-updated set.
//
// # Scanning
//
// A Scanner builds descriptors from plugin directories on disk: each
// sub-directory is a plugin, modules are discovered under modules/ and
// stylesheets under styles/.
package plugin
