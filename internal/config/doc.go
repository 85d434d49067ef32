// Package config assembles the configuration served to the portal client.
//
// A Config combines three inputs:
//
//   - a Source (usually a folder.Folder) with the portal properties and
//     message bundles;
//   - the registered plugins, set directly with SetPlugins or loaded from
//     a PluginSource such as plugin.Scanner;
//   - an ordered list of override providers.
//
// PluginConfig returns every enabled plugin with its default configuration
// deep-merged with the fragments of each provider, in registration order:
//
//	cfg := config.New(
//		config.WithSource(folder.New(dir)),
//		config.WithPluginSource(plugin.NewScanner([]string{pluginsDir})),
//		config.WithCache(cache.Policy{Enabled: true, TTL: time.Minute}),
//	)
//	cfg.AddProvider(provider.NewFile())
//
//	for _, d := range cfg.PluginConfig(ctx, language.Spanish, req) {
//		fmt.Println(d.Name(), d.Configuration())
//	}
//
// # Caching
//
// Folder-backed state (properties, languages, message bundles and, with a
// PluginSource, the plugin set) lives in one cache cell governed by the
// cache policy. Cacheable providers get one cell per locale under the same
// policy. With caching disabled every call re-reads the folder and calls
// every provider; this is what makes configuration changes visible
// immediately during development.
//
// # Failures
//
// Nothing in PluginConfig fails the request: a missing folder yields empty
// properties, a failing provider contributes nothing, and fragments for
// unknown plugins are ignored. Every such case is logged.
package config
