package config

import "golang.org/x/text/language"

// maxCachedLocales bounds the number of locales with cached provider
// results and message bundles. Further locales are served uncached.
const maxCachedLocales = 128

// NormalizeLocale reduces tag to its language and region, the parts
// message bundles are selected by. Scripts, variants, extensions and
// private-use subtags are dropped. Tags without an explicit language
// yield und.
func NormalizeLocale(tag language.Tag) language.Tag {
	if tag == language.Und {
		return language.Und
	}
	base, conf := tag.Base()
	if conf != language.Exact {
		return language.Und
	}
	code := base.String()
	if region, conf := tag.Region(); conf == language.Exact {
		code += "-" + region.String()
	}
	return language.Make(code)
}
