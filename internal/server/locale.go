package server

import (
	"net/http"
	"strings"

	"golang.org/x/text/language"

	"github.com/dshills/geoladris/internal/config"
)

// LangParam is the query parameter selecting the locale.
const LangParam = "lang"

// ResolveLocale picks the request locale: the lang parameter, then
// Accept-Language, then defaultLang, then und. With configured languages
// a candidate is accepted only if it matches one of them, and the
// configured tag is returned. Without them the candidate is reduced with
// config.NormalizeLocale.
func ResolveLocale(r *http.Request, langs []config.Language, defaultLang string) language.Tag {
	supported := make([]language.Tag, 0, len(langs))
	for _, l := range langs {
		if tag, err := language.Parse(l.Code); err == nil {
			supported = append(supported, tag)
		}
	}
	var matcher language.Matcher
	if len(supported) > 0 {
		matcher = language.NewMatcher(supported)
	}

	match := func(tags ...language.Tag) (language.Tag, bool) {
		if len(tags) == 0 {
			return language.Und, false
		}
		if matcher == nil {
			return config.NormalizeLocale(tags[0]), true
		}
		_, i, conf := matcher.Match(tags...)
		if conf == language.No {
			return language.Und, false
		}
		return supported[i], true
	}

	if r != nil {
		if v := strings.TrimSpace(r.URL.Query().Get(LangParam)); v != "" {
			if tag, err := language.Parse(v); err == nil {
				if t, ok := match(tag); ok {
					return t
				}
			}
		}
		if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
			if tags, _, err := language.ParseAcceptLanguage(accept); err == nil {
				if t, ok := match(tags...); ok {
					return t
				}
			}
		}
	}

	if tag, err := language.Parse(strings.TrimSpace(defaultLang)); err == nil {
		return config.NormalizeLocale(tag)
	}
	return language.Und
}

// languageCode returns the base language of tag, or "" for und.
func languageCode(tag language.Tag) string {
	if tag == language.Und {
		return ""
	}
	base, _ := tag.Base()
	return base.String()
}
