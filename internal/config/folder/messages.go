package folder

import (
	"maps"
	"regexp"
)

// Messages is a flat message bundle mapping keys to translated strings.
type Messages map[string]string

// Get returns the message for key.
func (m Messages) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// GetOr returns the message for key, or def if it is absent.
func (m Messages) GetOr(key, def string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

// Clone returns a copy of m.
func (m Messages) Clone() Messages {
	if m == nil {
		return Messages{}
	}
	return maps.Clone(m)
}

var placeholder = regexp.MustCompile(`\$\{([^${}]+)\}`)

// Localize replaces every ${key} in template with the message for key.
// Unknown keys are left as they are.
func (m Messages) Localize(template string) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		key := match[2 : len(match)-1]
		if v, ok := m[key]; ok {
			return v
		}
		return match
	})
}
