package loader

import (
	"github.com/magiconair/properties"
)

// ParseProperties decodes Java .properties data into a flat map.
// ${key} references are left as written; expansion belongs to callers
// that know which keys are templates.
func ParseProperties(source string, data []byte) (map[string]string, error) {
	l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := l.LoadBytes(data)
	if err != nil {
		return nil, &ParseError{Path: source, Message: err.Error(), Err: err}
	}
	return p.Map(), nil
}
