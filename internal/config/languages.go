package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/jsonc"
)

// Language is a language offered by the portal.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// parseLanguages reads the languages and languages.default properties.
// A malformed languages value is logged and treated as absent.
func (c *Config) parseLanguages(props map[string]string) ([]Language, string) {
	defaultLang := strings.TrimSpace(props[PropertyDefaultLang])

	raw, ok := props[PropertyLanguages]
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, defaultLang
	}

	langs, err := ParseLanguages(raw)
	if err != nil {
		c.logger.Warn("invalid languages property", "value", raw, "error", err)
		return nil, defaultLang
	}
	return langs, defaultLang
}

// ParseLanguages parses a mapping literal of language code to display
// name, such as {"es": "Español", "fr": "Français"}, keeping the source
// order. Comments and trailing commas are allowed.
func ParseLanguages(raw string) ([]Language, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON([]byte(raw))))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("languages: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("languages: expected an object, got %v", tok)
	}

	var langs []Language
	seen := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("languages: %w", err)
		}
		code, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("languages: unexpected %v", tok)
		}

		var name string
		if err := dec.Decode(&name); err != nil {
			return nil, fmt.Errorf("languages: name for %q: %w", code, err)
		}

		if i, dup := seen[code]; dup {
			langs[i].Name = name
			continue
		}
		seen[code] = len(langs)
		langs = append(langs, Language{Code: code, Name: name})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("languages: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("languages: unexpected data after object")
	}
	return langs, nil
}
