package loader

import (
	"errors"

	"github.com/pelletier/go-toml/v2"
)

// parseTOML parses TOML data into a map.
func parseTOML(data []byte) (map[string]any, error) {
	var config map[string]any
	if err := toml.Unmarshal(data, &config); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			line, col := derr.Position()
			return nil, &ParseError{Line: line, Column: col, Message: derr.Error(), Err: err}
		}
		return nil, err
	}
	return config, nil
}
