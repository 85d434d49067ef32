package loader

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/tidwall/jsonc"
)

// parseJSON parses JSON data into a map. Comments and trailing commas are
// stripped before decoding, the way plugin descriptors are usually
// hand-written.
func parseJSON(data []byte) (map[string]any, error) {
	clean := jsonc.ToJSON(data)
	if len(bytes.TrimSpace(clean)) == 0 {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(clean))
	dec.UseNumber()

	var config map[string]any
	if err := dec.Decode(&config); err != nil {
		var serr *json.SyntaxError
		if errors.As(err, &serr) {
			line, col := position(clean, serr.Offset)
			return nil, &ParseError{Line: line, Column: col, Message: serr.Error(), Err: err}
		}
		return nil, err
	}
	return numbers(config).(map[string]any), nil
}

// numbers replaces json.Number values with int64 when integral and
// float64 otherwise, matching what the YAML and TOML decoders produce.
func numbers(val any) any {
	switch v := val.(type) {
	case map[string]any:
		for key, item := range v {
			v[key] = numbers(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = numbers(item)
		}
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	}
	return val
}

// position converts a byte offset into a 1-based line and column.
func position(data []byte, offset int64) (int, int) {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	line, col := 1, 1
	for _, b := range data[:offset] {
		if b == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
