// Package tree implements the configuration tree used for plugin
// configuration.
//
// A tree value is one of:
//
//   - a scalar (string, bool, number or nil),
//   - an ordered sequence ([]any),
//   - a mapping (map[string]any) of string keys to tree values.
//
// Trees handed out by this module are treated as immutable by convention.
// Every operation that needs to change a tree works on a deep copy, so a
// stored template can be reused across requests without leaking state.
package tree

import (
	"fmt"
	"math"
	"reflect"
)

// Clone creates a deep copy of a tree value.
func Clone(val any) any {
	switch v := val.(type) {
	case map[string]any:
		return CloneMap(v)
	case []any:
		return cloneSlice(v)
	default:
		return val
	}
}

// CloneMap creates a deep copy of a mapping.
// A nil mapping yields nil.
func CloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	for key, val := range src {
		dst[key] = Clone(val)
	}

	return dst
}

// cloneSlice creates a deep copy of a sequence.
func cloneSlice(src []any) []any {
	if src == nil {
		return nil
	}

	dst := make([]any, len(src))
	for i, val := range src {
		dst[i] = Clone(val)
	}

	return dst
}

// Normalize converts decoder output into the canonical tree
// representation: map[string]any for mappings, []any for sequences and
// plain scalars. YAML decoders may produce map[any]any, TOML and typed
// callers may hand in []map[string]any or []string; those are rewritten.
// The input is not modified.
func Normalize(val any) any {
	switch v := val.(type) {
	case nil, string, bool, float64, int64:
		return v
	case map[string]any:
		dst := make(map[string]any, len(v))
		for key, item := range v {
			dst[key] = Normalize(item)
		}
		return dst
	case map[any]any:
		dst := make(map[string]any, len(v))
		for key, item := range v {
			dst[fmt.Sprint(key)] = Normalize(item)
		}
		return dst
	case []any:
		dst := make([]any, len(v))
		for i, item := range v {
			dst[i] = Normalize(item)
		}
		return dst
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float32:
		return float64(v)
	}

	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		dst := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			dst[i] = Normalize(rv.Index(i).Interface())
		}
		return dst
	case reflect.Map:
		dst := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			dst[fmt.Sprint(iter.Key().Interface())] = Normalize(iter.Value().Interface())
		}
		return dst
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		// Values past the int64 range become float64.
		if u := rv.Uint(); u <= math.MaxInt64 {
			return int64(u)
		}
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}

	return val
}

// NormalizeMap normalizes a mapping. A nil mapping yields an empty one.
func NormalizeMap(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	return Normalize(src).(map[string]any)
}

// AsMap reports whether val is a mapping and returns it.
func AsMap(val any) (map[string]any, bool) {
	m, ok := val.(map[string]any)
	return m, ok
}
