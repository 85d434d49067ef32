package tree

// Merge combines base and override into a new tree.
//
// When both values are mappings the result holds the union of their keys,
// merging shared keys recursively. In every other case override replaces
// base at that position; sequences are replaced, never merged element-wise.
// Neither input is modified and the result shares no mutable structure
// with them.
func Merge(base, override any) any {
	baseMap, baseIsMap := base.(map[string]any)
	overrideMap, overrideIsMap := override.(map[string]any)
	if baseIsMap && overrideIsMap {
		return MergeMaps(baseMap, overrideMap)
	}
	return Clone(override)
}

// MergeMaps merges two mappings into a new one. Values in override win.
// A nil argument is treated as an empty mapping.
func MergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for key, val := range base {
		result[key] = Clone(val)
	}

	for key, overrideVal := range override {
		baseVal, exists := result[key]
		if !exists {
			result[key] = Clone(overrideVal)
			continue
		}
		result[key] = Merge(baseVal, overrideVal)
	}

	return result
}

// MergeAll folds MergeMaps over layers in order, so later layers win.
// The base is not modified.
func MergeAll(base map[string]any, layers ...map[string]any) map[string]any {
	result := CloneMap(base)
	if result == nil {
		result = make(map[string]any)
	}
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		result = MergeMaps(result, layer)
	}
	return result
}
