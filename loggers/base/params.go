package base

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// FlattenParams turns nested maps into one level, joining keys with "/".
func FlattenParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	flatten("", params, out)
	return out
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "/" + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

// SanitizeParams keeps booleans, numbers and strings and stringifies everything else.
// nil becomes "None".
func SanitizeParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		switch v.(type) {
		case bool, string,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			out[k] = v
		case nil:
			out[k] = "None"
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

// FormatValue renders a sanitized parameter value as text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case nil:
		return "None"
	default:
		return fmt.Sprint(x)
	}
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
