package tree

import (
	"encoding/json"
	"fmt"
	"math"
)

// Clone returns a deep copy of v.  Only maps and slices are copied; scalar
// values are immutable in a configuration tree.
func Clone(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return CloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}

// CloneMap is Clone for the root mapping.  A nil input yields an empty map.
func CloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Clone(v)
	}
	return out
}

// Merge deep-updates dst with src.  Nested mappings are merged key by key,
// any other value in src replaces the one in dst.  src is copied, never
// aliased.
func Merge(dst, src map[string]any) {
	for k, sv := range src {
		sm, srcIsMap := sv.(map[string]any)
		dm, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			Merge(dm, sm)
			continue
		}
		dst[k] = Clone(sv)
	}
}

// Normalize converts decoder output into tree shape: map[any]any becomes
// map[string]any, json.Number becomes int or float64, sized integers become
// int (float64 when too large for int), float32 becomes float64.  Unknown types pass through.
func Normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = Normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i)
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case int8:
		return int(x)
	case int16:
		return int(x)
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint:
		return fromUint(uint64(x))
	case uint8:
		return int(x)
	case uint16:
		return int(x)
	case uint32:
		return fromUint(uint64(x))
	case uint64:
		return fromUint(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

// fromUint keeps values above MaxInt as float64, like json.Number does.
func fromUint(x uint64) any {
	if x > math.MaxInt {
		return float64(x)
	}
	return int(x)
}

// NormalizeMap is Normalize for the root mapping.
func NormalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return Normalize(m).(map[string]any)
}
