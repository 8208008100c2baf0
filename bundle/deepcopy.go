package bundle

import "time"

// DeepCopy exposes deepCopyValue for callers that need to copy a raw
// field value (process inputs/outputs maps) independently of a Bundle.
func DeepCopy(v any) any { return deepCopyValue(v) }

// deepCopyValue copies a scalar, a []any, or a map[string]any so the
// returned value shares no backing array or map with v. Nested *Bundle
// values are left for the caller to Clone explicitly (Set never receives
// a *Bundle directly; SetSavable does and owns its own copy semantics).
//
// Values outside this set (custom structs a caller stuffed into a field)
// are returned unchanged — Bundle fields are meant to stay JSON-shaped,
// matching the Value grammar in spec.md §3.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopyValue(item)
		}
		return out
	case []byte:
		out := make([]byte, len(val))
		copy(out, val)
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case time.Time:
		return val
	default:
		// bool, numeric kinds, string, and any other immutable scalar.
		return val
	}
}
