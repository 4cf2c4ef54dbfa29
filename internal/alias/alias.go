// Package alias resolves logical fields from loosely shaped JSON objects by
// trying an ordered list of accepted keys.
package alias

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cast"
)

// Field lists accepted keys for one logical value, in precedence order.
type Field []string

// Lookup returns the value of the first key holding a non-empty value.
// Empty means missing, null, blank string, zero number or false, which
// matches how the upstream producers signal "not set".
func Lookup(raw map[string]any, f Field) (any, bool) {
	for _, key := range f {
		v, ok := raw[key]
		if !ok || isEmpty(v) {
			continue
		}
		return v, true
	}
	return nil, false
}

// Float resolves f as a number. Numeric strings are accepted; booleans,
// arrays and objects are not. The boolean is false when no alias is set or
// the first set alias is not numeric.
func Float(raw map[string]any, f Field) (float64, bool) {
	v, ok := Lookup(raw, f)
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case string:
		v = strings.TrimSpace(val)
	case float64, json.Number, int, int64:
	default:
		return 0, false
	}
	out, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return out, true
}

// Int resolves f as an integer, truncating fractional values.
func Int(raw map[string]any, f Field) (int64, bool) {
	v, ok := Float(raw, f)
	if !ok {
		return 0, false
	}
	return int64(v), true
}

// String resolves f as a string; numbers are formatted without exponent.
func String(raw map[string]any, f Field) (string, bool) {
	v, ok := Lookup(raw, f)
	if !ok {
		return "", false
	}
	out, err := cast.ToStringE(v)
	if err != nil {
		return "", false
	}
	return out, true
}

// Object resolves f as a nested JSON object.
func Object(raw map[string]any, f Field) (map[string]any, bool) {
	v, ok := Lookup(raw, f)
	if !ok {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

// Slice resolves f as a JSON array.
func Slice(raw map[string]any, f Field) ([]any, bool) {
	v, ok := Lookup(raw, f)
	if !ok {
		return nil, false
	}
	items, ok := v.([]any)
	return items, ok
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case bool:
		return !val
	case float64:
		return val == 0
	case int:
		return val == 0
	case int64:
		return val == 0
	case []any:
		return false
	case map[string]any:
		return false
	default:
		return false
	}
}
