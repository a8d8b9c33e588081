package mapsafe

import "encoding/json"

// Get reads a typed value from a parameter map.
// Numbers are converted between int, float64 and json.Number. Missing keys,
// nil maps and values of an incompatible type yield defaultValue.
func Get[T any](m map[string]any, key string, defaultValue T) T {
	val, ok := m[key]
	if !ok || val == nil {
		return defaultValue
	}

	if v, ok := val.(T); ok {
		return v
	}

	switch any(defaultValue).(type) {
	case int:
		if f, ok := number(val); ok {
			return any(int(f)).(T)
		}
	case float64:
		if f, ok := number(val); ok {
			return any(f).(T)
		}
	}

	return defaultValue
}

// number widens the numeric kinds parameters arrive as.
func number(val any) (float64, bool) {
	switch x := val.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}

	return 0, false
}
