package sdk

import "fmt"

// ConfigMap is a node's configuration. Values come from JSON decoding,
// so numbers may arrive as float64; the typed accessors normalise that
// instead of leaving runtime casts to node implementations.
type ConfigMap map[string]any

// GetString returns the string under key.
func (m ConfigMap) GetString(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// ExpectString returns the string under key or a config error naming it.
func (m ConfigMap) ExpectString(key string) (string, error) {
	s, ok := m.GetString(key)
	if !ok || s == "" {
		return "", fmt.Errorf("missing required config field: %s", key)
	}
	return s, nil
}

// GetInt returns the integer under key, accepting JSON float64 and the
// native integer widths.
func (m ConfigMap) GetInt(key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// IntOrDefault returns the integer under key, or def when absent or not
// numeric.
func (m ConfigMap) IntOrDefault(key string, def int) int {
	if v, ok := m.GetInt(key); ok {
		return v
	}
	return def
}

// GetBool returns the boolean under key.
func (m ConfigMap) GetBool(key string) (bool, bool) {
	b, ok := m[key].(bool)
	return b, ok
}

// BoolOrDefault returns the boolean under key, or def when absent.
func (m ConfigMap) BoolOrDefault(key string, def bool) bool {
	if v, ok := m.GetBool(key); ok {
		return v
	}
	return def
}

// GetStringSlice returns the string items under key. Non-string items
// are dropped; a missing key yields an empty slice.
func (m ConfigMap) GetStringSlice(key string) []string {
	result := []string{}
	switch arr := m[key].(type) {
	case []string:
		return append(result, arr...)
	case []any:
		for _, item := range arr {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
	}
	return result
}

// GetStringMap returns the string-to-string entries under key.
// Non-string values are dropped.
func (m ConfigMap) GetStringMap(key string) map[string]string {
	result := map[string]string{}
	switch mv := m[key].(type) {
	case map[string]string:
		for k, v := range mv {
			result[k] = v
		}
	case map[string]any:
		for k, v := range mv {
			if s, ok := v.(string); ok {
				result[k] = s
			}
		}
	}
	return result
}

// GetMap returns the nested map under key.
func (m ConfigMap) GetMap(key string) (map[string]any, bool) {
	mv, ok := m[key].(map[string]any)
	return mv, ok
}

// GetSlice returns the raw slice under key.
func (m ConfigMap) GetSlice(key string) ([]any, bool) {
	arr, ok := m[key].([]any)
	return arr, ok
}
