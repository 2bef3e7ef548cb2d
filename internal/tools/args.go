package tools

import "fmt"

// errMissingAgent is returned when a tool needs an agent identity and the
// call neither passed agent_id nor came from a bound session.
var errMissingAgent = fmt.Errorf("agent_id is required (no agent bound to this session)")

// requireString extracts a non-empty string from args by key.
func requireString(args map[string]any, key string) (string, error) {
	v, _ := args[key].(string)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// requireFloat64 extracts a float64 from args by key. Returns a clear error
// distinguishing "missing" from "wrong type" and is safe against nil values.
func requireFloat64(args map[string]any, key string) (float64, error) {
	v, exists := args[key]
	if !exists || v == nil {
		return 0, fmt.Errorf("%s is required", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
	return f, nil
}

// optionalString extracts a string from args by key, or the fallback.
func optionalString(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// optionalFloat64 extracts a float64 from args by key, or the fallback.
func optionalFloat64(args map[string]any, key string, fallback float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return fallback
}

// optionalBool extracts a bool from args by key, or the fallback.
func optionalBool(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

// stringArray extracts a []string from a JSON array argument, skipping
// non-string elements.
func stringArray(args map[string]any, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, x := range raw {
		if s, ok := x.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
