package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MetadataNumber reads the first numeric value found under keys.
// Params: alert metadata and candidate keys in priority order.
// Returns: parsed number, key it came from, and true on success.
func MetadataNumber(metadata map[string]any, keys ...string) (float64, string, bool) {
	for _, key := range keys {
		raw, ok := metadata[key]
		if !ok {
			continue
		}
		if value, ok := toNumber(raw); ok {
			return value, key, true
		}
	}
	return 0, "", false
}

// MetadataString reads the first non-empty scalar under keys as text.
func MetadataString(metadata map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		raw, ok := metadata[key]
		if !ok || raw == nil {
			continue
		}
		var text string
		switch typed := raw.(type) {
		case string:
			text = typed
		case fmt.Stringer:
			text = typed.String()
		case bool, int, int32, int64, uint, uint32, uint64, float32, float64, json.Number:
			text = fmt.Sprint(typed)
		default:
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			return text, true
		}
	}
	return "", false
}

// toNumber converts decoded JSON or Go numeric values.
// Params: metadata value.
// Returns: float value and true for numbers or numeric strings.
func toNumber(raw any) (float64, bool) {
	switch typed := raw.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint:
		return float64(typed), true
	case uint32:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case json.Number:
		value, err := typed.Float64()
		return value, err == nil
	case string:
		value, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		return value, err == nil
	default:
		return 0, false
	}
}
