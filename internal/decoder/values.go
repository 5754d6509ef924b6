package decoder

import (
	"encoding/json"
	"strconv"
	"strings"
)

// text renders a scalar JSON value as a string. Wrapped values of the form
// {"value": ...} or {"value_str": ...} are unwrapped.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		if s, ok := t["value_str"]; ok {
			return text(s)
		}
		if s, ok := t["value"]; ok {
			return text(s)
		}
	}
	return ""
}

// number converts a scalar JSON value to float64, tolerating numeric strings
// with a trailing percent sign. Non-numeric input yields 0.
func number(v any) float64 {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0
		}
		return f
	case float64:
		return t
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(t), "%")
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
		if err != nil {
			return 0
		}
		return f
	case map[string]any:
		if s, ok := t["value"]; ok {
			return number(s)
		}
		if s, ok := t["value_str"]; ok {
			return number(s)
		}
	}
	return 0
}

// isNumeric reports whether v is a JSON number.
func isNumeric(v any) bool {
	switch v.(type) {
	case json.Number, float64:
		return true
	}
	return false
}

// firstText returns the first non-empty text found under keys.
func firstText(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			if s := text(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// firstValue returns the first present value under keys.
func firstValue(obj map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// hasAll reports whether obj carries every key.
func hasAll(obj map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			return false
		}
	}
	return true
}
