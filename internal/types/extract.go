package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// DECODED JSON VALUE EXTRACTION UTILITIES
// =============================================================================
//
// These functions provide safe, type-aware extraction from values produced by
// decoding model output into map[string]any. They replace bare type assertions
// that panic on type mismatch.
//
// Decoded values can be any of these Go types:
//   - string:       Plain text values
//   - json.Number:  Numbers (decoders run with UseNumber)
//   - float64:      Numbers (plain json.Unmarshal)
//   - int, int64:   Go integers (from manual map construction, mostly tests)
//   - bool:         Boolean values
//   - nil:          JSON null

// ExtractString extracts a string representation from a decoded value.
// Handles string and json.Number, and falls back to fmt.Sprintf for other types.
func ExtractString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", x)
	}
}

// ExtractFloat64 extracts a float64 value from a decoded value.
// Numeric strings are accepted because models sometimes quote numbers.
// Returns (value, true) on success, (0, false) if the value is not numeric.
func ExtractFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ExtractBool extracts a boolean value from a decoded value.
// Handles bool directly, the "true"/"false"/"yes"/"no" string convention, and
// 0/1 flags as numbers or numeric strings. Other numbers are not flags.
// Returns (value, true) on success, (false, false) if the type is incompatible.
func ExtractBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
		return false, false
	case json.Number, float64, float32, int, int64:
		f, ok := ExtractFloat64(x)
		if !ok {
			return false, false
		}
		switch f {
		case 1:
			return true, true
		case 0:
			return false, true
		}
		return false, false
	default:
		return false, false
	}
}

// Truthy reports whether a decoded value is an affirmative flag.
// Anything ExtractBool cannot interpret counts as false.
func Truthy(v any) bool {
	b, ok := ExtractBool(v)
	return ok && b
}

// ExtractStrings extracts a string slice from a decoded JSON array.
// Scalars become a single-element slice; empty strings are dropped.
func ExtractStrings(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s := strings.TrimSpace(ExtractString(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := strings.TrimSpace(ExtractString(x)); s != "" {
			return []string{s}
		}
		return nil
	}
}
