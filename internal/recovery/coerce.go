package recovery

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var leadingNumber = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)`)

// textField reads a string member. Numbers and booleans are kept in their
// JSON spelling; null, objects and arrays count as absent.
func textField(obj object, key string) *string {
	raw, ok := obj[key]
	if !ok {
		return nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil
	}
	switch v := value.(type) {
	case string:
		return &v
	case float64, bool:
		s := strings.TrimSpace(string(raw))
		return &s
	default:
		return nil
	}
}

// intField reads a numeric member, rounding floats and parsing numeric
// strings such as "7" or "7/10".
func intField(obj object, key string) *int {
	raw, ok := obj[key]
	if !ok {
		return nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil
	}
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case string:
		m := leadingNumber.FindStringSubmatch(v)
		if m == nil {
			return nil
		}
		parsed, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	// keep huge ratings ordered instead of overflowing the conversion
	f = min(max(math.Round(f), math.MinInt32), math.MaxInt32)
	n := int(f)
	return &n
}

// listField reads a list of strings. A bare string becomes a one-item list;
// object items contribute their description-like member.
func listField(obj object, key string) []string {
	raw, ok := obj[key]
	if !ok {
		return nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil
	}
	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := itemText(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func itemText(item any) string {
	switch v := item.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case map[string]any:
		for _, key := range []string{"description", "issue", "message", "text", "change"} {
			if s, ok := v[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
