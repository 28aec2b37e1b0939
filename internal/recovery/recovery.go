// Package recovery turns free-form model output into structured review and
// refactor objects. Parsing never fails: an ordered list of layers is tried
// and the first success wins, with a fixed default object as the last resort.
package recovery

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Layer names reported in Result.Layer.
const (
	LayerStrict  = "strict"
	LayerBraces  = "braces"
	LayerFields  = "fields"
	LayerRepair  = "repair"
	LayerDefault = "default"
)

// Schema names.
const (
	SchemaReview   = "review"
	SchemaRefactor = "refactor"
)

// Result is a recovered value and the layer that produced it.
type Result[T any] struct {
	Value T
	Layer string
}

// Recovered reports whether the value came from the model output rather
// than the default object.
func (r Result[T]) Recovered() bool {
	return r.Layer != LayerDefault
}

type object = map[string]json.RawMessage

type layer[T any] struct {
	name  string
	parse func(cleaned string) (T, bool)
}

func firstSuccess[T any](text string, layers []layer[T], fallback func() T) Result[T] {
	cleaned := StripFences(text)
	for _, l := range layers {
		if value, ok := l.parse(cleaned); ok {
			return Result[T]{Value: value, Layer: l.name}
		}
	}
	return Result[T]{Value: fallback(), Layer: LayerDefault}
}

var (
	leadingFence  = regexp.MustCompile("^```[A-Za-z0-9_+.-]*[ \t]*\r?\n?")
	trailingFence = regexp.MustCompile("\r?\n?```\\s*$")
)

// StripFences trims whitespace and removes a surrounding markdown code fence,
// including an optional language tag on the opening fence.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = leadingFence.ReplaceAllString(s, "")
		s = trailingFence.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}

// decodeObject decodes s when it is exactly one JSON object.
func decodeObject(s string) (object, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var obj object
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// braceSpan returns the text from the first '{' to the last '}'.
func braceSpan(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func strictObject(s string) (object, bool) {
	return decodeObject(s)
}

func braceObject(s string) (object, bool) {
	span, ok := braceSpan(s)
	if !ok {
		return nil, false
	}
	return decodeObject(span)
}

// repairedObject repairs the text starting at the first '{'. The closing
// brace may be missing when the reply was cut off.
func repairedObject(s string, keys ...string) (object, bool) {
	start := strings.Index(s, "{")
	if start < 0 {
		return nil, false
	}
	candidate := s[start:]
	if end := strings.LastIndex(candidate, "}"); end >= 0 && strings.TrimSpace(candidate[end+1:]) != "" {
		// trailing prose after the object confuses the repairer
		candidate = candidate[:end+1]
	}
	fixed, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, false
	}
	obj, ok := decodeObject(fixed)
	if !ok || !hasAny(obj, keys...) {
		return nil, false
	}
	return obj, true
}

func hasAny(obj object, keys ...string) bool {
	for _, key := range keys {
		if _, ok := obj[key]; ok {
			return true
		}
	}
	return false
}
