package recovery

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Refactor is the structured object expected from a refactor reply.
type Refactor struct {
	FixedCode *string
	Changes   []string
}

var refactorKeys = []string{"fixed_code", "changes"}

var (
	fixedCodePattern = regexp.MustCompile(`(?s)"fixed_code"\s*:\s*"(.*?)"\s*,\s*"changes"`)
	changesPattern   = regexp.MustCompile(`(?s)"changes"\s*:\s*\[(.*?)\]`)
	quotedPattern    = regexp.MustCompile(`"([^"]*)"`)

	rawControlChars = strings.NewReplacer("\r", `\r`, "\n", `\n`, "\t", `\t`)
)

func refactorFrom(obj object) Refactor {
	return Refactor{
		FixedCode: textField(obj, "fixed_code"),
		Changes:   listField(obj, "changes"),
	}
}

// DefaultRefactor is returned when no layer could read the reply.
func DefaultRefactor() Refactor {
	code := "// Failed to extract refactored code"
	return Refactor{
		FixedCode: &code,
		Changes:   []string{"Error: Could not parse response"},
	}
}

// refactorFields pulls the two members out of JSON-like text whose code
// string contains raw newlines or other characters that break a decoder.
func refactorFields(s string) (Refactor, bool) {
	m := fixedCodePattern.FindStringSubmatch(s)
	if m == nil {
		return Refactor{}, false
	}
	code := unescapeCapture(m[1])

	var changes []string
	if cm := changesPattern.FindStringSubmatch(s); cm != nil {
		for _, item := range quotedPattern.FindAllStringSubmatch(cm[1], -1) {
			changes = append(changes, item[1])
		}
	}
	return Refactor{FixedCode: &code, Changes: changes}, true
}

// unescapeCapture decodes JSON escapes in a captured string body. Raw
// control characters and bare quotes are escaped first; if the body still
// does not decode, the capture is returned as is.
func unescapeCapture(raw string) string {
	var decoded string
	if err := json.Unmarshal([]byte(`"`+escapeCapture(raw)+`"`), &decoded); err == nil {
		return decoded
	}
	return raw
}

// escapeCapture escapes raw control characters and every quote that is not
// already part of an escape sequence.
func escapeCapture(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 8)
	escaped := false
	for _, r := range raw {
		switch {
		case escaped:
			escaped = false
			b.WriteRune(r)
		case r == '\\':
			escaped = true
			b.WriteRune(r)
		case r == '"':
			b.WriteString(`\"`)
		default:
			b.WriteString(rawControlChars.Replace(string(r)))
		}
	}
	return b.String()
}

var refactorLayers = []layer[Refactor]{
	{name: LayerStrict, parse: func(s string) (Refactor, bool) {
		obj, ok := strictObject(s)
		if !ok {
			return Refactor{}, false
		}
		return refactorFrom(obj), true
	}},
	{name: LayerBraces, parse: func(s string) (Refactor, bool) {
		obj, ok := braceObject(s)
		if !ok {
			return Refactor{}, false
		}
		return refactorFrom(obj), true
	}},
	{name: LayerFields, parse: refactorFields},
	{name: LayerRepair, parse: func(s string) (Refactor, bool) {
		obj, ok := repairedObject(s, refactorKeys...)
		if !ok {
			return Refactor{}, false
		}
		return refactorFrom(obj), true
	}},
}

// ParseRefactor recovers a Refactor from model output. It never fails.
func ParseRefactor(text string) Result[Refactor] {
	return firstSuccess(text, refactorLayers, DefaultRefactor)
}
