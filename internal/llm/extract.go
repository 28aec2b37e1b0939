package llm

import (
	apperrors "coderev/internal/errors"
)

// ExtractText returns choices[0].message.content from reply. A missing path,
// a non-string value or empty content is an ExtractionError.
func ExtractText(reply Reply) (string, error) {
	if reply == nil {
		return "", apperrors.NewExtraction("empty reply")
	}
	choices, ok := reply["choices"].([]any)
	if !ok {
		return "", apperrors.NewExtraction("reply has no choices")
	}
	if len(choices) == 0 {
		return "", apperrors.NewExtraction("reply has an empty choices list")
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return "", apperrors.NewExtraction("first choice is not an object")
	}
	message, ok := choice["message"].(map[string]any)
	if !ok {
		return "", apperrors.NewExtraction("first choice has no message")
	}
	raw, present := message["content"]
	if !present || raw == nil {
		return "", apperrors.NewExtraction("message content is missing")
	}
	content, ok := raw.(string)
	if !ok {
		return "", apperrors.NewExtraction("message content is %T, not text", raw)
	}
	if content == "" {
		return "", apperrors.NewExtraction("message content is empty")
	}
	return content, nil
}
