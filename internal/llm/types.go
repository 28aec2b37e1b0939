package llm

import "time"

// Message is one chat message sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest describes one chat completion call.
type CompletionRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Reply is the decoded upstream payload. Only the choices[0].message.content
// path is interpreted; the rest is kept opaque.
type Reply map[string]any

// Config configures the upstream client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	// Referer and Title are sent as HTTP-Referer and X-Title.
	Referer string
	Title   string

	// Timeout bounds a single completion attempt.
	Timeout time.Duration
	// HealthTimeout bounds the health probe.
	HealthTimeout time.Duration

	MaxAttempts   int
	BackoffFactor time.Duration
	MaxBackoff    time.Duration

	// RetryableStatuses overrides the statuses that are retried; nil keeps
	// 429, 502, 503 and 504.
	RetryableStatuses []int

	// MaxResponseBytes limits how much of a response body is read; 0 is unlimited.
	MaxResponseBytes int64
}

type chatPayload struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}
