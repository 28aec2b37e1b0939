package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// UpstreamTimeoutError reports that every attempt against the upstream
// completion service timed out.
type UpstreamTimeoutError struct {
	Attempts int
	Err      error
}

func (e *UpstreamTimeoutError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("upstream timed out after %d attempts", e.Attempts)
	}
	return "upstream timed out"
}

func (e *UpstreamTimeoutError) Unwrap() error {
	return e.Err
}

// UpstreamServiceError reports a non-retryable or exhausted upstream failure:
// an HTTP error status, a transport error, or a payload that carries an
// embedded error object.
type UpstreamServiceError struct {
	StatusCode int    // 0 when no response was received
	Body       string // raw response body, if any
	Message    string
	Err        error
}

func (e *UpstreamServiceError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "upstream service error"
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *UpstreamServiceError) Unwrap() error {
	return e.Err
}

// ExtractionError reports that a reply did not have the expected shape or
// carried no text. It is never retried.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return "failed to extract completion text: " + e.Reason
}

// NewUpstreamTimeout creates a timeout error after the given attempt count.
func NewUpstreamTimeout(attempts int, err error) error {
	return &UpstreamTimeoutError{Attempts: attempts, Err: err}
}

// NewUpstreamStatus creates a service error for an HTTP error response.
func NewUpstreamStatus(status int, body string) error {
	return &UpstreamServiceError{
		StatusCode: status,
		Body:       body,
		Message:    "upstream returned error status",
	}
}

// NewUpstreamService creates a service error with a message and optional cause.
func NewUpstreamService(message string, err error) error {
	return &UpstreamServiceError{Message: message, Err: err}
}

// NewExtraction creates an extraction error.
func NewExtraction(format string, args ...any) error {
	return &ExtractionError{Reason: fmt.Sprintf(format, args...)}
}

// IsUpstreamTimeout reports whether err is or wraps an UpstreamTimeoutError.
func IsUpstreamTimeout(err error) bool {
	var target *UpstreamTimeoutError
	return errors.As(err, &target)
}

// IsUpstreamService reports whether err is or wraps an UpstreamServiceError.
func IsUpstreamService(err error) bool {
	var target *UpstreamServiceError
	return errors.As(err, &target)
}

// IsExtraction reports whether err is or wraps an ExtractionError.
func IsExtraction(err error) bool {
	var target *ExtractionError
	return errors.As(err, &target)
}

// HTTPStatus maps an error from the review pipeline to the status code the
// HTTP boundary responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsUpstreamTimeout(err):
		return http.StatusGatewayTimeout
	case IsUpstreamService(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Detail returns a short client-facing description of err.
func Detail(err error) string {
	switch {
	case IsUpstreamTimeout(err):
		return "LLM service timeout"
	case IsUpstreamService(err):
		var svc *UpstreamServiceError
		errors.As(err, &svc)
		if svc.StatusCode > 0 {
			return fmt.Sprintf("LLM service error: status %d", svc.StatusCode)
		}
		return "LLM service error: " + svc.Error()
	case IsExtraction(err):
		return "Internal error: " + err.Error()
	case err == nil:
		return ""
	default:
		return "Internal error"
	}
}
