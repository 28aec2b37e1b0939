package httpclient

import (
	"errors"
	"fmt"
	"io"
)

// Names for the bodies read under a limit.
const (
	BodyUpload     = "uploaded file"
	BodyCompletion = "completion response"
	BodyHealth     = "health response"
)

// BodyTooLargeError reports which body outgrew its byte limit.
type BodyTooLargeError struct {
	Body  string
	Limit int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("%s exceeds the %d byte limit", e.Body, e.Limit)
}

// IsBodyTooLarge reports whether err came from a size limit.
func IsBodyTooLarge(err error) bool {
	var tooLarge *BodyTooLargeError
	return errors.As(err, &tooLarge)
}

// ReadLimited reads the named body, failing once more than limit bytes
// arrive. A non-positive limit reads without bound.
func ReadLimited(r io.Reader, body string, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", body, err)
	}
	if int64(len(data)) > limit {
		return data[:limit], &BodyTooLargeError{Body: body, Limit: limit}
	}
	return data, nil
}
