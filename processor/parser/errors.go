package parser

import (
	"fmt"

	"github.com/c360/framerelay/errors"
)

// DecodeError reports a payload that could not be decoded.
type DecodeError struct {
	// Payload is the text after the marker, as received.
	Payload string
	// Err is the underlying parse diagnostic.
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("decode payload (%d bytes) failed", len(e.Payload))
	}
	return fmt.Sprintf("decode payload (%d bytes) failed: %v", len(e.Payload), e.Err)
}

// Unwrap exposes both the sentinel and the parse diagnostic to errors.Is and errors.As.
func (e *DecodeError) Unwrap() []error {
	sentinel := errors.ErrDecodeFailed
	if len(e.Payload) == 0 {
		sentinel = errors.ErrEmptyPayload
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// Excerpt returns at most n bytes of the payload for log output. Frames carry
// base64 images, so the full payload rarely belongs in a log line.
func (e *DecodeError) Excerpt(n int) string {
	if n <= 0 || len(e.Payload) <= n {
		return e.Payload
	}
	return e.Payload[:n] + "..."
}
