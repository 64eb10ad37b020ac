package parser

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is one successfully decoded data frame.
type Event struct {
	// Value is the decoded structure; its shape is opaque to the relay.
	Value any
	// Raw is the payload exactly as received.
	Raw json.RawMessage
	// Seq numbers events within one pipeline, starting at 1.
	Seq uint64
	// ReceivedAt is when the payload was decoded.
	ReceivedAt time.Time
}

// Decoder turns a data frame payload into an Event.
type Decoder interface {
	Decode(payload string) (Event, error)
	Format() string
}

// JSONDecoder decodes payloads as a single JSON value.
type JSONDecoder struct {
	now func() time.Time
}

// NewJSONDecoder creates a new JSON decoder
func NewJSONDecoder() *JSONDecoder {
	return &JSONDecoder{now: time.Now}
}

// Decode parses payload. Any failure, including an empty payload or trailing
// data after the value, yields a *DecodeError.
func (d *JSONDecoder) Decode(payload string) (Event, error) {
	if payload == "" {
		return Event{}, &DecodeError{Payload: payload}
	}

	raw := []byte(payload)
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return Event{}, &DecodeError{Payload: payload, Err: err}
	}

	return Event{
		Value:      value,
		Raw:        json.RawMessage(raw),
		ReceivedAt: d.now(),
	}, nil
}

// Format returns the format name
func (d *JSONDecoder) Format() string {
	return "json"
}

// NewDecoder returns the decoder for a configured codec name.
func NewDecoder(codec string) (Decoder, error) {
	switch codec {
	case "", "json":
		return NewJSONDecoder(), nil
	default:
		return nil, fmt.Errorf("unsupported payload codec %q", codec)
	}
}
