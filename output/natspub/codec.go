package natspub

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/c360/framerelay/processor/parser"
)

// Codec names accepted by NewCodec.
const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// Codec encodes events and diagnostic entries for the wire.
type Codec interface {
	Name() string
	EncodeEvent(ev parser.Event) ([]byte, error)
	Marshal(v any) ([]byte, error)
}

// NewCodec returns the codec for name. An empty name selects json.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return jsonCodec{}, nil
	case CodecCBOR:
		return newCBORCodec()
	default:
		return nil, fmt.Errorf("unsupported NATS codec %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecJSON }

// EncodeEvent forwards the payload untouched.
func (jsonCodec) EncodeEvent(ev parser.Event) ([]byte, error) {
	if len(ev.Raw) == 0 {
		return json.Marshal(ev.Value)
	}
	return ev.Raw, nil
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

type cborCodec struct {
	enc cbor.EncMode
}

func newCBORCodec() (*cborCodec, error) {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	enc, err := opts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("CBOR encoder initialization failed: %w", err)
	}
	return &cborCodec{enc: enc}, nil
}

func (c *cborCodec) Name() string { return CodecCBOR }

func (c *cborCodec) EncodeEvent(ev parser.Event) ([]byte, error) {
	value := ev.Value
	if value == nil && len(ev.Raw) > 0 {
		if err := json.Unmarshal(ev.Raw, &value); err != nil {
			return nil, err
		}
	}
	return c.enc.Marshal(value)
}

func (c *cborCodec) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}
