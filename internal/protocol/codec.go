package protocol

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/vmihailenco/msgpack/v5"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec turns peer messages into bytes and back.
type Codec interface {
	Name() string
	Encode(t MessageType, seq *uint32, payload any) ([]byte, error)
	Decode(b []byte) (Frame, error)
	Unmarshal(raw []byte, v any) error
}

// NewCodec returns the codec registered under name. An empty name selects
// JSON.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	}
	return nil, fmt.Errorf("protocol: unknown codec %q", name)
}

// DecodePayload decodes a frame's payload into T.
func DecodePayload[T any](c Codec, f Frame) (T, error) {
	var out T
	if len(f.Raw) == 0 {
		return out, fmt.Errorf("empty payload for type %q", f.Type)
	}
	err := c.Unmarshal(f.Raw, &out)
	return out, err
}

func checkType(t MessageType) error {
	if !t.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return nil
}

type jsonEnvelope struct {
	Type    MessageType         `json:"type"`
	Seq     *uint32             `json:"seq,omitempty"`
	Payload jsoniter.RawMessage `json:"payload,omitempty"`
}

// JSONCodec is the default text encoding.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(t MessageType, seq *uint32, payload any) ([]byte, error) {
	if err := checkType(t); err != nil {
		return nil, err
	}
	env := jsonEnvelope{Type: t, Seq: seq}
	if payload != nil {
		pb, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = pb
	}
	return json.Marshal(env)
}

func (JSONCodec) Decode(b []byte) (Frame, error) {
	if len(b) == 0 {
		return Frame{}, fmt.Errorf("protocol: empty message")
	}
	var env jsonEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Frame{}, fmt.Errorf("protocol: decode: %w", err)
	}
	if err := checkType(env.Type); err != nil {
		return Frame{}, err
	}
	f := Frame{Type: env.Type, Raw: env.Payload}
	if env.Seq != nil {
		f.Seq, f.HasSeq = *env.Seq, true
	}
	return f, nil
}

func (JSONCodec) Unmarshal(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}

type msgpackEnvelope struct {
	Type    MessageType        `msgpack:"type"`
	Seq     *uint32            `msgpack:"seq,omitempty"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
}

// MsgpackCodec is a compact binary encoding for the data channel.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Encode(t MessageType, seq *uint32, payload any) ([]byte, error) {
	if err := checkType(t); err != nil {
		return nil, err
	}
	env := msgpackEnvelope{Type: t, Seq: seq}
	if payload != nil {
		pb, err := msgpack.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = pb
	}
	return msgpack.Marshal(&env)
}

func (MsgpackCodec) Decode(b []byte) (Frame, error) {
	if len(b) == 0 {
		return Frame{}, fmt.Errorf("protocol: empty message")
	}
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return Frame{}, fmt.Errorf("protocol: decode: %w", err)
	}
	if err := checkType(env.Type); err != nil {
		return Frame{}, err
	}
	f := Frame{Type: env.Type, Raw: env.Payload}
	if env.Seq != nil {
		f.Seq, f.HasSeq = *env.Seq, true
	}
	return f, nil
}

func (MsgpackCodec) Unmarshal(raw []byte, v any) error {
	return msgpack.Unmarshal(raw, v)
}
