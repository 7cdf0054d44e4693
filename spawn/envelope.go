package spawn

import (
	"bytes"
	"encoding/json"
)

// Reserved event names. The first three are consumed by the endpoint itself
// and never reach listeners.
const (
	EventAck    = "spawn_ack"
	EventImport = "spawn_import"
	EventClose  = "spawn_close"
	EventError  = "error"
)

// Envelope is the only unit ever written to a channel.
type Envelope struct {
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   bool            `json:"ack"`
}

// Payload is the receiving side's copy of an emitted value.
type Payload struct {
	raw json.RawMessage
}

// NewPayload encodes v the same way Emit does.
func NewPayload(v any) (Payload, error) {
	raw, err := encodePayload(v)
	if err != nil {
		return Payload{}, err
	}
	return Payload{raw: raw}, nil
}

// Absent reports whether the sender emitted no value.
func (p Payload) Absent() bool {
	return len(p.raw) == 0 || bytes.Equal(p.raw, []byte("null"))
}

// Decode unmarshals the payload into v. An absent payload leaves v untouched.
func (p Payload) Decode(v any) error {
	if p.Absent() {
		return nil
	}
	return json.Unmarshal(p.raw, v)
}

// Raw returns a copy of the encoded payload.
func (p Payload) Raw() json.RawMessage {
	return bytes.Clone(p.raw)
}

func (p Payload) String() string {
	if p.Absent() {
		return "null"
	}
	return string(p.raw)
}

func encodePayload(v any) (json.RawMessage, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case Payload:
		return val.raw, nil
	case json.RawMessage:
		if !json.Valid(val) {
			return nil, ErrInvalidPayload
		}
		return bytes.Clone(val), nil
	}
	return json.Marshal(v)
}
