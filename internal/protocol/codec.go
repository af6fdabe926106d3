package protocol

import (
	"encoding/json"
	"fmt"
)

// wireMessage is the flat four-field wire shape.
type wireMessage struct {
	UUID      string  `json:"uuid"`
	Type      string  `json:"type"`
	Payload   string  `json:"payload"`
	Timestamp float64 `json:"timestamp"`
}

// wireProbe distinguishes absent fields from zero values during decode.
type wireProbe struct {
	UUID      *string  `json:"uuid"`
	Type      *string  `json:"type"`
	Payload   *string  `json:"payload"`
	Timestamp *float64 `json:"timestamp"`
}

// Encode serializes one message to its wire bytes.
func Encode(msg Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(wireMessage{
		UUID:      msg.Identity,
		Type:      string(msg.Kind),
		Payload:   msg.Payload,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return data, nil
}

// Decode parses wire bytes into a message. Any shape violation wraps
// ErrMalformedPayload: bytes that are not a JSON object, a required
// field missing or mistyped, or an unknown kind tag.
func Decode(data []byte) (Message, error) {
	var probe wireProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	switch {
	case probe.UUID == nil:
		return Message{}, fmt.Errorf("%w: missing uuid", ErrMalformedPayload)
	case probe.Type == nil:
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedPayload)
	case probe.Payload == nil:
		return Message{}, fmt.Errorf("%w: missing payload", ErrMalformedPayload)
	case probe.Timestamp == nil:
		return Message{}, fmt.Errorf("%w: missing timestamp", ErrMalformedPayload)
	}
	kind := Kind(*probe.Type)
	switch kind {
	case KindText, KindHeartbeat:
	default:
		return Message{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedPayload, *probe.Type)
	}
	return Message{
		Identity:  *probe.UUID,
		Kind:      kind,
		Payload:   *probe.Payload,
		Timestamp: *probe.Timestamp,
	}, nil
}
