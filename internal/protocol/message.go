package protocol

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the closed message-kind tag carried on the wire.
type Kind string

const (
	KindText      Kind = "message"
	KindHeartbeat Kind = "heartbeat"
)

// Message is one broadcast fact. Immutable once constructed; the
// timestamp is assigned by the issuer and never rewritten downstream.
type Message struct {
	Identity  string
	Kind      Kind
	Payload   string
	Timestamp float64
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.Identity) == "" {
		return fmt.Errorf("message missing identity")
	}
	switch m.Kind {
	case KindText:
	case KindHeartbeat:
		if m.Payload != "" {
			return fmt.Errorf("heartbeat carries payload")
		}
	default:
		return fmt.Errorf("unknown message kind %q", string(m.Kind))
	}
	return nil
}

// NewText builds a text broadcast stamped with the current time.
func NewText(identity, text string) Message {
	return Message{
		Identity:  identity,
		Kind:      KindText,
		Payload:   text,
		Timestamp: Now(),
	}
}

// NewHeartbeat builds a liveness-only broadcast stamped with the current time.
func NewHeartbeat(identity string) Message {
	return Message{
		Identity:  identity,
		Kind:      KindHeartbeat,
		Timestamp: Now(),
	}
}

// NewIdentity returns a fresh participant identity: a 128-bit random
// value rendered as a 36-character hyphenated string.
func NewIdentity() string {
	return uuid.NewString()
}

// Now returns seconds since the epoch with fractional precision, the
// timestamp unit used on the wire and in peer bookkeeping.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
