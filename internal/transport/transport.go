package transport

import (
	"errors"

	"github.com/pulsemesh/pulsemesh/internal/protocol"
)

var (
	ErrSetup          = errors.New("transport: setup failed")
	ErrClosed         = errors.New("transport: closed")
	ErrReceiveTimeout = errors.New("transport: receive timed out")
)

// Transport is the contract every fact carrier satisfies. Open wires the
// backend up, Close releases it, and both are safe to call more than once.
// Receive blocks for at most the configured poll timeout and reports a
// quiet cycle as ErrReceiveTimeout so callers can loop on it.
type Transport interface {
	Open() error
	Close() error
	Send(msg protocol.Message) error
	SendHeartbeat(msg protocol.Message) error
	Receive() (protocol.Message, error)
}

// PeerSource is implemented by transports that can enumerate recently
// alive issuers on their own, without the orchestrator's registry. The
// shared-directory backend satisfies it by reading heartbeat files.
type PeerSource interface {
	ActivePeers(now float64) map[string]float64
}
