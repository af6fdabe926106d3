package transport

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulsemesh/pulsemesh/internal/protocol"
)

// MemoryHub delivers broadcasts between in-process transports. It mirrors
// the multicast group's semantics, loopback included: every open member
// receives every send, the sender's own sends too. Intended for wiring
// orchestrators together in tests without sockets or disk.
type MemoryHub struct {
	mu      sync.Mutex
	members map[*Memory]struct{}
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{members: make(map[*Memory]struct{})}
}

// NewTransport returns a transport attached to this hub. The transport
// joins the hub on Open and leaves on Close.
func (h *MemoryHub) NewTransport() *Memory {
	return &Memory{hub: h, pollTimeout: 1 * time.Second}
}

func (h *MemoryHub) broadcast(msg protocol.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for m := range h.members {
		select {
		case m.inbox <- msg:
		default:
			log.Debug().Str("identity", msg.Identity).Msg("transport.memory inbox full, dropped")
		}
	}
}

func (h *MemoryHub) join(m *Memory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.members[m] = struct{}{}
}

func (h *MemoryHub) leave(m *Memory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.members, m)
}

// Memory is one hub member. Dropped sends under a full inbox are the
// in-process stand-in for datagram loss.
type Memory struct {
	hub         *MemoryHub
	pollTimeout time.Duration

	mu       sync.Mutex
	open     bool
	inbox    chan protocol.Message
	shutdown chan struct{}
}

func (m *Memory) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		return nil
	}
	m.inbox = make(chan protocol.Message, 256)
	m.shutdown = make(chan struct{})
	m.open = true
	m.hub.join(m)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return nil
	}
	m.open = false
	m.hub.leave(m)
	close(m.shutdown)
	return nil
}

func (m *Memory) Send(msg protocol.Message) error {
	m.mu.Lock()
	open := m.open
	m.mu.Unlock()
	if !open {
		return ErrClosed
	}
	if _, err := protocol.Encode(msg); err != nil {
		return err
	}
	m.hub.broadcast(msg)
	return nil
}

func (m *Memory) SendHeartbeat(msg protocol.Message) error {
	return m.Send(msg)
}

func (m *Memory) Receive() (protocol.Message, error) {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return protocol.Message{}, ErrClosed
	}
	inbox := m.inbox
	shutdown := m.shutdown
	m.mu.Unlock()

	timer := time.NewTimer(m.pollTimeout)
	defer timer.Stop()
	select {
	case msg := <-inbox:
		return msg, nil
	case <-shutdown:
		return protocol.Message{}, ErrClosed
	case <-timer.C:
		return protocol.Message{}, ErrReceiveTimeout
	}
}
