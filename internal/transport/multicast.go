package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"

	"github.com/pulsemesh/pulsemesh/internal/protocol"
)

// MulticastConfig defines the fixed group endpoint and socket behavior.
type MulticastConfig struct {
	Group       string
	Port        int
	TTL         int
	Loopback    bool
	ReadBuffer  int
	PollTimeout time.Duration
}

// DefaultMulticastConfig returns the deployment-fixed group endpoint.
// Every participant must share these values or they will not hear
// each other.
func DefaultMulticastConfig() MulticastConfig {
	return MulticastConfig{
		Group:       "239.255.42.1",
		Port:        5007,
		TTL:         1,
		Loopback:    true,
		ReadBuffer:  64 * 1024,
		PollTimeout: 1 * time.Second,
	}
}

func (c MulticastConfig) WithDefaults() MulticastConfig {
	def := DefaultMulticastConfig()
	if strings.TrimSpace(c.Group) == "" {
		c.Group = def.Group
	}
	if c.Port <= 0 {
		c.Port = def.Port
	}
	if c.TTL <= 0 {
		c.TTL = def.TTL
	}
	if c.ReadBuffer <= 0 {
		c.ReadBuffer = def.ReadBuffer
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = def.PollTimeout
	}
	return c
}

// Multicast carries facts as single UDP datagrams on one multicast group.
// The receive socket binds the group address where the platform allows it
// and falls back to the wildcard address where it does not; the probe runs
// once per Open and the chosen mode holds for the life of the socket.
// Receive is meant for a single reader loop.
type Multicast struct {
	cfg   MulticastConfig
	group *net.UDPAddr

	mu     sync.Mutex
	recv   *net.UDPConn
	member *ipv4.PacketConn
	send   *net.UDPConn
	sendPC *ipv4.PacketConn
	buf    []byte
	open   bool
}

func NewMulticast(cfg MulticastConfig) (*Multicast, error) {
	cfg = cfg.WithDefaults()
	ip := net.ParseIP(cfg.Group)
	if ip == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("%w: group %q is not a multicast address", ErrSetup, cfg.Group)
	}
	if cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrSetup, cfg.Port)
	}
	return &Multicast{
		cfg:   cfg,
		group: &net.UDPAddr{IP: ip.To4(), Port: cfg.Port},
	}, nil
}

// Open binds the receive socket, joins the group, and prepares the unbound
// send socket. Any failure tears down whatever was set up and surfaces
// wrapped in ErrSetup. Calling Open on an open transport is a no-op.
func (m *Multicast) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		return nil
	}

	recv, bound, err := m.bindReceive()
	if err != nil {
		return fmt.Errorf("%w: bind receive socket: %v", ErrSetup, err)
	}
	if err := recv.SetReadBuffer(m.cfg.ReadBuffer); err != nil {
		log.Warn().Err(err).Int("bytes", m.cfg.ReadBuffer).Msg("transport.multicast receive buffer not applied")
	}

	member := ipv4.NewPacketConn(recv)
	if err := member.JoinGroup(nil, &net.UDPAddr{IP: m.group.IP}); err != nil {
		_ = recv.Close()
		return fmt.Errorf("%w: join group %s: %v", ErrSetup, m.group.IP, err)
	}

	send, err := net.ListenUDP("udp4", nil)
	if err != nil {
		_ = recv.Close()
		return fmt.Errorf("%w: open send socket: %v", ErrSetup, err)
	}
	sendPC := ipv4.NewPacketConn(send)
	if err := sendPC.SetMulticastTTL(m.cfg.TTL); err != nil {
		_ = recv.Close()
		_ = send.Close()
		return fmt.Errorf("%w: set ttl: %v", ErrSetup, err)
	}
	if err := sendPC.SetMulticastLoopback(m.cfg.Loopback); err != nil {
		_ = recv.Close()
		_ = send.Close()
		return fmt.Errorf("%w: set loopback: %v", ErrSetup, err)
	}

	m.recv = recv
	m.member = member
	m.send = send
	m.sendPC = sendPC
	m.buf = make([]byte, m.cfg.ReadBuffer)
	m.open = true
	log.Debug().
		Str("group", m.group.String()).
		Str("bound", bound).
		Int("ttl", m.cfg.TTL).
		Bool("loopback", m.cfg.Loopback).
		Msg("transport.multicast open")
	return nil
}

// bindReceive probes whether the platform accepts binding the group
// address directly. Linux and the BSDs do, and binding there filters
// unrelated unicast traffic on the same port; elsewhere the wildcard
// address is the only bind that works.
func (m *Multicast) bindReceive() (*net.UDPConn, string, error) {
	lc := net.ListenConfig{Control: reuseControl}
	groupAddr := net.JoinHostPort(m.group.IP.String(), fmt.Sprintf("%d", m.cfg.Port))
	pc, err := lc.ListenPacket(context.Background(), "udp4", groupAddr)
	if err == nil {
		return pc.(*net.UDPConn), groupAddr, nil
	}
	wildcard := fmt.Sprintf(":%d", m.cfg.Port)
	pc, werr := lc.ListenPacket(context.Background(), "udp4", wildcard)
	if werr != nil {
		return nil, "", errors.Join(err, werr)
	}
	return pc.(*net.UDPConn), wildcard, nil
}

// Close releases both sockets. Safe to call repeatedly; the group
// membership drops with the receive socket.
func (m *Multicast) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return nil
	}
	m.open = false
	err := errors.Join(m.recv.Close(), m.send.Close())
	m.recv = nil
	m.member = nil
	m.send = nil
	m.sendPC = nil
	log.Debug().Str("group", m.group.String()).Msg("transport.multicast closed")
	return err
}

// Send encodes one fact and emits it as a single datagram to the group.
func (m *Multicast) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	m.mu.Lock()
	send := m.send
	m.mu.Unlock()
	if send == nil {
		return ErrClosed
	}
	if _, err := send.WriteToUDP(data, m.group); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// SendHeartbeat shares the datagram path with Send; liveness facts get
// no special wire treatment here.
func (m *Multicast) SendHeartbeat(msg protocol.Message) error {
	return m.Send(msg)
}

// Receive waits at most the poll timeout for one datagram and decodes it.
// A quiet cycle reports ErrReceiveTimeout and a closed socket ErrClosed.
// Undecodable datagrams surface the codec's error; callers drop and poll on.
func (m *Multicast) Receive() (protocol.Message, error) {
	m.mu.Lock()
	recv := m.recv
	buf := m.buf
	m.mu.Unlock()
	if recv == nil {
		return protocol.Message{}, ErrClosed
	}

	_ = recv.SetReadDeadline(time.Now().Add(m.cfg.PollTimeout))
	n, _, err := recv.ReadFromUDP(buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return protocol.Message{}, ErrClosed
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return protocol.Message{}, ErrReceiveTimeout
		}
		return protocol.Message{}, err
	}
	return protocol.Decode(buf[:n])
}
