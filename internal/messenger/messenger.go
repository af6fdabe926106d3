package messenger

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulsemesh/pulsemesh/internal/observability"
	"github.com/pulsemesh/pulsemesh/internal/peers"
	"github.com/pulsemesh/pulsemesh/internal/protocol"
	"github.com/pulsemesh/pulsemesh/internal/transport"
)

var (
	ErrNotStarted               = errors.New("messenger: not started")
	ErrInvalidHeartbeatInterval = errors.New("messenger: invalid heartbeat interval")
)

// State describes messenger runtime phase transitions.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Handler consumes one delivered text fact from another participant.
type Handler func(msg protocol.Message)

// Config configures one messenger instance. The zero value plus
// WithDefaults yields a multicast participant with a generated identity.
type Config struct {
	Identity          string
	HeartbeatInterval time.Duration
	PeerTimeout       time.Duration
	StopTimeout       time.Duration
	Multicast         transport.MulticastConfig
	SharedDir         transport.SharedDirConfig

	// Transport overrides backend selection entirely when set.
	Transport transport.Transport
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		PeerTimeout:       15 * time.Second,
		StopTimeout:       2 * time.Second,
		Multicast:         transport.DefaultMulticastConfig(),
		SharedDir:         transport.DefaultSharedDirConfig(),
	}
}

// WithDefaults overlays unset fields. An unset peer timeout follows the
// heartbeat cadence at three missed beats. A negative heartbeat interval
// is left alone for Start to reject.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.PeerTimeout == 0 {
		c.PeerTimeout = 3 * c.HeartbeatInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = def.StopTimeout
	}
	return c
}

// Messenger is the broadcast orchestrator: one identity, one transport,
// one registry, two workers. Everything it sends carries its identity;
// everything it hears updates its liveness view.
type Messenger struct {
	cfg      Config
	identity string
	reg      *peers.Registry
	tr       transport.Transport

	mu       sync.Mutex
	state    State
	handlers []Handler
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New selects the transport and fixes the identity. No sockets or files
// are touched until Start. Selection order: explicit Transport override,
// then a shared directory when its base path is set, then multicast.
func New(cfg Config) (*Messenger, error) {
	cfg = cfg.WithDefaults()
	identity := strings.TrimSpace(cfg.Identity)
	if identity == "" {
		identity = protocol.NewIdentity()
	}

	tr := cfg.Transport
	if tr == nil {
		if strings.TrimSpace(cfg.SharedDir.BaseDir) != "" {
			sd, err := transport.NewSharedDir(cfg.SharedDir, identity)
			if err != nil {
				return nil, err
			}
			tr = sd
		} else {
			mc, err := transport.NewMulticast(cfg.Multicast)
			if err != nil {
				return nil, err
			}
			tr = mc
		}
	}

	observability.RegisterMetrics()
	return &Messenger{
		cfg:      cfg,
		identity: identity,
		reg:      peers.NewRegistry(identity),
		tr:       tr,
		state:    StateStopped,
	}, nil
}

// Identity returns this participant's fixed identity.
func (m *Messenger) Identity() string {
	return m.identity
}

// State returns the current lifecycle state.
func (m *Messenger) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnMessage registers a callback for foreign text facts. Callbacks run
// on the receive worker in registration order and are never removed.
func (m *Messenger) OnMessage(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// AddHandler registers a callback; same contract as OnMessage.
func (m *Messenger) AddHandler(handler Handler) {
	m.OnMessage(handler)
}

// Start opens the transport, launches the receive and heartbeat workers,
// and announces this participant with one immediate heartbeat. Starting
// an already running messenger is a no-op. Transport setup failures
// surface and leave the messenger stopped; there is no retry.
func (m *Messenger) Start() error {
	m.mu.Lock()
	if m.state != StateStopped {
		m.mu.Unlock()
		return nil
	}
	if m.cfg.HeartbeatInterval <= 0 {
		m.mu.Unlock()
		return ErrInvalidHeartbeatInterval
	}
	m.state = StateStarting
	m.mu.Unlock()

	if err := m.tr.Open(); err != nil {
		m.mu.Lock()
		m.state = StateStopped
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.shutdown = make(chan struct{})
	m.state = StateRunning
	m.mu.Unlock()

	m.wg.Add(2)
	go m.receiveLoop()
	go m.heartbeatLoop()

	// Announce before returning so peers can learn this participant
	// without waiting out the first tick.
	if err := m.tr.SendHeartbeat(protocol.NewHeartbeat(m.identity)); err != nil {
		log.Debug().Err(err).Str("identity", m.identity).Msg("messenger initial heartbeat failed")
		observability.RecordHeartbeatFailure()
	}
	log.Info().
		Str("identity", m.identity).
		Dur("heartbeat", m.cfg.HeartbeatInterval).
		Dur("peer_timeout", m.cfg.PeerTimeout).
		Msg("messenger started")
	return nil
}

// Stop cancels the workers, joins them within the stop bound, and
// releases the transport. Stopping a messenger that is not running is a
// no-op. Workers that miss the bound are abandoned with a warning; the
// transport is released regardless.
func (m *Messenger) Stop() {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return
	}
	m.state = StateStopping
	close(m.shutdown)
	m.mu.Unlock()

	if !waitTimeout(&m.wg, m.cfg.StopTimeout) {
		log.Warn().Dur("timeout", m.cfg.StopTimeout).Msg("messenger workers did not stop in time")
	}
	if err := m.tr.Close(); err != nil {
		log.Debug().Err(err).Msg("messenger transport close failed")
	}

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()
	log.Info().Str("identity", m.identity).Msg("messenger stopped")
}

// Send broadcasts one text fact stamped now. It fails with ErrNotStarted
// before Start; transport errors surface to the caller unretried.
func (m *Messenger) Send(text string) error {
	m.mu.Lock()
	running := m.state == StateRunning
	m.mu.Unlock()
	if !running {
		return ErrNotStarted
	}
	if err := m.tr.Send(protocol.NewText(m.identity, text)); err != nil {
		return err
	}
	observability.RecordMessageSent(string(protocol.KindText))
	return nil
}

// GetPeers returns the live peer view: registry entries within the
// liveness timeout, merged with the transport's own view when it has
// one. The newest stamp wins per identity.
func (m *Messenger) GetPeers() map[string]float64 {
	now := protocol.Now()
	merged := m.reg.ActivePeers(now, m.cfg.PeerTimeout)
	if src, ok := m.tr.(transport.PeerSource); ok {
		for identity, lastSeen := range src.ActivePeers(now) {
			if current, ok := merged[identity]; !ok || lastSeen > current {
				merged[identity] = lastSeen
			}
		}
	}
	return merged
}

// GetActivePeerCount returns the size of the live peer view.
func (m *Messenger) GetActivePeerCount() int {
	return len(m.GetPeers())
}

// receiveLoop drains the transport until shutdown. Quiet cycles and
// malformed payloads keep the loop alive; only closure ends it.
func (m *Messenger) receiveLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.shutdown:
			return
		default:
		}

		msg, err := m.tr.Receive()
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrReceiveTimeout):
			case errors.Is(err, transport.ErrClosed):
				return
			case errors.Is(err, protocol.ErrMalformedPayload):
				observability.RecordDecodeFailure()
				log.Warn().Err(err).Msg("messenger dropped malformed payload")
			default:
				log.Warn().Err(err).Msg("messenger receive failed")
			}
			continue
		}
		m.handleMessage(msg)
	}
}

// handleMessage applies one decoded fact: registry first, then dispatch.
// Self-authored facts update nothing and reach no callback; heartbeats
// stop at the registry.
func (m *Messenger) handleMessage(msg protocol.Message) {
	if msg.Identity != m.identity {
		m.reg.Observe(msg.Identity, msg.Timestamp)
	}
	observability.RecordMessageReceived(string(msg.Kind))

	if msg.Kind != protocol.KindText || msg.Identity == m.identity {
		return
	}
	for _, handler := range m.handlersSnapshot() {
		m.invoke(handler, msg)
	}
}

// invoke runs one callback with fault isolation: a panic is recovered
// and logged, and the remaining callbacks still run.
func (m *Messenger) invoke(handler Handler, msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			observability.RecordHandlerFailure()
			log.Error().
				Interface("panic", r).
				Str("from", msg.Identity).
				Msg("messenger handler panic recovered")
		}
	}()
	handler(msg)
}

func (m *Messenger) handlersSnapshot() []Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Handler, len(m.handlers))
	copy(out, m.handlers)
	return out
}

// heartbeatLoop announces liveness on the configured cadence and prunes
// registry entries stale past twice the liveness timeout. Send failures
// are swallowed; a missed beat costs one staleness window, nothing more.
func (m *Messenger) heartbeatLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.shutdown:
			return
		case <-ticker.C:
			if err := m.tr.SendHeartbeat(protocol.NewHeartbeat(m.identity)); err != nil {
				observability.RecordHeartbeatFailure()
				log.Debug().Err(err).Msg("messenger heartbeat send failed")
			}
			now := protocol.Now()
			if evicted := m.reg.Prune(now, 2*m.cfg.PeerTimeout); evicted > 0 {
				log.Debug().Int("evicted", evicted).Msg("messenger registry pruned")
			}
			observability.SetActivePeers(m.reg.Count(now, m.cfg.PeerTimeout))
		}
	}
}

// waitTimeout waits for the group up to d and reports whether it
// finished in time.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
