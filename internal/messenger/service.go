package messenger

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulsemesh/pulsemesh/internal/admin"
)

// ServiceConfig configures the daemon runtime around one messenger.
type ServiceConfig struct {
	Messenger       Config
	AdminListenAddr string
	CORSOrigins     []string
	StatusInterval  time.Duration
}

// Daemon defaults: multicast participant, no admin surface, status on
// the heartbeat cadence.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Messenger: DefaultConfig(),
	}
}

// Service runs one messenger as a standalone process.
type Service struct {
	cfg ServiceConfig
	m   *Messenger
}

// Daemon constructor using default runtime config.
func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

// Daemon constructor using explicit config.
func NewServiceWithConfig(cfg ServiceConfig) *Service {
	cfg.Messenger = cfg.Messenger.WithDefaults()
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = cfg.Messenger.HeartbeatInterval
	}
	return &Service{cfg: cfg}
}

// Messenger returns the running messenger once bootstrap has built it.
func (s *Service) Messenger() *Messenger {
	return s.m
}

// Daemon entrypoint that blocks until process signal shutdown.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.bootstrap(); err != nil {
		return err
	}
	return s.serve(ctx)
}

// Daemon bootstrap: build the messenger and bring it to running.
func (s *Service) bootstrap() error {
	m, err := New(s.cfg.Messenger)
	if err != nil {
		return err
	}
	if err := m.Start(); err != nil {
		return err
	}
	s.m = m
	log.Info().
		Str("identity", m.Identity()).
		Str("state", string(m.State())).
		Msg("messenger.Service bootstrap ready")
	return nil
}

// Daemon main loop for status logging and the optional admin surface.
func (s *Service) serve(ctx context.Context) error {
	defer s.m.Stop()

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	adminErr := make(chan error, 1)
	if strings.TrimSpace(s.cfg.AdminListenAddr) != "" {
		srv := admin.New(adminCore{s.m}, admin.Config{
			ListenAddr:  s.cfg.AdminListenAddr,
			CORSOrigins: s.cfg.CORSOrigins,
		})
		go func() {
			adminErr <- srv.Serve(ctx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("messenger.Service shutdown")
			return nil
		case err := <-adminErr:
			if err != nil {
				return err
			}
		case <-ticker.C:
			log.Info().
				Str("identity", s.m.Identity()).
				Str("state", string(s.m.State())).
				Int("active_peers", s.m.GetActivePeerCount()).
				Msg("messenger.Service status")
		}
	}
}

// adminCore bridges the admin surface to the messenger so the admin
// package never depends on messenger types.
type adminCore struct {
	m *Messenger
}

func (a adminCore) Identity() string          { return a.m.Identity() }
func (a adminCore) State() string             { return string(a.m.State()) }
func (a adminCore) Peers() map[string]float64 { return a.m.GetPeers() }
func (a adminCore) ActivePeerCount() int      { return a.m.GetActivePeerCount() }
func (a adminCore) Send(text string) error    { return a.m.Send(text) }
