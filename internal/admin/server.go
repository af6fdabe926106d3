// Package admin serves the daemon's HTTP surface: liveness probes, the
// peer view, broadcast injection, and prometheus metrics. It depends on
// a narrow core contract so any runtime can sit behind it.
package admin

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/pulsemesh/pulsemesh/internal/observability"
	"github.com/pulsemesh/pulsemesh/internal/protocol"
)

// Core is the runtime surface the admin server exposes.
type Core interface {
	Identity() string
	State() string
	Peers() map[string]float64
	ActivePeerCount() int
	Send(text string) error
}

// Config configures the admin listener.
type Config struct {
	ListenAddr      string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

func (c Config) WithDefaults() Config {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	return c
}

// Server wires the admin routes around one core.
type Server struct {
	cfg     Config
	core    Core
	router  *gin.Engine
	started time.Time
}

func New(core Core, cfg Config) *Server {
	cfg = cfg.WithDefaults()
	observability.RegisterMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(core.Identity()))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		core:    core,
		router:  r,
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

// Router exposes the gin engine for tests and embedding.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Serve blocks until the context is canceled, then drains with a bounded
// shutdown.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.ListenAddr, Handler: s.router}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", s.cfg.ListenAddr).Msg("admin listening")

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Str("addr", s.cfg.ListenAddr).Msg("admin stopped")
	return nil
}

type sendRequest struct {
	Text string `json:"text" binding:"required"`
}

type peerEntry struct {
	Identity string  `json:"identity"`
	LastSeen float64 `json:"last_seen"`
	AgoSecs  float64 `json:"ago_secs"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(s.started).String(),
			"identity": s.core.Identity(),
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		running := s.core.State() == "running"
		status := http.StatusOK
		if !running {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":    running,
			"state":    s.core.State(),
			"identity": s.core.Identity(),
		})
	})

	s.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"identity":     s.core.Identity(),
			"state":        s.core.State(),
			"active_peers": s.core.ActivePeerCount(),
			"uptime":       time.Since(s.started).String(),
		})
	})

	s.router.GET("/peers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"peers": listPeers(s.core.Peers())})
	})

	s.router.GET("/peers/count", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"count": s.core.ActivePeerCount()})
	})

	s.router.POST("/messages", func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.core.Send(req.Text); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// listPeers flattens the peer map for transport, newest first.
func listPeers(peers map[string]float64) []peerEntry {
	now := protocol.Now()
	list := make([]peerEntry, 0, len(peers))
	for identity, lastSeen := range peers {
		list = append(list, peerEntry{
			Identity: identity,
			LastSeen: lastSeen,
			AgoSecs:  now - lastSeen,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].LastSeen == list[j].LastSeen {
			return list[i].Identity < list[j].Identity
		}
		return list[i].LastSeen > list[j].LastSeen
	})
	return list
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
