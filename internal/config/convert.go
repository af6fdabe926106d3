package config

import (
	"strings"
	"time"

	"github.com/pulsemesh/pulsemesh/internal/messenger"
	"github.com/pulsemesh/pulsemesh/internal/transport"
)

// ToMessengerConfig maps a parsed node config onto the runtime config,
// filling anything the file left out from the runtime defaults.
func ToMessengerConfig(cfg NodeConfig) (messenger.Config, error) {
	if err := ValidateNodeConfig(cfg); err != nil {
		return messenger.Config{}, err
	}

	mc := messenger.DefaultConfig()
	mc.Identity = strings.TrimSpace(cfg.Identity)

	hb, err := parseInterval("heartbeat_interval", cfg.HeartbeatInterval)
	if err != nil {
		return messenger.Config{}, err
	}
	mc.HeartbeatInterval = hb

	pt, err := parseInterval("peer_timeout", cfg.PeerTimeout)
	if err != nil {
		return messenger.Config{}, err
	}
	mc.PeerTimeout = pt

	mc.Multicast = multicastFrom(cfg.Multicast)
	mc.SharedDir = sharedDirFrom(cfg.SharedDir)
	return mc, nil
}

// ToServiceConfig maps a parsed node config onto the daemon service config.
func ToServiceConfig(cfg NodeConfig) (messenger.ServiceConfig, error) {
	mc, err := ToMessengerConfig(cfg)
	if err != nil {
		return messenger.ServiceConfig{}, err
	}

	sc := messenger.DefaultServiceConfig()
	sc.Messenger = mc
	sc.AdminListenAddr = strings.TrimSpace(cfg.Daemon.AdminListenAddr)
	sc.CORSOrigins = cfg.Daemon.CORSOrigins
	if cfg.Daemon.StatusInterval != "" {
		d, err := time.ParseDuration(cfg.Daemon.StatusInterval)
		if err == nil && d > 0 {
			sc.StatusInterval = d
		}
	}
	return sc, nil
}

func multicastFrom(in MulticastConfig) transport.MulticastConfig {
	out := transport.DefaultMulticastConfig()
	if g := strings.TrimSpace(in.Group); g != "" {
		out.Group = g
	}
	if in.Port > 0 {
		out.Port = in.Port
	}
	if in.TTL > 0 {
		out.TTL = in.TTL
	}
	out.Loopback = in.Loopback
	return out
}

func sharedDirFrom(in SharedDirConfig) transport.SharedDirConfig {
	out := transport.DefaultSharedDirConfig()
	out.BaseDir = strings.TrimSpace(in.BaseDir)
	if d, err := time.ParseDuration(in.PollInterval); err == nil && d > 0 {
		out.PollInterval = d
	}
	if d, err := time.ParseDuration(in.CleanupInterval); err == nil && d > 0 {
		out.CleanupInterval = d
	}
	if d, err := time.ParseDuration(in.Retention); err == nil && d > 0 {
		out.Retention = d
	}
	return out
}
