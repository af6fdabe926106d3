package main

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/pulsemesh/pulsemesh/internal/messenger"
)

// pulsectl config.toml key mapping to daemon runtime settings.
type fileConfig struct {
	Identity          string              `toml:"identity"`
	HeartbeatInterval string              `toml:"heartbeat_interval"`
	PeerTimeout       string              `toml:"peer_timeout"`
	Multicast         fileMulticastConfig `toml:"multicast"`
	SharedDir         fileSharedDirConfig `toml:"shared_dir"`
	Daemon            fileDaemonConfig    `toml:"daemon"`
}

type fileMulticastConfig struct {
	Group    string `toml:"group"`
	Port     int    `toml:"port"`
	TTL      int    `toml:"ttl"`
	Loopback bool   `toml:"loopback"`
}

type fileSharedDirConfig struct {
	BaseDir         string `toml:"base_dir"`
	PollInterval    string `toml:"poll_interval"`
	CleanupInterval string `toml:"cleanup_interval"`
	Retention       string `toml:"retention"`
}

type fileDaemonConfig struct {
	AdminListenAddr string   `toml:"admin_listen_addr"`
	CORSOrigins     []string `toml:"cors_origins"`
	StatusInterval  string   `toml:"status_interval"`
}

// pulsectl loader for TOML config with default overlay. Only keys present
// in the file replace defaults.
func loadServiceConfig(path string) (messenger.ServiceConfig, error) {
	cfg := messenger.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return messenger.ServiceConfig{}, fmt.Errorf("load pulsectl config: %w", err)
	}

	if meta.IsDefined("identity") {
		cfg.Messenger.Identity = strings.TrimSpace(raw.Identity)
	}

	if meta.IsDefined("heartbeat_interval") {
		d, err := parseDurationField("heartbeat_interval", raw.HeartbeatInterval)
		if err != nil {
			return messenger.ServiceConfig{}, err
		}
		cfg.Messenger.HeartbeatInterval = d
	}

	if meta.IsDefined("peer_timeout") {
		d, err := parseDurationField("peer_timeout", raw.PeerTimeout)
		if err != nil {
			return messenger.ServiceConfig{}, err
		}
		cfg.Messenger.PeerTimeout = d
	}

	if meta.IsDefined("multicast", "group") {
		group := strings.TrimSpace(raw.Multicast.Group)
		if net.ParseIP(group) == nil {
			return messenger.ServiceConfig{}, fmt.Errorf("parse multicast group: %q is not an ip address", raw.Multicast.Group)
		}
		cfg.Messenger.Multicast.Group = group
	}
	if meta.IsDefined("multicast", "port") {
		cfg.Messenger.Multicast.Port = raw.Multicast.Port
	}
	if meta.IsDefined("multicast", "ttl") {
		cfg.Messenger.Multicast.TTL = raw.Multicast.TTL
	}
	if meta.IsDefined("multicast", "loopback") {
		cfg.Messenger.Multicast.Loopback = raw.Multicast.Loopback
	}

	if meta.IsDefined("shared_dir", "base_dir") {
		cfg.Messenger.SharedDir.BaseDir = strings.TrimSpace(raw.SharedDir.BaseDir)
	}
	if meta.IsDefined("shared_dir", "poll_interval") {
		d, err := parseDurationField("shared_dir.poll_interval", raw.SharedDir.PollInterval)
		if err != nil {
			return messenger.ServiceConfig{}, err
		}
		cfg.Messenger.SharedDir.PollInterval = d
	}
	if meta.IsDefined("shared_dir", "cleanup_interval") {
		d, err := parseDurationField("shared_dir.cleanup_interval", raw.SharedDir.CleanupInterval)
		if err != nil {
			return messenger.ServiceConfig{}, err
		}
		cfg.Messenger.SharedDir.CleanupInterval = d
	}
	if meta.IsDefined("shared_dir", "retention") {
		d, err := parseDurationField("shared_dir.retention", raw.SharedDir.Retention)
		if err != nil {
			return messenger.ServiceConfig{}, err
		}
		cfg.Messenger.SharedDir.Retention = d
	}

	if meta.IsDefined("daemon", "admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.Daemon.AdminListenAddr)
	}
	if meta.IsDefined("daemon", "cors_origins") {
		cfg.CORSOrigins = normalizeOrigins(raw.Daemon.CORSOrigins)
	}
	if meta.IsDefined("daemon", "status_interval") {
		d, err := parseDurationField("daemon.status_interval", raw.Daemon.StatusInterval)
		if err != nil {
			return messenger.ServiceConfig{}, err
		}
		cfg.StatusInterval = d
	}

	return cfg, nil
}

func parseDurationField(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return d, nil
}

func normalizeOrigins(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
