package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type NodeConfig struct {
	Identity          string          `toml:"identity"`
	HeartbeatInterval string          `toml:"heartbeat_interval"`
	PeerTimeout       string          `toml:"peer_timeout"`
	Multicast         MulticastConfig `toml:"multicast"`
	SharedDir         SharedDirConfig `toml:"shared_dir"`
	Daemon            DaemonConfig    `toml:"daemon"`
}

type MulticastConfig struct {
	Group    string `toml:"group"`
	Port     int    `toml:"port"`
	TTL      int    `toml:"ttl"`
	Loopback bool   `toml:"loopback"`
}

type SharedDirConfig struct {
	BaseDir         string `toml:"base_dir"`
	PollInterval    string `toml:"poll_interval"`
	CleanupInterval string `toml:"cleanup_interval"`
	Retention       string `toml:"retention"`
}

type DaemonConfig struct {
	AdminListenAddr string   `toml:"admin_listen_addr"`
	CORSOrigins     []string `toml:"cors_origins"`
	StatusInterval  string   `toml:"status_interval"`
}

// DefaultNodeConfig mirrors the deployment-fixed endpoint and cadences.
// Loads overlay the file's fields onto these values, so an absent field
// keeps its default.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		HeartbeatInterval: "5s",
		PeerTimeout:       "15s",
		Multicast: MulticastConfig{
			Group:    "239.255.42.1",
			Port:     5007,
			TTL:      1,
			Loopback: true,
		},
		SharedDir: SharedDirConfig{
			PollInterval:    "500ms",
			CleanupInterval: "30s",
			Retention:       "60s",
		},
	}
}

func LoadNodeConfig(path string) (NodeConfig, error) {
	cfg := DefaultNodeConfig()
	if err := loadToml(path, &cfg); err != nil {
		return NodeConfig{}, err
	}
	if err := ValidateNodeConfig(cfg); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateNodeConfig(cfg NodeConfig) error {
	if _, err := parseInterval("heartbeat_interval", cfg.HeartbeatInterval); err != nil {
		return err
	}
	if _, err := parseInterval("peer_timeout", cfg.PeerTimeout); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.SharedDir.BaseDir) == "" {
		if strings.TrimSpace(cfg.Multicast.Group) == "" {
			return fmt.Errorf("node config missing multicast group")
		}
		if cfg.Multicast.Port <= 0 || cfg.Multicast.Port > 65535 {
			return fmt.Errorf("node config multicast port out of range: %d", cfg.Multicast.Port)
		}
		if cfg.Multicast.TTL <= 0 {
			return fmt.Errorf("node config multicast ttl must be positive")
		}
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"shared_dir.poll_interval", cfg.SharedDir.PollInterval},
		{"shared_dir.cleanup_interval", cfg.SharedDir.CleanupInterval},
		{"shared_dir.retention", cfg.SharedDir.Retention},
		{"daemon.status_interval", cfg.Daemon.StatusInterval},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("node config %s invalid: %v", field.name, err)
		}
	}
	return nil
}

// parseInterval parses a required positive duration field.
func parseInterval(name, value string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, fmt.Errorf("node config missing %s", name)
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("node config %s invalid: %v", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("node config %s must be positive", name)
	}
	return d, nil
}
