package config

import (
	"fmt"
	"os"
	"strings"
)

const nodeTemplate = `# pulsemesh node configuration
# identity is optional; a fresh UUID is generated when omitted.
# identity = "b2dfd3a0-8f0e-4a6b-9a5f-2f4f6f1a9c11"

heartbeat_interval = "5s"
peer_timeout = "15s"

[multicast]
group = "239.255.42.1"
port = 5007
ttl = 1
loopback = true

# Uncomment to exchange facts through a shared directory instead of
# multicast. The directory is created when missing.
# [shared_dir]
# base_dir = "/var/lib/pulsemesh/mesh"
# poll_interval = "500ms"
# cleanup_interval = "30s"
# retention = "60s"
`

const daemonTemplate = `# pulsemesh daemon configuration

heartbeat_interval = "5s"
peer_timeout = "15s"

[multicast]
group = "239.255.42.1"
port = 5007
ttl = 1
loopback = true

[daemon]
admin_listen_addr = "127.0.0.1:8087"
cors_origins = ["http://localhost:3000"]
status_interval = "5s"
`

// Template returns the starter file body for the given kind.
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "node":
		return nodeTemplate, nil
	case "daemon":
		return daemonTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

// WriteTemplate writes a starter config to path, refusing to clobber an
// existing file unless overwrite is set.
func WriteTemplate(path, kind string, overwrite bool) error {
	body, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(body), 0o600)
}
