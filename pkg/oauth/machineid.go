package oauth

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"strings"
)

// machineIdentity returns a stable identifier for this host, used as key
// material when no password is supplied. Keys derived from it are host-bound:
// credentials encrypted here cannot be moved to another machine.
func machineIdentity() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id
			}
		}
	}

	// Fallback: hostname plus username
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	return fmt.Sprintf("%s@%s", username, hostname)
}

// machineSalt derives a salt from the first hardware MAC address, matching
// the machine-bound key derivation.
func machineSalt() []byte {
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 {
				continue
			}
			if len(iface.HardwareAddr) >= 6 {
				return []byte(iface.HardwareAddr)
			}
		}
	}
	return []byte("billsync-fallback-salt")
}
