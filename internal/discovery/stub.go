package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Stub represents a debug stub advertised on the network
type Stub struct {
	// Instance is the mDNS instance name (e.g., "lab-vm gdbserver")
	Instance string

	// Hostname is the mDNS hostname (e.g., "lab-vm.local.")
	Hostname string

	// IP is the address the stub listens on, IPv4 preferred
	IP string

	// Port is the RSP port
	Port int

	// Metadata contains the mDNS TXT record data
	// Common fields: "arch=x86_64", "pid=4242", "binary=/tmp/not_packed_elf64"
	Metadata map[string]string

	// DiscoveredAt is when the stub was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the stub
func (s *Stub) String() string {
	return fmt.Sprintf("gdb stub %q (%s) at %s", s.Instance, s.Hostname, s.Address())
}

// Address returns the host:port to dial
func (s *Stub) Address() string {
	return net.JoinHostPort(s.IP, strconv.Itoa(s.Port))
}

// Arch returns the advertised architecture, or empty string if unknown
func (s *Stub) Arch() string {
	return s.GetMetadata("arch")
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (s *Stub) GetMetadata(key string) string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[key]
}
