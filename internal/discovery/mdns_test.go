package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/grandcat/zeroconf"
)

func entry(instance, host string, port int, v4, v6 []net.IP, text ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, ServiceType, ServiceDomain)
	e.HostName = host
	e.Port = port
	e.AddrIPv4 = v4
	e.AddrIPv6 = v6
	e.Text = text
	return e
}

func TestScanner_parseServiceEntry(t *testing.T) {
	scanner := NewScanner()

	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantIP   string
		wantPort int
	}{
		{
			name:     "IPv4 stub",
			entry:    entry("lab-vm", "lab-vm.local.", 1234, []net.IP{net.ParseIP("192.168.4.16")}, nil, "arch=x86_64"),
			wantIP:   "192.168.4.16",
			wantPort: 1234,
		},
		{
			name:     "no port specified (should default)",
			entry:    entry("lab-vm", "lab-vm.local.", 0, []net.IP{net.ParseIP("172.16.0.1")}, nil),
			wantIP:   "172.16.0.1",
			wantPort: DefaultPort,
		},
		{
			name:    "empty instance",
			entry:   entry("", "lab-vm.local.", 1234, []net.IP{net.ParseIP("192.168.1.1")}, nil),
			wantNil: true,
		},
		{
			name:    "no IP address",
			entry:   entry("lab-vm", "lab-vm.local.", 1234, nil, nil),
			wantNil: true,
		},
		{
			name:     "IPv6 only stub",
			entry:    entry("lab-vm", "lab-vm.local.", 1234, nil, []net.IP{net.ParseIP("fe80::1")}),
			wantIP:   "fe80::1",
			wantPort: 1234,
		},
		{
			name: "both IPv4 and IPv6 (should prefer IPv4)",
			entry: entry("lab-vm", "lab-vm.local.", 1234,
				[]net.IP{net.ParseIP("192.168.1.50")}, []net.IP{net.ParseIP("fe80::2")}),
			wantIP:   "192.168.1.50",
			wantPort: 1234,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := scanner.parseServiceEntry(tt.entry)

			if tt.wantNil {
				if stub != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", stub)
				}
				return
			}
			if stub == nil {
				t.Fatal("parseServiceEntry() = nil, want non-nil stub")
			}
			if stub.IP != tt.wantIP {
				t.Errorf("stub.IP = %v, want %v", stub.IP, tt.wantIP)
			}
			if stub.Port != tt.wantPort {
				t.Errorf("stub.Port = %v, want %v", stub.Port, tt.wantPort)
			}
			if stub.Instance != tt.entry.Instance {
				t.Errorf("stub.Instance = %v, want %v", stub.Instance, tt.entry.Instance)
			}
			if time.Since(stub.DiscoveredAt) > time.Second {
				t.Errorf("stub.DiscoveredAt is not recent: %v", stub.DiscoveredAt)
			}
		})
	}
}

func TestScanner_parseServiceEntry_Metadata(t *testing.T) {
	scanner := NewScanner()

	e := entry("lab-vm", "lab-vm.local.", 1234, []net.IP{net.ParseIP("192.168.4.16")}, nil,
		"arch=x86_64", "pid=4242", "multiprocess", "binary=/tmp/a=b")

	stub := scanner.parseServiceEntry(e)
	if stub == nil {
		t.Fatal("parseServiceEntry() = nil, want stub")
	}

	want := map[string]string{
		"arch":         "x86_64",
		"pid":          "4242",
		"multiprocess": "",
		"binary":       "/tmp/a=b",
	}
	if diff := cmp.Diff(want, stub.Metadata); diff != "" {
		t.Errorf("Metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestScanner_ArchFilter(t *testing.T) {
	scanner := NewScanner()
	scanner.Arch = "x86_64"

	amd64 := entry("a", "a.local.", 1234, []net.IP{net.ParseIP("10.0.0.1")}, nil, "arch=x86_64")
	arm := entry("b", "b.local.", 1234, []net.IP{net.ParseIP("10.0.0.2")}, nil, "arch=aarch64")
	unknown := entry("c", "c.local.", 1234, []net.IP{net.ParseIP("10.0.0.3")}, nil)

	if scanner.parseServiceEntry(amd64) == nil {
		t.Error("matching arch filtered out")
	}
	if scanner.parseServiceEntry(arm) != nil {
		t.Error("other arch kept")
	}
	if scanner.parseServiceEntry(unknown) != nil {
		t.Error("stub without arch kept")
	}
}

func TestNewScanner(t *testing.T) {
	scanner := NewScanner()

	if scanner.Timeout != DefaultScanTimeout {
		t.Errorf("scanner.Timeout = %v, want %v", scanner.Timeout, DefaultScanTimeout)
	}
	if scanner.Arch != "" {
		t.Errorf("scanner.Arch = %q, want empty", scanner.Arch)
	}
}

// Note: browsing needs multicast on a live interface and is exercised manually
// with `symbridge discover`.
