package discovery

import "testing"

func TestStub_String(t *testing.T) {
	stub := &Stub{
		Instance: "lab-vm",
		Hostname: "lab-vm.local.",
		IP:       "192.168.4.16",
		Port:     1234,
	}

	expected := `gdb stub "lab-vm" (lab-vm.local.) at 192.168.4.16:1234`
	if stub.String() != expected {
		t.Errorf("Stub.String() = %v, want %v", stub.String(), expected)
	}
}

func TestStub_Address(t *testing.T) {
	tests := []struct {
		name     string
		stub     *Stub
		expected string
	}{
		{
			name:     "IPv4",
			stub:     &Stub{IP: "192.168.4.16", Port: 1234},
			expected: "192.168.4.16:1234",
		},
		{
			name:     "IPv6",
			stub:     &Stub{IP: "fe80::1", Port: 9999},
			expected: "[fe80::1]:9999",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stub.Address(); got != tt.expected {
				t.Errorf("Stub.Address() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestStub_GetMetadata(t *testing.T) {
	stub := &Stub{
		Metadata: map[string]string{
			"arch": "x86_64",
			"pid":  "4242",
		},
	}

	tests := []struct {
		key      string
		expected string
	}{
		{"arch", "x86_64"},
		{"pid", "4242"},
		{"missing", ""},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := stub.GetMetadata(tt.key); got != tt.expected {
				t.Errorf("Stub.GetMetadata(%v) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}

	if got := stub.Arch(); got != "x86_64" {
		t.Errorf("Stub.Arch() = %v", got)
	}
	if got := (&Stub{}).GetMetadata("anything"); got != "" {
		t.Errorf("Stub.GetMetadata() with nil map = %v, want empty string", got)
	}
}
