package launcher

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
)

func TestValidateStubConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()

	if err := ValidateStubConnection(context.Background(), addr); err != nil {
		t.Errorf("expected success, got %v", err)
	}

	ln.Close()
	err = ValidateStubConnection(context.Background(), addr)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "gdbserver "+addr) {
		t.Errorf("error should carry a hint: %v", err)
	}
}

func TestValidatePrerequisites(t *testing.T) {
	tests := []struct {
		name          string
		needGDBServer bool
		wantAll       bool
	}{
		{name: "gdbserver required", needGDBServer: true, wantAll: false},
		{name: "gdbserver optional", needGDBServer: false, wantAll: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidatePrerequisites(context.Background(), "/nonexistent/gdbserver", "127.0.0.1:1", tt.needGDBServer)
			if result.AllAvailable != tt.wantAll {
				t.Errorf("AllAvailable = %v, want %v", result.AllAvailable, tt.wantAll)
			}
			if len(result.Checks) != 2 {
				t.Fatalf("expected 2 checks, got %d", len(result.Checks))
			}
			if result.Checks[0].Available {
				t.Error("missing gdbserver should not be available")
			}
		})
	}
}

func TestValidateGDBServerPath(t *testing.T) {
	if err := ValidateGDBServerPath(context.Background(), ""); err == nil {
		t.Error("expected error for empty path")
	}
	err := ValidateGDBServerPath(context.Background(), "/nonexistent/gdbserver")
	var prereq *PrerequisiteError
	if !errors.As(err, &prereq) {
		t.Fatalf("expected PrerequisiteError, got %T: %v", err, err)
	}
}

func TestFormatPrerequisiteReport(t *testing.T) {
	result := &PrerequisiteResult{
		Checks: []PrerequisiteCheck{
			{Name: "gdbserver", Available: true, Required: true, Version: "GNU gdbserver (GDB) 13.1", Message: "Found at /usr/bin/gdbserver"},
			{Name: "GDB stub connection", Message: "Cannot connect\nsecond line"},
		},
		AllAvailable: true,
	}

	report := FormatPrerequisiteReport(result)
	for _, want := range []string{
		"✓ gdbserver",
		"Version: GNU gdbserver (GDB) 13.1",
		"⚠ GDB stub connection",
		"  Cannot connect\n  second line",
		"All required prerequisites are available.",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}

	result.Checks[0].Available = false
	result.AllAvailable = false
	report = FormatPrerequisiteReport(result)
	if !strings.Contains(report, "✗ gdbserver") || !strings.Contains(report, "Some prerequisites are missing") {
		t.Errorf("unexpected report:\n%s", report)
	}
}
