package launcher

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"
)

// probeTimeout bounds each prerequisite probe.
const probeTimeout = 2 * time.Second

// PrerequisiteCheck represents the result of checking a single prerequisite.
type PrerequisiteCheck struct {
	// Name is the human-readable name of the prerequisite
	Name string
	// Available indicates whether the prerequisite is available
	Available bool
	// Required is false for checks that only warn
	Required bool
	// Path is the resolved path (for binary checks)
	Path string
	// Version is the detected version (if applicable)
	Version string
	// Message provides additional context (error message or success info)
	Message string
	// Error contains the underlying error if check failed
	Error error
}

// PrerequisiteResult contains the results of all prerequisite checks.
type PrerequisiteResult struct {
	// Checks contains individual check results
	Checks []PrerequisiteCheck
	// AllAvailable is true if all required prerequisites are available
	AllAvailable bool
}

// ValidatePrerequisites checks the gdbserver binary and whether a stub
// answers at stubAddr. A missing binary fails validation only when
// needGDBServer is set; an unreachable stub only warns.
func ValidatePrerequisites(ctx context.Context, gdbserverPath, stubAddr string, needGDBServer bool) *PrerequisiteResult {
	result := &PrerequisiteResult{AllAvailable: true}

	binCheck := checkGDBServerBinary(ctx, gdbserverPath)
	binCheck.Required = needGDBServer
	result.Checks = append(result.Checks, binCheck)
	if binCheck.Required && !binCheck.Available {
		result.AllAvailable = false
	}

	result.Checks = append(result.Checks, checkStubConnection(ctx, stubAddr))
	return result
}

// checkGDBServerBinary verifies that gdbserver is available and executable.
func checkGDBServerBinary(ctx context.Context, name string) PrerequisiteCheck {
	if name == "" {
		name = DefaultConfig().GDBServerPath
	}
	check := PrerequisiteCheck{Name: "gdbserver"}

	path, err := exec.LookPath(name)
	if err != nil {
		check.Error = err
		check.Message = name + " not found in PATH\n" +
			"Install on Debian/Ubuntu: sudo apt-get install gdbserver\n" +
			"Install on Fedora: sudo dnf install gdb-gdbserver"
		return check
	}
	check.Path = path

	version, err := gdbserverVersion(ctx, path)
	if err != nil {
		check.Error = err
		check.Message = fmt.Sprintf("%s found but failed to execute: %v", path, err)
		return check
	}

	check.Available = true
	check.Version = version
	check.Message = fmt.Sprintf("Found at %s", path)
	return check
}

// gdbserverVersion returns the first line of `path --version`.
func gdbserverVersion(ctx context.Context, path string) (string, error) {
	versionCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	output, err := exec.CommandContext(versionCtx, path, "--version").Output()
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(output), "\n")
	return strings.TrimSpace(line), nil
}

// checkStubConnection attempts to connect to a running stub. This is a
// non-fatal check: run can launch its own gdbserver.
func checkStubConnection(ctx context.Context, address string) PrerequisiteCheck {
	check := PrerequisiteCheck{Name: "GDB stub connection"}

	if err := ValidateStubConnection(ctx, address); err != nil {
		check.Error = err
		check.Message = fmt.Sprintf("Cannot connect to a stub at %s\n"+
			"This is not fatal if you pass --launch to run.\n"+
			"Otherwise start one: gdbserver %s <binary>", address, address)
		return check
	}

	check.Available = true
	check.Message = fmt.Sprintf("Connected successfully to %s", address)
	return check
}

// ValidateGDBServerPath checks that path runs and reports itself as gdbserver.
func ValidateGDBServerPath(ctx context.Context, path string) error {
	if path == "" {
		return &PrerequisiteError{
			Prerequisite: "gdbserver",
			Details:      "gdbserver path is empty",
		}
	}

	version, err := gdbserverVersion(ctx, path)
	if err != nil {
		return &PrerequisiteError{
			Prerequisite: "gdbserver",
			Details:      fmt.Sprintf("Failed to execute %s --version", path),
			Err:          err,
		}
	}
	if !strings.Contains(strings.ToLower(version), "gdbserver") {
		return &PrerequisiteError{
			Prerequisite: "gdbserver",
			Details:      fmt.Sprintf("%s does not appear to be gdbserver", path),
		}
	}
	return nil
}

// ValidateStubConnection checks that something accepts TCP connections at address.
func ValidateStubConnection(ctx context.Context, address string) error {
	dialer := net.Dialer{Timeout: probeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return &ConnectionError{Address: address, Err: err}
	}
	return conn.Close()
}

// FormatPrerequisiteReport formats a PrerequisiteResult into a human-readable string.
func FormatPrerequisiteReport(result *PrerequisiteResult) string {
	var sb strings.Builder

	sb.WriteString("Prerequisites Check:\n")
	sb.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	for _, check := range result.Checks {
		switch {
		case check.Available:
			sb.WriteString(fmt.Sprintf("✓ %s\n", check.Name))
			if check.Version != "" {
				sb.WriteString(fmt.Sprintf("  Version: %s\n", check.Version))
			}
		case check.Required:
			sb.WriteString(fmt.Sprintf("✗ %s\n", check.Name))
		default:
			sb.WriteString(fmt.Sprintf("⚠ %s\n", check.Name))
		}
		if check.Message != "" {
			sb.WriteString(fmt.Sprintf("  %s\n", strings.ReplaceAll(check.Message, "\n", "\n  ")))
		}
		sb.WriteString("\n")
	}

	if result.AllAvailable {
		sb.WriteString("All required prerequisites are available.\n")
	} else {
		sb.WriteString("Some prerequisites are missing. Please install them before proceeding.\n")
	}

	return sb.String()
}
