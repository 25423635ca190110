package launcher

import (
	"fmt"
	"time"
)

// PrerequisiteError represents a missing prerequisite (gdbserver binary, reachable stub).
type PrerequisiteError struct {
	// Prerequisite is the name of the missing prerequisite
	Prerequisite string
	// Details provides additional context
	Details string
	// Underlying error
	Err error
}

func (e *PrerequisiteError) Error() string {
	msg := fmt.Sprintf("missing prerequisite: %s", e.Prerequisite)
	if e.Details != "" {
		msg += "\n" + e.Details
	}
	if e.Err != nil {
		msg += fmt.Sprintf("\nError: %v", e.Err)
	}
	return msg
}

func (e *PrerequisiteError) Unwrap() error {
	return e.Err
}

// ConnectionError represents a failure to reach a debug stub.
type ConnectionError struct {
	// Address is the host:port that refused the connection
	Address string
	// Underlying error
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to gdb stub at %s: %v\n"+
		"Hint: Start one with: gdbserver %s <binary>",
		e.Address, e.Err, e.Address)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ExitedError reports a gdbserver that exited before it started listening.
type ExitedError struct {
	// Address is where gdbserver was asked to listen
	Address string
	// Output is what gdbserver printed before exiting
	Output string
	// Underlying wait error
	Err error
}

func (e *ExitedError) Error() string {
	msg := fmt.Sprintf("gdbserver exited before listening on %s", e.Address)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	if e.Output != "" {
		msg += "\noutput: " + e.Output
	}
	return msg
}

func (e *ExitedError) Unwrap() error {
	return e.Err
}

// TimeoutError represents a gdbserver that did not start listening in time.
type TimeoutError struct {
	// Address is where gdbserver was asked to listen
	Address string
	// Timeout is the duration that was exceeded
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("gdbserver did not listen on %s within %s\n"+
		"Hint: Increase the timeout with --start-timeout or check the binary path",
		e.Address, e.Timeout)
}
