package rsp

import (
	"errors"
	"fmt"
)

var (
	// ErrTooManyAttempts is returned when the stub keeps rejecting (or corrupting) a packet.
	ErrTooManyAttempts = errors.New("too many transmit attempts")

	// ErrNeedsResync is returned by resuming operations after a timed out
	// continue until Resync has been called.
	ErrNeedsResync = errors.New("debug stub needs resynchronization")

	// ErrClosed is returned by operations on a detached or closed client.
	ErrClosed = errors.New("connection to debug stub is closed")
)

// ConnectionError represents a failure to reach the GDB stub.
// This typically means gdbserver is not running, the port is wrong, or the
// debuggee has already exited.
type ConnectionError struct {
	// Host is the stub host that failed to connect
	Host string
	// Port is the stub port that failed to connect
	Port int
	// Underlying error
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to gdb stub at %s:%d: %v\n"+
		"Hint: Ensure gdbserver is running and listening.\n"+
		"Start it with: gdbserver %s:%d <binary>",
		e.Host, e.Port, e.Err, e.Host, e.Port)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProtocolError is an error response (Exx) of the GDB remote serial protocol
// or an "unsupported command" response (empty packet).
type ProtocolError struct {
	// Op describes what the client was doing
	Op string
	// Packet is the request that was rejected
	Packet string
	// Code is the two digit error code, empty when the packet is unsupported
	Code string
}

func (e *ProtocolError) Error() string {
	pkt := e.Packet
	if len(pkt) > 20 {
		pkt = pkt[:20] + "..."
	}
	if e.Code == "" {
		return fmt.Sprintf("unsupported packet %s during %s", pkt, e.Op)
	}
	return fmt.Sprintf("protocol error %s during %s for packet %s", e.Code, e.Op, pkt)
}

// Unsupported reports whether the stub answered with an empty packet.
func (e *ProtocolError) Unsupported() bool {
	return e.Code == ""
}

// IsUnsupported reports whether err is a ProtocolError for an unsupported packet.
func IsUnsupported(err error) bool {
	var perr *ProtocolError
	return errors.As(err, &perr) && perr.Unsupported()
}

// MemoryFault is returned when the stub refuses a memory read or write.
type MemoryFault struct {
	// Addr is the first address of the failed access
	Addr uint64
	// Len is the length of the failed access
	Len int
	// Write is true for a failed write
	Write bool
	// Underlying error
	Err error
}

func (e *MemoryFault) Error() string {
	op := "read"
	if e.Write {
		op = "write"
	}
	return fmt.Sprintf("memory %s of %d bytes at %#x failed: %v", op, e.Len, e.Addr, e.Err)
}

func (e *MemoryFault) Unwrap() error {
	return e.Err
}

// RegisterFault is returned when a register is unknown, unavailable or
// cannot be written.
type RegisterFault struct {
	// Name is the register name
	Name string
	// Reason describes the failure
	Reason string
	// Underlying error if any
	Err error
}

func (e *RegisterFault) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("register %q: %s: %v", e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("register %q: %s", e.Name, e.Reason)
}

func (e *RegisterFault) Unwrap() error {
	return e.Err
}

// TimeoutError represents a continue that did not stop in time.
// The debuggee has been interrupted and the client must be resynchronized.
type TimeoutError struct {
	// Op is the operation that timed out
	Op string
	// Timeout is the duration that was exceeded
	Timeout string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s\n"+
		"Hint: Increase timeout with --timeout flag or check that the target reaches the breakpoint",
		e.Op, e.Timeout)
}

// ProcessExitedError is returned when the debuggee is gone.
type ProcessExitedError struct {
	// Status is the exit status (W stop reply)
	Status int
	// Signal is the terminating signal (X stop reply), zero for a normal exit
	Signal int
}

func (e *ProcessExitedError) Error() string {
	if e.Signal != 0 {
		return fmt.Sprintf("process terminated by signal %d", e.Signal)
	}
	return fmt.Sprintf("process exited with status %d", e.Status)
}
