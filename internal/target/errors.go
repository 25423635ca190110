package target

import (
	"fmt"

	"github.com/muurk/symbridge/internal/rsp"
)

// InvalidModeError is returned when an operation is not allowed in the
// session's current mode. It indicates a programming error in the caller.
type InvalidModeError struct {
	// Op is the rejected operation
	Op string
	// Mode is the mode the session was in
	Mode Mode
}

func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("%s is not allowed in %s mode", e.Op, e.Mode)
}

// UnexpectedStopError is returned when the process stopped somewhere other
// than one of the requested addresses, typically on a signal.
type UnexpectedStopError struct {
	// PC is where the process stopped
	PC uint64
	// Event is the stop reply
	Event rsp.StopEvent
}

func (e *UnexpectedStopError) Error() string {
	return fmt.Sprintf("process stopped at %#x (%s, signal %d) instead of a requested breakpoint",
		e.PC, e.Event.Reason, e.Event.Signal)
}

// StaleSnapshotError is returned when a snapshot is used after the live
// process has been resumed or written to.
type StaleSnapshotError struct {
	// Snapshot is the generation the snapshot was captured at
	Snapshot uint64
	// Current is the session's current generation
	Current uint64
}

func (e *StaleSnapshotError) Error() string {
	return fmt.Sprintf("snapshot from generation %d is stale (session is at generation %d)",
		e.Snapshot, e.Current)
}
