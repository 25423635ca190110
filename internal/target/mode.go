package target

import "fmt"

// Mode is the execution mode of a session. A session is never concrete and
// symbolic at the same time.
type Mode int

const (
	// ModeConcrete means the live process owns the execution; it may be read,
	// written and resumed.
	ModeConcrete Mode = iota
	// ModeSymbolic means a symbolic exploration owns the execution; the live
	// process is paused and must not be touched.
	ModeSymbolic
	// ModeDetached means the session is over.
	ModeDetached
)

// String returns a string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeConcrete:
		return "concrete"
	case ModeSymbolic:
		return "symbolic"
	case ModeDetached:
		return "detached"
	default:
		return "unknown"
	}
}

// Disposition controls what happens to a breakpoint after it is hit.
type Disposition int

const (
	// RemoveAfterHit breakpoints are cleared once the stop has been captured.
	RemoveAfterHit Disposition = iota
	// Persistent breakpoints stay inserted until removed explicitly.
	Persistent
)

// String returns a string representation of the disposition.
func (d Disposition) String() string {
	switch d {
	case RemoveAfterHit:
		return "remove-after-hit"
	case Persistent:
		return "persistent"
	default:
		return fmt.Sprintf("Disposition(%d)", int(d))
	}
}
