package handoff

import (
	"errors"
	"fmt"

	"github.com/muurk/symbridge/internal/symbolic"
)

// Kind tags the result of a symbolic exploration.
type Kind int

const (
	// OutcomeFound means a path reached a find address.
	OutcomeFound Kind = iota + 1
	// OutcomeInapplicable means the engine could not lift the code it
	// reached. The handoff should be skipped, not reported as a failure.
	OutcomeInapplicable
	// OutcomeFailed means nothing reached a find address for any other
	// reason.
	OutcomeFailed
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case OutcomeFound:
		return "found"
	case OutcomeInapplicable:
		return "inapplicable"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("Kind<%d>", int(k))
	}
}

var (
	// ErrInapplicable matches every *InapplicableError.
	ErrInapplicable = errors.New("handoff inapplicable")

	// ErrFailed matches every *FailedError.
	ErrFailed = errors.New("handoff failed")
)

// InapplicableError reports an exploration that hit a decode fault.
type InapplicableError struct {
	PC  uint64
	Err error
}

func (e *InapplicableError) Error() string {
	return fmt.Sprintf("exploration not applicable at %#x: %v", e.PC, e.Err)
}

func (e *InapplicableError) Unwrap() error { return e.Err }

func (e *InapplicableError) Is(target error) bool { return target == ErrInapplicable }

// FailedError reports an exploration that found nothing.
type FailedError struct {
	Reason string
	Err    error
}

func (e *FailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exploration failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("exploration failed: %s", e.Reason)
}

func (e *FailedError) Unwrap() error { return e.Err }

func (e *FailedError) Is(target error) bool { return target == ErrFailed }

// Outcome is the classified result of an exploration.
type Outcome struct {
	Kind        Kind
	State       *symbolic.State // found state for OutcomeFound
	Exploration *symbolic.Exploration
	err         error
}

// Err returns nil for OutcomeFound and the typed error otherwise.
func (o Outcome) Err() error {
	if o.Kind == OutcomeFound {
		return nil
	}
	return o.err
}

// Summary returns a one line description of the exploration stashes.
func (o Outcome) Summary() string {
	x := o.Exploration
	if x == nil {
		return o.Kind.String()
	}
	return fmt.Sprintf("%s: %d found, %d avoided, %d deadended, %d errored, %d steps",
		o.Kind, len(x.Found), len(x.Avoided), len(x.Deadended), len(x.Errored), x.Steps)
}

// Policy classifies explorations.
type Policy struct {
	Find  []uint64
	Avoid []uint64
}

// Outcome classifies x:
//
//   - the first found state wins
//   - no found state and any decode fault among the errored paths is
//     inapplicable
//   - anything else failed
func (p Policy) Outcome(x *symbolic.Exploration) Outcome {
	if x == nil {
		return Outcome{Kind: OutcomeFailed, err: &FailedError{Reason: "no exploration"}}
	}
	if len(x.Found) > 0 {
		return Outcome{Kind: OutcomeFound, State: x.Found[0], Exploration: x}
	}
	for _, e := range x.Errored {
		if symbolic.IsDecodeFault(e.Err) {
			return Outcome{
				Kind:        OutcomeInapplicable,
				Exploration: x,
				err:         &InapplicableError{PC: e.State.PC(), Err: e.Err},
			}
		}
	}

	f := &FailedError{Reason: fmt.Sprintf("no path reached %s", hexAddrs(p.Find))}
	if len(x.Errored) > 0 {
		f.Err = x.Errored[0].Err
	}
	return Outcome{Kind: OutcomeFailed, Exploration: x, err: f}
}

// Classify maps an error returned by the controller to an outcome kind:
// nil is found, anything matching ErrInapplicable is inapplicable and
// everything else failed.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return OutcomeFound
	case errors.Is(err, ErrInapplicable):
		return OutcomeInapplicable
	default:
		return OutcomeFailed
	}
}

func hexAddrs(addrs []uint64) string {
	if len(addrs) == 0 {
		return "[]"
	}
	s := "["
	for i, a := range addrs {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%#x", a)
	}
	return s + "]"
}
