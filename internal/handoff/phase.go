package handoff

import (
	"fmt"
	"time"
)

// Phase is the position of a controller in the handoff lifecycle.
type Phase int

const (
	PhaseAttached Phase = iota
	PhaseConcreteRunning
	PhaseConcreteStopped
	PhaseSymbolicExploring
	PhaseSymbolicFound
	PhaseSymbolicAvoided
	PhaseSymbolicErrored
	PhaseConcreteResuming
	PhaseDetached
)

var phaseNames = [...]string{
	PhaseAttached:          "attached",
	PhaseConcreteRunning:   "concrete-running",
	PhaseConcreteStopped:   "concrete-stopped",
	PhaseSymbolicExploring: "symbolic-exploring",
	PhaseSymbolicFound:     "symbolic-found",
	PhaseSymbolicAvoided:   "symbolic-avoided",
	PhaseSymbolicErrored:   "symbolic-errored",
	PhaseConcreteResuming:  "concrete-resuming",
	PhaseDetached:          "detached",
}

// String returns the phase name.
func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase<%d>", int(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Symbolic reports whether the session is in symbolic mode during p.
func (p Phase) Symbolic() bool {
	switch p {
	case PhaseSymbolicExploring, PhaseSymbolicFound, PhaseSymbolicAvoided, PhaseSymbolicErrored:
		return true
	}
	return false
}

// transitions lists the phases reachable from each phase. Detached is
// reachable from everywhere and handled separately.
var transitions = map[Phase][]Phase{
	PhaseAttached:          {PhaseConcreteRunning, PhaseConcreteStopped},
	PhaseConcreteRunning:   {PhaseConcreteStopped},
	PhaseConcreteStopped:   {PhaseConcreteRunning, PhaseSymbolicExploring},
	PhaseSymbolicExploring: {PhaseSymbolicFound, PhaseSymbolicAvoided, PhaseSymbolicErrored, PhaseConcreteStopped},
	PhaseSymbolicFound:     {PhaseConcreteResuming, PhaseConcreteStopped},
	PhaseSymbolicAvoided:   {PhaseConcreteStopped},
	PhaseSymbolicErrored:   {PhaseConcreteStopped},
	PhaseConcreteResuming:  {PhaseConcreteRunning, PhaseConcreteStopped},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Phase) bool {
	if to == PhaseDetached {
		return from != PhaseDetached
	}
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// TransitionError is returned when an operation is invoked in a phase that
// does not allow it.
type TransitionError struct {
	Op   string
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: illegal transition %s -> %s", e.Op, e.From, e.To)
}

// Event describes one phase transition.
type Event struct {
	Phase  Phase     `json:"phase"`
	From   Phase     `json:"from"`
	PC     uint64    `json:"pc"`
	Detail string    `json:"detail,omitempty"`
	Time   time.Time `json:"time"`
}

// Observer receives controller events. Observers run synchronously on the
// controller's goroutine.
type Observer func(Event)
