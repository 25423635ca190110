package bridge

import (
	"errors"
	"fmt"
	"sort"

	"github.com/muurk/symbridge/internal/symbolic"
	"github.com/muurk/symbridge/internal/target"
)

// ErrNoSnapshot is returned when ImportState is called without a snapshot.
var ErrNoSnapshot = errors.New("no snapshot to import")

// Options controls ImportState.
type Options struct {
	// Registers limits the imported registers. Empty imports all of them.
	Registers []string
}

// ImportState builds a fresh symbolic state from a snapshot. The state
// starts at the snapshot PC, every captured register becomes a 64-bit
// constant and every captured byte a constant byte. Memory outside the
// snapshot is absent: reading it fails the path with
// *symbolic.UnmappedReadError.
func ImportState(snap *target.Snapshot, opts Options) (*symbolic.State, error) {
	if snap == nil {
		return nil, ErrNoSnapshot
	}

	regs := snap.Registers()
	names := opts.Registers
	if len(names) == 0 {
		for name := range regs {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	state := symbolic.NewState(snap.PC())
	for _, name := range names {
		v, ok := regs[name]
		if !ok {
			return nil, fmt.Errorf("register %s not in snapshot", name)
		}
		state.SetRegister(name, symbolic.NewConstantExpr64(v))
	}
	for _, seg := range snap.Segments() {
		state.StoreBytes(seg.Addr, seg.Data)
	}
	return state, nil
}

// Binding ties a symbolic variable to the concrete address its bytes were
// injected at.
type Binding struct {
	Var  *symbolic.Variable
	Addr uint64
}

// End returns the address one past the last injected byte.
func (b Binding) End() uint64 {
	return b.Addr + uint64(b.Var.Size)
}

// String returns the binding as name:bits@addr.
func (b Binding) String() string {
	return fmt.Sprintf("%s@%#x", b.Var, b.Addr)
}

// Inject stores the bytes of v into state memory, byte 0 at addr.
func Inject(state *symbolic.State, addr uint64, v *symbolic.Variable) Binding {
	for i, b := range v.Bytes() {
		state.StoreByte(addr+uint64(i), b)
	}
	state.AddVariable(v)
	return Binding{Var: v, Addr: addr}
}

// VariableSpec describes a symbolic buffer to inject relative to a register.
type VariableSpec struct {
	Name   string
	Base   string // register holding the base address
	Offset int64
	Bits   int
}

// InjectSpec resolves spec against the state registers and injects it. The
// target range must lie inside imported memory.
func InjectSpec(state *symbolic.State, spec VariableSpec) (Binding, error) {
	v, err := symbolic.NewVariable(spec.Name, spec.Bits)
	if err != nil {
		return Binding{}, err
	}
	base, ok := state.Register(spec.Base)
	if !ok {
		return Binding{}, fmt.Errorf("variable %s: register %s not imported", spec.Name, spec.Base)
	}
	c, ok := base.(*symbolic.ConstantExpr)
	if !ok {
		return Binding{}, fmt.Errorf("variable %s: register %s is symbolic", spec.Name, spec.Base)
	}
	addr := c.Value + uint64(spec.Offset)
	if !state.Covered(addr, v.Size) {
		return Binding{}, &symbolic.UnmappedReadError{Addr: addr, Size: v.Size}
	}
	return Inject(state, addr, v), nil
}
