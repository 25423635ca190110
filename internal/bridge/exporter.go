package bridge

import (
	"context"
	"fmt"

	"github.com/muurk/symbridge/internal/symbolic"
	"go.uber.org/zap"
)

// UnsatisfiableError is returned when the path constraints of the state
// being exported have no model.
type UnsatisfiableError struct {
	PC          uint64
	Constraints int
}

func (e *UnsatisfiableError) Error() string {
	return fmt.Sprintf("path at %#x is unsatisfiable (%d constraints)", e.PC, e.Constraints)
}

// Patch is a concrete write that carries a solution into the live process.
type Patch struct {
	Addr uint64
	Data []byte
	Var  string
}

// ExportBindings solves the state's path constraints once and concretizes
// every binding under that model. Unconstrained bytes come out as zero.
func ExportBindings(ctx context.Context, solver symbolic.Solver, state *symbolic.State, bindings []Binding) ([]Patch, error) {
	constraints := state.Constraints()
	model, ok, err := solver.Solve(ctx, constraints)
	if err != nil {
		return nil, fmt.Errorf("failed to solve path at %#x: %w", state.PC(), err)
	} else if !ok {
		return nil, &UnsatisfiableError{PC: state.PC(), Constraints: len(constraints)}
	}

	patches := make([]Patch, 0, len(bindings))
	for _, b := range bindings {
		patches = append(patches, Patch{
			Addr: b.Addr,
			Data: b.Var.Concretize(model),
			Var:  b.Var.Name,
		})
	}
	return patches, nil
}

// Writer writes concrete memory. *target.Session implements it.
type Writer interface {
	WriteRange(addr uint64, data []byte) error
}

// Apply writes every patch in order and stops at the first failure.
func Apply(w Writer, patches []Patch, logger *zap.Logger) error {
	for _, p := range patches {
		if err := w.WriteRange(p.Addr, p.Data); err != nil {
			return fmt.Errorf("failed to write %s: %w", p.Var, err)
		}
		logger.Debug("Patched memory",
			zap.String("var", p.Var),
			zap.String("addr", fmt.Sprintf("%#x", p.Addr)),
			zap.Int("bytes", len(p.Data)))
	}
	return nil
}
