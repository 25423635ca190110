package symbolic

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-set"
	"go.uber.org/zap"
)

var (
	// ErrStepLimit is recorded on paths that exceed Config.MaxSteps.
	ErrStepLimit = errors.New("path step limit exceeded")

	// ErrStateLimit is recorded on paths dropped because the exploration
	// exceeded Config.MaxStates.
	ErrStateLimit = errors.New("active state limit exceeded")
)

// SymbolicAddressError is returned when a load or store address depends on a
// symbolic variable.
type SymbolicAddressError struct {
	PC   uint64
	Addr Expr
}

func (e *SymbolicAddressError) Error() string {
	return fmt.Sprintf("symbolic address %s at %#x", e.Addr, e.PC)
}

// Explorer runs a symbolic exploration from a start state.
type Explorer interface {
	Explore(ctx context.Context, start *State, find, avoid []uint64) (*Exploration, error)
}

// ErroredState is a path that ended with a fault.
type ErroredState struct {
	State *State
	Err   error
}

// Exploration is the result of Explore. Found holds at most one state: the
// first found in traversal order.
type Exploration struct {
	Found     []*State
	Avoided   []*State
	Deadended []*State
	Errored   []ErroredState
	Active    int
	Steps     int
}

// Config holds the executor configuration.
type Config struct {
	Searcher  string
	MaxSteps  int // per path, 0 = unlimited
	MaxStates int // active states, 0 = unlimited
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		Searcher:  SearcherBFS,
		MaxSteps:  1000,
		MaxStates: 256,
	}
}

// Executor steps states through a lifted program.
type Executor struct {
	program *Program
	solver  Solver
	config  Config
	logger  *zap.Logger
}

// NewExecutor returns an executor for the program.
func NewExecutor(program *Program, solver Solver, config Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		program: program,
		solver:  solver,
		config:  config,
		logger:  logger,
	}
}

// Solver returns the solver used for branch feasibility.
func (e *Executor) Solver() Solver { return e.solver }

// Solve implements Solver with the executor's solver.
func (e *Executor) Solve(ctx context.Context, constraints []Expr) (Model, bool, error) {
	return e.solver.Solve(ctx, constraints)
}

// Explore steps states from start until a state reaches a find address or
// no active states remain. States reaching an avoid address are not
// stepped further.
func (e *Executor) Explore(ctx context.Context, start *State, find, avoid []uint64) (*Exploration, error) {
	searcher, err := NewSearcher(e.config.Searcher)
	if err != nil {
		return nil, err
	}
	findSet := set.From(find)
	avoidSet := set.From(avoid)

	e.logger.Debug("Starting exploration",
		zap.String("start", fmt.Sprintf("%#x", start.PC())),
		zap.Int("find", len(find)),
		zap.Int("avoid", len(avoid)),
		zap.String("searcher", e.config.Searcher))

	result := &Exploration{}
	searcher.Push(start)
	for searcher.Len() > 0 {
		if err := ctx.Err(); err != nil {
			result.Active = searcher.Len()
			return result, err
		}

		state := searcher.Pop()
		successors, err := e.Step(ctx, state)
		result.Steps++
		if err != nil {
			if ctx.Err() != nil {
				result.Active = searcher.Len()
				return result, err
			}
			e.logger.Debug("Path errored",
				zap.Int64("state", state.ID()),
				zap.String("pc", fmt.Sprintf("%#x", state.PC())),
				zap.Error(err))
			result.Errored = append(result.Errored, ErroredState{State: state, Err: err})
			continue
		}

		for _, s := range successors {
			switch {
			case s.Exited():
				result.Deadended = append(result.Deadended, s)
			case findSet.Contains(s.PC()):
				result.Found = append(result.Found, s)
				result.Active = searcher.Len()
				e.logger.Debug("Found state",
					zap.Int64("state", s.ID()),
					zap.String("pc", fmt.Sprintf("%#x", s.PC())),
					zap.Int("steps", result.Steps))
				return result, nil
			case avoidSet.Contains(s.PC()):
				result.Avoided = append(result.Avoided, s)
			case e.config.MaxSteps > 0 && s.Steps() >= e.config.MaxSteps:
				result.Errored = append(result.Errored, ErroredState{State: s, Err: ErrStepLimit})
			case e.config.MaxStates > 0 && searcher.Len() >= e.config.MaxStates:
				result.Errored = append(result.Errored, ErroredState{State: s, Err: ErrStateLimit})
			default:
				searcher.Push(s)
			}
		}
	}
	return result, nil
}

// Step executes the block at the state's PC and returns the feasible
// successor states. The input state may be reused as a successor.
func (e *Executor) Step(ctx context.Context, state *State) ([]*State, error) {
	block, err := e.program.Block(state.PC())
	if err != nil {
		return nil, err
	}

	f := frame{state: state, temps: make(map[string]Expr)}
	for _, stmt := range block.Stmts {
		if err := f.exec(stmt); err != nil {
			return nil, err
		}
	}

	switch {
	case block.Exit:
		state.Exit()
		return []*State{state}, nil

	case block.Jump != nil:
		state.SetPC(*block.Jump)
		return []*State{state}, nil

	default:
		br := block.Branch
		lhs, rhs, err := f.operands(br.LHS, br.RHS, br.Size)
		if err != nil {
			return nil, err
		}
		cond := NewBinaryExpr(block.cmp, lhs, rhs)
		return e.fork(ctx, state, cond, br.Taken, br.Fallthrough)
	}
}

// fork splits state on cond. The taken successor comes first.
func (e *Executor) fork(ctx context.Context, state *State, cond Expr, taken, fallthru uint64) ([]*State, error) {
	if c, ok := cond.(*ConstantExpr); ok {
		if c.IsTrue() {
			state.SetPC(taken)
		} else {
			state.SetPC(fallthru)
		}
		return []*State{state}, nil
	}

	t := state.Fork()
	t.Constrain(cond)
	f := state
	f.Constrain(NewIsZeroExpr(cond))

	var out []*State
	for _, s := range []struct {
		state *State
		pc    uint64
	}{{t, taken}, {f, fallthru}} {
		ok, err := Satisfiable(ctx, e.solver, s.state.cons)
		if err != nil {
			return nil, err
		} else if !ok {
			continue
		}
		s.state.SetPC(s.pc)
		out = append(out, s.state)
	}
	return out, nil
}

// frame evaluates the statements of one block.
type frame struct {
	state *State
	temps map[string]Expr
}

func (f *frame) exec(s Stmt) error {
	switch s.Op {
	case OpLoad:
		addr, err := f.address(s.Base, s.Offset)
		if err != nil {
			return err
		}
		v, err := f.state.Load(addr, s.Size)
		if err != nil {
			return err
		}
		return f.assign(s.Dst, v)

	case OpStore:
		addr, err := f.address(s.Base, s.Offset)
		if err != nil {
			return err
		}
		v, err := f.operand(s.Src, uint(s.Size*8))
		if err != nil {
			return err
		}
		f.state.Store(addr, v)
		return nil

	case OpSet:
		v, err := f.operand(s.Src, uint(s.Size*8))
		if err != nil {
			return err
		}
		return f.assign(s.Dst, v)

	case OpBinop:
		op, err := ParseBinaryOp(s.BinOp)
		if err != nil {
			return err
		}
		lhs, rhs, err := f.operands(s.LHS, s.RHS, s.Size)
		if err != nil {
			return err
		}
		return f.assign(s.Dst, NewBinaryExpr(op, lhs, rhs))

	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
}

func (f *frame) assign(dst string, v Expr) error {
	if isTemp(dst) {
		f.temps[dst] = v
		return nil
	}
	f.state.SetRegister(dst, v)
	return nil
}

func (f *frame) address(base string, offset int64) (uint64, error) {
	b, err := f.operand(base, Width64)
	if err != nil {
		return 0, err
	}
	addr := NewBinaryExpr(ADD, b, NewConstantExpr64(uint64(offset)))
	c, ok := addr.(*ConstantExpr)
	if !ok {
		return 0, &SymbolicAddressError{PC: f.state.PC(), Addr: addr}
	}
	return c.Value, nil
}

// operands resolves a pair of operands to a common width. With size zero the
// width comes from whichever operand has one, else 64 bits.
func (f *frame) operands(lhs, rhs string, size int) (Expr, Expr, error) {
	width := uint(size * 8)
	if width == 0 {
		width = f.width(lhs)
		if width == 0 {
			width = f.width(rhs)
		}
	}
	l, err := f.operand(lhs, width)
	if err != nil {
		return nil, nil, err
	}
	r, err := f.operand(rhs, width)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

// width returns the natural width of an operand, or zero for literals.
func (f *frame) width(name string) uint {
	if _, ok := parseLiteral(name); ok {
		return 0
	}
	if v, ok := f.temps[name]; ok {
		return ExprWidth(v)
	}
	return Width64
}

// operand resolves a register, temporary or literal. A width of zero keeps
// the operand's natural width.
func (f *frame) operand(name string, width uint) (Expr, error) {
	if v, ok := parseLiteral(name); ok {
		if width == 0 {
			width = Width64
		}
		return NewConstantExpr(v, width), nil
	}

	var v Expr
	if isTemp(name) {
		t, ok := f.temps[name]
		if !ok {
			return nil, fmt.Errorf("temporary %s used before assignment", name)
		}
		v = t
	} else {
		r, ok := f.state.Register(name)
		if !ok {
			return nil, fmt.Errorf("register %s has no value", name)
		}
		v = r
	}
	if width == 0 {
		return v, nil
	}
	return NewCastExpr(v, width, false), nil
}
