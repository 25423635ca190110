package symbolic

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

const branchProgram = `
blocks:
  - addr: 0x1000
    stmts:
      - {op: load, dst: t0, base: rbp, offset: -0x10, size: 1}
    branch: {op: eq, lhs: t0, rhs: 0x41, taken: 0x2000, fallthrough: 0x3000}
  - addr: 0x3000
    stmts:
      - {op: binop, binop: add, dst: rax, lhs: rax, rhs: 1, size: 8}
    jump: 0x3004
  - addr: 0x3004
    exit: true
`

func newBranchState(t *testing.T) *State {
	t.Helper()
	s := NewState(0x1000)
	s.SetRegister("rbp", NewConstantExpr64(0x8010))
	s.SetRegister("rax", NewConstantExpr64(0))
	v, err := NewVariable("x", 8)
	if err != nil {
		t.Fatal(err)
	}
	s.StoreByte(0x8000, v.Byte(0))
	s.AddVariable(v)
	return s
}

func newTestExecutor(t *testing.T, src string, mutate func(*Config)) *Executor {
	t.Helper()
	p, err := ParseProgram([]byte(src))
	if err != nil {
		t.Fatalf("ParseProgram failed: %v", err)
	}
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewExecutor(p, NewDomainSolver(), cfg, zap.NewNop())
}

func TestStepSingleByteBranch(t *testing.T) {
	e := newTestExecutor(t, branchProgram, nil)

	succ, err := e.Step(context.Background(), newBranchState(t))
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if len(succ) != 2 {
		t.Fatalf("got %d successors, want 2", len(succ))
	}
	if succ[0].PC() != 0x2000 || succ[1].PC() != 0x3000 {
		t.Fatalf("successor pcs = %#x, %#x", succ[0].PC(), succ[1].PC())
	}

	values := make([]uint8, 2)
	for i, s := range succ {
		m, ok, err := e.Solver().Solve(context.Background(), s.Constraints())
		if err != nil || !ok {
			t.Fatalf("successor %d unsatisfiable: %v", i, err)
		}
		values[i] = m.Byte("x", 0)
	}
	if values[0] != 0x41 {
		t.Errorf("taken value = %#x, want 0x41", values[0])
	}
	if values[1] == 0x41 {
		t.Errorf("fallthrough value must differ from 0x41")
	}
}

func TestExploreFindsBranch(t *testing.T) {
	e := newTestExecutor(t, branchProgram, nil)

	res, err := e.Explore(context.Background(), newBranchState(t), []uint64{0x2000}, []uint64{0x3000})
	if err != nil {
		t.Fatalf("Explore failed: %v", err)
	}
	if len(res.Found) != 1 {
		t.Fatalf("found %d states, want 1", len(res.Found))
	}
	m, ok, err := NewDomainSolver().Solve(context.Background(), res.Found[0].Constraints())
	if err != nil || !ok {
		t.Fatalf("found state unsatisfiable: %v", err)
	}
	if got := m.Byte("x", 0); got != 0x41 {
		t.Errorf("x = %#x, want 0x41", got)
	}
	if h := res.Found[0].History(); len(h) != 1 || h[0] != 0x1000 {
		t.Errorf("history = %x", h)
	}
}

func TestExploreDeadendAndAvoid(t *testing.T) {
	e := newTestExecutor(t, branchProgram, nil)

	// Nothing to find: the fallthrough path runs to exit.
	res, err := e.Explore(context.Background(), newBranchState(t), nil, []uint64{0x2000})
	if err != nil {
		t.Fatalf("Explore failed: %v", err)
	}
	if len(res.Avoided) != 1 || res.Avoided[0].PC() != 0x2000 {
		t.Errorf("avoided = %v", res.Avoided)
	}
	if len(res.Deadended) != 1 {
		t.Fatalf("deadended = %d, want 1", len(res.Deadended))
	}
	rax, _ := res.Deadended[0].Register("rax")
	if c, ok := rax.(*ConstantExpr); !ok || c.Value != 1 {
		t.Errorf("rax = %s, want 1", rax)
	}
}

func TestExploreErrors(t *testing.T) {
	loop := `
blocks:
  - addr: 0x1000
    jump: 0x1000
`
	tests := []struct {
		name   string
		src    string
		state  func(t *testing.T) *State
		mutate func(*Config)
		check  func(error) bool
		decode bool
	}{
		{
			name:   "missing block",
			src:    branchProgram,
			state:  func(t *testing.T) *State { s := newBranchState(t); s.SetPC(0x5000); return s },
			check:  func(err error) bool { var e *DecodeError; return errors.As(err, &e) && e.Addr == 0x5000 },
			decode: true,
		},
		{
			name: "unmapped read",
			src:  branchProgram,
			state: func(t *testing.T) *State {
				s := newBranchState(t)
				s.SetRegister("rbp", NewConstantExpr64(0x9000))
				return s
			},
			check: func(err error) bool { var e *UnmappedReadError; return errors.As(err, &e) },
		},
		{
			name:   "step limit",
			src:    loop,
			state:  func(t *testing.T) *State { return NewState(0x1000) },
			mutate: func(c *Config) { c.MaxSteps = 5 },
			check:  func(err error) bool { return errors.Is(err, ErrStepLimit) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExecutor(t, tt.src, tt.mutate)
			res, err := e.Explore(context.Background(), tt.state(t), []uint64{0x2000}, nil)
			if err != nil {
				t.Fatalf("Explore failed: %v", err)
			}
			if len(res.Found) != 0 || len(res.Errored) != 1 {
				t.Fatalf("found=%d errored=%d, want 0 and 1", len(res.Found), len(res.Errored))
			}
			got := res.Errored[0].Err
			if !tt.check(got) {
				t.Errorf("unexpected error %v", got)
			}
			if IsDecodeFault(got) != tt.decode {
				t.Errorf("IsDecodeFault = %v, want %v", IsDecodeFault(got), tt.decode)
			}
		})
	}
}

func TestParseProgramRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"no terminator", "blocks: [{addr: 1}]"},
		{"two terminators", "blocks: [{addr: 1, exit: true, jump: 2}]"},
		{"duplicate", "blocks: [{addr: 1, exit: true}, {addr: 1, exit: true}]"},
		{"bad op", "blocks: [{addr: 1, exit: true, stmts: [{op: rol}]}]"},
		{"bad size", "blocks: [{addr: 1, exit: true, stmts: [{op: load, dst: t0, base: rbp, size: 3}]}]"},
		{"arith branch", "blocks: [{addr: 1, branch: {op: add, lhs: rax, rhs: 1, taken: 2, fallthrough: 3}}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseProgram([]byte(tt.src)); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestSearcherOrder(t *testing.T) {
	a, b, c := NewState(1), NewState(2), NewState(3)
	tests := []struct {
		name string
		want []uint64
	}{
		{SearcherBFS, []uint64{1, 2, 3}},
		{SearcherDFS, []uint64{3, 2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSearcher(tt.name)
			if err != nil {
				t.Fatal(err)
			}
			s.Push(a)
			s.Push(b)
			s.Push(c)
			for _, want := range tt.want {
				if got := s.Pop().PC(); got != want {
					t.Errorf("Pop = %d, want %d", got, want)
				}
			}
			if s.Len() != 0 || s.Pop() != nil {
				t.Errorf("searcher not empty")
			}
		})
	}
	if _, err := NewSearcher("random"); err == nil {
		t.Errorf("expected error for unknown searcher")
	}
}
