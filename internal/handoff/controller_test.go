package handoff

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/muurk/symbridge/internal/bridge"
	"github.com/muurk/symbridge/internal/rsp"
	"github.com/muurk/symbridge/internal/rsp/rsptest"
	"github.com/muurk/symbridge/internal/symbolic"
	"github.com/muurk/symbridge/internal/target"
	"go.uber.org/zap"
)

const (
	entry    = 0x400000
	decision = 0x400010
	good     = 0x400020
	bad      = 0x400030
	end      = 0x400040

	stack = 0x7ffe0000
	rbp   = stack + 0x1fc0
)

// The decision block compares the 32-bit value at rbp-0x20 with 42.
const decisionProgram = `
blocks:
  - addr: 0x400010
    stmts:
      - {op: load, dst: t0, base: rbp, offset: -0x20, size: 4}
    branch: {op: ne, lhs: t0, rhs: 42, taken: 0x400030, fallthrough: 0x400020}
`

var buffer = bridge.VariableSpec{Name: "buf", Base: "rbp", Offset: -0x20, Bits: 32}

func newMachine() *rsptest.Machine {
	m := rsptest.NewMachine()
	m.Regs["rip"] = entry
	m.Regs["rsp"] = stack + 0x1f00
	m.Regs["rbp"] = rbp
	m.Map(stack, 0x2000)
	m.Code[entry] = rsptest.Jump(decision)
	m.Code[decision] = rsptest.BranchNE32(-0x20, 42, bad, good)
	m.Code[good] = rsptest.Set("rax", 1, end)
	m.Code[bad] = rsptest.Set("rax", 2, end)
	m.Code[end] = rsptest.Exit(0)
	return m
}

func newEngine(t *testing.T, src string) *symbolic.Executor {
	t.Helper()
	p, err := symbolic.ParseProgram([]byte(src))
	if err != nil {
		t.Fatalf("ParseProgram failed: %v", err)
	}
	return symbolic.NewExecutor(p, symbolic.NewDomainSolver(), symbolic.DefaultConfig(), zap.NewNop())
}

func testConfig(srv *rsptest.Server) Config {
	cfg := DefaultConfig()
	cfg.Transport.Host = srv.Host()
	cfg.Transport.Port = srv.Port()
	return cfg
}

func openTest(t *testing.T, src string, opts ...Option) (*Controller, *rsptest.Server) {
	t.Helper()
	srv := rsptest.NewServer(t, newMachine())
	c, err := Open(context.Background(), testConfig(srv), newEngine(t, src), zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, srv
}

func TestRunFoundWritesSolutionBack(t *testing.T) {
	var phases []Phase
	c, srv := openTest(t, decisionProgram, WithObserver(func(ev Event) {
		phases = append(phases, ev.Phase)
	}))

	report, err := c.Run(context.Background(), Plan{
		Decision:  decision,
		Variables: []bridge.VariableSpec{buffer},
		Find:      []uint64{good},
		Avoid:     []uint64{bad},
		End:       []uint64{end},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Outcome.Kind != OutcomeFound {
		t.Fatalf("Outcome = %s, want found", report.Outcome.Kind)
	}
	if report.FinalPC() != end {
		t.Errorf("FinalPC = %#x, want %#x", report.FinalPC(), end)
	}
	if len(report.Patches) != 1 || !bytes.Equal(report.Patches[0].Data, []byte{42, 0, 0, 0}) {
		t.Errorf("patches = %+v", report.Patches)
	}

	// The live process took the good branch with the written value.
	got, err := srv.Read(rbp-0x20, 4)
	if err != nil || !bytes.Equal(got, []byte{42, 0, 0, 0}) {
		t.Errorf("live buffer = %x, %v", got, err)
	}
	if rax := srv.Reg("rax"); rax != 1 {
		t.Errorf("rax = %d, want 1 (good branch)", rax)
	}

	want := []Phase{
		PhaseConcreteRunning,
		PhaseConcreteStopped,
		PhaseSymbolicExploring,
		PhaseSymbolicFound,
		PhaseConcreteResuming,
		PhaseConcreteRunning,
		PhaseConcreteStopped,
	}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phase %d = %s, want %s", i, phases[i], want[i])
		}
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if c.Phase() != PhaseDetached {
		t.Errorf("Phase after Close = %s", c.Phase())
	}
}

func TestRunStopsAtEntryFirst(t *testing.T) {
	const loader = 0x3ff000
	m := newMachine()
	m.Regs["rip"] = loader
	m.Code[loader] = rsptest.Jump(entry)
	srv := rsptest.NewServer(t, m)

	var phases []Phase
	c, err := Open(context.Background(), testConfig(srv), newEngine(t, decisionProgram), zap.NewNop(),
		WithObserver(func(ev Event) { phases = append(phases, ev.Phase) }))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	report, err := c.Run(context.Background(), Plan{
		Entry:     entry,
		Decision:  decision,
		Variables: []bridge.VariableSpec{buffer},
		Find:      []uint64{good},
		Avoid:     []uint64{bad},
		End:       []uint64{end},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.FinalPC() != end {
		t.Errorf("FinalPC = %#x, want %#x", report.FinalPC(), end)
	}
	if n := srv.CountPrefix("Z0,400000,"); n != 1 {
		t.Errorf("entry breakpoint inserted %d times, want 1", n)
	}
	if len(phases) < 2 || phases[0] != PhaseConcreteRunning || phases[1] != PhaseConcreteStopped {
		t.Errorf("phases = %v, want an entry stop first", phases)
	}
	if len(phases) != 9 {
		t.Errorf("got %d phases, want 9: %v", len(phases), phases)
	}
}

func TestRunInapplicableLeavesProcessUntouched(t *testing.T) {
	// No blocks for the branch targets: both paths hit a decode fault.
	c, srv := openTest(t, decisionProgram)

	report, err := c.Run(context.Background(), Plan{
		Decision:  decision,
		Variables: []bridge.VariableSpec{buffer},
		Find:      []uint64{end},
		End:       []uint64{end},
	})
	if !errors.Is(err, ErrInapplicable) {
		t.Fatalf("Run error = %v, want ErrInapplicable", err)
	}
	if Classify(err) != OutcomeInapplicable || report.Outcome.Kind != OutcomeInapplicable {
		t.Errorf("outcome = %s", report.Outcome.Kind)
	}
	if c.Phase() != PhaseConcreteStopped {
		t.Errorf("Phase = %s, want concrete-stopped", c.Phase())
	}
	if c.Session().Mode() != target.ModeConcrete {
		t.Errorf("Mode = %s, want concrete", c.Session().Mode())
	}
	if n := srv.CountPrefix("M"); n != 0 {
		t.Errorf("process memory written %d times", n)
	}
}

func TestExploreFailedAbandons(t *testing.T) {
	c, srv := openTest(t, decisionProgram)

	snap, err := c.RunConcrete(context.Background(), decision)
	if err != nil {
		t.Fatalf("RunConcrete failed: %v", err)
	}
	state, _, err := c.BeginSymbolic(snap, buffer)
	if err != nil {
		t.Fatalf("BeginSymbolic failed: %v", err)
	}

	var phases []Phase
	c.observers = append(c.observers, func(ev Event) { phases = append(phases, ev.Phase) })

	out, err := c.Explore(context.Background(), state, []uint64{end}, []uint64{good, bad})
	if !errors.Is(err, ErrFailed) || out.Kind != OutcomeFailed {
		t.Fatalf("Explore = %s, %v; want failed", out.Kind, err)
	}
	if len(phases) != 2 || phases[0] != PhaseSymbolicAvoided || phases[1] != PhaseConcreteStopped {
		t.Errorf("phases = %v", phases)
	}

	// The session is usable again: run the process on to the end.
	if _, err := c.RunConcrete(context.Background(), end); err != nil {
		t.Fatalf("RunConcrete after abandon failed: %v", err)
	}
	if rax := srv.Reg("rax"); rax != 2 {
		t.Errorf("rax = %d, want 2 (untouched buffer takes the bad branch)", rax)
	}
}

func TestResumeMemoryFaultStaysConcrete(t *testing.T) {
	c, srv := openTest(t, decisionProgram)

	snap, err := c.RunConcrete(context.Background(), decision)
	if err != nil {
		t.Fatalf("RunConcrete failed: %v", err)
	}
	state, bindings, err := c.BeginSymbolic(snap, buffer)
	if err != nil {
		t.Fatalf("BeginSymbolic failed: %v", err)
	}
	out, err := c.Explore(context.Background(), state, []uint64{good}, []uint64{bad})
	if err != nil || out.Kind != OutcomeFound {
		t.Fatalf("Explore = %s, %v; want found", out.Kind, err)
	}

	// Nothing is mapped at 0x10, so the write-back faults.
	bindings[0].Addr = 0x10
	_, _, err = c.Resume(context.Background(), out, bindings, end)
	var fault *rsp.MemoryFault
	if !errors.As(err, &fault) {
		t.Fatalf("Resume error = %v, want *rsp.MemoryFault", err)
	}
	if c.Phase() != PhaseConcreteStopped {
		t.Errorf("Phase = %s, want concrete-stopped", c.Phase())
	}
	if c.Session().Mode() != target.ModeConcrete {
		t.Errorf("Mode = %s, want concrete", c.Session().Mode())
	}
	if rax := srv.Reg("rax"); rax != 0 {
		t.Errorf("process ran on after the fault: rax = %d", rax)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if srv.Detaches() != 1 {
		t.Errorf("stub saw %d detaches, want 1", srv.Detaches())
	}
}

func TestRunConcreteTimeoutNeedsResync(t *testing.T) {
	srv := rsptest.NewServer(t, newMachine(), rsptest.WithHang())
	cfg := testConfig(srv)
	cfg.Transport.ContinueTimeout = 200 * time.Millisecond
	cfg.Transport.InterruptGrace = 200 * time.Millisecond
	cfg.Transport.ResyncQuiet = 50 * time.Millisecond
	c, err := Open(context.Background(), cfg, newEngine(t, decisionProgram), zap.NewNop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	var timeout *rsp.TimeoutError
	if _, err := c.RunConcrete(context.Background(), decision); !errors.As(err, &timeout) {
		t.Fatalf("RunConcrete error = %v, want *rsp.TimeoutError", err)
	}
	if c.Phase() != PhaseConcreteStopped {
		t.Errorf("Phase = %s, want concrete-stopped", c.Phase())
	}

	if _, err := c.RunConcrete(context.Background(), decision); !errors.Is(err, rsp.ErrNeedsResync) {
		t.Errorf("RunConcrete before resync = %v, want rsp.ErrNeedsResync", err)
	}
	if c.Phase() != PhaseConcreteStopped {
		t.Errorf("Phase after refused run = %s, want concrete-stopped", c.Phase())
	}

	if err := c.Session().Resync(context.Background()); err != nil {
		t.Fatalf("Resync failed: %v", err)
	}
	if c.Session().Mode() != target.ModeConcrete {
		t.Errorf("Mode after resync = %s, want concrete", c.Session().Mode())
	}

	for i := 0; i < 2; i++ {
		if err := c.Close(); err != nil {
			t.Fatalf("Close #%d failed: %v", i+1, err)
		}
	}
	if srv.Detaches() != 1 {
		t.Errorf("stub saw %d detaches, want 1", srv.Detaches())
	}
}

func TestTransitionErrors(t *testing.T) {
	c, _ := openTest(t, decisionProgram)
	state := symbolic.NewState(decision)

	var terr *TransitionError
	if _, err := c.Explore(context.Background(), state, nil, nil); !errors.As(err, &terr) {
		t.Errorf("Explore before BeginSymbolic = %v, want *TransitionError", err)
	}
	if _, _, err := c.BeginSymbolic(nil); !errors.As(err, &terr) {
		t.Errorf("BeginSymbolic while attached = %v, want *TransitionError", err)
	}
	found := Outcome{Kind: OutcomeFound, State: state}
	if _, _, err := c.Resume(context.Background(), found, nil, end); !errors.As(err, &terr) {
		t.Errorf("Resume while attached = %v, want *TransitionError", err)
	}

	snap, err := c.RunConcrete(context.Background(), decision)
	if err != nil {
		t.Fatalf("RunConcrete failed: %v", err)
	}
	// A write after capture makes the snapshot stale.
	if err := c.Session().WriteRange(rbp-0x20, []byte{1}); err != nil {
		t.Fatalf("WriteRange failed: %v", err)
	}
	var stale *target.StaleSnapshotError
	if _, _, err := c.BeginSymbolic(snap, buffer); !errors.As(err, &stale) {
		t.Errorf("BeginSymbolic with stale snapshot = %v, want *target.StaleSnapshotError", err)
	}
	if c.Session().Mode() != target.ModeConcrete {
		t.Errorf("Mode = %s, want concrete", c.Session().Mode())
	}
}

func TestWithControllerAlwaysDetaches(t *testing.T) {
	srv := rsptest.NewServer(t, newMachine())
	boom := errors.New("boom")

	var held *Controller
	err := WithController(context.Background(), testConfig(srv), newEngine(t, decisionProgram), zap.NewNop(),
		func(c *Controller) error {
			held = c
			if _, err := c.RunConcrete(context.Background(), decision); err != nil {
				return err
			}
			return boom
		})
	if !errors.Is(err, boom) {
		t.Fatalf("WithController error = %v, want boom", err)
	}
	if srv.Detaches() != 1 {
		t.Errorf("stub saw %d detaches, want 1", srv.Detaches())
	}
	if held.Phase() != PhaseDetached {
		t.Errorf("Phase = %s, want detached", held.Phase())
	}
	for i := 0; i < 3; i++ {
		if err := held.Close(); err != nil {
			t.Errorf("Close #%d = %v", i+2, err)
		}
	}
	if srv.Detaches() != 1 {
		t.Errorf("repeated Close sent more detaches: %d", srv.Detaches())
	}
}

func TestOpenConnectionError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport.Port = 1
	cfg.Transport.ConnectAttempts = 1
	_, err := Open(context.Background(), cfg, newEngine(t, decisionProgram), zap.NewNop())
	var connErr *rsp.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Open error = %v, want *rsp.ConnectionError", err)
	}
}
