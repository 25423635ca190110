package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/muurk/symbridge/internal/rsp"
	"github.com/muurk/symbridge/internal/rsp/rsptest"
	"github.com/muurk/symbridge/internal/symbolic"
	"github.com/muurk/symbridge/internal/target"
	"go.uber.org/zap"
)

func injectedState(t *testing.T) (*symbolic.State, Binding) {
	t.Helper()
	state := symbolic.NewState(0x1000)
	state.StoreBytes(0x8000, make([]byte, 8))
	v, err := symbolic.NewVariable("x", 64)
	if err != nil {
		t.Fatal(err)
	}
	return state, Inject(state, 0x8000, v)
}

func TestExportBindings(t *testing.T) {
	state, b := injectedState(t)

	// 32-bit little-endian load of the first four bytes must equal 10.
	word, err := state.Load(0x8000, 4)
	if err != nil {
		t.Fatal(err)
	}
	state.Constrain(symbolic.NewBinaryExpr(symbolic.EQ, word, symbolic.NewConstantExpr32(10)))

	patches, err := ExportBindings(context.Background(), symbolic.NewDomainSolver(), state, []Binding{b})
	if err != nil {
		t.Fatalf("ExportBindings failed: %v", err)
	}
	want := []Patch{{Addr: 0x8000, Data: []byte{0x0a, 0, 0, 0, 0, 0, 0, 0}, Var: "x"}}
	if diff := cmp.Diff(want, patches); diff != "" {
		t.Errorf("patches mismatch (-want +got):\n%s", diff)
	}
}

func TestExportBindingsUnsatisfiable(t *testing.T) {
	state, b := injectedState(t)
	x0, _ := state.LoadByte(0x8000)
	state.Constrain(symbolic.NewBinaryExpr(symbolic.EQ, x0, symbolic.NewConstantExpr8(1)))
	state.Constrain(symbolic.NewBinaryExpr(symbolic.EQ, x0, symbolic.NewConstantExpr8(2)))

	_, err := ExportBindings(context.Background(), symbolic.NewDomainSolver(), state, []Binding{b})
	var unsat *UnsatisfiableError
	if !errors.As(err, &unsat) {
		t.Fatalf("ExportBindings error = %v, want *UnsatisfiableError", err)
	}
	if unsat.Constraints != 2 {
		t.Errorf("Constraints = %d, want 2", unsat.Constraints)
	}
}

func TestApplyWritesLiveMemory(t *testing.T) {
	m := rsptest.NewMachine()
	m.Regs["rip"] = 0x400000
	m.Map(0x8000, 0x100)
	srv := rsptest.NewServer(t, m)

	cfg := rsp.DefaultConfig()
	cfg.Host, cfg.Port = srv.Host(), srv.Port()
	client, err := rsp.Dial(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	session, err := target.Attach(context.Background(), client, target.DefaultConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	patches := []Patch{
		{Addr: 0x8000, Data: []byte{0x0a, 0, 0, 0}, Var: "a"},
		{Addr: 0x8010, Data: []byte{0xf6, 0xff, 0xff, 0xff}, Var: "b"},
	}
	if err := Apply(session, patches, zap.NewNop()); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	for _, p := range patches {
		got, err := srv.Read(p.Addr, len(p.Data))
		if err != nil {
			t.Fatalf("stub Read failed: %v", err)
		}
		if diff := cmp.Diff(p.Data, got); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", p.Var, diff)
		}
	}

	// Writes are refused outside concrete mode.
	if err := session.EnterSymbolic(); err != nil {
		t.Fatal(err)
	}
	var modeErr *target.InvalidModeError
	if err := Apply(session, patches, zap.NewNop()); !errors.As(err, &modeErr) {
		t.Errorf("Apply in symbolic mode = %v, want *target.InvalidModeError", err)
	}
}
