package scenario

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/muurk/symbridge/internal/handoff"
	"github.com/muurk/symbridge/internal/rsp/rsptest"
	"go.uber.org/zap"
)

// Addresses of not_packed_elf64.
const (
	oep      = 0x4009b2
	decision = 0x400af3
	check2   = 0x400b01
	check3   = 0x400b10
	dropV1   = 0x400b87
	dropV2   = 0x400bb6
	venv     = 0x400bc2
	fakeCC   = 0x400bd6
	end      = 0x400c03

	stack = 0x7fffffffd000
	rbp   = stack + 0x1ef0
)

// newDropper returns a machine that behaves like not_packed_elf64 from its
// entry point: the three configuration words at rbp-0xc0 select the payload,
// whose marker ends up in rax.
func newDropper() *rsptest.Machine {
	m := rsptest.NewMachine()
	m.Regs["rip"] = oep
	m.Regs["rsp"] = stack + 0x1e00
	m.Regs["rbp"] = rbp
	m.Map(stack, 0x2000)

	m.Code[oep] = rsptest.Jump(decision)
	m.Code[decision] = rsptest.BranchNE32(-0xc0, 10, fakeCC, check2)
	m.Code[check2] = rsptest.BranchNE32(-0xbc, 6, venv, check3)
	m.Code[check3] = rsptest.BranchNE32(-0xb8, 0xfffffff6, dropV1, dropV2)
	m.Code[dropV1] = rsptest.Set("rax", 1, end)
	m.Code[dropV2] = rsptest.Set("rax", 2, end)
	m.Code[venv] = rsptest.Set("rax", 3, end)
	m.Code[fakeCC] = rsptest.Set("rax", 4, end)
	m.Code[end] = rsptest.Exit(0)
	return m
}

func testEnv(srv *rsptest.Server) Env {
	cfg := handoff.DefaultConfig()
	cfg.Transport.Host = srv.Host()
	cfg.Transport.Port = srv.Port()
	return Env{Config: cfg, Logger: zap.NewNop()}
}

var wantSolution = []byte{
	0x0a, 0x00, 0x00, 0x00,
	0x06, 0x00, 0x00, 0x00,
	0xf6, 0xff, 0xff, 0xff,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

func TestNotPackedELF64(t *testing.T) {
	catalog, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}

	for _, name := range catalog.Variants() {
		t.Run(name, func(t *testing.T) {
			s, err := catalog.Get(name)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			srv := rsptest.NewServer(t, newDropper())

			var phases []handoff.Phase
			env := testEnv(srv)
			env.Observers = []handoff.Observer{func(ev handoff.Event) { phases = append(phases, ev.Phase) }}

			res, err := DefaultRegistry().Run(context.Background(), env, s)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if res.Outcome != handoff.OutcomeFound || !res.Matched {
				t.Fatalf("outcome = %s, matched = %v", res.Outcome, res.Matched)
			}
			if !bytes.Equal(res.Solution, wantSolution) {
				t.Errorf("solution = %x, want %x", res.Solution, wantSolution)
			}
			if res.FinalPC != end {
				t.Errorf("FinalPC = %#x, want %#x", res.FinalPC, end)
			}

			// The live process read the written configuration and took the
			// stage two v2 branch.
			got, err := srv.Read(rbp-0xc0, 32)
			if err != nil || !bytes.Equal(got, wantSolution) {
				t.Errorf("live buffer = %x, %v", got, err)
			}
			if rax := srv.Reg("rax"); rax != 2 {
				t.Errorf("rax = %d, want 2 (drop stage2 v2)", rax)
			}
			if srv.Detaches() != 1 {
				t.Errorf("stub saw %d detaches, want 1", srv.Detaches())
			}
			if n := len(phases); n == 0 || phases[n-1] != handoff.PhaseDetached {
				t.Errorf("last phase = %v, want detached", phases)
			}
		})
	}
}

func TestInapplicableIsSkipped(t *testing.T) {
	catalog, err := ParseCatalog([]byte(truncatedCatalog))
	if err != nil {
		t.Fatalf("ParseCatalog failed: %v", err)
	}
	s, err := catalog.Get("truncated")
	if err != nil {
		t.Fatal(err)
	}
	srv := rsptest.NewServer(t, newDropper())

	res, err := DefaultRegistry().Run(context.Background(), testEnv(srv), s)
	if err != nil {
		t.Fatalf("inapplicable scenario returned error: %v", err)
	}
	if !res.Skipped() || res.Reason == "" {
		t.Errorf("result = %+v, want skipped with a reason", res)
	}
	if n := srv.CountPrefix("M"); n != 0 {
		t.Errorf("process memory written %d times", n)
	}
	if srv.Detaches() != 1 {
		t.Errorf("stub saw %d detaches, want 1", srv.Detaches())
	}
}

func TestMismatchFails(t *testing.T) {
	catalog, err := LoadCatalog()
	if err != nil {
		t.Fatal(err)
	}
	base, err := catalog.Get("not_packed_elf64")
	if err != nil {
		t.Fatal(err)
	}
	s := *base
	s.Expected = "ff" + base.Expected[2:]
	srv := rsptest.NewServer(t, newDropper())

	res, err := DefaultRegistry().Run(context.Background(), testEnv(srv), &s)
	if !errors.Is(err, ErrMismatch) {
		t.Fatalf("Run error = %v, want ErrMismatch", err)
	}
	if res.Matched {
		t.Errorf("Matched = true")
	}
}

func TestUnknownKind(t *testing.T) {
	s := &Scenario{Name: "x", Kind: "fuzz"}
	if _, err := NewRegistry().Run(context.Background(), Env{}, s); err == nil {
		t.Errorf("expected error for unknown kind")
	}
}

// truncatedCatalog lifts only the first check: the second one is not
// decodable.
const truncatedCatalog = `
scenarios:
  - name: truncated
    kind: decision-buffer
    decision: 0x400af3
    find: [0x400bb6]
    avoid: [0x400bd6]
    end: 0x400c03
    buffer: {name: arg0, base: rbp, offset: -0xc0, bits: 256}
    searcher: dfs
    program:
      blocks:
        - addr: 0x400af3
          stmts:
            - {op: load, dst: t0, base: rbp, offset: -0xc0, size: 4}
          branch: {op: ne, lhs: t0, rhs: 10, taken: 0x400bd6, fallthrough: 0x400b01}
`
