package symbolic

import (
	"errors"
	"testing"
)

func TestStateLoadStore(t *testing.T) {
	s := NewState(0x1000)
	s.StoreBytes(0x8000, []byte{0x01, 0x02, 0x03, 0x04})

	v, err := s.Load(0x8000, 4)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	c, ok := v.(*ConstantExpr)
	if !ok || c.Value != 0x04030201 {
		t.Errorf("Load = %s, want little-endian 0x04030201", v)
	}

	s.Store(0x8004, NewConstantExpr(0xaabb, Width16))
	b, err := s.LoadByte(0x8005)
	if err != nil {
		t.Fatalf("LoadByte failed: %v", err)
	}
	if c := b.(*ConstantExpr); c.Value != 0xaa {
		t.Errorf("byte at 0x8005 = %s, want 0xaa", b)
	}

	if !s.Covered(0x8000, 6) || s.Covered(0x8000, 7) {
		t.Errorf("Covered reports wrong extent")
	}
}

func TestStateUnmappedRead(t *testing.T) {
	s := NewState(0)
	s.StoreBytes(0x8000, []byte{1, 2})

	_, err := s.Load(0x8000, 4)
	var unmapped *UnmappedReadError
	if !errors.As(err, &unmapped) {
		t.Fatalf("Load error = %v, want *UnmappedReadError", err)
	}
	if unmapped.Addr != 0x8000 || unmapped.Size != 4 {
		t.Errorf("error = %+v", unmapped)
	}
}

func TestStateForkIsolation(t *testing.T) {
	parent := NewState(0x1000)
	parent.SetRegister("rax", NewConstantExpr64(1))
	parent.StoreBytes(0x8000, []byte{1})
	parent.Constrain(NewBinaryExpr(EQ, NewVarExpr("x", 0), NewConstantExpr8(1)))

	child := parent.Fork()
	child.SetRegister("rax", NewConstantExpr64(2))
	child.StoreBytes(0x8000, []byte{2})
	child.Constrain(NewBinaryExpr(EQ, NewVarExpr("x", 1), NewConstantExpr8(2)))
	child.SetPC(0x2000)

	if r, _ := parent.Register("rax"); r.(*ConstantExpr).Value != 1 {
		t.Errorf("parent rax = %s after child write", r)
	}
	if b, _ := parent.LoadByte(0x8000); b.(*ConstantExpr).Value != 1 {
		t.Errorf("parent memory = %s after child write", b)
	}
	if n := len(parent.Constraints()); n != 1 {
		t.Errorf("parent has %d constraints, want 1", n)
	}
	if parent.PC() != 0x1000 || child.PC() != 0x2000 {
		t.Errorf("pc parent=%#x child=%#x", parent.PC(), child.PC())
	}
	if child.Parent() != parent.ID() {
		t.Errorf("child parent = %d, want %d", child.Parent(), parent.ID())
	}

	// Appends on the parent must not leak into the child.
	parent.Constrain(NewBinaryExpr(EQ, NewVarExpr("x", 2), NewConstantExpr8(3)))
	if got := child.Constraints(); len(got) != 2 || Refs(got[1])[0] != (ByteRef{"x", 1}) {
		t.Errorf("child constraints = %v", got)
	}
}

func TestSetRegisterZeroExtends(t *testing.T) {
	s := NewState(0)
	s.SetRegister("eax", NewVarExpr("x", 0))
	r, _ := s.Register("eax")
	if w := ExprWidth(r); w != Width64 {
		t.Errorf("register width = %d, want 64", w)
	}
}

func TestVariable(t *testing.T) {
	if _, err := NewVariable("x", 12); err == nil {
		t.Errorf("expected error for width 12")
	}
	v, err := NewVariable("x", 32)
	if err != nil {
		t.Fatalf("NewVariable failed: %v", err)
	}
	m := Model{{"x", 0}: 0x0a, {"x", 3}: 0x01}
	if got := v.Value(m).Int64(); got != 0x0a000001 {
		t.Errorf("Value = %#x, want 0x0a000001 (byte 0 most significant)", got)
	}
	if got := v.String(); got != "x:32" {
		t.Errorf("String = %q", got)
	}
}
