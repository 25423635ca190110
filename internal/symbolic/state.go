package symbolic

import (
	"fmt"
	"sync/atomic"

	"github.com/benbjohnson/immutable"
)

var nextStateID atomic.Int64

// UnmappedReadError is returned when a path reads memory that was neither
// imported nor written by the path itself.
type UnmappedReadError struct {
	Addr uint64
	Size int
}

func (e *UnmappedReadError) Error() string {
	return fmt.Sprintf("read of %d bytes at %#x is not covered by the imported state", e.Size, e.Addr)
}

// State is one path of symbolic execution.
//
// Registers and memory live in persistent maps so Fork is cheap and the
// parent is unaffected by writes to the child. A State is owned by one
// goroutine at a time.
type State struct {
	id      int64
	parent  int64
	pc      uint64
	regs    *immutable.Map[string, Expr]
	mem     *immutable.SortedMap[uint64, Expr]
	cons    []Expr
	vars    []*Variable
	history []uint64
	steps   int
	exited  bool
}

// NewState returns an empty state at pc.
func NewState(pc uint64) *State {
	return &State{
		id:   nextStateID.Add(1),
		pc:   pc,
		regs: immutable.NewMap[string, Expr](nil),
		mem:  immutable.NewSortedMap[uint64, Expr](&addrComparer{}),
	}
}

// ID returns a process-unique identifier for the state.
func (s *State) ID() int64 { return s.id }

// Parent returns the ID of the state this one was forked from, or zero.
func (s *State) Parent() int64 { return s.parent }

// PC returns the address of the next block to execute.
func (s *State) PC() uint64 { return s.pc }

// SetPC moves the state to a new block and records the old one in history.
func (s *State) SetPC(pc uint64) {
	s.history = append(s.history[:len(s.history):len(s.history)], s.pc)
	s.pc = pc
	s.steps++
}

// Exit marks the path as terminated by the program.
func (s *State) Exit() { s.exited = true }

// Exited reports whether the path reached an exit terminator.
func (s *State) Exited() bool { return s.exited }

// Steps returns the number of blocks executed on this path.
func (s *State) Steps() int { return s.steps }

// History returns the addresses of the blocks executed on this path.
func (s *State) History() []uint64 {
	return append([]uint64(nil), s.history...)
}

// Fork returns a copy of the state that shares no mutable data with it.
func (s *State) Fork() *State {
	other := *s
	other.id = nextStateID.Add(1)
	other.parent = s.id
	// Full slice expressions force appends on either side to copy.
	other.cons = s.cons[:len(s.cons):len(s.cons)]
	other.vars = s.vars[:len(s.vars):len(s.vars)]
	other.history = s.history[:len(s.history):len(s.history)]
	return &other
}

// Register returns the 64-bit expression held by a register.
func (s *State) Register(name string) (Expr, bool) {
	return s.regs.Get(name)
}

// SetRegister sets a register. Narrower values are zero extended.
func (s *State) SetRegister(name string, value Expr) {
	s.regs = s.regs.Set(name, NewCastExpr(value, Width64, false))
}

// RegisterNames returns the names of every register set on the state.
func (s *State) RegisterNames() []string {
	names := make([]string, 0, s.regs.Len())
	itr := s.regs.Iterator()
	for !itr.Done() {
		k, _, _ := itr.Next()
		names = append(names, k)
	}
	return names
}

// Store writes value to memory in little-endian byte order. The value width
// must be a multiple of 8.
func (s *State) Store(addr uint64, value Expr) {
	w := ExprWidth(value)
	assert(w%8 == 0, "store of %d bits at %#x", w, addr)
	for i := uint(0); i < w/8; i++ {
		s.StoreByte(addr+uint64(i), NewExtractExpr(value, i*8, Width8))
	}
}

// StoreByte writes a single byte expression.
func (s *State) StoreByte(addr uint64, b Expr) {
	assert(ExprWidth(b) == Width8, "store byte of width %d", ExprWidth(b))
	s.mem = s.mem.Set(addr, b)
}

// StoreBytes writes concrete bytes starting at addr.
func (s *State) StoreBytes(addr uint64, data []byte) {
	for i, b := range data {
		s.StoreByte(addr+uint64(i), NewConstantExpr8(uint64(b)))
	}
}

// LoadByte returns the byte at addr.
func (s *State) LoadByte(addr uint64) (Expr, error) {
	b, ok := s.mem.Get(addr)
	if !ok {
		return nil, &UnmappedReadError{Addr: addr, Size: 1}
	}
	return b, nil
}

// Load reads size bytes at addr as a little-endian value.
func (s *State) Load(addr uint64, size int) (Expr, error) {
	assert(size > 0 && size <= 8, "load of %d bytes", size)
	bytes := make([]Expr, size)
	for i := range bytes {
		b, ok := s.mem.Get(addr + uint64(i))
		if !ok {
			return nil, &UnmappedReadError{Addr: addr, Size: size}
		}
		bytes[i] = b
	}
	return NewConcatBytes(bytes), nil
}

// Covered reports whether every byte of [addr, addr+size) is present.
func (s *State) Covered(addr uint64, size int) bool {
	for i := 0; i < size; i++ {
		if _, ok := s.mem.Get(addr + uint64(i)); !ok {
			return false
		}
	}
	return true
}

// MemorySize returns the number of bytes present in memory.
func (s *State) MemorySize() int { return s.mem.Len() }

// Constrain adds a boolean constraint to the path.
func (s *State) Constrain(cond Expr) {
	assert(ExprWidth(cond) == WidthBool, "constraint must be boolean: %s", cond)
	if IsConstantTrue(cond) {
		return
	}
	s.cons = append(s.cons, cond)
}

// Constraints returns the path constraints.
func (s *State) Constraints() []Expr {
	return append([]Expr(nil), s.cons...)
}

// AddVariable records a symbolic variable introduced on this path.
func (s *State) AddVariable(v *Variable) {
	s.vars = append(s.vars, v)
}

// Variables returns the symbolic variables introduced on this path.
func (s *State) Variables() []*Variable {
	return append([]*Variable(nil), s.vars...)
}

// addrComparer orders memory by address. Implements immutable.Comparer.
type addrComparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b.
func (c *addrComparer) Compare(a, b uint64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}
