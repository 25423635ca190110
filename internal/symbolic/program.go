package symbolic

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DecodeError is returned when execution reaches an address with no lifted
// block. It is the analogue of an instruction the engine cannot lift.
type DecodeError struct {
	Addr uint64
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("no lifted block at %#x", e.Addr)
}

// IsDecodeFault reports whether err was caused by a decode failure.
func IsDecodeFault(err error) bool {
	var e *DecodeError
	return errors.As(err, &e)
}

// Statement operations.
const (
	OpLoad  = "load"
	OpStore = "store"
	OpSet   = "set"
	OpBinop = "binop"
)

// Stmt is one statement of a lifted block.
//
//	load:  dst = mem[base+offset] (size bytes, little endian)
//	store: mem[base+offset] = src (size bytes)
//	set:   dst = src
//	binop: dst = lhs <binop> rhs
//
// Operands are register names, temporaries (names starting with "t") or
// integer literals.
type Stmt struct {
	Op     string `yaml:"op"`
	Dst    string `yaml:"dst,omitempty"`
	Src    string `yaml:"src,omitempty"`
	Base   string `yaml:"base,omitempty"`
	Offset int64  `yaml:"offset,omitempty"`
	Size   int    `yaml:"size,omitempty"`
	BinOp  string `yaml:"binop,omitempty"`
	LHS    string `yaml:"lhs,omitempty"`
	RHS    string `yaml:"rhs,omitempty"`
}

// Branch is a conditional terminator comparing two operands.
type Branch struct {
	Op          string `yaml:"op"`
	LHS         string `yaml:"lhs"`
	RHS         string `yaml:"rhs"`
	Size        int    `yaml:"size,omitempty"`
	Taken       uint64 `yaml:"taken"`
	Fallthrough uint64 `yaml:"fallthrough"`
}

// Block is a lifted basic block. Exactly one of Jump, Branch or Exit ends it.
type Block struct {
	Addr   uint64  `yaml:"addr"`
	Stmts  []Stmt  `yaml:"stmts,omitempty"`
	Jump   *uint64 `yaml:"jump,omitempty"`
	Branch *Branch `yaml:"branch,omitempty"`
	Exit   bool    `yaml:"exit,omitempty"`

	cmp BinaryOp
}

// Program is a set of lifted blocks indexed by address.
type Program struct {
	Blocks []*Block `yaml:"blocks"`

	index map[uint64]*Block
}

// ParseProgram decodes a YAML program and validates it.
func ParseProgram(data []byte) (*Program, error) {
	var p Program
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse program: %w", err)
	}
	if err := p.Compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Compile validates the blocks and builds the address index. It must be
// called before a Program built in code is executed.
func (p *Program) Compile() error {
	p.index = make(map[uint64]*Block, len(p.Blocks))
	for _, b := range p.Blocks {
		if _, ok := p.index[b.Addr]; ok {
			return fmt.Errorf("duplicate block at %#x", b.Addr)
		}
		if err := b.validate(); err != nil {
			return fmt.Errorf("block %#x: %w", b.Addr, err)
		}
		p.index[b.Addr] = b
	}
	return nil
}

// Block returns the block at addr.
func (p *Program) Block(addr uint64) (*Block, error) {
	b, ok := p.index[addr]
	if !ok {
		return nil, &DecodeError{Addr: addr}
	}
	return b, nil
}

// Addrs returns the block addresses in ascending order.
func (p *Program) Addrs() []uint64 {
	addrs := make([]uint64, 0, len(p.index))
	for addr := range p.index {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

func (b *Block) validate() error {
	terms := 0
	if b.Jump != nil {
		terms++
	}
	if b.Branch != nil {
		terms++
	}
	if b.Exit {
		terms++
	}
	if terms != 1 {
		return fmt.Errorf("expected exactly one terminator, got %d", terms)
	}

	for i, s := range b.Stmts {
		if err := s.validate(); err != nil {
			return fmt.Errorf("stmt %d (%s): %w", i, s.Op, err)
		}
	}

	if b.Branch != nil {
		op, err := ParseBinaryOp(b.Branch.Op)
		if err != nil {
			return err
		}
		if !op.IsCompare() {
			return fmt.Errorf("branch operation %s is not a comparison", op)
		}
		if err := validSize(b.Branch.Size, true); err != nil {
			return err
		}
		b.cmp = op
	}
	return nil
}

func (s *Stmt) validate() error {
	switch s.Op {
	case OpLoad:
		if s.Dst == "" || s.Base == "" {
			return fmt.Errorf("dst and base required")
		}
		return validSize(s.Size, false)
	case OpStore:
		if s.Src == "" || s.Base == "" {
			return fmt.Errorf("src and base required")
		}
		return validSize(s.Size, false)
	case OpSet:
		if s.Dst == "" || s.Src == "" {
			return fmt.Errorf("dst and src required")
		}
		return validSize(s.Size, true)
	case OpBinop:
		if s.Dst == "" || s.LHS == "" || s.RHS == "" {
			return fmt.Errorf("dst, lhs and rhs required")
		}
		op, err := ParseBinaryOp(s.BinOp)
		if err != nil {
			return err
		}
		if !op.IsArithmetic() && !op.IsCompare() {
			return fmt.Errorf("invalid binop %s", op)
		}
		return validSize(s.Size, true)
	default:
		return fmt.Errorf("unknown op")
	}
}

func validSize(size int, optional bool) error {
	switch size {
	case 1, 2, 4, 8:
		return nil
	case 0:
		if optional {
			return nil
		}
	}
	return fmt.Errorf("invalid size %d", size)
}

// isTemp reports whether an operand names a block-local temporary.
func isTemp(name string) bool {
	if len(name) < 2 || name[0] != 't' {
		return false
	}
	_, err := strconv.Atoi(name[1:])
	return err == nil
}

// parseLiteral parses a decimal or 0x-prefixed integer, optionally negative.
func parseLiteral(s string) (uint64, bool) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return uint64(v), true
	}
	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return v, true
	}
	return 0, false
}
