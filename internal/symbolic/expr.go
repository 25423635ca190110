package symbolic

import (
	"fmt"
)

// Expression widths in bits.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
)

// Expr represents a symbolic expression of at most 64 bits.
type Expr interface {
	fmt.Stringer
	expr()
}

func (*BinaryExpr) expr()   {}
func (*CastExpr) expr()     {}
func (*ConcatExpr) expr()   {}
func (*ConstantExpr) expr() {}
func (*ExtractExpr) expr()  {}
func (*NotExpr) expr()      {}
func (*VarExpr) expr()      {}

// ExprWidth returns the bit width of the expression.
func ExprWidth(expr Expr) uint {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Width
	case *VarExpr:
		return Width8
	case *ConcatExpr:
		return ExprWidth(expr.MSB) + ExprWidth(expr.LSB)
	case *ExtractExpr:
		return expr.Width
	case *NotExpr:
		return ExprWidth(expr.Expr)
	case *CastExpr:
		return expr.Width
	case *BinaryExpr:
		if expr.Op.IsCompare() {
			return WidthBool
		}
		return ExprWidth(expr.LHS)
	default:
		panic(fmt.Sprintf("unreachable: %T", expr))
	}
}

// BinaryOp represents a binary expression operation.
type BinaryOp int

// BinaryExpr operations. NE, UGT, UGE, SGT and SGE are rewritten into the
// other comparisons by NewBinaryExpr.
const (
	arithmeticOpBegin = BinaryOp(iota)
	ADD
	SUB
	MUL
	AND
	OR
	XOR
	SHL
	LSHR
	ASHR
	arithmeticOpEnd

	compareOpBegin
	EQ
	NE
	ULT
	ULE
	UGT
	UGE
	SLT
	SLE
	SGT
	SGE
	compareOpEnd
)

var binaryOps = [...]string{
	ADD:  "add",
	SUB:  "sub",
	MUL:  "mul",
	AND:  "and",
	OR:   "or",
	XOR:  "xor",
	SHL:  "shl",
	LSHR: "lshr",
	ASHR: "ashr",
	EQ:   "eq",
	NE:   "ne",
	ULT:  "ult",
	ULE:  "ule",
	UGT:  "ugt",
	UGE:  "uge",
	SLT:  "slt",
	SLE:  "sle",
	SGT:  "sgt",
	SGE:  "sge",
}

// String returns the string representation of the operation.
func (op BinaryOp) String() string {
	if op >= 0 && op < BinaryOp(len(binaryOps)) && binaryOps[op] != "" {
		return binaryOps[op]
	}
	return fmt.Sprintf("BinaryOp<%d>", op)
}

// IsArithmetic returns true if op is an arithmetic operator.
func (op BinaryOp) IsArithmetic() bool {
	return op > arithmeticOpBegin && op < arithmeticOpEnd
}

// IsCompare returns true if op is a comparison operator.
func (op BinaryOp) IsCompare() bool {
	return op > compareOpBegin && op < compareOpEnd
}

// ParseBinaryOp returns the operation named s.
func ParseBinaryOp(s string) (BinaryOp, error) {
	for op, name := range binaryOps {
		if name != "" && name == s {
			return BinaryOp(op), nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}

// BinaryExpr represents an operation on two expressions.
type BinaryExpr struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

// NewBinaryExpr returns a simplified expression for op applied to lhs and rhs.
// Both operands must have the same width.
func NewBinaryExpr(op BinaryOp, lhs, rhs Expr) Expr {
	assert(ExprWidth(lhs) == ExprWidth(rhs), "binary expr width mismatch: op=%s %d != %d", op, ExprWidth(lhs), ExprWidth(rhs))

	switch op {
	case ADD, SUB, MUL, XOR, SHL, LSHR, ASHR:
		return newArithExpr(op, lhs, rhs)
	case AND:
		return newAndExpr(lhs, rhs)
	case OR:
		return newOrExpr(lhs, rhs)

	case EQ:
		return newEqExpr(lhs, rhs)
	case NE:
		return NewIsZeroExpr(newEqExpr(lhs, rhs))
	case ULT, ULE, SLT, SLE:
		return newCmpExpr(op, lhs, rhs)
	case UGT:
		return newCmpExpr(ULT, rhs, lhs) // reverse
	case UGE:
		return newCmpExpr(ULE, rhs, lhs) // reverse
	case SGT:
		return newCmpExpr(SLT, rhs, lhs) // reverse
	case SGE:
		return newCmpExpr(SLE, rhs, lhs) // reverse

	default:
		panic("unreachable")
	}
}

// String returns the string representation of the expression.
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Op, e.LHS, e.RHS)
}

func newArithExpr(op BinaryOp, lhs, rhs Expr) Expr {
	l, lok := lhs.(*ConstantExpr)
	r, rok := rhs.(*ConstantExpr)
	if lok && rok {
		return l.apply(op, r)
	}

	switch op {
	case ADD, XOR:
		// Move constant expression to left hand side.
		if !lok && rok {
			lhs, rhs, l, lok = rhs, lhs, r, true
		}
		if lok && l.Value == 0 {
			return rhs
		}
	case SUB:
		if rok && r.Value == 0 {
			return lhs
		}
		if exprEqual(lhs, rhs) {
			return NewConstantExpr(0, ExprWidth(lhs))
		}
	case SHL, LSHR, ASHR:
		if rok && r.Value == 0 {
			return lhs
		}
	case MUL:
		if !lok && rok {
			lhs, rhs, l, lok = rhs, lhs, r, true
		}
		if lok && l.Value == 0 {
			return l
		}
		if lok && l.Value == 1 {
			return rhs
		}
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

func newAndExpr(lhs, rhs Expr) Expr {
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.apply(AND, rhs)
		}
		if lhs.Value == 0 {
			return lhs
		}
		if lhs.IsAllOnes() {
			return rhs
		}
	}
	if exprEqual(lhs, rhs) {
		return lhs
	}
	return &BinaryExpr{Op: AND, LHS: lhs, RHS: rhs}
}

func newOrExpr(lhs, rhs Expr) Expr {
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.apply(OR, rhs)
		}
		if lhs.Value == 0 {
			return rhs
		}
		if lhs.IsAllOnes() {
			return lhs
		}
	}
	if exprEqual(lhs, rhs) {
		return lhs
	}
	return &BinaryExpr{Op: OR, LHS: lhs, RHS: rhs}
}

// newEqExpr returns an expression that represents the equality of lhs and rhs.
func newEqExpr(lhs, rhs Expr) Expr {
	// If constant is on right side, swap to left side.
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return NewBoolConstantExpr(lhs.Value == rhs.Value)
		}

		switch rhs := rhs.(type) {
		case *ConcatExpr:
			// C == concat(a, b) => hi(C) == a && lo(C) == b
			lw := ExprWidth(rhs.LSB)
			return NewBinaryExpr(AND,
				newEqExpr(lhs.Extract(lw, ExprWidth(rhs.MSB)), rhs.MSB),
				newEqExpr(lhs.Extract(0, lw), rhs.LSB),
			)

		case *BinaryExpr:
			if lhs.Width == WidthBool && rhs.Op.IsCompare() {
				if lhs.IsTrue() {
					return rhs // T == (cmp) => cmp
				}
				if rhs.Op == EQ && IsConstantFalse(rhs.LHS) {
					return rhs.RHS // F == (F == A) => A
				}
			}
			if rhs.Op == ADD && IsConstantExpr(rhs.LHS) { // X == Y + z => X - Y == z
				return newEqExpr(NewBinaryExpr(SUB, lhs, rhs.LHS), rhs.RHS)
			}
			if rhs.Op == XOR && IsConstantExpr(rhs.LHS) { // X == Y ^ z => X ^ Y == z
				return newEqExpr(NewBinaryExpr(XOR, lhs, rhs.LHS), rhs.RHS)
			}

		case *CastExpr:
			// zext(a) == C => a == trunc(C) when C fits, false otherwise
			if !rhs.Signed {
				sw := ExprWidth(rhs.Src)
				trunc := lhs.Extract(0, sw)
				if trunc.ZExt(lhs.Width).Value != lhs.Value {
					return NewBoolConstantExpr(false)
				}
				return newEqExpr(trunc, rhs.Src)
			}
		}
	}

	if exprEqual(lhs, rhs) {
		return NewBoolConstantExpr(true)
	}
	return &BinaryExpr{Op: EQ, LHS: lhs, RHS: rhs}
}

func newCmpExpr(op BinaryOp, lhs, rhs Expr) Expr {
	if l, ok := lhs.(*ConstantExpr); ok {
		if r, ok := rhs.(*ConstantExpr); ok {
			return NewBoolConstantExpr(l.compare(op, r))
		}
	}
	if exprEqual(lhs, rhs) {
		return NewBoolConstantExpr(op == ULE || op == SLE)
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// NewIsZeroExpr returns an expression that is true when expr is zero.
func NewIsZeroExpr(expr Expr) Expr {
	return newEqExpr(NewConstantExpr(0, ExprWidth(expr)), expr)
}

// ConcatExpr represents a concatenation of two expressions.
type ConcatExpr struct {
	MSB Expr
	LSB Expr
}

// NewConcatExpr returns a new instance of ConcatExpr.
func NewConcatExpr(msb, lsb Expr) Expr {
	assert(ExprWidth(msb)+ExprWidth(lsb) <= Width64, "concat wider than 64 bits")

	// Combine expressions if they are both constants.
	if msb, ok := msb.(*ConstantExpr); ok {
		if lsb, ok := lsb.(*ConstantExpr); ok {
			return msb.Concat(lsb)
		}
	}

	// Combine extract expressions if they are contiguous.
	if msb, ok := msb.(*ExtractExpr); ok {
		if lsb, ok := lsb.(*ExtractExpr); ok {
			if exprEqual(msb.Expr, lsb.Expr) && lsb.Offset+lsb.Width == msb.Offset {
				return NewExtractExpr(msb.Expr, lsb.Offset, msb.Width+lsb.Width)
			}
		}
	}

	return &ConcatExpr{MSB: msb, LSB: lsb}
}

// NewConcatBytes concatenates bytes given least significant first.
func NewConcatBytes(bytes []Expr) Expr {
	assert(len(bytes) > 0, "concat of zero bytes")
	out := bytes[0]
	for _, b := range bytes[1:] {
		out = NewConcatExpr(b, out)
	}
	return out
}

// String returns the string representation of the expression.
func (e *ConcatExpr) String() string {
	return fmt.Sprintf("(concat %s %s)", e.MSB, e.LSB)
}

// ExtractExpr represents the extraction of a set of bits at a given offset/width.
type ExtractExpr struct {
	Expr   Expr
	Offset uint
	Width  uint
}

// NewExtractExpr returns a new instance of ExtractExpr.
func NewExtractExpr(expr Expr, offset uint, width uint) Expr {
	kw := ExprWidth(expr)
	assert(width > 0, "extract width cannot be zero")
	assert(offset+width <= kw, "extract out of bounds: %d+%d > %d", offset, width, kw)

	if offset == 0 && width == kw {
		return expr
	}

	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Extract(offset, width)

	case *ConcatExpr:
		lw := ExprWidth(expr.LSB)
		// Directly extract from MSB if we skip over LSB.
		if offset >= lw {
			return NewExtractExpr(expr.MSB, offset-lw, width)
		}
		// Directly extract from LSB if we stay inside it.
		if offset+width <= lw {
			return NewExtractExpr(expr.LSB, offset, width)
		}
		// E(C(x,y)) = C(E(x), E(y))
		return NewConcatExpr(
			NewExtractExpr(expr.MSB, 0, offset+width-lw),
			NewExtractExpr(expr.LSB, offset, lw-offset),
		)

	case *ExtractExpr:
		return NewExtractExpr(expr.Expr, expr.Offset+offset, width)

	case *CastExpr:
		sw := ExprWidth(expr.Src)
		if offset+width <= sw {
			return NewExtractExpr(expr.Src, offset, width)
		}
		if !expr.Signed && offset >= sw {
			return NewConstantExpr(0, width)
		}
	}

	return &ExtractExpr{Expr: expr, Offset: offset, Width: width}
}

// String returns the string representation of the expression.
func (e *ExtractExpr) String() string {
	return fmt.Sprintf("(extract %s %d %d)", e.Expr, e.Offset, e.Width)
}

// NotExpr represents a bitwise not of an expression.
type NotExpr struct {
	Expr Expr
}

// NewNotExpr returns a new instance of NotExpr.
func NewNotExpr(expr Expr) Expr {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Not()
	case *NotExpr:
		return expr.Expr
	}
	return &NotExpr{Expr: expr}
}

// String returns the string representation of the expression.
func (e *NotExpr) String() string {
	return fmt.Sprintf("(not %s)", e.Expr)
}

// CastExpr represents an expression that casts an expression to a new width.
type CastExpr struct {
	Src    Expr
	Width  uint
	Signed bool
}

// NewCastExpr returns a new instance of CastExpr. Casting to a narrower
// width truncates.
func NewCastExpr(src Expr, width uint, signed bool) Expr {
	sw := ExprWidth(src)
	if width == sw {
		return src
	} else if width < sw {
		return NewExtractExpr(src, 0, width)
	}
	if src, ok := src.(*ConstantExpr); ok {
		if signed {
			return src.SExt(width)
		}
		return src.ZExt(width)
	}
	return &CastExpr{Src: src, Width: width, Signed: signed}
}

// String returns the string representation of the expression.
func (e *CastExpr) String() string {
	if e.Signed {
		return fmt.Sprintf("(sext %s %d)", e.Src, e.Width)
	}
	return fmt.Sprintf("(zext %s %d)", e.Src, e.Width)
}

// VarExpr is one byte of a symbolic variable.
type VarExpr struct {
	Name  string
	Index uint
}

// NewVarExpr returns byte index of variable name.
func NewVarExpr(name string, index uint) *VarExpr {
	return &VarExpr{Name: name, Index: index}
}

// Ref returns the variable byte referenced by the expression.
func (e *VarExpr) Ref() ByteRef {
	return ByteRef{Var: e.Name, Index: e.Index}
}

// String returns the string representation of the expression.
func (e *VarExpr) String() string {
	return fmt.Sprintf("%s[%d]", e.Name, e.Index)
}

// ConstantExpr represents a constant of at most 64 bits.
type ConstantExpr struct {
	Value uint64
	Width uint
}

// NewConstantExpr returns a new instance of ConstantExpr.
func NewConstantExpr(value uint64, width uint) *ConstantExpr {
	return &ConstantExpr{Value: value & mask(width), Width: width}
}

// NewConstantExpr8 returns an 8-bit constant.
func NewConstantExpr8(value uint64) *ConstantExpr { return NewConstantExpr(value, Width8) }

// NewConstantExpr32 returns a 32-bit constant.
func NewConstantExpr32(value uint64) *ConstantExpr { return NewConstantExpr(value, Width32) }

// NewConstantExpr64 returns a 64-bit constant.
func NewConstantExpr64(value uint64) *ConstantExpr { return NewConstantExpr(value, Width64) }

// NewBoolConstantExpr returns a boolean constant.
func NewBoolConstantExpr(value bool) *ConstantExpr {
	if value {
		return NewConstantExpr(1, WidthBool)
	}
	return NewConstantExpr(0, WidthBool)
}

// String returns the string representation of the expression.
func (e *ConstantExpr) String() string {
	return fmt.Sprintf("(const %#x %d)", e.Value, e.Width)
}

// IsTrue returns true if the expression is a true boolean.
func (e *ConstantExpr) IsTrue() bool { return e.Width == WidthBool && e.Value == 1 }

// IsFalse returns true if the expression is a false boolean.
func (e *ConstantExpr) IsFalse() bool { return e.Width == WidthBool && e.Value == 0 }

// IsAllOnes returns true if every bit is set.
func (e *ConstantExpr) IsAllOnes() bool { return e.Value == mask(e.Width) }

// Concat returns the constant with e as the most significant bits.
func (e *ConstantExpr) Concat(lsb *ConstantExpr) *ConstantExpr {
	return NewConstantExpr(e.Value<<lsb.Width|lsb.Value, e.Width+lsb.Width)
}

// Extract returns width bits starting at offset.
func (e *ConstantExpr) Extract(offset, width uint) *ConstantExpr {
	return NewConstantExpr(e.Value>>offset, width)
}

// ZExt zero extends the constant.
func (e *ConstantExpr) ZExt(width uint) *ConstantExpr {
	return NewConstantExpr(e.Value, width)
}

// SExt sign extends the constant.
func (e *ConstantExpr) SExt(width uint) *ConstantExpr {
	return NewConstantExpr(uint64(e.Signed()), width)
}

// Signed returns the value interpreted as a two's complement integer.
func (e *ConstantExpr) Signed() int64 {
	return signExtend(e.Value, e.Width)
}

// Not returns the bitwise complement.
func (e *ConstantExpr) Not() *ConstantExpr {
	return NewConstantExpr(^e.Value, e.Width)
}

func (e *ConstantExpr) apply(op BinaryOp, other *ConstantExpr) *ConstantExpr {
	return NewConstantExpr(applyArith(op, e.Value, other.Value, e.Width), e.Width)
}

func (e *ConstantExpr) compare(op BinaryOp, other *ConstantExpr) bool {
	return applyCompare(op, e.Value, other.Value, e.Width)
}

// IsConstantExpr returns true if expr is a constant.
func IsConstantExpr(expr Expr) bool {
	_, ok := expr.(*ConstantExpr)
	return ok
}

// IsConstantTrue returns true if expr is the true boolean constant.
func IsConstantTrue(expr Expr) bool {
	c, ok := expr.(*ConstantExpr)
	return ok && c.IsTrue()
}

// IsConstantFalse returns true if expr is the false boolean constant.
func IsConstantFalse(expr Expr) bool {
	c, ok := expr.(*ConstantExpr)
	return ok && c.IsFalse()
}

func mask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}

func signExtend(v uint64, width uint) int64 {
	if width == 0 || width >= 64 {
		return int64(v)
	}
	shift := 64 - width
	return int64(v<<shift) >> shift
}

func applyArith(op BinaryOp, a, b uint64, width uint) uint64 {
	switch op {
	case ADD:
		return a + b
	case SUB:
		return a - b
	case MUL:
		return a * b
	case AND:
		return a & b
	case OR:
		return a | b
	case XOR:
		return a ^ b
	case SHL:
		if b >= uint64(width) {
			return 0
		}
		return a << b
	case LSHR:
		if b >= uint64(width) {
			return 0
		}
		return a >> b
	case ASHR:
		if b >= uint64(width) {
			b = uint64(width) - 1
		}
		return uint64(signExtend(a, width) >> b)
	default:
		panic(fmt.Sprintf("unreachable: %s", op))
	}
}

func applyCompare(op BinaryOp, a, b uint64, width uint) bool {
	switch op {
	case EQ:
		return a == b
	case NE:
		return a != b
	case ULT:
		return a < b
	case ULE:
		return a <= b
	case UGT:
		return a > b
	case UGE:
		return a >= b
	case SLT:
		return signExtend(a, width) < signExtend(b, width)
	case SLE:
		return signExtend(a, width) <= signExtend(b, width)
	case SGT:
		return signExtend(a, width) > signExtend(b, width)
	case SGE:
		return signExtend(a, width) >= signExtend(b, width)
	default:
		panic(fmt.Sprintf("unreachable: %s", op))
	}
}

// exprEqual reports whether a and b are structurally identical.
func exprEqual(a, b Expr) bool {
	if a == b {
		return true
	}
	switch a := a.(type) {
	case *ConstantExpr:
		b, ok := b.(*ConstantExpr)
		return ok && a.Value == b.Value && a.Width == b.Width
	case *VarExpr:
		b, ok := b.(*VarExpr)
		return ok && a.Name == b.Name && a.Index == b.Index
	case *ConcatExpr:
		b, ok := b.(*ConcatExpr)
		return ok && exprEqual(a.MSB, b.MSB) && exprEqual(a.LSB, b.LSB)
	case *ExtractExpr:
		b, ok := b.(*ExtractExpr)
		return ok && a.Offset == b.Offset && a.Width == b.Width && exprEqual(a.Expr, b.Expr)
	case *NotExpr:
		b, ok := b.(*NotExpr)
		return ok && exprEqual(a.Expr, b.Expr)
	case *CastExpr:
		b, ok := b.(*CastExpr)
		return ok && a.Width == b.Width && a.Signed == b.Signed && exprEqual(a.Src, b.Src)
	case *BinaryExpr:
		b, ok := b.(*BinaryExpr)
		return ok && a.Op == b.Op && exprEqual(a.LHS, b.LHS) && exprEqual(a.RHS, b.RHS)
	}
	return false
}

func assert(condition bool, msg string, v ...interface{}) {
	if !condition {
		panic("assert failed: " + fmt.Sprintf(msg, v...))
	}
}
