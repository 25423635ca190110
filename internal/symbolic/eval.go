package symbolic

import (
	"fmt"
	"sort"
)

// ByteRef identifies one byte of a symbolic variable.
type ByteRef struct {
	Var   string
	Index uint
}

// String returns the reference as name[index].
func (r ByteRef) String() string {
	return fmt.Sprintf("%s[%d]", r.Var, r.Index)
}

func (r ByteRef) less(other ByteRef) bool {
	if r.Var != other.Var {
		return r.Var < other.Var
	}
	return r.Index < other.Index
}

// Model assigns concrete values to variable bytes. Bytes missing from the
// model are zero.
type Model map[ByteRef]uint8

// Byte returns the value of a variable byte.
func (m Model) Byte(name string, index uint) uint8 {
	return m[ByteRef{Var: name, Index: index}]
}

// Evaluate returns the value of expr under the model.
func Evaluate(expr Expr, m Model) uint64 {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Value
	case *VarExpr:
		return uint64(m[expr.Ref()])
	case *ConcatExpr:
		lw := ExprWidth(expr.LSB)
		return (Evaluate(expr.MSB, m)<<lw | Evaluate(expr.LSB, m)) & mask(lw+ExprWidth(expr.MSB))
	case *ExtractExpr:
		return (Evaluate(expr.Expr, m) >> expr.Offset) & mask(expr.Width)
	case *NotExpr:
		return ^Evaluate(expr.Expr, m) & mask(ExprWidth(expr.Expr))
	case *CastExpr:
		v := Evaluate(expr.Src, m)
		if expr.Signed {
			v = uint64(signExtend(v, ExprWidth(expr.Src)))
		}
		return v & mask(expr.Width)
	case *BinaryExpr:
		w := ExprWidth(expr.LHS)
		l, r := Evaluate(expr.LHS, m), Evaluate(expr.RHS, m)
		if expr.Op.IsCompare() {
			if applyCompare(expr.Op, l, r, w) {
				return 1
			}
			return 0
		}
		return applyArith(expr.Op, l, r, w) & mask(w)
	default:
		panic(fmt.Sprintf("unreachable: %T", expr))
	}
}

// Refs returns the variable bytes referenced by exprs in sorted order.
func Refs(exprs ...Expr) []ByteRef {
	seen := make(map[ByteRef]struct{})
	for _, e := range exprs {
		collectRefs(e, seen)
	}
	refs := make([]ByteRef, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].less(refs[j]) })
	return refs
}

func collectRefs(expr Expr, seen map[ByteRef]struct{}) {
	switch expr := expr.(type) {
	case *ConstantExpr:
	case *VarExpr:
		seen[expr.Ref()] = struct{}{}
	case *ConcatExpr:
		collectRefs(expr.MSB, seen)
		collectRefs(expr.LSB, seen)
	case *ExtractExpr:
		collectRefs(expr.Expr, seen)
	case *NotExpr:
		collectRefs(expr.Expr, seen)
	case *CastExpr:
		collectRefs(expr.Src, seen)
	case *BinaryExpr:
		collectRefs(expr.LHS, seen)
		collectRefs(expr.RHS, seen)
	default:
		panic(fmt.Sprintf("unreachable: %T", expr))
	}
}

// conjuncts splits a boolean expression on top-level AND.
func conjuncts(expr Expr, out []Expr) []Expr {
	if b, ok := expr.(*BinaryExpr); ok && b.Op == AND && ExprWidth(b.LHS) == WidthBool {
		out = conjuncts(b.LHS, out)
		return conjuncts(b.RHS, out)
	}
	return append(out, expr)
}
