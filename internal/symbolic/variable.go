package symbolic

import (
	"fmt"
	"math/big"
)

// Variable is a named symbolic bit-vector made of whole bytes. Byte 0 is the
// most significant byte of the value.
type Variable struct {
	Name string
	Size int // bytes
}

// NewVariable returns a variable of the given bit width.
func NewVariable(name string, bits int) (*Variable, error) {
	if name == "" {
		return nil, fmt.Errorf("variable name required")
	}
	if bits <= 0 || bits%8 != 0 {
		return nil, fmt.Errorf("variable %s: width %d is not a positive multiple of 8", name, bits)
	}
	return &Variable{Name: name, Size: bits / 8}, nil
}

// Bits returns the width of the variable in bits.
func (v *Variable) Bits() int { return v.Size * 8 }

// Byte returns the expression for byte i.
func (v *Variable) Byte(i int) Expr {
	assert(i >= 0 && i < v.Size, "variable %s: byte %d out of range", v.Name, i)
	return NewVarExpr(v.Name, uint(i))
}

// Bytes returns the expressions for every byte, byte 0 first.
func (v *Variable) Bytes() []Expr {
	out := make([]Expr, v.Size)
	for i := range out {
		out[i] = v.Byte(i)
	}
	return out
}

// Concretize returns the variable bytes under the model.
func (v *Variable) Concretize(m Model) []byte {
	out := make([]byte, v.Size)
	for i := range out {
		out[i] = m.Byte(v.Name, uint(i))
	}
	return out
}

// Value returns the variable as an unsigned integer under the model.
func (v *Variable) Value(m Model) *big.Int {
	return new(big.Int).SetBytes(v.Concretize(m))
}

// String returns the variable as name:bits.
func (v *Variable) String() string {
	return fmt.Sprintf("%s:%d", v.Name, v.Bits())
}
