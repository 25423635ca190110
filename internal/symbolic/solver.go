package symbolic

import (
	"context"
	"errors"
)

// ErrSolverResourceLimit is returned when the solver exhausts its node budget.
var ErrSolverResourceLimit = errors.New("solver resource limit exceeded")

// DefaultMaxNodes is the default DomainSolver node budget.
const DefaultMaxNodes = 1 << 20

// Solver finds a model satisfying a set of boolean constraints.
type Solver interface {
	// Solve returns a model when the constraints are satisfiable. The boolean
	// is false when they are not.
	Solve(ctx context.Context, constraints []Expr) (Model, bool, error)
}

// DomainSolver is a small finite-domain solver over variable bytes.
//
// Constraints over a single byte narrow that byte's domain up front. The
// remaining constraints are checked during a depth-first search that assigns
// bytes in ByteRef order and values in ascending order, so the first model
// found is the lexicographically smallest one.
type DomainSolver struct {
	// MaxNodes bounds the number of assignments tried per Solve call.
	MaxNodes int
}

// NewDomainSolver returns a solver with the default node budget.
func NewDomainSolver() *DomainSolver {
	return &DomainSolver{MaxNodes: DefaultMaxNodes}
}

type clause struct {
	expr Expr
	deps []int
}

// Solve implements Solver.
func (s *DomainSolver) Solve(ctx context.Context, constraints []Expr) (Model, bool, error) {
	var exprs []Expr
	for _, c := range constraints {
		assert(ExprWidth(c) == WidthBool, "constraint must be boolean: %s", c)
		for _, e := range conjuncts(c, nil) {
			if IsConstantTrue(e) {
				continue
			} else if IsConstantFalse(e) {
				return nil, false, nil
			}
			exprs = append(exprs, e)
		}
	}

	refs := Refs(exprs...)
	index := make(map[ByteRef]int, len(refs))
	for i, ref := range refs {
		index[ref] = i
	}

	domains := make([][]uint8, len(refs))
	for i := range domains {
		domains[i] = fullDomain()
	}

	// checks[i] holds the clauses whose last dependency is refs[i].
	checks := make([][]clause, len(refs))
	for _, e := range exprs {
		deps := Refs(e)
		if len(deps) == 1 {
			i := index[deps[0]]
			domains[i] = narrow(domains[i], deps[0], e)
			if len(domains[i]) == 0 {
				return nil, false, nil
			}
			continue
		}
		c := clause{expr: e}
		for _, ref := range deps {
			c.deps = append(c.deps, index[ref])
		}
		last := c.deps[len(c.deps)-1]
		checks[last] = append(checks[last], c)
	}

	model := make(Model, len(refs))
	nodes := 0
	var search func(i int) (bool, error)
	search = func(i int) (bool, error) {
		if i == len(refs) {
			return true, nil
		}
		for _, v := range domains[i] {
			if nodes++; s.MaxNodes > 0 && nodes > s.MaxNodes {
				return false, ErrSolverResourceLimit
			}
			if nodes%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return false, err
				}
			}

			model[refs[i]] = v
			if !holds(checks[i], model) {
				continue
			}
			if ok, err := search(i + 1); ok || err != nil {
				return ok, err
			}
		}
		delete(model, refs[i])
		return false, nil
	}

	ok, err := search(0)
	if err != nil || !ok {
		return nil, false, err
	}
	return model, true, nil
}

func holds(clauses []clause, m Model) bool {
	for _, c := range clauses {
		if Evaluate(c.expr, m) != 1 {
			return false
		}
	}
	return true
}

func narrow(domain []uint8, ref ByteRef, expr Expr) []uint8 {
	out := domain[:0]
	m := Model{}
	for _, v := range domain {
		m[ref] = v
		if Evaluate(expr, m) == 1 {
			out = append(out, v)
		}
	}
	return out
}

func fullDomain() []uint8 {
	d := make([]uint8, 256)
	for i := range d {
		d[i] = uint8(i)
	}
	return d
}

// Satisfiable reports whether the constraints have a model.
func Satisfiable(ctx context.Context, solver Solver, constraints []Expr) (bool, error) {
	_, ok, err := solver.Solve(ctx, constraints)
	return ok, err
}
