package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/muurk/symbridge/internal/handoff"
	"github.com/muurk/symbridge/internal/symbolic"
	"go.uber.org/zap"
)

// ErrMismatch is returned when a handoff completes but the solution differs
// from the expected one.
var ErrMismatch = errors.New("solution does not match expected value")

// Env is what a run function needs from its caller.
type Env struct {
	// Config locates the debug stub and configures the session
	Config handoff.Config

	// Logger receives component logs
	Logger *zap.Logger

	// Observers receive handoff phase events
	Observers []handoff.Observer

	// Explore overrides the engine limits; zero fields keep the defaults.
	// The scenario selects the searcher.
	Explore symbolic.Config

	// MaxNodes bounds solver work per query; zero keeps the default.
	MaxNodes int
}

// Result is the outcome of running one scenario.
type Result struct {
	Scenario string
	Outcome  handoff.Kind
	Solution []byte
	Expected []byte
	Matched  bool
	FinalPC  uint64
	Report   *handoff.Report

	// Reason explains an inapplicable outcome.
	Reason string
}

// Skipped reports whether the scenario did not apply to the engine.
func (r *Result) Skipped() bool {
	return r != nil && r.Outcome == handoff.OutcomeInapplicable
}

// RunFunc runs a scenario of one kind.
type RunFunc func(ctx context.Context, env Env, s *Scenario) (*Result, error)

// Registry maps scenario kinds to run functions.
type Registry struct {
	kinds map[string]RunFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]RunFunc)}
}

// DefaultRegistry returns a registry with every built-in kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindDecisionBuffer, RunDecisionBuffer)
	return r
}

// Register adds a run function for kind, replacing any previous one.
func (r *Registry) Register(kind string, fn RunFunc) {
	r.kinds[kind] = fn
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Run looks up the scenario's kind and runs it. An inapplicable outcome is
// not an error: the result reports it as skipped.
func (r *Registry) Run(ctx context.Context, env Env, s *Scenario) (*Result, error) {
	fn, ok := r.kinds[s.Kind]
	if !ok {
		return nil, fmt.Errorf("scenario %s: unknown kind %q", s.Name, s.Kind)
	}
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	return fn(ctx, env, s)
}
