package scenario

import (
	"bytes"
	"context"
	"fmt"

	"github.com/muurk/symbridge/internal/handoff"
	"github.com/muurk/symbridge/internal/symbolic"
	"go.uber.org/zap"
)

// KindDecisionBuffer runs to a decision point, makes a buffer symbolic,
// explores, writes the solution back and runs to the end address.
const KindDecisionBuffer = "decision-buffer"

// RunDecisionBuffer implements KindDecisionBuffer.
func RunDecisionBuffer(ctx context.Context, env Env, s *Scenario) (*Result, error) {
	expected, err := s.ExpectedBytes()
	if err != nil {
		return nil, err
	}

	cfg := symbolic.DefaultConfig()
	cfg.Searcher = s.Searcher
	if env.Explore.MaxSteps > 0 {
		cfg.MaxSteps = env.Explore.MaxSteps
	}
	if env.Explore.MaxStates > 0 {
		cfg.MaxStates = env.Explore.MaxStates
	}
	solver := symbolic.NewDomainSolver()
	if env.MaxNodes > 0 {
		solver.MaxNodes = env.MaxNodes
	}
	engine := symbolic.NewExecutor(&s.Program, solver, cfg, env.Logger)

	opts := make([]handoff.Option, 0, len(env.Observers))
	for _, o := range env.Observers {
		opts = append(opts, handoff.WithObserver(o))
	}

	env.Logger.Info("Running scenario",
		zap.String("scenario", s.Name),
		zap.String("searcher", s.Searcher),
		zap.String("decision", s.Label(s.Decision)),
		zap.String("end", s.Label(s.End)))

	var report *handoff.Report
	err = handoff.WithController(ctx, env.Config, engine, env.Logger, func(c *handoff.Controller) error {
		var err error
		report, err = c.Run(ctx, s.Plan())
		return err
	}, opts...)

	result := &Result{
		Scenario: s.Name,
		Outcome:  handoff.Classify(err),
		Expected: expected,
		Report:   report,
	}
	switch result.Outcome {
	case handoff.OutcomeInapplicable:
		result.Reason = err.Error()
		env.Logger.Warn("Scenario not applicable", zap.String("scenario", s.Name), zap.Error(err))
		return result, nil
	case handoff.OutcomeFailed:
		return result, err
	}

	result.FinalPC = report.FinalPC()
	for _, p := range report.Patches {
		if p.Var == s.Buffer.Name {
			result.Solution = p.Data
		}
	}
	if result.FinalPC != s.End {
		return result, fmt.Errorf("scenario %s: process stopped at %s, want %s",
			s.Name, s.Label(result.FinalPC), s.Label(s.End))
	}

	result.Matched = expected == nil || bytes.Equal(result.Solution, expected)
	if !result.Matched {
		return result, fmt.Errorf("scenario %s: %w: got %x, want %x", s.Name, ErrMismatch, result.Solution, expected)
	}
	return result, nil
}
