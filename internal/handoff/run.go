package handoff

import (
	"context"
	"time"

	"github.com/muurk/symbridge/internal/bridge"
	"github.com/muurk/symbridge/internal/target"
	"go.uber.org/zap"
)

// Plan describes one complete handoff: run the process to Entry, then to
// Decision, make Variables symbolic, explore towards Find while avoiding
// Avoid, write the solution back and run the process to End.
type Plan struct {
	Entry     uint64 // zero, or already stopped there, skips the entry stop
	Decision  uint64
	Variables []bridge.VariableSpec
	Find      []uint64
	Avoid     []uint64
	End       []uint64
}

// Report is the result of Run.
type Report struct {
	Outcome  Outcome
	Bindings []bridge.Binding
	Patches  []bridge.Patch
	Decision *target.Snapshot
	Final    *target.Snapshot
	Duration time.Duration
}

// FinalPC returns the PC the process stopped at after the handoff, or zero.
func (r *Report) FinalPC() uint64 {
	if r == nil || r.Final == nil {
		return 0
	}
	return r.Final.PC()
}

// Run executes plan. The returned report is filled as far as the handoff got.
// An inapplicable or failed exploration is returned as the outcome's error.
func (c *Controller) Run(ctx context.Context, plan Plan) (*Report, error) {
	start := time.Now()
	report := &Report{}
	defer func() { report.Duration = time.Since(start) }()

	if plan.Entry != 0 {
		if err := c.runToEntry(ctx, plan.Entry); err != nil {
			return report, err
		}
	}

	c.logger.Info("Running to decision point", zap.String("addr", hexAddrs([]uint64{plan.Decision})))
	snap, err := c.RunConcrete(ctx, plan.Decision)
	if err != nil {
		return report, err
	}
	report.Decision = snap

	state, bindings, err := c.BeginSymbolic(snap, plan.Variables...)
	if err != nil {
		return report, err
	}
	report.Bindings = bindings

	out, err := c.Explore(ctx, state, plan.Find, plan.Avoid)
	report.Outcome = out
	if err != nil {
		return report, err
	}
	if out.Kind != OutcomeFound {
		c.logger.Info("Exploration did not find a path", zap.String("outcome", out.Summary()))
		return report, out.Err()
	}

	c.logger.Info("Writing solution back", zap.Int("bindings", len(bindings)))
	final, patches, err := c.Resume(ctx, out, bindings, plan.End...)
	report.Patches = patches
	report.Final = final
	return report, err
}

// runToEntry stops the process at entry unless it is already stopped there.
func (c *Controller) runToEntry(ctx context.Context, entry uint64) error {
	pc, err := c.session.ReadRegister(c.session.Arch().PC)
	if err != nil {
		return err
	}
	if pc == entry {
		c.pc = pc
		return nil
	}
	c.logger.Info("Running to entry point", zap.String("addr", hexAddrs([]uint64{entry})))
	_, err = c.RunConcrete(ctx, entry)
	return err
}
