package handoff

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/muurk/symbridge/internal/bridge"
	"github.com/muurk/symbridge/internal/rsp"
	"github.com/muurk/symbridge/internal/symbolic"
	"github.com/muurk/symbridge/internal/target"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Engine is the symbolic engine the controller hands the process to.
// *symbolic.Executor implements it.
type Engine interface {
	symbolic.Explorer
	symbolic.Solver
}

// Config holds what Open needs to reach and attach to a process.
type Config struct {
	Transport rsp.Config
	Target    target.Config
}

// DefaultConfig returns a Config with the transport and target defaults.
func DefaultConfig() Config {
	return Config{
		Transport: rsp.DefaultConfig(),
		Target:    target.DefaultConfig(),
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver registers an observer for phase transitions.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observers = append(c.observers, o)
	}
}

// WithCloser registers a resource that Close releases after detaching,
// typically the transport connection.
func WithCloser(closer io.Closer) Option {
	return func(c *Controller) {
		c.closers = append(c.closers, closer)
	}
}

// Controller sequences the handoff between the concrete process and the
// symbolic engine. Every transition goes through an explicit phase table.
//
// A Controller is not safe for concurrent use, except Close.
type Controller struct {
	session *target.Session
	engine  Engine
	logger  *zap.Logger

	phase     Phase
	pc        uint64
	observers []Observer
	closers   []io.Closer

	closeOnce sync.Once
}

// New returns a controller for an attached session.
func New(session *target.Session, engine Engine, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		session: session,
		engine:  engine,
		logger:  logger,
		phase:   PhaseAttached,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open dials the debug stub, attaches to the process and returns a
// controller that owns both.
func Open(ctx context.Context, config Config, engine Engine, logger *zap.Logger, opts ...Option) (*Controller, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := rsp.Dial(ctx, config.Transport, logger)
	if err != nil {
		return nil, err
	}
	session, err := target.Attach(ctx, client, config.Target, logger)
	if err != nil {
		return nil, multierr.Append(err, client.Close())
	}
	opts = append(opts, WithCloser(client))
	return New(session, engine, logger, opts...), nil
}

// WithController opens a controller, passes it to fn and always closes it,
// whatever fn returns. Close errors are combined with fn's error.
func WithController(ctx context.Context, config Config, engine Engine, logger *zap.Logger, fn func(*Controller) error, opts ...Option) (err error) {
	c, err := Open(ctx, config, engine, logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, c.Close())
	}()
	return fn(c)
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase { return c.phase }

// Session returns the controlled session.
func (c *Controller) Session() *target.Session { return c.session }

// transition moves to phase to, or returns a *TransitionError.
func (c *Controller) transition(op string, to Phase, detail string) error {
	if !CanTransition(c.phase, to) {
		return &TransitionError{Op: op, From: c.phase, To: to}
	}
	c.set(to, detail)
	return nil
}

// set moves to phase to without checking the table. It is used for the
// recovery paths, which are always legal.
func (c *Controller) set(to Phase, detail string) {
	from := c.phase
	c.phase = to
	c.logger.Debug("Handoff transition",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.String("pc", fmt.Sprintf("%#x", c.pc)),
		zap.String("detail", detail))

	ev := Event{Phase: to, From: from, PC: c.pc, Detail: detail, Time: time.Now()}
	for _, o := range c.observers {
		o(ev)
	}
}

// RunConcrete resumes the process until it reaches one of addrs and returns
// the snapshot captured there.
func (c *Controller) RunConcrete(ctx context.Context, addrs ...uint64) (*target.Snapshot, error) {
	if err := c.transition("RunConcrete", PhaseConcreteRunning, hexAddrs(addrs)); err != nil {
		return nil, err
	}
	return c.runUntil(ctx, addrs)
}

func (c *Controller) runUntil(ctx context.Context, addrs []uint64) (*target.Snapshot, error) {
	pc, snap, err := c.session.RunUntil(ctx, addrs...)
	if pc != 0 {
		c.pc = pc
	}
	if err != nil {
		if c.session.Mode() == target.ModeDetached {
			c.set(PhaseDetached, err.Error())
		} else {
			c.set(PhaseConcreteStopped, err.Error())
		}
		return nil, err
	}
	c.set(PhaseConcreteStopped, "")
	return snap, nil
}

// BeginSymbolic imports snap into a fresh symbolic state, injects the
// requested variables and switches the session to symbolic mode. The
// snapshot must be fresh. On failure the session stays concrete.
func (c *Controller) BeginSymbolic(snap *target.Snapshot, specs ...bridge.VariableSpec) (*symbolic.State, []bridge.Binding, error) {
	if !CanTransition(c.phase, PhaseSymbolicExploring) {
		return nil, nil, &TransitionError{Op: "BeginSymbolic", From: c.phase, To: PhaseSymbolicExploring}
	}
	if err := c.session.CheckFresh(snap); err != nil {
		return nil, nil, err
	}

	state, err := bridge.ImportState(snap, bridge.Options{})
	if err != nil {
		return nil, nil, err
	}
	bindings := make([]bridge.Binding, 0, len(specs))
	for _, spec := range specs {
		b, err := bridge.InjectSpec(state, spec)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to inject %s: %w", spec.Name, err)
		}
		bindings = append(bindings, b)
	}

	if err := c.session.EnterSymbolic(); err != nil {
		return nil, nil, err
	}
	c.pc = snap.PC()
	c.set(PhaseSymbolicExploring, fmt.Sprintf("%d bytes imported, %d variables", state.MemorySize(), len(bindings)))
	return state, bindings, nil
}

// Explore runs the engine from state and classifies the result. Only a found
// outcome keeps the session in symbolic mode; otherwise the handoff is
// abandoned and the live process is left untouched in concrete mode.
func (c *Controller) Explore(ctx context.Context, state *symbolic.State, find, avoid []uint64) (Outcome, error) {
	if c.phase != PhaseSymbolicExploring {
		return Outcome{}, &TransitionError{Op: "Explore", From: c.phase, To: PhaseSymbolicFound}
	}

	policy := Policy{Find: find, Avoid: avoid}
	x, err := c.engine.Explore(ctx, state, find, avoid)
	if err != nil {
		out := Outcome{Kind: OutcomeFailed, Exploration: x, err: &FailedError{Reason: "engine error", Err: err}}
		return out, multierr.Append(out.err, c.abandon(err.Error()))
	}

	out := policy.Outcome(x)
	switch out.Kind {
	case OutcomeFound:
		c.set(PhaseSymbolicFound, out.Summary())
		return out, nil
	case OutcomeInapplicable:
		c.set(PhaseSymbolicErrored, out.Summary())
	case OutcomeFailed:
		if len(x.Errored) == 0 && len(x.Avoided) > 0 {
			c.set(PhaseSymbolicAvoided, out.Summary())
		} else {
			c.set(PhaseSymbolicErrored, out.Summary())
		}
	}
	return out, c.abandon(out.Kind.String())
}

// abandon returns the session to concrete mode without touching the process.
func (c *Controller) abandon(detail string) error {
	if c.session.Mode() == target.ModeSymbolic {
		if err := c.session.LeaveSymbolic(); err != nil {
			return err
		}
	}
	c.set(PhaseConcreteStopped, "abandoned: "+detail)
	return nil
}

// Resume concretizes the bindings under the found state, writes them into
// the live process and runs it until one of addrs. Any failure leaves the
// session in concrete mode, stopped.
func (c *Controller) Resume(ctx context.Context, out Outcome, bindings []bridge.Binding, addrs ...uint64) (*target.Snapshot, []bridge.Patch, error) {
	if out.Kind != OutcomeFound || out.State == nil {
		return nil, nil, fmt.Errorf("resume requires a found outcome, got %s", out.Kind)
	}
	if c.phase != PhaseSymbolicFound {
		return nil, nil, &TransitionError{Op: "Resume", From: c.phase, To: PhaseConcreteResuming}
	}

	patches, err := bridge.ExportBindings(ctx, c.engine, out.State, bindings)
	if err != nil {
		return nil, nil, multierr.Append(err, c.abandon(err.Error()))
	}

	if err := c.session.LeaveSymbolic(); err != nil {
		return nil, nil, err
	}
	c.set(PhaseConcreteResuming, fmt.Sprintf("%d patches", len(patches)))

	if err := bridge.Apply(c.session, patches, c.logger); err != nil {
		c.set(PhaseConcreteStopped, err.Error())
		return nil, patches, err
	}

	if err := c.transition("Resume", PhaseConcreteRunning, hexAddrs(addrs)); err != nil {
		return nil, patches, err
	}
	snap, err := c.runUntil(ctx, addrs)
	return snap, patches, err
}

// Close detaches from the process and releases the transport. Only the first
// call does anything; later calls return nil.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.session.Detach()
		for _, closer := range c.closers {
			err = multierr.Append(err, closer.Close())
		}
		if c.phase != PhaseDetached {
			c.set(PhaseDetached, "")
		}
		if err != nil {
			c.logger.Warn("Close failed", zap.Error(err))
		}
	})
	return err
}
