package target

import (
	"context"
	"errors"
	"fmt"

	set "github.com/hashicorp/go-set"
	"github.com/muurk/symbridge/internal/rsp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Transport is the debug transport a session drives. *rsp.Client implements it.
type Transport interface {
	ReadRegister(name string) (uint64, error)
	WriteRegister(name string, value uint64) error
	ReadRegisters() (map[string]uint64, error)
	ReadMemory(addr uint64, n int) ([]byte, error)
	WriteMemory(addr uint64, data []byte) error
	SetBreakpoint(addr uint64) error
	ClearBreakpoint(addr uint64) error
	Continue(ctx context.Context) (rsp.StopEvent, error)
	Resync(ctx context.Context) (rsp.StopEvent, error)
	PointerSize() int
	Detach() error
}

// Arch names the registers a session needs to know about.
type Arch struct {
	PC string
	SP string
	FP string
}

// AMD64 is the x86-64 register naming used by gdbserver.
var AMD64 = Arch{PC: "rip", SP: "rsp", FP: "rbp"}

// Config holds the configuration for a concrete session.
type Config struct {
	// Arch names the program counter, stack and frame pointer registers.
	// Default: AMD64
	Arch Arch

	// PageSize is the granularity of stack captures.
	// Default: 0x1000
	PageSize uint64

	// StackWindow is how much memory below the stack pointer and above the
	// frame pointer is captured in every snapshot.
	// Default: 0x1000
	StackWindow uint64

	// MaxFrameSpan bounds the distance between the stack and frame pointer
	// that is captured in full. Larger frames only capture the window around
	// the stack pointer.
	// Default: 64 pages
	MaxFrameSpan uint64

	// Ranges are memory ranges captured in every snapshot. A fault reading a
	// declared range aborts the capture.
	Ranges []Range
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Arch:         AMD64,
		PageSize:     0x1000,
		StackWindow:  0x1000,
		MaxFrameSpan: 64 * 0x1000,
	}
}

// Session is a live process under a debug stub. It is created by Attach and
// ends with Detach, which is idempotent and safe to call on every exit path.
//
// A Session is not safe for concurrent use.
type Session struct {
	transport Transport
	config    Config
	logger    *zap.Logger

	mode        Mode
	generation  uint64
	breakpoints *BreakpointSet
	ranges      []Range
	pointerSize int
}

// Attach takes control of the process behind transport. The process must be
// stopped; Attach verifies this by reading the program counter.
func Attach(ctx context.Context, transport Transport, config Config, logger *zap.Logger) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.PageSize == 0 {
		config.PageSize = DefaultConfig().PageSize
	}
	if config.Arch == (Arch{}) {
		config.Arch = AMD64
	}

	pc, err := transport.ReadRegister(config.Arch.PC)
	if err != nil {
		return nil, fmt.Errorf("failed to read program counter: %w", err)
	}

	s := &Session{
		transport:   transport,
		config:      config,
		logger:      logger,
		mode:        ModeConcrete,
		breakpoints: NewBreakpointSet(),
		ranges:      append([]Range(nil), config.Ranges...),
		pointerSize: transport.PointerSize(),
	}

	logger.Info("attached to process",
		zap.String("pc", hexAddr(pc)),
		zap.Int("pointer_size", s.pointerSize),
		zap.String("page_size", hexAddr(config.PageSize)),
	)
	return s, nil
}

// Mode returns the current mode.
func (s *Session) Mode() Mode {
	return s.mode
}

// Generation returns a counter bumped every time the live process runs or
// is written to.
func (s *Session) Generation() uint64 {
	return s.generation
}

// PointerSize returns the address width in bytes.
func (s *Session) PointerSize() int {
	return s.pointerSize
}

// PageSize returns the page size used for captures.
func (s *Session) PageSize() uint64 {
	return s.config.PageSize
}

// Arch returns the register naming of the session.
func (s *Session) Arch() Arch {
	return s.config.Arch
}

// Breakpoints returns the breakpoints currently inserted.
func (s *Session) Breakpoints() []uint64 {
	return s.breakpoints.Addresses()
}

// Declare adds a memory range to every future snapshot.
func (s *Session) Declare(r Range) {
	s.ranges = append(s.ranges, r)
}

// CheckFresh returns a StaleSnapshotError when snap predates the last
// resume or write.
func (s *Session) CheckFresh(snap *Snapshot) error {
	if snap.Generation() != s.generation {
		return &StaleSnapshotError{Snapshot: snap.Generation(), Current: s.generation}
	}
	return nil
}

func (s *Session) require(op string, mode Mode) error {
	if s.mode != mode {
		return &InvalidModeError{Op: op, Mode: s.mode}
	}
	return nil
}

// EnterSymbolic hands execution ownership to a symbolic exploration. The
// live process stays paused until LeaveSymbolic.
func (s *Session) EnterSymbolic() error {
	if err := s.require("enter symbolic", ModeConcrete); err != nil {
		return err
	}
	s.mode = ModeSymbolic
	s.logger.Debug("session mode changed", zap.Stringer("mode", s.mode))
	return nil
}

// LeaveSymbolic returns execution ownership to the live process.
func (s *Session) LeaveSymbolic() error {
	if err := s.require("leave symbolic", ModeSymbolic); err != nil {
		return err
	}
	s.mode = ModeConcrete
	s.logger.Debug("session mode changed", zap.Stringer("mode", s.mode))
	return nil
}

// ReadRange reads live memory.
func (s *Session) ReadRange(addr uint64, n int) ([]byte, error) {
	if err := s.require("read memory", ModeConcrete); err != nil {
		return nil, err
	}
	return s.transport.ReadMemory(addr, n)
}

// WriteRange writes live memory.
func (s *Session) WriteRange(addr uint64, data []byte) error {
	if err := s.require("write memory", ModeConcrete); err != nil {
		return err
	}
	s.generation++
	if err := s.transport.WriteMemory(addr, data); err != nil {
		return err
	}
	s.logger.Debug("wrote memory",
		zap.String("addr", hexAddr(addr)),
		zap.Int("size", len(data)),
	)
	return nil
}

// ReadRegister reads a live register.
func (s *Session) ReadRegister(name string) (uint64, error) {
	if err := s.require("read register", ModeConcrete); err != nil {
		return 0, err
	}
	return s.transport.ReadRegister(name)
}

// WriteRegister writes a live register.
func (s *Session) WriteRegister(name string, value uint64) error {
	if err := s.require("write register", ModeConcrete); err != nil {
		return err
	}
	s.generation++
	return s.transport.WriteRegister(name, value)
}

// AddBreakpoint inserts a breakpoint with the given disposition.
func (s *Session) AddBreakpoint(addr uint64, d Disposition) error {
	if err := s.require("add breakpoint", ModeConcrete); err != nil {
		return err
	}
	if _, ok := s.breakpoints.Get(addr); !ok {
		if err := s.transport.SetBreakpoint(addr); err != nil {
			return fmt.Errorf("failed to set breakpoint at %#x: %w", addr, err)
		}
	}
	s.breakpoints.Add(addr, d)
	return nil
}

// RemoveBreakpoint removes a breakpoint.
func (s *Session) RemoveBreakpoint(addr uint64) error {
	if err := s.require("remove breakpoint", ModeConcrete); err != nil {
		return err
	}
	return s.clearBreakpoint(addr)
}

func (s *Session) clearBreakpoint(addr uint64) error {
	if _, ok := s.breakpoints.Get(addr); !ok {
		return nil
	}
	if err := s.transport.ClearBreakpoint(addr); err != nil {
		return fmt.Errorf("failed to clear breakpoint at %#x: %w", addr, err)
	}
	s.breakpoints.Remove(addr)
	return nil
}

// RunUntil resumes the process until it reaches one of addrs (or a
// persistent breakpoint) and captures a snapshot there.
//
// Breakpoints left over from earlier phases that were not requested are
// cleared before resuming. The breakpoints inserted for this call are
// cleared after the capture.
func (s *Session) RunUntil(ctx context.Context, addrs ...uint64) (uint64, *Snapshot, error) {
	if err := s.require("run", ModeConcrete); err != nil {
		return 0, nil, err
	}

	requested := set.From(addrs)
	for _, addr := range s.breakpoints.WithDisposition(RemoveAfterHit) {
		if requested.Contains(addr) {
			continue
		}
		s.logger.Debug("clearing stale breakpoint", zap.String("addr", hexAddr(addr)))
		if err := s.clearBreakpoint(addr); err != nil {
			return 0, nil, err
		}
	}
	for _, addr := range addrs {
		if err := s.AddBreakpoint(addr, RemoveAfterHit); err != nil {
			return 0, nil, err
		}
	}

	s.logger.Info("resuming process", zap.Strings("until", hexAddrs(addrs)))

	s.generation++
	ev, err := s.transport.Continue(ctx)
	if err != nil {
		return 0, nil, err
	}
	if ev.Exited() {
		s.logger.Info("process exited while running", zap.Stringer("reason", ev.Reason))
		s.mode = ModeDetached
		_ = s.transport.Detach()
		return 0, nil, ev.Err()
	}

	pc, err := s.transport.ReadRegister(s.config.Arch.PC)
	if err != nil {
		return 0, nil, err
	}

	d, ok := s.breakpoints.Get(pc)
	if !ok || (d != Persistent && !requested.Contains(pc)) {
		return pc, nil, &UnexpectedStopError{PC: pc, Event: ev}
	}

	snap, err := s.capture(pc)
	if err != nil {
		return pc, nil, err
	}

	for _, addr := range addrs {
		if d, ok := s.breakpoints.Get(addr); ok && d == RemoveAfterHit {
			if err := s.clearBreakpoint(addr); err != nil {
				return pc, nil, err
			}
		}
	}

	s.logger.Info("process stopped",
		zap.String("pc", hexAddr(pc)),
		zap.Int("snapshot_bytes", snap.Size()),
		zap.Uint64("generation", snap.Generation()),
	)
	return pc, snap, nil
}

// Capture snapshots the process at its current stop without resuming it.
func (s *Session) Capture() (*Snapshot, error) {
	if err := s.require("capture", ModeConcrete); err != nil {
		return nil, err
	}
	pc, err := s.transport.ReadRegister(s.config.Arch.PC)
	if err != nil {
		return nil, err
	}
	return s.capture(pc)
}

func (s *Session) capture(pc uint64) (*Snapshot, error) {
	regs, err := s.transport.ReadRegisters()
	if err != nil {
		return nil, fmt.Errorf("failed to read registers: %w", err)
	}
	regs[s.config.Arch.PC] = pc

	var segments []Segment
	for _, r := range s.ranges {
		data, err := s.transport.ReadMemory(r.Addr, r.Size)
		if err != nil {
			return nil, fmt.Errorf("failed to capture declared range %#x+%#x: %w", r.Addr, r.Size, err)
		}
		segments = append(segments, Segment{Addr: r.Addr, Data: data})
	}

	for _, page := range s.stackPages(regs) {
		data, err := s.transport.ReadMemory(page, int(s.config.PageSize))
		if err != nil {
			var fault *rsp.MemoryFault
			if errors.As(err, &fault) {
				s.logger.Debug("skipping unreadable stack page", zap.String("page", hexAddr(page)))
				continue
			}
			return nil, err
		}
		segments = append(segments, Segment{Addr: page, Data: data})
	}

	return newSnapshot(pc, regs, segments, s.generation), nil
}

// stackPages returns the page addresses covering the stack window.
func (s *Session) stackPages(regs map[string]uint64) []uint64 {
	sp, ok := regs[s.config.Arch.SP]
	if !ok || s.config.StackWindow == 0 {
		return nil
	}
	lo, hi := sp, sp
	if fp, ok := regs[s.config.Arch.FP]; ok && fp >= sp && fp-sp <= s.config.MaxFrameSpan {
		hi = fp
	}

	page := s.config.PageSize
	if lo > s.config.StackWindow {
		lo -= s.config.StackWindow
	} else {
		lo = 0
	}
	if hi+s.config.StackWindow > hi {
		hi += s.config.StackWindow
	}
	lo &^= page - 1
	hi = (hi + page - 1) &^ (page - 1)

	var pages []uint64
	for p := lo; p < hi; p += page {
		pages = append(pages, p)
	}
	return pages
}

// Resync re-reads the stop state after a timed out resume. Snapshots taken
// before the timeout become stale.
func (s *Session) Resync(ctx context.Context) error {
	if s.mode == ModeDetached {
		return &InvalidModeError{Op: "resync", Mode: s.mode}
	}
	s.generation++
	if _, err := s.transport.Resync(ctx); err != nil {
		return err
	}
	return nil
}

// Detach clears inserted breakpoints and releases the process. Calling it
// on a nil, detached or exited session is a no-op.
func (s *Session) Detach() error {
	if s == nil || s.mode == ModeDetached {
		return nil
	}
	var err error
	for _, addr := range s.breakpoints.Addresses() {
		if cerr := s.transport.ClearBreakpoint(addr); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to clear breakpoint at %#x: %w", addr, cerr))
		}
		s.breakpoints.Remove(addr)
	}
	err = multierr.Append(err, s.transport.Detach())
	s.mode = ModeDetached
	s.logger.Info("detached from process")
	return err
}

func hexAddr(addr uint64) string {
	return fmt.Sprintf("%#x", addr)
}

func hexAddrs(addrs []uint64) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = hexAddr(a)
	}
	return out
}
