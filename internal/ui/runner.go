package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/muurk/symbridge/internal/handoff"
)

// Handoff steps, in the order a complete run reaches them.
const (
	StepAttach = iota + 1
	StepRunToDecision
	StepInject
	StepExplore
	StepWriteBack
	StepRunToEnd
)

// HandoffStepNames names the steps of a handoff run.
var HandoffStepNames = []string{
	"Attach to stub",
	"Run to decision point",
	"Make buffer symbolic",
	"Explore",
	"Write solution back",
	"Run to end",
}

// RunnerConfig holds configuration for a handoff run display
type RunnerConfig struct {
	Title   string            // Command title (e.g., "Scenario Run")
	Command string            // Full command (e.g., "symbridge run not_packed_elf64")
	Params  map[string]string // Parameters to display in header
	Output  io.Writer         // Output writer (default: os.Stdout)
}

// Summary is what a handoff operation reports back for the result box.
type Summary struct {
	Details map[string]string

	// Skipped marks an inapplicable scenario; Reason says why.
	Skipped bool
	Reason  string
}

// Operation runs a handoff. It must register observe with the controller
// so the runner sees phase transitions.
type Operation func(ctx context.Context, observe handoff.Observer) (*Summary, error)

// Runner orchestrates the UI for a handoff run.
// It manages the header → progress → result flow and turns controller
// events into step updates.
type Runner struct {
	config    RunnerConfig
	header    *Header
	progress  *Progress
	output    io.Writer
	width     int
	resumed   bool
	startTime time.Time
}

// NewRunner creates a new runner
func NewRunner(config RunnerConfig) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	width := GetTerminalWidth()

	header := NewHeader(config.Title, config.Command, config.Params)
	header.SetWidth(width)

	progress := NewProgress(HandoffStepNames).SetWidth(width)

	return &Runner{
		config:   config,
		header:   header,
		progress: progress,
		output:   config.Output,
		width:    width,
	}
}

// Run executes the operation with UI updates and prints the result box.
func (r *Runner) Run(ctx context.Context, op Operation) (*Summary, error) {
	r.startTime = time.Now()

	_, _ = fmt.Fprintln(r.output, r.header.Render())
	_, _ = fmt.Fprintln(r.output)

	summary, err := op(ctx, r.Observe)
	duration := time.Since(r.startTime).Round(time.Millisecond).String()

	_, _ = fmt.Fprintln(r.output)
	_, _ = fmt.Fprintln(r.output, r.progress.renderProgressBar())
	_, _ = fmt.Fprintln(r.output)

	switch {
	case err != nil:
		result := NewFailureResult(r.config.Title+" failed", err, Troubleshooting(err))
		result.SetWidth(r.width).AddDetail("Duration", duration)
		_, _ = fmt.Fprintln(r.output, result.Render())
	case summary != nil && summary.Skipped:
		result := NewWarningResult(r.config.Title+" not applicable", summary.Details)
		result.SetWidth(r.width).AddDetail("Reason", summary.Reason).AddDetail("Duration", duration)
		_, _ = fmt.Fprintln(r.output, result.Render())
	default:
		var details map[string]string
		if summary != nil {
			details = summary.Details
		}
		result := NewSuccessResult(r.config.Title+" complete", details)
		result.SetWidth(r.width).AddDetail("Duration", duration)
		_, _ = fmt.Fprintln(r.output, result.Render())
	}
	return summary, err
}

// Observe maps a controller event onto the step list.
func (r *Runner) Observe(ev handoff.Event) {
	pc := fmt.Sprintf("pc=%#x", ev.PC)
	switch ev.Phase {
	case handoff.PhaseAttached:
		r.step(StepAttach, StepComplete, pc)
	case handoff.PhaseConcreteRunning:
		if r.resumed {
			r.step(StepWriteBack, StepComplete, ev.Detail)
			r.step(StepRunToEnd, StepRunning, pc)
		} else {
			if ev.From == handoff.PhaseAttached {
				r.step(StepAttach, StepComplete, "")
			}
			r.step(StepRunToDecision, StepRunning, pc)
		}
	case handoff.PhaseConcreteStopped:
		switch ev.From {
		case handoff.PhaseSymbolicAvoided, handoff.PhaseSymbolicErrored:
			// Abandoned; the process is left where it stopped.
		default:
			r.step(StepRunToDecision, StepComplete, pc)
		}
	case handoff.PhaseSymbolicExploring:
		r.step(StepInject, StepComplete, ev.Detail)
		r.step(StepExplore, StepRunning, "")
	case handoff.PhaseSymbolicFound:
		r.step(StepExplore, StepComplete, ev.Detail)
	case handoff.PhaseSymbolicAvoided, handoff.PhaseSymbolicErrored:
		r.step(StepExplore, StepFailed, ev.Detail)
	case handoff.PhaseConcreteResuming:
		r.resumed = true
		r.step(StepWriteBack, StepRunning, "")
	case handoff.PhaseDetached:
		if r.resumed && r.progress.Steps[StepRunToEnd-1].Status == StepRunning {
			r.step(StepRunToEnd, StepComplete, pc)
		}
	}
}

// step updates a step and prints it. Running steps are drawn with a
// carriage return so the completed line replaces them.
func (r *Runner) step(n int, status StepStatus, message string) {
	r.progress.UpdateStep(n, status, message)
	line := r.progress.renderStepLine(r.progress.Steps[n-1])
	if status == StepRunning {
		_, _ = fmt.Fprint(r.output, line+"\r")
		return
	}
	_, _ = fmt.Fprintln(r.output, line)
}

// Progress returns the step list for inspection.
func (r *Runner) Progress() *Progress {
	return r.progress
}

// Troubleshooting returns tips for a failed handoff.
func Troubleshooting(err error) []string {
	tips := []string{
		"Verify the stub is still listening (symbridge verify-setup)",
		"Run with --log-level debug for the RSP exchange",
	}
	if handoff.Classify(err) == handoff.OutcomeFailed {
		tips = append(tips, "The process may be left stopped; restart gdbserver before retrying")
	}
	return tips
}

// PrintCommandHeader prints a styled command header to stdout.
func PrintCommandHeader(title, command string, params map[string]string) {
	NewPrinter(os.Stdout).PrintHeader(title, command, params)
}

// PrintSuccess prints a success box to stdout.
func PrintSuccess(title string, details map[string]string) {
	NewPrinter(os.Stdout).PrintResult(NewSuccessResult(title, details))
}

// PrintFailure prints a failure box with troubleshooting tips to stdout.
func PrintFailure(title string, err error, troubleshooting []string) {
	NewPrinter(os.Stdout).PrintResult(NewFailureResult(title, err, troubleshooting))
}

// PrintWarning prints a skipped/warning box to stdout.
func PrintWarning(title string, details map[string]string) {
	NewPrinter(os.Stdout).PrintResult(NewWarningResult(title, details))
}

// PrintPleaseWait prints a styled "please wait" line for long-running operations.
func PrintPleaseWait(message string, durationHint string) {
	style := fg(PrimaryColor).Bold(true).PaddingLeft(2)

	line := style.Render("⏳ " + message)
	if durationHint != "" {
		line += " " + StepNoteStyle.Render("("+durationHint+")")
	}
	line += style.Render("...")

	fmt.Println()
	fmt.Println(line)
	fmt.Println()
}
