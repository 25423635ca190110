package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// StepStatus is the state of one handoff step.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepComplete
	StepFailed
	StepSkipped
)

// stepNameColumn is where step markers line up.
const stepNameColumn = 32

// Step is one line of the step list.
type Step struct {
	Number  int
	Name    string
	Status  StepStatus
	Message string // e.g. "pc=0x400af3"
}

// done reports whether the step counts towards the bar.
func (s Step) done() bool {
	return s.Status == StepComplete || s.Status == StepSkipped
}

// Progress tracks the handoff steps and renders the bar shown after a run.
type Progress struct {
	Steps   []Step
	Current int // Last step started (1-based)
	bar     progress.Model
}

// NewProgress creates a step list with the given names, all pending.
func NewProgress(names []string) *Progress {
	p := &Progress{Steps: make([]Step, len(names))}
	for i, name := range names {
		p.Steps[i] = Step{Number: i + 1, Name: name}
	}
	return p.SetWidth(GetTerminalWidth())
}

// SetWidth sizes the bar for a terminal width, between 20 and 50 cells.
func (p *Progress) SetWidth(width int) *Progress {
	barWidth := width - 20
	if barWidth < 20 {
		barWidth = 20
	}
	if barWidth > 50 {
		barWidth = 50
	}
	p.bar = progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth))
	return p
}

// UpdateStep sets a step's status and message. Out of range steps are ignored.
func (p *Progress) UpdateStep(n int, status StepStatus, message string) {
	if n < 1 || n > len(p.Steps) {
		return
	}
	p.Steps[n-1].Status = status
	p.Steps[n-1].Message = message
	if status == StepRunning {
		p.Current = n
	}
}

// Percent is the share of complete or skipped steps.
func (p *Progress) Percent() float64 {
	if len(p.Steps) == 0 {
		return 0
	}
	done := 0
	for _, s := range p.Steps {
		if s.done() {
			done++
		}
	}
	return float64(done) / float64(len(p.Steps))
}

// Render returns the step list followed by the bar.
func (p *Progress) Render() string {
	lines := make([]string, 0, len(p.Steps)+2)
	for _, step := range p.Steps {
		lines = append(lines, p.renderStepLine(step))
	}
	lines = append(lines, "", p.renderProgressBar())
	return strings.Join(lines, "\n")
}

func (p *Progress) renderProgressBar() string {
	percent := p.Percent()
	return ProgressBarStyle().Render(fmt.Sprintf("%s  %3.0f%%  [%d/%d]",
		p.bar.ViewAs(percent), percent*100, p.Current, len(p.Steps)))
}

func (p *Progress) renderStepLine(step Step) string {
	var marker string
	var style lipgloss.Style
	switch step.Status {
	case StepComplete:
		marker, style = StepMarkerComplete, StepCompleteStyle
	case StepRunning:
		marker, style = StepMarkerRunning, StepRunningStyle
	case StepFailed:
		marker, style = FailureMarker, ErrorTitleStyle
	case StepSkipped:
		marker, style = StepMarkerSkipped, StepPendingStyle
	default:
		marker, style = StepMarkerPending, StepPendingStyle
	}

	padding := stepNameColumn - lipgloss.Width(step.Name)
	if padding < 1 {
		padding = 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  [%d/%d] ", step.Number, len(p.Steps))
	b.WriteString(style.Render(step.Name))
	b.WriteString(strings.Repeat(" ", padding))
	b.WriteString(style.Render(marker))
	if step.Message != "" {
		b.WriteString("  ")
		b.WriteString(StepNoteStyle.Render("(" + step.Message + ")"))
	}
	return b.String()
}

// String implements fmt.Stringer
func (p *Progress) String() string {
	return p.Render()
}
