package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ResultType selects the box drawn for a result.
type ResultType int

const (
	ResultSuccess ResultType = iota
	ResultFailure
	ResultWarning
)

type resultLook struct {
	marker string
	label  string
	color  lipgloss.Color
}

var resultLooks = map[ResultType]resultLook{
	ResultSuccess: {SuccessMarker, "SUCCESS", SuccessColor},
	ResultFailure: {FailureMarker, "FAILED", ErrorColor},
	ResultWarning: {"⚠", "SKIPPED", WarningColor},
}

// Result is the box printed when a command finishes.
type Result struct {
	Type            ResultType
	Title           string            // e.g. "Scenario run complete"
	Details         map[string]string // Sorted by key when drawn
	Error           error             // Failure only
	Troubleshooting []string          // Failure only
	Width           int
}

func newResult(t ResultType, title string) *Result {
	return &Result{Type: t, Title: title, Width: GetTerminalWidth()}
}

// NewSuccessResult creates a success box.
func NewSuccessResult(title string, details map[string]string) *Result {
	r := newResult(ResultSuccess, title)
	r.Details = details
	return r
}

// NewFailureResult creates a failure box with troubleshooting tips.
func NewFailureResult(title string, err error, troubleshooting []string) *Result {
	r := newResult(ResultFailure, title)
	r.Error = err
	r.Troubleshooting = troubleshooting
	return r
}

// NewWarningResult creates a box for a run that was skipped or incomplete.
func NewWarningResult(title string, details map[string]string) *Result {
	r := newResult(ResultWarning, title)
	r.Details = details
	return r
}

// SetWidth sets the terminal width.
func (r *Result) SetWidth(width int) *Result {
	r.Width = width
	return r
}

// AddDetail adds or replaces a detail.
func (r *Result) AddDetail(key, value string) *Result {
	if r.Details == nil {
		r.Details = make(map[string]string)
	}
	r.Details[key] = value
	return r
}

// Render draws the box.
func (r *Result) Render() string {
	width := max(r.Width, MinTerminalWidth)
	look := resultLooks[r.Type]

	title := lipgloss.NewStyle().Foreground(look.color).Bold(true).
		Render(fmt.Sprintf("   %s  %s  ─  %s", look.marker, look.label, r.Title))
	lines := []string{"", title, ""}

	if r.Error != nil {
		lines = append(lines, ErrorMessageStyle.Render("   Error: "+r.Error.Error()), "")
	}
	if len(r.Details) > 0 {
		lines = append(lines, renderPairs(r.Details, ResultKeyStyle, ResultValueStyle, "   "), "")
	}
	if len(r.Troubleshooting) > 0 {
		lines = append(lines, r.renderTips(width), "")
	}

	box := SuccessBoxStyle(width)
	if r.Type == ResultFailure {
		box = ErrorBoxStyle(width)
	}
	return box.BorderForeground(look.color).Padding(0, 2).Render(strings.Join(lines, "\n"))
}

func (r *Result) renderTips(width int) string {
	lines := []string{TroubleshootingTitleStyle.Render("Troubleshooting:"), ""}
	for _, tip := range r.Troubleshooting {
		lines = append(lines, TroubleshootingItemStyle.Render("  • "+tip))
	}
	return TroubleshootingBoxStyle(width).MarginLeft(3).Render(strings.Join(lines, "\n"))
}

// String implements fmt.Stringer
func (r *Result) String() string {
	return r.Render()
}
