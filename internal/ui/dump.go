package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Dump represents a box for displaying raw target state such as memory
// hex dumps or register values.
type Dump struct {
	Title    string   // e.g., "Memory 0x7fffffffdd30"
	Lines    []string // Content lines, rendered verbatim
	Width    int      // Terminal width
	MaxLines int      // Maximum lines to display (0 = unlimited)
}

// NewDump creates a new dump box
func NewDump(title, content string) *Dump {
	return &Dump{
		Title: title,
		Lines: strings.Split(strings.TrimRight(content, "\n"), "\n"),
		Width: GetTerminalWidth(),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (d *Dump) SetWidth(width int) *Dump {
	d.Width = width
	return d
}

// SetMaxLines limits the number of lines displayed
func (d *Dump) SetMaxLines(max int) *Dump {
	d.MaxLines = max
	return d
}

// Render returns the styled dump box as a string
func (d *Dump) Render() string {
	width := d.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	lines := d.Lines
	if d.MaxLines > 0 && len(lines) > d.MaxLines {
		lines = append(lines[:d.MaxLines:d.MaxLines], fmt.Sprintf("... (%d more lines)", len(d.Lines)-d.MaxLines))
	}

	inner := lipgloss.JoinVertical(lipgloss.Left,
		DumpTitleStyle.Render(d.Title),
		"",
		DumpContentStyle.Render(strings.Join(lines, "\n")),
	)

	return DumpBoxStyle(width).
		MarginLeft(2).
		Render(inner)
}

// String implements fmt.Stringer
func (d *Dump) String() string {
	return d.Render()
}

// FormatRegisters lays out register values in columns, in the given order.
// Registers missing from values are skipped; values not named in order
// follow alphabetically.
func FormatRegisters(order []string, values map[string]uint64, columns int) string {
	if columns < 1 {
		columns = 1
	}
	names := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, name := range order {
		if _, ok := values[name]; ok && !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}
	var rest []string
	for name := range values {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	names = append(names, rest...)

	var b strings.Builder
	for i, name := range names {
		fmt.Fprintf(&b, "%-6s 0x%016x", name, values[name])
		if (i+1)%columns == 0 || i == len(names)-1 {
			b.WriteString("\n")
		} else {
			b.WriteString("   ")
		}
	}
	return b.String()
}
