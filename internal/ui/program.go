package ui

import (
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

// onceModel is a Bubble Tea model that draws its content and quits.
type onceModel struct {
	content string
}

func (m onceModel) Init() tea.Cmd                       { return tea.Quit }
func (m onceModel) Update(tea.Msg) (tea.Model, tea.Cmd) { return m, nil }
func (m onceModel) View() string                        { return m.content }

// RenderOnce draws content through Bubble Tea and exits. When stdout is
// not a terminal the content is printed as is.
func RenderOnce(content string) error {
	if !IsTerminal() {
		_, err := fmt.Fprintln(os.Stdout, content)
		return err
	}
	_, err := tea.NewProgram(onceModel{content: content},
		tea.WithOutput(os.Stdout), tea.WithInput(nil)).Run()
	return err
}

// Printer writes UI components sized to the terminal.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter returns a Printer for w, or stdout when w is nil.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{out: w, width: GetTerminalWidth()}
}

func (p *Printer) println(s string) {
	_, _ = fmt.Fprintln(p.out, s)
}

// PrintHeader prints a command header followed by a blank line.
func (p *Printer) PrintHeader(title, command string, params map[string]string) {
	p.println(NewHeader(title, command, params).SetWidth(p.width).Render())
	p.println("")
}

// PrintResult prints a result box after a blank line.
func (p *Printer) PrintResult(r *Result) {
	p.println("")
	p.println(r.SetWidth(p.width).Render())
}

// PrintDump prints a titled dump box.
func (p *Printer) PrintDump(title, content string) {
	p.println(NewDump(title, content).SetWidth(p.width).Render())
}

// PrintTable prints a table.
func (p *Printer) PrintTable(t *Table) {
	p.println(t.Render())
}
