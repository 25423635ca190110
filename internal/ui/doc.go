// Package ui provides terminal UI components for the symbridge CLI.
//
// This package uses Bubble Tea, Bubbles and Lipgloss to render terminal output
// that follows a "run once and exit" pattern: it renders output clearly but
// doesn't require user interaction.
//
// # Architecture
//
//   - Header: Command banner showing operation name and parameters
//   - Progress: Progress bar with step list showing real-time status
//   - Result: Success/failure/skipped boxes with styled information
//   - Dump: Memory hex dump and register boxes
//   - Table: Aligned lists (scenarios, discovered stubs)
//
// Runner orchestrates the header → progress → result flow for a handoff
// run. Its Observe method is a handoff.Observer, so each controller phase
// transition updates the step list as it happens:
//
//	runner := ui.NewRunner(ui.RunnerConfig{
//	    Title:   "Scenario Run",
//	    Command: "symbridge run not_packed_elf64",
//	    Params:  map[string]string{"Stub": "127.0.0.1:1234"},
//	})
//	_, err := runner.Run(ctx, func(ctx context.Context, observe handoff.Observer) (*ui.Summary, error) {
//	    env.Observers = append(env.Observers, observe)
//	    ...
//	})
//
// # Logging Integration
//
// zap logging is silent unless SYMBRIDGE_LOG_LEVEL or --log-level is set,
// so the curated UI output is displayed cleanly by default.
package ui
