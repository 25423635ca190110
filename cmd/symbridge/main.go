// Symbridge hands a live process between concrete and symbolic execution.
//
// It attaches to a gdbserver stub over the GDB Remote Serial Protocol, runs
// the process to a decision point, lets the symbolic engine solve for the
// input that reaches a chosen block, writes the solution back into the
// process and resumes it:
//
//   - Scenario runs (run, scenarios)
//   - Register and memory inspection (regs, read-mem, write-mem)
//   - Stub discovery over mDNS (discover)
//   - Setup verification (verify-setup)
//
// Prerequisites:
//
//   - gdbserver listening on the target, or installed locally for --launch
//
// See 'symbridge --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/symbridge/internal/logging"
	"github.com/muurk/symbridge/internal/version"
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "symbridge",
	Short: "Concrete/symbolic execution handoff over gdbserver",
	Long: `Hand a live process between concrete and symbolic execution.

symbridge attaches to a gdbserver stub, runs the process to a decision
point, imports its registers and stack into a symbolic state, explores
towards a target block, writes the solved input back into the process and
resumes it to completion.

Prerequisites:
  - gdbserver listening on host:port with the process stopped at entry
    (or gdbserver installed locally when using 'run --launch')

Use 'symbridge verify-setup' to check prerequisites.`,
	Version: version.Version,
	Example: `  # Verify the stub is reachable
  symbridge verify-setup --host 127.0.0.1 --port 9999

  # List the built-in scenarios
  symbridge scenarios

  # Run the reference scenario against a running gdbserver
  symbridge run not_packed_elf64

  # Launch gdbserver locally and stream phase events
  symbridge run not_packed_elf64 --launch --events-addr 127.0.0.1:8765`,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("symbridge %s\n", version.Full())
	},
}
