package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/symbridge/internal/discovery"
	"github.com/muurk/symbridge/internal/ui"
)

// Discover flags
var (
	scanTimeout time.Duration
	scanArch    string
	saveStubs   bool
)

// discoverCmd implements the 'discover' command
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find gdb stubs advertised over mDNS",
	Long: `Browse the local network for gdb stubs advertised as _gdbremote._tcp.

Found stubs are recorded in the config file with the time they were last
seen, so 'run --stub <instance>' can reach them without another scan.`,
	Example: `  # Scan for 5 seconds
  symbridge discover

  # Only x86-64 stubs, scan longer
  symbridge discover --arch x86_64 --scan-timeout 10s`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().DurationVar(&scanTimeout, "scan-timeout", discovery.DefaultScanTimeout, "How long to listen for advertisements")
	discoverCmd.Flags().StringVar(&scanArch, "arch", "", "Only show stubs advertising this architecture")
	discoverCmd.Flags().BoolVar(&saveStubs, "save", true, "Record found stubs in the config file")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	scanner := discovery.NewScanner()
	scanner.Timeout = scanTimeout
	scanner.Arch = scanArch

	ui.PrintPleaseWait("Scanning for gdb stubs", scanTimeout.String())
	stubs, err := scanner.ScanForStubs(context.Background())
	if err != nil {
		ui.PrintFailure("Discovery failed", err, []string{
			"mDNS needs multicast on the local network",
			"Give the address directly: --host/--port",
		})
		return err
	}

	if len(stubs) == 0 {
		ui.PrintWarning("No stubs found", map[string]string{
			"Service": discovery.ServiceType,
			"Timeout": scanTimeout.String(),
		})
		return nil
	}

	table := ui.NewTable("INSTANCE", "ADDRESS", "ARCH", "NICKNAME")
	for _, stub := range stubs {
		nickname := ""
		if saved := s.registry.GetStub(stub.Address()); saved != nil {
			nickname = saved.Nickname
		}
		table.AddRow(stub.Instance, stub.Address(), stub.Arch(), nickname)
		s.registry.UpdateStubLastSeen(stub.Address(), stub.Instance)
	}
	ui.NewPrinter(cmd.OutOrStdout()).PrintTable(table)

	if saveStubs {
		if err := saveRegistry(s.registry); err != nil {
			s.logger.Warn("failed to save config", zap.Error(err))
			return fmt.Errorf("failed to save discovered stubs: %w", err)
		}
	}
	return nil
}
