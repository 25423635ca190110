package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/muurk/symbridge/internal/config"
	"github.com/muurk/symbridge/internal/handoff"
	"github.com/muurk/symbridge/internal/launcher"
	"github.com/muurk/symbridge/internal/logging"
	"github.com/muurk/symbridge/internal/rsp"
	"github.com/muurk/symbridge/internal/target"
	"github.com/muurk/symbridge/internal/ui"
)

// Command flags
var (
	stubHost        string
	stubPort        int
	continueTimeout string
	configPath      string
	logLevel        string
	verbose         bool // Show raw dumps after commands
	gdbserverPath   string
	verifyLaunch    bool
	memOutput       string
	assumeYes       bool
)

func init() {
	// Common flags for all commands (persistent on root)
	rootCmd.PersistentFlags().StringVar(&stubHost, "host", "127.0.0.1", "gdbserver hostname")
	rootCmd.PersistentFlags().IntVar(&stubPort, "port", 9999, "gdbserver port")
	rootCmd.PersistentFlags().StringVar(&continueTimeout, "timeout", "0s", "Continue timeout; 0 waits forever (e.g., 30s, 5m)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $XDG_CONFIG_HOME/symbridge/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: silent)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show register and memory dumps")

	// Add subcommands
	rootCmd.AddCommand(verifySetupCmd)
	rootCmd.AddCommand(regsCmd)
	rootCmd.AddCommand(readMemCmd)
	rootCmd.AddCommand(writeMemCmd)
	rootCmd.AddCommand(scenariosCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(discoverCmd)
}

// settings is the merged result of defaults, the config file and flags.
type settings struct {
	registry *config.Registry
	handoff  handoff.Config
	logger   *zap.Logger
}

// loadRegistry reads --config, or the default config file.
func loadRegistry() (*config.Registry, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.LoadRegistry()
}

// saveRegistry writes the registry back where it was loaded from.
func saveRegistry(reg *config.Registry) error {
	if configPath != "" {
		return reg.SaveTo(configPath)
	}
	return reg.Save()
}

// loadSettings layers the config file and changed flags over the defaults
// and initializes logging.
func loadSettings(cmd *cobra.Command) (*settings, error) {
	reg, err := loadRegistry()
	if err != nil {
		return nil, err
	}

	level := logLevel
	if level == "" {
		level = reg.LogLevel
	}
	if err := logging.Initialize(level); err != nil {
		return nil, err
	}

	cfg := handoff.DefaultConfig()
	reg.ApplyHandoff(&cfg)

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Transport.Host = stubHost
	}
	if flags.Changed("port") {
		cfg.Transport.Port = stubPort
	}
	if flags.Changed("timeout") {
		timeout, err := time.ParseDuration(continueTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout value: %w", err)
		}
		cfg.Transport.ContinueTimeout = timeout
	}

	return &settings{registry: reg, handoff: cfg, logger: logging.GetLogger()}, nil
}

// gdbserver returns the gdbserver path from the flag, the config file or
// the default.
func (s *settings) gdbserver(cmd *cobra.Command) string {
	if cmd.Flags().Changed("gdbserver") {
		return gdbserverPath
	}
	if l := s.registry.Launcher; l != nil && l.GDBServer != "" {
		return l.GDBServer
	}
	return launcher.DefaultConfig().GDBServerPath
}

// openSession dials the stub and attaches to the stopped process. The
// returned func closes the connection without detaching, so the process
// stays stopped for the next command.
func (s *settings) openSession(ctx context.Context) (*target.Session, *rsp.Client, func() error, error) {
	client, err := rsp.Dial(ctx, s.handoff.Transport, s.logger)
	if err != nil {
		return nil, nil, nil, err
	}
	session, err := target.Attach(ctx, client, s.handoff.Target, s.logger)
	if err != nil {
		return nil, nil, nil, multierr.Append(err, client.Close())
	}
	return session, client, client.Close, nil
}

// stubTroubleshooting returns tips for a stub that could not be used.
func stubTroubleshooting(addr string) []string {
	return []string{
		"Check the stub is listening: symbridge verify-setup",
		"Start one with: gdbserver " + addr + " <binary>",
		"Run with --log-level debug for the RSP exchange",
	}
}

// parseAddress accepts decimal or 0x-prefixed hex.
func parseAddress(s string) (uint64, error) {
	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return addr, nil
}

// verifySetupCmd implements the 'verify-setup' command
var verifySetupCmd = &cobra.Command{
	Use:   "verify-setup",
	Short: "Verify gdbserver and stub setup",
	Long: `Verify that all prerequisites for a handoff are met.

This command checks:
  1. gdbserver binary is installed (required with --launch)
  2. A stub accepts connections at host:port
  3. The stub completes the RSP handshake and reports a register layout

Run this command first to troubleshoot any connection issues.`,
	Example: `  # Verify default setup
  symbridge verify-setup

  # Verify a remote stub and a local gdbserver for --launch
  symbridge verify-setup --host 10.0.0.2 --port 2345 --launch`,
	RunE: runVerifySetup,
}

func init() {
	verifySetupCmd.Flags().StringVar(&gdbserverPath, "gdbserver", "gdbserver", "Path to gdbserver binary")
	verifySetupCmd.Flags().BoolVar(&verifyLaunch, "launch", false, "Require a local gdbserver binary")
}

func runVerifySetup(cmd *cobra.Command, args []string) error {
	// Suppress usage on execution errors (we're past argument parsing)
	cmd.SilenceUsage = true

	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	addr := s.handoff.Transport.Address()
	path := s.gdbserver(cmd)

	ui.PrintCommandHeader(
		"Setup Verification",
		"symbridge verify-setup",
		map[string]string{
			"gdbserver": path,
			"Stub":      addr,
		},
	)

	ctx := context.Background()
	result := launcher.ValidatePrerequisites(ctx, path, addr, verifyLaunch)
	fmt.Print(launcher.FormatPrerequisiteReport(result))

	if !result.AllAvailable {
		err := fmt.Errorf("gdbserver not available at %s", path)
		ui.PrintFailure("Setup verification failed", err, []string{
			"Install gdbserver: sudo apt-get install gdbserver",
			"Or point at an existing one: --gdbserver /path/to/gdbserver",
		})
		return err
	}

	stubCheck := result.Checks[len(result.Checks)-1]
	if !stubCheck.Available {
		ui.PrintWarning("Setup verification incomplete", map[string]string{
			"gdbserver": "OK",
			"Stub":      "not reachable at " + addr,
		})
		return nil
	}

	transport := s.handoff.Transport
	transport.ConnectAttempts = 1
	client, err := rsp.Dial(ctx, transport, s.logger)
	if err != nil {
		ui.PrintFailure("RSP handshake failed", err, stubTroubleshooting(addr))
		return err
	}
	defer client.Close()

	ui.PrintSuccess("Setup verification passed", map[string]string{
		"Stub":         addr,
		"Registers":    strconv.Itoa(len(client.Registers())),
		"Pointer size": fmt.Sprintf("%d bytes", client.PointerSize()),
		"Packet size":  strconv.Itoa(client.PacketSize()),
	})
	return nil
}

// regsCmd implements the 'regs' command
var regsCmd = &cobra.Command{
	Use:   "regs",
	Short: "Print the stopped process's registers",
	Example: `  symbridge regs --host 127.0.0.1 --port 9999`,
	RunE:    runRegs,
}

func runRegs(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	addr := s.handoff.Transport.Address()
	ctx := context.Background()

	_, client, closeFn, err := s.openSession(ctx)
	if err != nil {
		ui.PrintFailure("Attach failed", err, stubTroubleshooting(addr))
		return err
	}

	values, err := client.ReadRegisters()
	if err = multierr.Append(err, closeFn()); err != nil {
		ui.PrintFailure("Register read failed", err, stubTroubleshooting(addr))
		return err
	}

	order := make([]string, 0, len(client.Registers()))
	for _, reg := range client.Registers() {
		order = append(order, reg.Name)
	}
	ui.NewPrinter(os.Stdout).PrintDump("Registers @ "+addr, ui.FormatRegisters(order, values, 3))
	return nil
}

// readMemCmd implements the 'read-mem' command
var readMemCmd = &cobra.Command{
	Use:   "read-mem <address> <length>",
	Short: "Dump process memory",
	Long: `Read memory from the stopped process and print a hex dump.

The address accepts decimal or 0x-prefixed hex. With --output the raw bytes
are also written to a file.`,
	Example: `  # Dump 64 bytes of the stack
  symbridge read-mem 0x7fffffffe3c0 64

  # Save a page to a file
  symbridge read-mem 0x601000 4096 --output page.bin`,
	Args: cobra.ExactArgs(2),
	RunE: runReadMem,
}

func init() {
	readMemCmd.Flags().StringVarP(&memOutput, "output", "o", "", "Write the raw bytes to this file")
}

func runReadMem(cmd *cobra.Command, args []string) error {
	address, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	length, err := strconv.Atoi(args[1])
	if err != nil || length <= 0 {
		return fmt.Errorf("invalid length %q", args[1])
	}
	cmd.SilenceUsage = true

	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	addr := s.handoff.Transport.Address()

	session, _, closeFn, err := s.openSession(context.Background())
	if err != nil {
		ui.PrintFailure("Attach failed", err, stubTroubleshooting(addr))
		return err
	}
	data, err := session.ReadRange(address, length)
	if err = multierr.Append(err, closeFn()); err != nil {
		ui.PrintFailure("Memory read failed", err, []string{
			"Check the range is mapped in the process",
		})
		return err
	}

	logging.LogRawBytes(fmt.Sprintf("read %#x", address), data)
	ui.NewPrinter(os.Stdout).PrintDump(
		fmt.Sprintf("%d bytes @ %#x", len(data), address),
		strings.TrimRight(logging.HexDump(address, data), "\n"),
	)

	if memOutput != "" {
		if err := os.WriteFile(memOutput, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", memOutput, err)
		}
		ui.PrintSuccess("Memory saved", map[string]string{
			"File":  memOutput,
			"Bytes": strconv.Itoa(len(data)),
		})
	}
	return nil
}

// writeMemCmd implements the 'write-mem' command
var writeMemCmd = &cobra.Command{
	Use:   "write-mem <address> <hex-bytes>",
	Short: "Overwrite process memory",
	Long: `Write bytes into the stopped process's memory.

The bytes are given as hex (e.g. 0a000000). The write is confirmed
interactively unless --yes is set.`,
	Example: `  symbridge write-mem 0x7fffffffe3c0 0a00000006000000`,
	Args:    cobra.ExactArgs(2),
	RunE:    runWriteMem,
}

func init() {
	writeMemCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt")
}

func runWriteMem(cmd *cobra.Command, args []string) error {
	address, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(strings.TrimPrefix(args[1], "0x"))
	if err != nil || len(data) == 0 {
		return fmt.Errorf("invalid hex bytes %q", args[1])
	}
	cmd.SilenceUsage = true

	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	addr := s.handoff.Transport.Address()

	if !assumeYes && !ui.WriteMemoryConfirmation(os.Stdin, os.Stdout, address, len(data)) {
		ui.PrintWarning("Write cancelled", map[string]string{"Address": fmt.Sprintf("%#x", address)})
		return nil
	}

	session, _, closeFn, err := s.openSession(context.Background())
	if err != nil {
		ui.PrintFailure("Attach failed", err, stubTroubleshooting(addr))
		return err
	}
	err = session.WriteRange(address, data)
	if err = multierr.Append(err, closeFn()); err != nil {
		ui.PrintFailure("Memory write failed", err, []string{
			"Check the range is mapped and writable",
		})
		return err
	}

	logging.LogRawBytes(fmt.Sprintf("wrote %#x", address), data)
	if verbose {
		ui.NewPrinter(os.Stdout).PrintDump("Written", strings.TrimRight(logging.HexDump(address, data), "\n"))
	}
	ui.PrintSuccess("Memory written", map[string]string{
		"Address": fmt.Sprintf("%#x", address),
		"Bytes":   strconv.Itoa(len(data)),
	})
	return nil
}
