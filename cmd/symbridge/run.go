package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/symbridge/internal/discovery"
	"github.com/muurk/symbridge/internal/handoff"
	"github.com/muurk/symbridge/internal/launcher"
	"github.com/muurk/symbridge/internal/logging"
	"github.com/muurk/symbridge/internal/scenario"
	"github.com/muurk/symbridge/internal/server"
	"github.com/muurk/symbridge/internal/symbolic"
	"github.com/muurk/symbridge/internal/ui"
)

// Run flags
var (
	runSearcher     string
	runEventsAddr   string
	runStub         string
	runLaunch       bool
	runBinary       string
	runStartTimeout string
	runMaxSteps     int
	runMaxStates    int
	runMaxNodes     int
)

// scenariosCmd implements the 'scenarios' command
var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List built-in scenarios",
	Long: `List the built-in scenarios and their searcher variants.

Each scenario can be run as-is or as name/bfs or name/dfs to pick the
exploration order.`,
	RunE: runScenarios,
}

func runScenarios(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	catalog, err := scenario.LoadCatalog()
	if err != nil {
		return err
	}

	table := ui.NewTable("NAME", "SEARCHER", "BINARY", "DESCRIPTION")
	for _, name := range catalog.Variants() {
		s, err := catalog.Get(name)
		if err != nil {
			return err
		}
		table.AddRow(s.Name, s.Searcher, s.Binary, s.Description)
	}
	return ui.RenderOnce(table.Render())
}

// runCmd implements the 'run' command
var runCmd = &cobra.Command{
	Use:   "run <scenario>",
	Short: "Run a handoff scenario against a gdbserver stub",
	Long: `Run a scenario end to end against a process stopped under gdbserver.

This command will:
  1. Attach to the stub (or launch gdbserver with --launch)
  2. Run the process to the scenario's decision point
  3. Make the scenario's buffer symbolic
  4. Explore towards the find address, avoiding the avoid addresses
  5. Write the solution back into the process
  6. Resume the process to the end address

A scenario the engine cannot decode is reported as not applicable and
exits 0. An exploration that reaches only avoided or errored states is
reported as failed and exits 1, as does any other error.`,
	Example: `  # Run against a stub on the default address
  symbridge run not_packed_elf64

  # Depth-first variant against a remote stub
  symbridge run not_packed_elf64/dfs --host 10.0.0.2 --port 2345

  # Launch gdbserver locally and stream phase events over websocket
  symbridge run not_packed_elf64 --launch --events-addr 127.0.0.1:8765

  # Resolve the stub by mDNS instance name or saved nickname
  symbridge run not_packed_elf64 --stub lab-vm`,
	Args: cobra.ExactArgs(1),
	RunE: runScenario,
}

func init() {
	limits := symbolic.DefaultConfig()
	runCmd.Flags().StringVar(&runSearcher, "searcher", "", "Exploration order: bfs or dfs (default: scenario's)")
	runCmd.Flags().StringVar(&runEventsAddr, "events-addr", "", "Serve phase events over websocket at this address")
	runCmd.Flags().StringVar(&runStub, "stub", "", "Stub nickname or mDNS instance name (overrides --host/--port)")
	runCmd.Flags().BoolVar(&runLaunch, "launch", false, "Start gdbserver locally for the scenario binary")
	runCmd.Flags().StringVar(&runBinary, "binary", "", "Binary to launch (default: scenario's)")
	runCmd.Flags().StringVar(&gdbserverPath, "gdbserver", "gdbserver", "Path to gdbserver binary (with --launch)")
	runCmd.Flags().StringVar(&runStartTimeout, "start-timeout", "10s", "Wait for a launched gdbserver to listen")
	runCmd.Flags().IntVar(&runMaxSteps, "max-steps", 0, fmt.Sprintf("Blocks per path (default: %d)", limits.MaxSteps))
	runCmd.Flags().IntVar(&runMaxStates, "max-states", 0, fmt.Sprintf("Active states per exploration (default: %d)", limits.MaxStates))
	runCmd.Flags().IntVar(&runMaxNodes, "max-nodes", 0, fmt.Sprintf("Solver assignments per query (default: %d)", symbolic.DefaultMaxNodes))
}

func runScenario(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	sc, err := selectScenario(s, args[0])
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if runStub != "" {
		if err := resolveStub(ctx, s, runStub); err != nil {
			ui.PrintFailure("Stub not found", err, []string{
				"List advertised stubs: symbridge discover",
				"Or give the address: --host/--port",
			})
			return err
		}
	}

	if runLaunch {
		proc, err := launchGDBServer(ctx, cmd, s, sc)
		if err != nil {
			ui.PrintFailure("gdbserver did not start", err, []string{
				"Check prerequisites: symbridge verify-setup --launch",
				"Point at the binary: --binary ./" + sc.Binary,
			})
			return err
		}
		defer func() {
			if err := proc.Stop(); err != nil {
				s.logger.Warn("failed to stop gdbserver", zap.Error(err))
			}
			if verbose {
				ui.NewPrinter(os.Stdout).PrintDump("gdbserver output", strings.TrimRight(proc.Output(), "\n"))
			}
		}()
	}

	env := scenario.Env{
		Config:   s.handoff,
		Logger:   s.logger,
		Explore:  exploreOverrides(cmd, s),
		MaxNodes: s.registry.SolverNodes(),
	}
	if cmd.Flags().Changed("max-nodes") {
		env.MaxNodes = runMaxNodes
	}

	eventsAddr := runEventsAddr
	if eventsAddr == "" && s.registry.Events != nil {
		eventsAddr = s.registry.Events.Addr
	}
	if eventsAddr != "" {
		srv, err := startEventServer(eventsAddr)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.logger.Warn("event server shutdown failed", zap.Error(err))
			}
		}()
		env.Observers = append(env.Observers, srv.Observer())
	}

	runner := ui.NewRunner(ui.RunnerConfig{
		Title:   "Scenario Run",
		Command: "symbridge run " + args[0],
		Params: map[string]string{
			"Scenario": sc.Name,
			"Searcher": sc.Searcher,
			"Stub":     s.handoff.Transport.Address(),
		},
	})

	var result *scenario.Result
	_, err = runner.Run(ctx, func(ctx context.Context, observe handoff.Observer) (*ui.Summary, error) {
		env.Observers = append(env.Observers, observe)
		var err error
		result, err = scenario.DefaultRegistry().Run(ctx, env, sc)
		return summarize(sc, result), err
	})

	if verbose && result != nil && result.Report != nil {
		printReport(result.Report)
	}
	return err
}

// selectScenario resolves the scenario name and applies the searcher from
// --searcher, then the name's variant, then the config file.
func selectScenario(s *settings, name string) (*scenario.Scenario, error) {
	catalog, err := scenario.LoadCatalog()
	if err != nil {
		return nil, err
	}
	base, variant, _ := strings.Cut(name, "/")
	searcher := runSearcher
	if searcher == "" && variant == "" && s.registry.Explore != nil {
		searcher = s.registry.Explore.Searcher
	}
	if searcher != "" && searcher != variant {
		name = base + "/" + searcher
	}
	return catalog.Get(name)
}

// exploreOverrides merges engine limits from the config file and flags.
func exploreOverrides(cmd *cobra.Command, s *settings) symbolic.Config {
	var cfg symbolic.Config
	s.registry.ApplyExplore(&cfg)
	if cmd.Flags().Changed("max-steps") {
		cfg.MaxSteps = runMaxSteps
	}
	if cmd.Flags().Changed("max-states") {
		cfg.MaxStates = runMaxStates
	}
	return cfg
}

// resolveStub points the transport at a saved nickname, or at a stub found
// by mDNS instance name.
func resolveStub(ctx context.Context, s *settings, name string) error {
	for addr, stub := range s.registry.Stubs {
		if stub.Nickname == name || stub.Instance == name {
			host, port, err := splitHostPort(addr)
			if err == nil {
				s.handoff.Transport.Host, s.handoff.Transport.Port = host, port
				logging.Info("Using saved stub", zap.String("stub", name), zap.String("address", addr))
				return nil
			}
		}
	}

	ui.PrintPleaseWait("Looking for stub "+name, "up to "+discovery.DefaultScanTimeout.String())
	found, err := discovery.NewScanner().WaitForStub(ctx, name)
	if err != nil {
		return err
	}
	s.handoff.Transport.Host, s.handoff.Transport.Port = found.IP, found.Port

	s.registry.UpdateStubLastSeen(found.Address(), found.Instance)
	if err := saveRegistry(s.registry); err != nil {
		s.logger.Warn("failed to save config", zap.Error(err))
	}
	return nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return host, port, nil
}

// launchGDBServer starts gdbserver on the transport address for the
// scenario binary.
func launchGDBServer(ctx context.Context, cmd *cobra.Command, s *settings, sc *scenario.Scenario) (*launcher.Process, error) {
	cfg := launcher.DefaultConfig()
	cfg.GDBServerPath = s.gdbserver(cmd)
	cfg.Host = s.handoff.Transport.Host
	cfg.Port = s.handoff.Transport.Port
	cfg.Binary = sc.Binary
	if runBinary != "" {
		cfg.Binary = runBinary
	}
	if l := s.registry.Launcher; l != nil && l.StartTimeout > 0 {
		cfg.StartTimeout = l.StartTimeout
	}
	if cmd.Flags().Changed("start-timeout") {
		timeout, err := time.ParseDuration(runStartTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid start timeout: %w", err)
		}
		cfg.StartTimeout = timeout
	}
	return launcher.Launch(ctx, cfg, s.logger)
}

// startEventServer serves handoff events over websocket.
func startEventServer(addr string) (*server.Server, error) {
	cfg := server.DefaultConfig()
	cfg.Addr = addr
	srv := server.New(cfg)
	if err := srv.Start(); err != nil {
		return nil, fmt.Errorf("failed to start event server: %w", err)
	}
	fmt.Printf("Streaming phase events at %s\n\n", srv.URL())
	return srv, nil
}

// summarize turns a scenario result into the runner's result box.
func summarize(sc *scenario.Scenario, result *scenario.Result) *ui.Summary {
	if result == nil {
		return nil
	}
	summary := &ui.Summary{Details: map[string]string{"Outcome": result.Outcome.String()}}
	if result.Skipped() {
		summary.Skipped = true
		summary.Reason = result.Reason
		return summary
	}
	if result.Report != nil {
		summary.Details["Exploration"] = result.Report.Outcome.Summary()
		summary.Details["Final PC"] = sc.Label(result.FinalPC)
	}
	if result.Solution != nil {
		summary.Details["Solution"] = fmt.Sprintf("%x", result.Solution)
	}
	if result.Expected != nil {
		summary.Details["Matched"] = strconv.FormatBool(result.Matched)
	}
	return summary
}

// printReport dumps the decision snapshot registers and the patches.
func printReport(report *handoff.Report) {
	p := ui.NewPrinter(os.Stdout)
	if report.Decision != nil {
		p.PrintDump(
			fmt.Sprintf("Registers @ decision %#x", report.Decision.PC()),
			ui.FormatRegisters(nil, report.Decision.Registers(), 3),
		)
	}
	for _, patch := range report.Patches {
		p.PrintDump(
			fmt.Sprintf("Patch %s (%d bytes)", patch.Var, len(patch.Data)),
			strings.TrimRight(logging.HexDump(patch.Addr, patch.Data), "\n"),
		)
	}
}
