package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjiang15/262design2/internal/config"
	"github.com/rjiang15/262design2/internal/sim"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath    string
	Nodes         int
	Host          string
	BasePort      int
	SendThreshold int
	Duration      time.Duration
	TickRate      float64
	Seed          int64
	LogDir        string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a full simulation on this machine",
		Long: `Run starts every node of the model in one process: each node binds its
own TCP port, connects to every peer, and ticks at its own rate for the
configured duration. Every node writes its event log to <log-dir>/vm_<id>.log.

Flags override the config file; the config file overrides built-in defaults.

Example:
  clocksim run --nodes 3 --duration 60s
  clocksim run --config run.yaml --seed 42 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML run configuration")
	cmd.Flags().IntVar(&opts.Nodes, "nodes", defaults.Nodes, "number of nodes")
	cmd.Flags().StringVar(&opts.Host, "host", defaults.Host, "host every node binds and dials")
	cmd.Flags().IntVar(&opts.BasePort, "base-port", defaults.BasePort, "node i listens on base-port + i")
	cmd.Flags().IntVar(&opts.SendThreshold, "send-threshold", defaults.SendThreshold, "draws <= threshold select a send action (1-10)")
	cmd.Flags().DurationVar(&opts.Duration, "duration", defaults.Duration.Std(), "how long the simulation runs")
	cmd.Flags().Float64Var(&opts.TickRate, "tick-rate", 0, "fixed tick rate for every node (0 draws per-node rates)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "seed for tick rates and draws (0 seeds from the clock)")
	cmd.Flags().StringVar(&opts.LogDir, "log-dir", defaults.LogDir, "directory for per-node event logs")

	return cmd
}

func runSimulation(opts *RunOptions, cmd *cobra.Command) error {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
	}
	applyRunFlags(cmd, opts, &cfg)

	s, err := sim.New(cfg, slog.Default())
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid run configuration", err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	fmt.Fprintf(cmd.OutOrStdout(), "Running %d nodes for %s. Logs in %s. Press Ctrl-C to stop early.\n",
		cfg.Nodes, cfg.Duration.Std(), cfg.LogDir)

	if err := s.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "simulation failed", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Simulation finished.")
	return nil
}

// applyRunFlags layers explicitly set flags over the loaded configuration.
func applyRunFlags(cmd *cobra.Command, opts *RunOptions, cfg *config.Run) {
	set := cmd.Flags().Changed
	if set("nodes") {
		cfg.Nodes = opts.Nodes
	}
	if set("host") {
		cfg.Host = opts.Host
	}
	if set("base-port") {
		cfg.BasePort = opts.BasePort
	}
	if set("send-threshold") {
		cfg.SendThreshold = opts.SendThreshold
	}
	if set("duration") {
		cfg.Duration = config.Duration(opts.Duration)
	}
	if set("tick-rate") {
		cfg.TickRate = opts.TickRate
	}
	if set("seed") {
		cfg.Seed = opts.Seed
	}
	if set("log-dir") {
		cfg.LogDir = opts.LogDir
	}
}
