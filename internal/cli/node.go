package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjiang15/262design2/internal/logfile"
	"github.com/rjiang15/262design2/internal/node"
	"github.com/rjiang15/262design2/internal/transport"
)

// NodeOptions holds flags for the node command.
type NodeOptions struct {
	*RootOptions
	ID            int
	Peers         []int
	Host          string
	BasePort      int
	TickRate      float64
	SendThreshold int
	Duration      time.Duration
	LogDir        string
}

// NewNodeCommand creates the node command.
func NewNodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a single node, for multi-process or multi-host runs",
		Long: `Node runs one machine of the model in this process. Start one node per
process (or per host) with the same base port and each other's ids as
peers; every node listens on base-port + id.

Example:
  clocksim node --id 1 --peers 2,3 --tick-rate 4 &
  clocksim node --id 2 --peers 1,3 --tick-rate 2 &
  clocksim node --id 3 --peers 1,2 --tick-rate 6 &`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.ID, "id", 0, "node id, >= 1 (required)")
	cmd.Flags().IntSliceVar(&opts.Peers, "peers", nil, "peer node ids")
	cmd.Flags().StringVar(&opts.Host, "host", "127.0.0.1", "host to bind and dial")
	cmd.Flags().IntVar(&opts.BasePort, "base-port", transport.DefaultBasePort, "node i listens on base-port + i")
	cmd.Flags().Float64Var(&opts.TickRate, "tick-rate", 1, "ticks per second")
	cmd.Flags().IntVar(&opts.SendThreshold, "send-threshold", 3, "draws <= threshold select a send action (1-10)")
	cmd.Flags().DurationVar(&opts.Duration, "duration", time.Minute, "how long the node runs")
	cmd.Flags().StringVar(&opts.LogDir, "log-dir", "logs", "directory for the node's event log")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func runNode(opts *NodeOptions, cmd *cobra.Command) error {
	if opts.Duration <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("duration must be > 0, got %s", opts.Duration))
	}

	w, err := logfile.New(opts.LogDir, opts.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open event log", err)
	}
	defer w.Close()

	n, err := node.New(node.Config{
		ID:            opts.ID,
		Host:          opts.Host,
		BasePort:      opts.BasePort,
		TickRate:      opts.TickRate,
		SendThreshold: opts.SendThreshold,
		Peers:         opts.Peers,
	}, node.Options{
		Recorder: w,
		Logger:   slog.Default(),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid node configuration", err)
	}
	defer n.Close()

	sigCtx, cancel := signalContext(cmd)
	defer cancel()
	ctx, timeout := context.WithTimeout(sigCtx, opts.Duration)
	defer timeout()

	if err := n.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to start node", err)
	}
	reached := n.Connect(ctx)
	slog.Info("node running",
		"node", n.ID(), "peers_reached", reached, "tick_rate", n.TickRate())

	fmt.Fprintf(cmd.OutOrStdout(), "Node %d running for %s. Press Ctrl-C to stop.\n",
		n.ID(), opts.Duration)

	n.Run(ctx)
	n.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Node %d stopped at clock %d with %d queued messages.\n",
		n.ID(), n.Clock(), n.QueueLen())
	return nil
}
