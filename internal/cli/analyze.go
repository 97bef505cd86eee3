package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rjiang15/262design2/internal/analyze"
	"github.com/rjiang15/262design2/internal/archive"
)

// AnalyzeOptions holds flags for the analyze command.
type AnalyzeOptions struct {
	*RootOptions
	Database string
	RunID    string
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AnalyzeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Summarize an archived run",
		Long: `Analyze reads one archived run and reports per-node statistics: event
mix, final clock, mean clock jump, queue pressure, and the final clock
drift across nodes. Without --run it analyzes the most recent run.

Example:
  clocksim analyze --db runs.db
  clocksim analyze --db runs.db --run 6dd8ac5e-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite archive database (required)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to analyze (default: most recent)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runAnalyze(opts *AnalyzeOptions, cmd *cobra.Command) error {
	st, err := archive.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	runID := opts.RunID
	if runID == "" {
		latest, err := st.LatestRun(ctx)
		if errors.Is(err, archive.ErrRunNotFound) {
			return WrapExitError(ExitFailure, "archive database has no runs", err)
		}
		if err != nil {
			return WrapExitError(ExitFailure, "failed to find latest run", err)
		}
		runID = latest.ID
	}

	report, err := analyze.Analyze(ctx, st, runID)
	if errors.Is(err, archive.ErrRunNotFound) {
		return WrapExitError(ExitFailure, fmt.Sprintf("run %s not found", runID), err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "analysis failed", err)
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return f.Success(report, report.Render)
}
