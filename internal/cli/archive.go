package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rjiang15/262design2/internal/archive"
)

// ArchiveOptions holds flags for the archive command.
type ArchiveOptions struct {
	*RootOptions
	Database string
	Clear    bool
}

// NewArchiveCommand creates the archive command.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ArchiveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "archive <log-dir>",
		Short: "Store a run's event logs in the archive database",
		Long: `Archive parses every vm_<id>.log in the directory and stores the
combined event set as one run in a SQLite database, creating the
database if it doesn't exist. Malformed lines are skipped and counted.

Example:
  clocksim archive --db runs.db ./logs
  clocksim archive --db runs.db --clear ./logs`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite archive database (required)")
	cmd.Flags().BoolVar(&opts.Clear, "clear", false, "remove the source log files after archiving")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runArchive(opts *ArchiveOptions, logDir string, cmd *cobra.Command) error {
	st, err := archive.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	res, err := st.ArchiveDir(cmd.Context(), logDir, opts.Clear)
	if errors.Is(err, archive.ErrNoLogs) {
		return WrapExitError(ExitFailure, fmt.Sprintf("nothing to archive in %s", logDir), err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "archive failed", err)
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return f.Success(res, func(w io.Writer) error {
		fmt.Fprintf(w, "Archived run %s: %d events from %d nodes", res.RunID, res.Events, res.Nodes)
		if res.Skipped > 0 {
			fmt.Fprintf(w, " (%d malformed lines skipped)", res.Skipped)
		}
		fmt.Fprintln(w)
		return nil
	})
}
