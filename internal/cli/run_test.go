package cli

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjiang15/262design2/internal/event"
	"github.com/rjiang15/262design2/internal/logfile"
)

// reserveBasePort picks an ephemeral port p and returns it as the base,
// so node ports land at p+1..p+n.
func reserveBasePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func newTestCommand(t *testing.T, build func(*RootOptions) *cobra.Command) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := build(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	return cmd, buf
}

func splitLogLines(data []byte) []string {
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

// executeRoot runs the full root command with args and returns its stdout.
func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	root := NewRootCommand()
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRunInvalidConfiguration(t *testing.T) {
	cmd, _ := newTestCommand(t, NewRunCommand)
	cmd.SetArgs([]string{"--nodes", "0", "--duration", "1s", "--log-dir", t.TempDir()})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid run configuration")
}

func TestRunMissingConfigFile(t *testing.T) {
	cmd, _ := newTestCommand(t, NewRunCommand)
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRunFlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("nodes: 0\nduration: 5s\n"), 0o644))

	logDir := filepath.Join(dir, "logs")
	cmd, buf := newTestCommand(t, NewRunCommand)
	cmd.SetArgs([]string{
		"--config", cfgPath,
		"--nodes", "2",
		"--base-port", strconv.Itoa(reserveBasePort(t)),
		"--duration", "300ms",
		"--tick-rate", "20",
		"--seed", "1",
		"--log-dir", logDir,
	})

	// nodes: 0 in the file would be rejected; the flag override makes
	// the run valid and short.
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Running 2 nodes")
	assert.Contains(t, buf.String(), "Simulation finished.")
}

func TestRunWritesParseableLogs(t *testing.T) {
	logDir := t.TempDir()
	cmd, _ := newTestCommand(t, NewRunCommand)
	cmd.SetArgs([]string{
		"--nodes", "2",
		"--base-port", strconv.Itoa(reserveBasePort(t)),
		"--duration", "300ms",
		"--tick-rate", "20",
		"--seed", "1",
		"--log-dir", logDir,
	})

	start := time.Now()
	require.NoError(t, cmd.Execute())
	assert.Less(t, time.Since(start), 5*time.Second)

	for id := 1; id <= 2; id++ {
		data, err := os.ReadFile(logfile.Path(logDir, id))
		require.NoError(t, err)
		require.NotEmpty(t, data, "node %d log is empty", id)
		lines := splitLogLines(data)
		for _, line := range lines {
			_, err := event.Parse(line)
			require.NoError(t, err, "node %d wrote unparseable line %q", id, line)
		}
	}
}
