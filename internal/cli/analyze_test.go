package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func archivedFixture(t *testing.T) string {
	t.Helper()
	logDir := writeLogFixture(t)
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	cmd, _ := newTestCommand(t, NewArchiveCommand)
	cmd.SetArgs([]string{"--db", dbPath, logDir})
	require.NoError(t, cmd.Execute())
	return dbPath
}

func TestAnalyzeEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	cmd, _ := newTestCommand(t, NewAnalyzeCommand)
	cmd.SetArgs([]string{"--db", dbPath})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "no runs")
}

func TestAnalyzeUnknownRun(t *testing.T) {
	dbPath := archivedFixture(t)
	cmd, _ := newTestCommand(t, NewAnalyzeCommand)
	cmd.SetArgs([]string{"--db", dbPath, "--run", "no-such-run"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "not found")
}

func TestAnalyzeLatestRun(t *testing.T) {
	dbPath := archivedFixture(t)
	cmd, buf := newTestCommand(t, NewAnalyzeCommand)
	cmd.SetArgs([]string{"--db", dbPath})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "4 events across 2 nodes")
	assert.Contains(t, out, "final clock drift across nodes: 1")
}

func TestAnalyzeJSONOutput(t *testing.T) {
	dbPath := archivedFixture(t)
	out, err := executeRoot(t, "--format", "json", "analyze", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"TotalEvents": 4`)
	assert.Contains(t, out, `"Drift": 1`)
}
