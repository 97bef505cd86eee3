package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjiang15/262design2/internal/event"
	"github.com/rjiang15/262design2/internal/logfile"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// writeRunLogs produces a small two-node log directory, including one
// malformed line.
func writeRunLogs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	at := time.UnixMilli(1740941000000)

	w1, err := logfile.New(dir, 1)
	require.NoError(t, err)
	require.NoError(t, w1.Record(event.Record{Time: at, Kind: event.KindInternal, Clock: 1}))
	require.NoError(t, w1.Record(event.Record{Time: at.Add(time.Second), Kind: event.KindSentDirect, Clock: 2, Target: 2}))
	require.NoError(t, w1.Close())

	w2, err := logfile.New(dir, 2)
	require.NoError(t, err)
	require.NoError(t, w2.Record(event.Record{Time: at.Add(2 * time.Second), Kind: event.KindReceived, Clock: 3, QueueLen: 0}))
	require.NoError(t, w2.Close())

	// Corrupt the second node's log with a garbage line.
	f, err := os.OpenFile(logfile.Path(dir, 2), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("garbage that is not a record\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	return dir
}

func TestArchiveDir_CombinesLogs(t *testing.T) {
	s := openTestStore(t)
	dir := writeRunLogs(t)

	res, err := s.ArchiveDir(context.Background(), dir, false)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 2, res.Nodes)
	assert.Equal(t, 3, res.Events)
	assert.Equal(t, 1, res.Skipped, "the malformed line is skipped, not fatal")

	recs, err := s.EventsForRun(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, 1, recs[0].NodeID)
	assert.Equal(t, event.KindInternal, recs[0].Kind)
	assert.Equal(t, int64(1), recs[0].Clock)
	assert.Equal(t, 1, recs[1].NodeID)
	assert.Equal(t, event.KindSentDirect, recs[1].Kind)
	assert.Equal(t, 2, recs[1].Target)
	assert.Equal(t, 2, recs[2].NodeID)
	assert.Equal(t, event.KindReceived, recs[2].Kind)

	// Source logs stay in place without clear.
	_, err = os.Stat(logfile.Path(dir, 1))
	assert.NoError(t, err)
}

// Events reference their run row and the constraint is checked per
// statement, so archiving must write the parent run before any event.
func TestArchiveDir_SatisfiesForeignKeys(t *testing.T) {
	s := openTestStore(t)

	var fkOn int
	require.NoError(t, s.db.QueryRow(`PRAGMA foreign_keys`).Scan(&fkOn))
	require.Equal(t, 1, fkOn, "foreign key enforcement must be on")

	res, err := s.ArchiveDir(context.Background(), writeRunLogs(t), false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Events)

	rows, err := s.db.Query(`PRAGMA foreign_key_check`)
	require.NoError(t, err)
	defer rows.Close()
	assert.False(t, rows.Next(), "archived events must all reference an existing run")
	require.NoError(t, rows.Err())
}

func TestArchiveDir_Clear(t *testing.T) {
	s := openTestStore(t)
	dir := writeRunLogs(t)

	_, err := s.ArchiveDir(context.Background(), dir, true)
	require.NoError(t, err)

	for _, id := range []int{1, 2} {
		_, err := os.Stat(logfile.Path(dir, id))
		assert.True(t, os.IsNotExist(err), "vm_%d.log should be removed after archiving", id)
	}
}

func TestArchiveDir_EmptyDir(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ArchiveDir(context.Background(), t.TempDir(), false)
	assert.ErrorIs(t, err, ErrNoLogs)
}

func TestRuns_NewestFirst(t *testing.T) {
	s := openTestStore(t)

	first, err := s.ArchiveDir(context.Background(), writeRunLogs(t), false)
	require.NoError(t, err)
	second, err := s.ArchiveDir(context.Background(), writeRunLogs(t), false)
	require.NoError(t, err)

	runs, err := s.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].ID)
	assert.Equal(t, first.RunID, runs[1].ID)

	latest, err := s.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, second.RunID, latest.ID)
}

func TestRun_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Run(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = s.LatestRun(context.Background())
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = s.EventsForRun(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	assert.NoError(t, s2.Close())
}
