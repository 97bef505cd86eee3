package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rjiang15/262design2/internal/event"
)

// ErrNoLogs reports an archive attempt on a directory with no log files.
var ErrNoLogs = errors.New("archive: no log files found")

var logName = regexp.MustCompile(`^vm_(\d+)\.log$`)

// Result summarizes one archived run.
type Result struct {
	RunID   string
	Nodes   int
	Events  int
	Skipped int // malformed lines, skipped but counted
}

// ArchiveDir parses every vm_<id>.log under logDir and stores the
// combined event set as a new run. Malformed lines are skipped and
// counted, never fatal. When clear is set, the source files are removed
// after a successful commit, so the directory is clean for the next run.
func (s *Store) ArchiveDir(ctx context.Context, logDir string, clear bool) (Result, error) {
	paths, err := filepath.Glob(filepath.Join(logDir, "vm_*.log"))
	if err != nil {
		return Result{}, fmt.Errorf("archive: scan %s: %w", logDir, err)
	}
	sort.Strings(paths)

	type parsedFile struct {
		nodeID int
		recs   []event.Record
		raws   []string
	}
	var files []parsedFile
	skipped := 0

	for _, path := range paths {
		m := logName.FindStringSubmatch(filepath.Base(path))
		if m == nil {
			continue
		}
		nodeID, _ := strconv.Atoi(m[1])

		f, err := os.Open(path)
		if err != nil {
			return Result{}, fmt.Errorf("archive: %w", err)
		}
		pf := parsedFile{nodeID: nodeID}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			rec, err := event.Parse(line)
			if err != nil {
				skipped++
				continue
			}
			rec.NodeID = nodeID
			pf.recs = append(pf.recs, rec)
			pf.raws = append(pf.raws, line)
		}
		scanErr := scanner.Err()
		f.Close()
		if scanErr != nil {
			return Result{}, fmt.Errorf("archive: read %s: %w", path, scanErr)
		}
		files = append(files, pf)
	}

	if len(files) == 0 {
		return Result{}, ErrNoLogs
	}

	runID := uuid.NewString()
	total := 0
	for _, pf := range files {
		total += len(pf.recs)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback()

	// The runs row goes in first: events reference it and the foreign key
	// is checked per statement, not at commit.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, archived_at, source_dir, node_count, event_count, skipped_lines)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, time.Now().UTC().Format(time.RFC3339Nano), logDir,
		len(files), total, skipped); err != nil {
		return Result{}, fmt.Errorf("archive: insert run: %w", err)
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO events (run_id, node_id, seq, ts, kind, clock, target, queue_len, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Result{}, fmt.Errorf("archive: prepare: %w", err)
	}
	defer insert.Close()

	for _, pf := range files {
		for i, rec := range pf.recs {
			ts := float64(rec.Time.UnixNano()) / float64(time.Second)
			if _, err := insert.ExecContext(ctx,
				runID, pf.nodeID, i, ts, string(rec.Kind), rec.Clock,
				rec.Target, rec.QueueLen, pf.raws[i]); err != nil {
				return Result{}, fmt.Errorf("archive: insert event: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("archive: commit: %w", err)
	}

	if clear {
		for _, path := range paths {
			if err := os.Remove(path); err != nil {
				return Result{}, fmt.Errorf("archive: clear %s: %w", path, err)
			}
		}
	}

	return Result{RunID: runID, Nodes: len(files), Events: total, Skipped: skipped}, nil
}
