package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rjiang15/262design2/internal/event"
)

// ErrRunNotFound reports a query for an unknown run id.
var ErrRunNotFound = errors.New("archive: run not found")

// RunInfo describes one archived run.
type RunInfo struct {
	ID         string
	ArchivedAt time.Time
	SourceDir  string
	Nodes      int
	Events     int
	Skipped    int
}

// Runs lists archived runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, archived_at, source_dir, node_count, event_count, skipped_lines
		FROM runs ORDER BY archived_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("archive: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var info RunInfo
		var at string
		if err := rows.Scan(&info.ID, &at, &info.SourceDir, &info.Nodes, &info.Events, &info.Skipped); err != nil {
			return nil, fmt.Errorf("archive: scan run: %w", err)
		}
		if info.ArchivedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("archive: bad archived_at %q: %w", at, err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// LatestRun returns the most recently archived run.
func (s *Store) LatestRun(ctx context.Context) (RunInfo, error) {
	runs, err := s.Runs(ctx)
	if err != nil {
		return RunInfo{}, err
	}
	if len(runs) == 0 {
		return RunInfo{}, ErrRunNotFound
	}
	return runs[0], nil
}

// Run returns one archived run by id.
func (s *Store) Run(ctx context.Context, runID string) (RunInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, archived_at, source_dir, node_count, event_count, skipped_lines
		FROM runs WHERE id = ?`, runID)

	var info RunInfo
	var at string
	err := row.Scan(&info.ID, &at, &info.SourceDir, &info.Nodes, &info.Events, &info.Skipped)
	if errors.Is(err, sql.ErrNoRows) {
		return RunInfo{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return RunInfo{}, fmt.Errorf("archive: read run: %w", err)
	}
	if info.ArchivedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
		return RunInfo{}, fmt.Errorf("archive: bad archived_at %q: %w", at, err)
	}
	return info, nil
}

// EventsForRun returns a run's events ordered by node id, then by each
// node's own event order.
func (s *Store) EventsForRun(ctx context.Context, runID string) ([]event.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, ts, kind, clock, target, queue_len
		FROM events WHERE run_id = ?
		ORDER BY node_id, seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("archive: read events: %w", err)
	}
	defer rows.Close()

	var out []event.Record
	for rows.Next() {
		var rec event.Record
		var ts float64
		var kind string
		if err := rows.Scan(&rec.NodeID, &ts, &kind, &rec.Clock, &rec.Target, &rec.QueueLen); err != nil {
			return nil, fmt.Errorf("archive: scan event: %w", err)
		}
		whole, frac := math.Modf(ts)
		rec.Time = time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC()
		rec.Kind = event.Kind(kind)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		if _, err := s.Run(ctx, runID); err != nil {
			return nil, err
		}
	}
	return out, nil
}
