// Package analyze computes summary statistics over one archived run:
// per-node event mix, clock progression, queue pressure, and the clock
// drift between nodes. Plotting stays outside this repo; this is the
// numeric half of the analysis.
package analyze

import (
	"context"
	"fmt"
	"io"
	"sort"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rjiang15/262design2/internal/archive"
	"github.com/rjiang15/262design2/internal/event"
)

// NodeStats summarizes one node's recorded events.
type NodeStats struct {
	NodeID     int
	Events     int
	Counts     map[event.Kind]int
	FinalClock int64
	// MeanJump is the average increase between consecutive clock values.
	// Internal events and sends contribute 1; receives contribute the
	// Lamport catch-up, so a node that lags fast peers shows a larger
	// mean jump.
	MeanJump float64
	MaxQueue int
}

// Report is the full analysis of one run.
type Report struct {
	Run         archive.RunInfo
	Nodes       []NodeStats
	TotalEvents int
	// Drift is the spread between the highest and lowest final clock.
	Drift int64
}

// Analyze reads one archived run and computes its report.
func Analyze(ctx context.Context, s *archive.Store, runID string) (*Report, error) {
	info, err := s.Run(ctx, runID)
	if err != nil {
		return nil, err
	}
	recs, err := s.EventsForRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	byNode := make(map[int][]event.Record)
	for _, rec := range recs {
		byNode[rec.NodeID] = append(byNode[rec.NodeID], rec)
	}
	ids := make([]int, 0, len(byNode))
	for id := range byNode {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	report := &Report{Run: info, TotalEvents: len(recs)}
	var minFinal, maxFinal int64
	for i, id := range ids {
		stats := nodeStats(id, byNode[id])
		report.Nodes = append(report.Nodes, stats)
		if i == 0 || stats.FinalClock < minFinal {
			minFinal = stats.FinalClock
		}
		if i == 0 || stats.FinalClock > maxFinal {
			maxFinal = stats.FinalClock
		}
	}
	if len(ids) > 0 {
		report.Drift = maxFinal - minFinal
	}
	return report, nil
}

func nodeStats(id int, recs []event.Record) NodeStats {
	stats := NodeStats{
		NodeID: id,
		Events: len(recs),
		Counts: make(map[event.Kind]int),
	}

	var jumps, jumpTotal int64
	var prev int64
	for i, rec := range recs {
		stats.Counts[rec.Kind]++
		if rec.Kind == event.KindReceived && rec.QueueLen > stats.MaxQueue {
			stats.MaxQueue = rec.QueueLen
		}
		if i > 0 {
			jumpTotal += rec.Clock - prev
			jumps++
		}
		prev = rec.Clock
		stats.FinalClock = rec.Clock
	}
	if jumps > 0 {
		stats.MeanJump = float64(jumpTotal) / float64(jumps)
	}
	return stats
}

// Render writes the report as a readable text table.
func (r *Report) Render(w io.Writer) error {
	p := message.NewPrinter(language.English)

	if _, err := p.Fprintf(w, "run %s (archived %s from %s)\n",
		r.Run.ID, r.Run.ArchivedAt.Format("2006-01-02 15:04:05"), r.Run.SourceDir); err != nil {
		return err
	}
	p.Fprintf(w, "%d events across %d nodes", r.TotalEvents, len(r.Nodes))
	if r.Run.Skipped > 0 {
		p.Fprintf(w, " (%d malformed lines skipped at archive time)", r.Run.Skipped)
	}
	p.Fprintln(w)
	p.Fprintln(w)

	p.Fprintf(w, "%-6s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"node", "events", "internal", "sent", "direct", "received", "failed", "final", "mean-jump")
	for _, n := range r.Nodes {
		p.Fprintf(w, "%-6d %10d %10d %10d %10d %10d %10d %10d %10.2f\n",
			n.NodeID, n.Events,
			n.Counts[event.KindInternal],
			n.Counts[event.KindSent],
			n.Counts[event.KindSentDirect],
			n.Counts[event.KindReceived],
			n.Counts[event.KindSendFailed],
			n.FinalClock, n.MeanJump)
	}

	p.Fprintln(w)
	p.Fprintf(w, "max queue depth: %s\n", maxQueueLine(r.Nodes))
	p.Fprintf(w, "final clock drift across nodes: %d\n", r.Drift)
	return nil
}

func maxQueueLine(nodes []NodeStats) string {
	out := ""
	for i, n := range nodes {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("node %d = %d", n.NodeID, n.MaxQueue)
	}
	if out == "" {
		return "n/a"
	}
	return out
}
