// Package logfile writes each node's event records to its own append-only
// log file, one formatted line per record. The archive side consumes
// these files after a run.
package logfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rjiang15/262design2/internal/event"
)

// Path returns the log file path for a node id.
func Path(dir string, nodeID int) string {
	return filepath.Join(dir, fmt.Sprintf("vm_%d.log", nodeID))
}

// Writer is an event.Recorder backed by one node's log file. Safe for
// concurrent use; every record is flushed to the file as it is written.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	closed bool
}

var _ event.Recorder = (*Writer)(nil)

// New creates (or truncates) the node's log file, creating the directory
// if needed.
func New(dir string, nodeID int) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logfile: create dir %s: %w", dir, err)
	}
	f, err := os.Create(Path(dir, nodeID))
	if err != nil {
		return nil, fmt.Errorf("logfile: %w", err)
	}
	return &Writer{f: f}, nil
}

// Record implements event.Recorder.
func (w *Writer) Record(r event.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("logfile: writer closed")
	}
	if _, err := w.f.WriteString(r.Format() + "\n"); err != nil {
		return fmt.Errorf("logfile: %w", err)
	}
	return nil
}

// Close closes the underlying file. Idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.f.Close()
}
