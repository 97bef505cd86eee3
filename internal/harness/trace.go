package harness

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/rjiang15/262design2/internal/event"
	"github.com/rjiang15/262design2/internal/node"
	"github.com/rjiang15/262design2/internal/transport"
)

// TraceEvent is one captured event, stripped of wall-clock time so
// traces compare byte-for-byte across runs.
type TraceEvent struct {
	Tick     int    `json:"tick"`
	Node     int    `json:"node"`
	Kind     string `json:"kind"`
	Clock    int64  `json:"clock"`
	Target   int    `json:"target,omitempty"`
	QueueLen int    `json:"queue_len,omitempty"`
}

// Trace is the full ordered event capture of one scenario run.
type Trace struct {
	Scenario string       `json:"scenario"`
	Events   []TraceEvent `json:"events"`
}

// tickCollector records events with the lockstep tick number attached.
type tickCollector struct {
	mu     sync.Mutex
	tick   int
	events []TraceEvent
}

func (c *tickCollector) setTick(t int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick = t
}

func (c *tickCollector) Record(r event.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, TraceEvent{
		Tick:     c.tick,
		Node:     r.NodeID,
		Kind:     string(r.Kind),
		Clock:    r.Clock,
		Target:   r.Target,
		QueueLen: r.QueueLen,
	})
	return nil
}

// link delivers straight into the target node's inbound queue.
type link struct{ to *node.Node }

func (l link) Send(m transport.Message) error {
	l.to.Deliver(m)
	return nil
}

func (l link) Close() error { return nil }

// scriptedDraw consumes the scripted draws, then settles on 10 so any
// tail ticks are internal events.
func scriptedDraw(draws []int) func() int {
	i := 0
	return func() int {
		if i >= len(draws) {
			return 10
		}
		v := draws[i]
		i++
		return v
	}
}

// Run executes the scenario: every node ticks once per round, in the
// order they are declared, for Ticks rounds. Messages sent during a
// round are already queued when the target ticks, exactly like an
// in-process run with direct delivery.
func (s *Scenario) Run() (*Trace, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("harness: %w", err)
	}

	collector := &tickCollector{}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	nodes := make([]*node.Node, 0, len(s.Nodes))
	for _, script := range s.Nodes {
		peers := make([]int, 0, len(s.Nodes)-1)
		for _, other := range s.Nodes {
			if other.ID != script.ID {
				peers = append(peers, other.ID)
			}
		}
		n, err := node.New(node.Config{
			ID:            script.ID,
			Host:          "127.0.0.1",
			BasePort:      transport.DefaultBasePort,
			TickRate:      1, // unused: the harness steps nodes directly
			SendThreshold: script.SendThreshold,
			Peers:         peers,
		}, node.Options{
			Recorder: collector,
			Logger:   quiet,
			Draw:     scriptedDraw(script.Draws),
		})
		if err != nil {
			return nil, fmt.Errorf("harness: node %d: %w", script.ID, err)
		}
		nodes = append(nodes, n)
	}

	for _, n := range nodes {
		for _, other := range nodes {
			if other.ID() != n.ID() {
				n.AttachPeer(other.ID(), link{to: other})
			}
		}
	}

	for tick := 1; tick <= s.Ticks; tick++ {
		collector.setTick(tick)
		for _, n := range nodes {
			n.Tick()
		}
	}

	for _, n := range nodes {
		_ = n.Close()
	}

	return &Trace{Scenario: s.Name, Events: collector.events}, nil
}
