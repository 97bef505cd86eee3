// Package sim orchestrates a whole simulation: it builds the nodes,
// wires the fully connected peer mesh, drives every tick loop
// concurrently for a bounded duration, and tears everything down.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rjiang15/262design2/internal/config"
	"github.com/rjiang15/262design2/internal/logfile"
	"github.com/rjiang15/262design2/internal/node"
)

// Simulation owns a set of nodes for one run.
type Simulation struct {
	cfg     config.Run
	log     *slog.Logger
	nodes   []*node.Node
	writers []*logfile.Writer

	closeOnce sync.Once
}

// New validates the configuration and constructs the nodes with ids
// 1..Nodes, each with its own log file, tick rate, and draw stream.
// A zero seed gets replaced with a wall-clock seed; a fixed seed makes
// tick-rate assignment and every node's draws reproducible.
func New(cfg config.Run, logger *slog.Logger) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rates := rand.New(rand.NewPCG(uint64(seed), 0))

	s := &Simulation{cfg: cfg, log: logger}
	for id := 1; id <= cfg.Nodes; id++ {
		var tickRate float64
		switch {
		case len(cfg.TickRates) > 0:
			tickRate = cfg.TickRates[id-1]
		case cfg.TickRate > 0:
			tickRate = cfg.TickRate
		default:
			tickRate = float64(cfg.TickRateMin + rates.IntN(cfg.TickRateMax-cfg.TickRateMin+1))
		}

		peers := make([]int, 0, cfg.Nodes-1)
		for p := 1; p <= cfg.Nodes; p++ {
			if p != id {
				peers = append(peers, p)
			}
		}

		w, err := logfile.New(cfg.LogDir, id)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.writers = append(s.writers, w)

		draws := rand.New(rand.NewPCG(uint64(seed), uint64(id)))
		n, err := node.New(node.Config{
			ID:            id,
			Host:          cfg.Host,
			BasePort:      cfg.BasePort,
			TickRate:      tickRate,
			SendThreshold: cfg.SendThreshold,
			Peers:         peers,
		}, node.Options{
			Recorder: w,
			Logger:   logger,
			Draw:     func() int { return draws.IntN(10) + 1 },
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.nodes = append(s.nodes, n)
		logger.Info("node configured", "node", id, "tick_rate", tickRate, "peers", len(peers))
	}

	return s, nil
}

// Nodes returns the simulation's nodes in id order.
func (s *Simulation) Nodes() []*node.Node {
	return s.nodes
}

// Run executes the simulation for the configured duration, or until ctx
// is cancelled, whichever comes first. The sequence is: start every
// listener, wire the full mesh (pair failures degrade the topology but
// never abort the run), start every tick loop, wait, then shut down and
// wait for every loop to quiesce.
func (s *Simulation) Run(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Duration.Std())
	defer cancel()
	defer s.Close()

	// All listeners come up before any node dials, so wiring never races
	// a peer that hasn't bound its port yet. A bind failure is fatal: it
	// is a configuration problem, not a transient one.
	for _, n := range s.nodes {
		if err := n.Start(runCtx); err != nil {
			return fmt.Errorf("sim: start node %d: %w", n.ID(), err)
		}
	}

	for _, n := range s.nodes {
		reached := n.Connect(runCtx)
		s.log.Info("node wired", "node", n.ID(), "peers_reached", reached)
	}

	s.log.Info("simulation running",
		"nodes", len(s.nodes), "duration", s.cfg.Duration.Std().String())

	var wg sync.WaitGroup
	for _, n := range s.nodes {
		wg.Add(1)
		go func(n *node.Node) {
			defer wg.Done()
			n.Run(runCtx)
		}(n)
	}

	<-runCtx.Done()
	wg.Wait()
	s.Close()

	for _, n := range s.nodes {
		s.log.Info("node finished",
			"node", n.ID(), "clock", n.Clock(), "queued", n.QueueLen())
	}
	if err := ctx.Err(); err != nil {
		s.log.Info("simulation interrupted")
		return nil
	}
	s.log.Info("simulation complete")
	return nil
}

// Close tears down every node and log writer. Idempotent; close errors
// during teardown are logged and swallowed.
func (s *Simulation) Close() error {
	s.closeOnce.Do(func() {
		for _, n := range s.nodes {
			if err := n.Close(); err != nil {
				s.log.Debug("node close", "node", n.ID(), "err", err)
			}
		}
		for _, w := range s.writers {
			if err := w.Close(); err != nil {
				s.log.Debug("log writer close", "err", err)
			}
		}
	})
	return nil
}
