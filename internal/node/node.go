// Package node implements the simulated machine: one logical clock, one
// inbound message queue, one transport endpoint, and the per-tick
// decision procedure that drives them.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/rjiang15/262design2/internal/clock"
	"github.com/rjiang15/262design2/internal/event"
	"github.com/rjiang15/262design2/internal/transport"
)

// Config is the per-node configuration contract.
type Config struct {
	ID            int
	Host          string
	BasePort      int
	TickRate      float64 // ticks per second, > 0
	SendThreshold int     // draws <= threshold select a send action, 1..10
	Peers         []int   // peer ids, excludes self
}

// Validate reports configuration errors. These are fatal at startup,
// before any node begins running.
func (c Config) Validate() error {
	if c.ID < 1 {
		return fmt.Errorf("node id must be >= 1, got %d", c.ID)
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("node %d: tick rate must be > 0, got %g", c.ID, c.TickRate)
	}
	if c.SendThreshold < 1 || c.SendThreshold > 10 {
		return fmt.Errorf("node %d: send threshold must be in [1,10], got %d", c.ID, c.SendThreshold)
	}
	seen := make(map[int]bool, len(c.Peers))
	for _, p := range c.Peers {
		if p == c.ID {
			return fmt.Errorf("node %d: peer set must not include self", c.ID)
		}
		if p < 1 {
			return fmt.Errorf("node %d: peer id must be >= 1, got %d", c.ID, p)
		}
		if seen[p] {
			return fmt.Errorf("node %d: duplicate peer id %d", c.ID, p)
		}
		seen[p] = true
	}
	return nil
}

// Sender is an outbound link to one peer. *transport.Conn implements it;
// tests and the scenario harness substitute in-memory links.
type Sender interface {
	Send(transport.Message) error
	Close() error
}

// Options carries optional collaborators for a Node. Zero values get
// working defaults.
type Options struct {
	Recorder event.Recorder     // event log destination; default discards
	Logger   *slog.Logger       // default slog.Default()
	Dialer   *transport.Dialer  // default built from Config
	Draw     func() int         // uniform draw in [1,10]; default math/rand
}

// Node is one simulated machine.
//
// The tick loop is the only mutator of the clock and the only consumer of
// the inbox; receive goroutines only append to the inbox. Peers are
// addressed by id through the sender table - a node never holds a
// reference to another node's internal state.
type Node struct {
	cfg    Config
	clock  *clock.LogicalClock
	inbox  *inbox
	rec    event.Recorder
	log    *slog.Logger
	draw   func() int
	dialer *transport.Dialer

	mu    sync.Mutex // guards peers and order
	peers map[int]Sender
	order []int // attached peer ids, ascending

	listener  *transport.Listener
	serveDone chan struct{}
	closeOnce sync.Once
}

// New creates a node from a validated configuration.
func New(cfg Config, opts Options) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("node config: %w", err)
	}

	rec := opts.Recorder
	if rec == nil {
		rec = event.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("node", cfg.ID)
	draw := opts.Draw
	if draw == nil {
		draw = func() int { return rand.IntN(10) + 1 }
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &transport.Dialer{Host: cfg.Host, BasePort: cfg.BasePort, Log: logger}
	}

	return &Node{
		cfg:    cfg,
		clock:  clock.New(),
		inbox:  newInbox(),
		rec:    rec,
		log:    logger,
		draw:   draw,
		dialer: dialer,
		peers:  make(map[int]Sender, len(cfg.Peers)),
	}, nil
}

// ID returns the node's id.
func (n *Node) ID() int { return n.cfg.ID }

// Clock returns the current logical clock value.
func (n *Node) Clock() int64 { return n.clock.Now() }

// TickRate returns the node's configured ticks per second.
func (n *Node) TickRate() float64 { return n.cfg.TickRate }

// QueueLen returns the current inbound queue depth.
func (n *Node) QueueLen() int { return n.inbox.len() }

// Deliver appends a received message to the inbound queue. Called by the
// transport's receive loops; safe for concurrent use. The message becomes
// visible to the next tick, never the one already in progress.
func (n *Node) Deliver(m transport.Message) {
	if !n.inbox.enqueue(m) {
		n.log.Debug("dropping message delivered after shutdown", "clock", m.Clock)
	}
}

// Start binds the node's listening endpoint and begins accepting inbound
// peer connections. The accept loop runs until ctx is cancelled.
func (n *Node) Start(ctx context.Context) error {
	l, err := transport.Listen(n.cfg.Host, n.cfg.BasePort, n.cfg.ID, n.Deliver, n.log)
	if err != nil {
		return err
	}
	n.listener = l
	n.serveDone = make(chan struct{})
	go func() {
		defer close(n.serveDone)
		l.Serve(ctx)
	}()
	return nil
}

// Connect dials every configured peer. Unreachable peers are logged and
// skipped - the node runs with a degraded peer set rather than failing.
// Returns the number of peers reached.
func (n *Node) Connect(ctx context.Context) int {
	peers := slices.Clone(n.cfg.Peers)
	slices.Sort(peers)

	reached := 0
	for _, id := range peers {
		if err := n.ConnectPeer(ctx, id); err != nil {
			n.log.Warn("peer unreachable, continuing without it", "peer", id, "err", err)
			continue
		}
		reached++
	}
	if reached < len(peers) {
		n.log.Warn("running with degraded peer set", "reached", reached, "configured", len(peers))
	}
	return reached
}

// ConnectPeer dials a single peer and caches the connection.
func (n *Node) ConnectPeer(ctx context.Context, peerID int) error {
	conn, err := n.dialer.Dial(ctx, peerID)
	if err != nil {
		return err
	}
	n.AttachPeer(peerID, conn)
	return nil
}

// AttachPeer installs an outbound link for a peer id. Used by ConnectPeer
// and directly by the scenario harness for in-memory links.
func (n *Node) AttachPeer(peerID int, s Sender) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if old, ok := n.peers[peerID]; ok {
		_ = old.Close()
	}
	n.peers[peerID] = s
	if !slices.Contains(n.order, peerID) {
		n.order = append(n.order, peerID)
		slices.Sort(n.order)
	}
}

// peerOrder returns the attached peers in their fixed ascending order.
func (n *Node) peerOrder() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.order)
}

func (n *Node) sender(peerID int) Sender {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers[peerID]
}

// Run executes the tick loop until ctx is cancelled. Ticks are paced at
// 1/TickRate seconds; each tick's deadline is computed from the loop
// start, so one slow tick doesn't shift every later boundary.
func (n *Node) Run(ctx context.Context) {
	interval := time.Duration(float64(time.Second) / n.cfg.TickRate)
	start := time.Now()

	timer := time.NewTimer(interval)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for tick := int64(1); ; tick++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n.Tick()

		wait := time.Until(start.Add(time.Duration(tick) * interval))
		if wait <= 0 {
			// Behind schedule: start the next tick immediately.
			continue
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// Tick evaluates the decision procedure once.
//
// A queued message always takes priority: a node with backlog drains it
// before creating more traffic. Otherwise a uniform draw r in [1,10]
// picks the action - r == 1 sends to the first peer, r == 2 to the second
// (only if one exists), r == 3 to every peer; any other draw at or below
// the send threshold, any draw above it, and any send with too few peers
// is an internal event.
func (n *Node) Tick() {
	if m, ok := n.inbox.tryDequeue(); ok {
		v := n.clock.Update(m.Clock)
		n.emit(event.Record{Kind: event.KindReceived, Clock: v, QueueLen: n.inbox.len()})
		return
	}

	r := n.draw()
	order := n.peerOrder()
	switch {
	case r > n.cfg.SendThreshold:
		n.internalEvent()
	case r == 1 && len(order) >= 1:
		n.send(order[0], event.KindSentDirect)
	case r == 2 && len(order) >= 2:
		n.send(order[1], event.KindSentDirect)
	case r == 3 && len(order) >= 1:
		for _, peer := range order {
			n.send(peer, event.KindSent)
		}
	default:
		// A send was selected but no peer fits the draw (e.g. "second
		// peer" with a single peer attached). Never index past the peer
		// set; fall back to an internal event.
		n.internalEvent()
	}
}

func (n *Node) internalEvent() {
	v := n.clock.Tick()
	n.emit(event.Record{Kind: event.KindInternal, Clock: v})
}

// send advances the clock, stamps the message, and hands it to the
// transport. The clock advance happens before the attempt and is not
// rolled back on failure; a failed send is recorded and the loop moves
// on. Transport errors never terminate the node.
func (n *Node) send(peerID int, kind event.Kind) {
	v := n.clock.Tick()
	s := n.sender(peerID)
	if s == nil {
		n.emit(event.Record{Kind: event.KindSendFailed, Clock: v, Target: peerID})
		return
	}
	if err := s.Send(transport.Message{Clock: v}); err != nil {
		n.log.Warn("send failed", "peer", peerID, "err", err)
		n.emit(event.Record{Kind: event.KindSendFailed, Clock: v, Target: peerID})
		return
	}
	n.emit(event.Record{Kind: kind, Clock: v, Target: peerID})
}

func (n *Node) emit(r event.Record) {
	r.Time = time.Now()
	r.NodeID = n.cfg.ID
	if err := n.rec.Record(r); err != nil {
		n.log.Warn("event record write failed", "err", err)
	}
}

// Close tears the node down: listener stopped and its accept loop
// joined, outbound connections closed, inbox sealed. Idempotent, and
// completes even if individual close operations fail.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		if n.listener != nil {
			if err := n.listener.Close(); err != nil {
				n.log.Debug("listener close", "err", err)
			}
			<-n.serveDone
		}
		n.mu.Lock()
		for id, s := range n.peers {
			if err := s.Close(); err != nil {
				n.log.Debug("peer connection close", "peer", id, "err", err)
			}
		}
		n.mu.Unlock()
		n.inbox.close()
	})
	return nil
}
