package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// maxFrameBytes bounds one newline-delimited frame, well above any clock
// message but finite. A frame past the bound poisons the stream's framing,
// so that connection is dropped rather than resynchronized.
const maxFrameBytes = 1 << 20

// Listener accepts inbound peer connections for one node and decodes
// their message streams.
//
// Each accepted connection gets its own receive goroutine, so one slow or
// dead peer never blocks the others. Decoded messages are handed to the
// deliver callback (the owning node's inbound queue); the callback must be
// safe for concurrent use since several peers may be connected at once.
type Listener struct {
	nodeID  int
	ln      net.Listener
	deliver func(Message)
	log     *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// Listen binds the node's well-known endpoint (basePort + nodeID).
func Listen(host string, basePort, nodeID int, deliver func(Message), logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	addr := Addr(host, basePort, nodeID)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s for node %d: %w", addr, nodeID, err)
	}
	logger.Info("listening", "node", nodeID, "addr", ln.Addr().String())
	return &Listener{
		nodeID:  nodeID,
		ln:      ln,
		deliver: deliver,
		log:     logger,
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. Each accepted connection is served on its own goroutine. Serve
// returns only after every receive loop has drained.
func (l *Listener) Serve(ctx context.Context) {
	// Unblock Accept promptly on cancellation.
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-stop:
		}
	}()
	defer close(stop)

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				l.log.Warn("accept failed", "node", l.nodeID, "err", err)
			}
			break
		}
		l.log.Debug("accepted connection", "node", l.nodeID, "remote", conn.RemoteAddr().String())
		l.mu.Lock()
		l.conns[conn] = struct{}{}
		l.mu.Unlock()
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer func() {
				l.mu.Lock()
				delete(l.conns, conn)
				l.mu.Unlock()
			}()
			l.receive(ctx, conn)
		}()
	}

	l.wg.Wait()
}

// receive decodes newline-delimited messages from one peer connection
// until EOF, a connection error, or cancellation.
func (l *Listener) receive(ctx context.Context, conn net.Conn) {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer close(stop)
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			// Malformed frame: drop it, keep the connection.
			l.log.Warn("dropping malformed frame",
				"node", l.nodeID, "remote", conn.RemoteAddr().String(), "err", err)
			continue
		}
		l.deliver(msg)
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		if errors.Is(err, bufio.ErrTooLong) {
			l.log.Warn("dropping connection after oversized frame",
				"node", l.nodeID, "remote", conn.RemoteAddr().String(), "limit", maxFrameBytes)
		} else {
			l.log.Debug("receive loop ended", "node", l.nodeID, "err", err)
		}
	}
}

// Close stops accepting and closes every live peer connection, so the
// receive loops (and therefore Serve) unwind even when the serve context
// is still active. Idempotent; safe during teardown even if the socket is
// already closed.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.ln.Close()
		l.mu.Lock()
		for conn := range l.conns {
			conn.Close()
		}
		l.mu.Unlock()
	})
	return l.closeErr
}
