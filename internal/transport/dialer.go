package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// ErrRetryBudget reports that a connect attempt exhausted its retries.
var ErrRetryBudget = errors.New("transport: connect retry budget exhausted")

// Retry defaults. Nodes race to listen vs. connect at simulation start,
// so the first attempts routinely hit connection refused.
const (
	DefaultMaxRetries = 5
	DefaultRetryDelay = 200 * time.Millisecond
)

// Dialer opens outbound connections to peers by id.
type Dialer struct {
	Host       string
	BasePort   int
	MaxRetries int           // attempts before giving up; <= 0 means DefaultMaxRetries
	RetryDelay time.Duration // fixed delay between attempts; <= 0 means DefaultRetryDelay
	Log        *slog.Logger
}

// Dial connects to the peer's well-known endpoint, retrying refused
// attempts with a fixed delay. After the retry budget is exhausted it
// returns an error wrapping ErrRetryBudget rather than blocking. The
// returned Conn is meant to be cached and reused for every send to that
// peer.
func (d *Dialer) Dial(ctx context.Context, peerID int) (*Conn, error) {
	retries := d.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}
	delay := d.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	logger := d.Log
	if logger == nil {
		logger = slog.Default()
	}

	addr := Addr(d.Host, d.BasePort, peerID)
	var dialer net.Dialer

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			logger.Debug("connected to peer", "peer", peerID, "addr", addr, "attempt", attempt)
			return newConn(conn), nil
		}
		lastErr = err
		logger.Debug("connect attempt failed",
			"peer", peerID, "addr", addr, "attempt", attempt, "err", err)

		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial peer %d: %w", peerID, ctx.Err())
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("dial peer %d at %s after %d attempts: %v: %w",
		peerID, addr, retries, lastErr, ErrRetryBudget)
}
