package transport

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
)

// Conn is a cached outbound connection to one peer.
//
// Writes are serialized with a mutex: a broadcast tick and a teardown may
// touch the connection from different goroutines. Send reports transport
// failures to the caller and never retries.
type Conn struct {
	mu     sync.Mutex
	c      net.Conn
	enc    *json.Encoder
	closed bool
}

func newConn(c net.Conn) *Conn {
	return &Conn{c: c, enc: json.NewEncoder(c)}
}

// Send writes one message as a single newline-terminated JSON record.
func (c *Conn) Send(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("send on closed connection: %w", net.ErrClosed)
	}
	// json.Encoder terminates each record with '\n', which is the frame
	// boundary the receive side scans for.
	if err := c.enc.Encode(m); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// RemoteAddr returns the peer's address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.c.RemoteAddr()
}

// Close closes the connection. Idempotent; later Sends fail cleanly.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.c.Close()
}
