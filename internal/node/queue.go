package node

import (
	"sync"

	"github.com/rjiang15/262design2/internal/transport"
)

// inbox is the node's inbound message queue.
//
// Any number of receive goroutines (one per connected peer) may enqueue;
// only the owning node's tick loop dequeues. All mutation is serialized
// with a mutex - the queue preserves receipt order even when several
// peers deliver concurrently.
type inbox struct {
	mu     sync.Mutex
	msgs   []transport.Message
	closed bool
}

func newInbox() *inbox {
	return &inbox{msgs: make([]transport.Message, 0, 16)}
}

// enqueue appends a message. Returns false once the inbox is closed;
// late deliveries during teardown are dropped.
func (q *inbox) enqueue(m transport.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.msgs = append(q.msgs, m)
	return true
}

// tryDequeue removes and returns the oldest message, if any.
func (q *inbox) tryDequeue() (transport.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) == 0 {
		return transport.Message{}, false
	}
	m := q.msgs[0]
	if len(q.msgs) == 1 {
		// Reset to the front of the backing array instead of walking it.
		q.msgs = q.msgs[:0]
	} else {
		q.msgs = q.msgs[1:]
	}
	return m, true
}

// len reports the current queue depth.
func (q *inbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// close rejects further enqueues. Idempotent.
func (q *inbox) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
