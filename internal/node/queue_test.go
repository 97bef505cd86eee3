package node

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjiang15/262design2/internal/transport"
)

func TestInbox_FIFO(t *testing.T) {
	q := newInbox()

	for _, clock := range []int64{3, 1, 2} {
		require.True(t, q.enqueue(transport.Message{Clock: clock}))
	}
	require.Equal(t, 3, q.len())

	// Dequeued in receipt order, not clock order.
	for _, want := range []int64{3, 1, 2} {
		m, ok := q.tryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, m.Clock)
	}

	_, ok := q.tryDequeue()
	assert.False(t, ok, "dequeue from empty inbox should report empty")
}

func TestInbox_ConcurrentEnqueue(t *testing.T) {
	// Several receive loops may append at once; nothing may be lost.
	q := newInbox()
	const writers = 8
	const perWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				q.enqueue(transport.Message{Clock: int64(w*perWriter + i)})
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, writers*perWriter, q.len())
}

func TestInbox_ConcurrentEnqueueDequeue(t *testing.T) {
	// One reader draining while writers append: every enqueued message is
	// seen exactly once, and messages from the same writer stay in order.
	q := newInbox()
	const writers = 4
	const perWriter = 250

	var wg sync.WaitGroup
	for w := 1; w <= writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				q.enqueue(transport.Message{Clock: int64(w*1000 + i)})
			}
		}(w)
	}

	seen := make([]int64, 0, writers*perWriter)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for len(seen) < writers*perWriter {
			if m, ok := q.tryDequeue(); ok {
				seen = append(seen, m.Clock)
			}
		}
	}()

	wg.Wait()
	<-done

	require.Len(t, seen, writers*perWriter)
	lastPerWriter := make(map[int64]int64)
	for _, v := range seen {
		w := v / 1000
		require.Greater(t, v, lastPerWriter[w]-1, "per-writer order must be preserved")
		lastPerWriter[w] = v
	}
}

func TestInbox_Closed(t *testing.T) {
	q := newInbox()
	require.True(t, q.enqueue(transport.Message{Clock: 1}))

	q.close()
	q.close() // idempotent

	assert.False(t, q.enqueue(transport.Message{Clock: 2}), "enqueue after close must be rejected")

	// Already-queued messages stay readable for teardown accounting.
	m, ok := q.tryDequeue()
	require.True(t, ok)
	assert.Equal(t, int64(1), m.Clock)
}
