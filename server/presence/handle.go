package presence

import (
	"sync"
	"sync/atomic"
)

// DefaultQueueDepth is the capacity of a handle's queue when none is given.
const DefaultQueueDepth = 128

// Handle is a bounded outbound queue of serialized messages owned by one connection.
//
// Push never blocks. When the queue is full the handle is closed and marked as
// overflowed: the owner is expected to drop the connection and let the client
// resynchronize from history.
type Handle struct {
	queue chan []byte
	done  chan struct{}

	closeOnce  sync.Once
	overflowed atomic.Bool
}

// NewHandle creates a handle with the given queue depth.
func NewHandle(depth int) *Handle {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Handle{
		queue: make(chan []byte, depth),
		done:  make(chan struct{}),
	}
}

// Push enqueues a message for delivery. Returns false if the handle is closed or the
// queue overflowed.
func (h *Handle) Push(msg []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}

	select {
	case h.queue <- msg:
		return true
	default:
		h.overflowed.Store(true)
		h.Close()
		return false
	}
}

// C returns the channel the owner drains. The channel is never closed, use Done to
// detect termination.
func (h *Handle) C() <-chan []byte {
	return h.queue
}

// Done returns a channel which is closed when the handle is closed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Close closes the handle. Messages pushed afterwards are rejected. Safe to call more than once.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

// IsClosed checks if the handle has been closed.
func (h *Handle) IsClosed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Overflowed reports if the handle was closed because its queue was full.
func (h *Handle) Overflowed() bool {
	return h.overflowed.Load()
}

// Len returns the number of queued messages.
func (h *Handle) Len() int {
	return len(h.queue)
}
