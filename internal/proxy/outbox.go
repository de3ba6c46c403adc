package proxy

import (
	"sync"

	"github.com/eapache/queue"
)

// outbox is the per-session outbound frame queue. Pong frames jump ahead of
// queued data frames, a Close frame lines up behind them so relayed bytes are
// not lost to the closing handshake, and the data ring is bounded so a slow
// client suspends the upstream reader instead of buffering unboundedly.
type outbox struct {
	mu      sync.Mutex
	cond    *sync.Cond
	control *queue.Queue
	data    *queue.Queue
	maxData int
	closed  bool
}

func newOutbox(maxData int) *outbox {
	ob := &outbox{
		control: queue.New(),
		data:    queue.New(),
		maxData: maxData,
	}
	ob.cond = sync.NewCond(&ob.mu)
	return ob
}

// pushControl enqueues a control frame. It never blocks; control traffic is
// small and must not wait behind data. Returns false once the outbox closed.
func (ob *outbox) pushControl(frame []byte) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if ob.closed {
		return false
	}
	ob.control.Add(frame)
	ob.cond.Broadcast()
	return true
}

// pushData enqueues a data frame, blocking while the ring is full. Returns
// false once the outbox closed, which also wakes any blocked caller.
func (ob *outbox) pushData(frame []byte) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	for !ob.closed && ob.data.Length() >= ob.maxData {
		ob.cond.Wait()
	}
	if ob.closed {
		return false
	}
	ob.data.Add(frame)
	ob.cond.Broadcast()
	return true
}

// pushClose enqueues a Close frame behind any pending data. It never blocks:
// the ring bound exists to suspend the upstream reader, not to delay the one
// closing frame. Returns false once the outbox closed.
func (ob *outbox) pushClose(frame []byte) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if ob.closed {
		return false
	}
	ob.data.Add(frame)
	ob.cond.Broadcast()
	return true
}

// pop returns the next outbound frame, control first. It blocks until a
// frame is available; ok is false once the outbox is closed and drained.
func (ob *outbox) pop() (frame []byte, ok bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	for !ob.closed && ob.control.Length() == 0 && ob.data.Length() == 0 {
		ob.cond.Wait()
	}
	if ob.control.Length() > 0 {
		frame = ob.control.Remove().([]byte)
	} else if ob.data.Length() > 0 {
		frame = ob.data.Remove().([]byte)
	} else {
		return nil, false
	}
	ob.cond.Broadcast()
	return frame, true
}

// close stops accepting frames. Frames already queued are still drained by
// pop so a pending Close frame reaches the client before the socket closes.
func (ob *outbox) close() {
	ob.mu.Lock()
	ob.closed = true
	ob.cond.Broadcast()
	ob.mu.Unlock()
}
