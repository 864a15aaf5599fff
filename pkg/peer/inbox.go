package peer

import "sync"

// inbox runs queued work in order on one goroutine. Unlike a buffered
// channel it never blocks the reader, which must keep draining the
// connection while a handler waits on a DMA reply.
type inbox struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newInbox() *inbox {
	return &inbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (q *inbox) push(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.queue = append(q.queue, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// fence returns a channel closed once everything queued before it ran.
func (q *inbox) fence() <-chan struct{} {
	ch := make(chan struct{})
	if !q.push(func() { close(ch) }) {
		close(ch)
	}
	return ch
}

// close stops accepting work. Queued work still runs.
func (q *inbox) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *inbox) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		batch := q.queue
		q.queue = nil
		closed := q.closed
		q.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) == 0 {
			if closed {
				return
			}
			<-q.wake
		}
	}
}
