package spawn

import "sync"

// inbox is the unbounded queue between an endpoint's read loop and its
// dispatch goroutine. Reading never waits on a busy handler.
type inbox struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []func()
	stopped bool
}

func newInbox() *inbox {
	q := &inbox{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push queues fn. It reports false once the inbox has stopped.
func (q *inbox) push(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	q.items = append(q.items, fn)
	q.cond.Signal()
	return true
}

// pop blocks for the next item. ok is false once the inbox has stopped;
// whatever was still queued is dropped.
func (q *inbox) pop() (fn func(), ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.stopped {
		q.cond.Wait()
	}
	if q.stopped {
		return nil, false
	}
	fn = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return fn, true
}

func (q *inbox) stop() {
	q.mu.Lock()
	q.stopped = true
	q.items = nil
	q.cond.Broadcast()
	q.mu.Unlock()
}
