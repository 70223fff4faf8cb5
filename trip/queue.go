package trip

import "sync"

// queue is the serialized per-trip executor: submitted funcs run one at a
// time, in submission order, on a single goroutine. Store events and local
// triggers for the same trip therefore never race inside the machine.
type queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

// submit enqueues fn. It reports false if the queue has been closed, in
// which case fn will never run.
func (q *queue) submit(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, fn)
	q.cond.Signal()
	return true
}

// closeIfIdle closes the queue only when nothing is pending and reports
// whether the queue is now closed. The currently running func may call it as
// its last step; the loop exits once that func returns.
func (q *queue) closeIfIdle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return true
	}
	if len(q.pending) > 0 {
		return false
	}
	q.closed = true
	q.cond.Signal()
	return true
}

// close stops the queue after draining everything already submitted.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *queue) loop() {
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
		fn()
	}
}
