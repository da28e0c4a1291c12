package plan

import "sync"

// queue runs posted tasks one at a time, in order, on its own goroutine.
type queue struct {
	mu     sync.Mutex
	closed bool
	tasks  chan func()
	wg     sync.WaitGroup
}

func newQueue() *queue {
	q := &queue{tasks: make(chan func(), 16)}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *queue) run() {
	defer q.wg.Done()
	for fn := range q.tasks {
		fn()
	}
}

// post enqueues fn. It reports false once the queue is closed.
func (q *queue) post(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks <- fn
	return true
}

// flush blocks until every task posted before it has run. It must not be
// called from a task.
func (q *queue) flush() {
	done := make(chan struct{})
	if !q.post(func() { close(done) }) {
		return
	}
	<-done
}

// close runs the remaining tasks and stops the goroutine.
func (q *queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
}
