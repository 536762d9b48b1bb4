// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor drains a FIFO task queue on background goroutines. The worker
// package uses one to retry draining the stub backlog of promoted reply
// endpoints off its Progress hot path.

package concurrency

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// ErrExecutorClosed is returned by Submit once Close has been called.
var ErrExecutorClosed = errors.New("concurrency: executor closed")

// TaskFunc is one unit of deferred work.
type TaskFunc func()

// Executor runs submitted tasks FIFO on a fixed pool of goroutines,
// backed by github.com/eapache/queue rather than a channel so Submit
// never blocks on a full buffer.
type Executor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	q       *queue.Queue
	stop    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewExecutor starts numWorkers goroutines draining a shared task queue.
func NewExecutor(numWorkers int) *Executor {
	e := &Executor{
		q:    queue.New(),
		stop: make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	for i := 0; i < numWorkers; i++ {
		e.wg.Add(1)
		go e.run()
	}
	return e
}

// Submit enqueues task for execution by a worker goroutine. It returns
// ErrExecutorClosed once Close has been called.
func (e *Executor) Submit(task TaskFunc) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrExecutorClosed
	}
	e.q.Add(task)
	e.mu.Unlock()
	e.cond.Signal()
	return nil
}

// Close signals every worker to exit once the queue drains and waits for
// them to stop.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()
	e.cond.Broadcast()
	e.wg.Wait()
}

func (e *Executor) run() {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		for e.q.Length() == 0 && !e.stopped {
			e.cond.Wait()
		}
		if e.q.Length() == 0 && e.stopped {
			e.mu.Unlock()
			return
		}
		item := e.q.Remove()
		e.mu.Unlock()

		if task, ok := item.(TaskFunc); ok {
			task()
		}
	}
}
