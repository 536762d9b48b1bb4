// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Completion loop with adaptive spin-wait backoff, draining async AM
// handler completions off the worker's Progress hot path.

package concurrency

import (
	"runtime"
	"sync/atomic"
)

// Completion is one asynchronous AM-handler completion notice.
type Completion struct {
	AMID int
	Data any
}

// CompletionHandler reacts to a drained Completion.
type CompletionHandler interface {
	HandleCompletion(c Completion)
}

// AsyncLoop drains a bounded completion queue in batches, backing off
// exponentially (capped at ~1ms of spin) when the queue runs dry.
type AsyncLoop struct {
	queue     *LockFreeQueue[Completion]
	batchSize int

	quit    chan struct{}
	stopped chan struct{}
	backoff int64

	handlers atomic.Value // []CompletionHandler
}

// NewAsyncLoop creates a loop with the given completion batch size and
// queue capacity.
func NewAsyncLoop(batchSize, queueCapacity int) *AsyncLoop {
	l := &AsyncLoop{
		queue:     NewLockFreeQueue[Completion](queueCapacity),
		batchSize: batchSize,
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		backoff:   1,
	}
	l.handlers.Store([]CompletionHandler{})
	return l
}

// Run drains the queue until Stop is called. Intended to run on its own
// goroutine, one per worker.
func (l *AsyncLoop) Run() {
	batch := make([]Completion, l.batchSize)
	for {
		select {
		case <-l.quit:
			close(l.stopped)
			return
		default:
		}

		n := 0
		for n < l.batchSize {
			c, ok := l.queue.Dequeue()
			if !ok {
				break
			}
			batch[n] = c
			n++
		}

		if n > 0 {
			atomic.StoreInt64(&l.backoff, 1)
			handlers := l.handlers.Load().([]CompletionHandler)
			for i := 0; i < n; i++ {
				for _, h := range handlers {
					h.HandleCompletion(batch[i])
				}
			}
			continue
		}

		d := atomic.LoadInt64(&l.backoff)
		for i := int64(0); i < d; i++ {
		}
		runtime.Gosched()
		if d < 1_000_000 {
			atomic.StoreInt64(&l.backoff, d*2)
		}
	}
}

// Stop signals loop termination and blocks until Run has exited.
func (l *AsyncLoop) Stop() {
	close(l.quit)
	<-l.stopped
}

// RegisterHandler adds h; safe for concurrent use with Run.
func (l *AsyncLoop) RegisterHandler(h CompletionHandler) {
	old := l.handlers.Load().([]CompletionHandler)
	next := make([]CompletionHandler, len(old)+1)
	copy(next, old)
	next[len(old)] = h
	l.handlers.Store(next)
}

// Post enqueues a completion; returns false if the queue is full.
func (l *AsyncLoop) Post(c Completion) bool {
	return l.queue.Enqueue(c)
}

// Pending returns the approximate number of queued completions.
func (l *AsyncLoop) Pending() int {
	return l.queue.Len()
}
