// File: internal/concurrency/lock_free_queue.go
// Package concurrency provides a lock-free MPMC queue for the worker's
// asynchronous completion dispatch.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded ring buffer using per-cell sequence numbers after the pattern
// by Dmitry Vyukov, safe for multiple concurrent producers and consumers.

package concurrency

import "sync/atomic"

type cell[T any] struct {
	sequence atomic.Uint64
	data     T
}

// LockFreeQueue is a bounded MPMC queue, capacity rounded up to the next
// power of two.
type LockFreeQueue[T any] struct {
	head  uint64
	_     [56]byte
	tail  uint64
	_     [56]byte
	mask  uint64
	cells []cell[T]
}

// NewLockFreeQueue creates a new queue with capacity rounded to a power
// of two (minimum 2).
func NewLockFreeQueue[T any](capacity int) *LockFreeQueue[T] {
	if capacity < 2 {
		capacity = 2
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	q := &LockFreeQueue[T]{
		mask:  uint64(size - 1),
		cells: make([]cell[T], size),
	}
	for i := range q.cells {
		q.cells[i].sequence.Store(uint64(i))
	}
	return q
}

// Enqueue adds val; returns false if the queue is full.
func (q *LockFreeQueue[T]) Enqueue(val T) bool {
	for {
		tail := atomic.LoadUint64(&q.tail)
		index := tail & q.mask
		c := &q.cells[index]
		seq := c.sequence.Load()
		dif := int64(seq) - int64(tail)

		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&q.tail, tail, tail+1) {
				c.data = val
				c.sequence.Store(tail + 1)
				return true
			}
		case dif < 0:
			return false // full
		}
	}
}

// Dequeue removes and returns the oldest item; ok is false if empty.
func (q *LockFreeQueue[T]) Dequeue() (item T, ok bool) {
	for {
		head := atomic.LoadUint64(&q.head)
		index := head & q.mask
		c := &q.cells[index]
		seq := c.sequence.Load()
		dif := int64(seq) - int64(head+1)

		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&q.head, head, head+1) {
				item = c.data
				c.sequence.Store(head + q.mask + 1)
				return item, true
			}
		case dif < 0:
			var zero T
			return zero, false // empty
		}
	}
}

// Len returns the approximate number of queued items.
func (q *LockFreeQueue[T]) Len() int {
	head := atomic.LoadUint64(&q.head)
	tail := atomic.LoadUint64(&q.tail)
	return int(tail - head)
}

// Cap returns the fixed queue capacity.
func (q *LockFreeQueue[T]) Cap() int { return len(q.cells) }
