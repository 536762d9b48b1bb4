package worker

import (
	"runtime"
	"sync/atomic"
)

// spinlock is a simple CAS-based test-and-set lock, the default
// Multi-mode lock per spec §5 ("spinlock is the default; mutex is
// selected when the context configuration requests it"). Grounded on the
// CAS-retry style used throughout internal/concurrency's lock-free
// primitives.
type spinlock struct {
	state atomic.Uint32
}

func (s *spinlock) Lock() {
	for !s.state.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

func (s *spinlock) Unlock() {
	s.state.Store(0)
}
