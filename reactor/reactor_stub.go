//go:build !linux && !windows

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Portable fallback for platforms without epoll or IOCP: a channel-backed
// reactor that application code can still Register/Wait/Close against,
// at the cost of not integrating with real OS file descriptors.

package reactor

import (
	"sync"

	"github.com/momentics/uworker/uerr"
)

type stubReactor struct {
	mu      sync.Mutex
	ready   chan Event
	udata   map[uintptr]uintptr
	closed  bool
}

// New constructs a portable stub reactor for unsupported platforms.
func New() (EventReactor, error) {
	return &stubReactor{
		ready: make(chan Event, 64),
		udata: make(map[uintptr]uintptr),
	}, nil
}

func (r *stubReactor) Register(fd uintptr, udata uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.udata[fd] = udata
	return nil
}

func (r *stubReactor) Unregister(fd uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.udata, fd)
	return nil
}

// Wait blocks for at least one event pushed via Notify.
func (r *stubReactor) Wait(events []Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	ev, ok := <-r.ready
	if !ok {
		return 0, uerr.New(uerr.IOError, "reactor: stub reactor closed")
	}
	events[0] = ev
	return 1, nil
}

// Notify pushes a ready event for fd, used by stub wakeup handles in lieu
// of a real OS-level readiness signal.
func (r *stubReactor) Notify(fd uintptr) {
	r.mu.Lock()
	udata := r.udata[fd]
	r.mu.Unlock()
	select {
	case r.ready <- Event{Fd: fd, UserData: udata}:
	default:
	}
}

func (r *stubReactor) FD() uintptr { return 0 }

func (r *stubReactor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ready)
	}
	return nil
}
