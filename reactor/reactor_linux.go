//go:build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor implementation and factory.

package reactor

import (
	"golang.org/x/sys/unix"
)

// linuxReactor is an epoll-based aggregating event descriptor.
type linuxReactor struct {
	epfd int
	// udata remembers the tag passed to Register, keyed by fd, since
	// epoll_event's data word is already used to carry fd itself so
	// EpollWait can report which fd fired without a second syscall.
	udata map[int32]uintptr
}

// New constructs a new platform-specific EventReactor for Linux.
func New() (EventReactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &linuxReactor{epfd: epfd, udata: make(map[int32]uintptr)}, nil
}

// Register adds fd to the epoll instance, watching for readability.
func (r *linuxReactor) Register(fd uintptr, udata uintptr) error {
	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	r.udata[int32(fd)] = udata
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), &event)
}

// Unregister removes fd from the epoll instance.
func (r *linuxReactor) Unregister(fd uintptr) error {
	delete(r.udata, int32(fd))
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
}

// Wait blocks in EpollWait, retrying transparently on EINTR.
func (r *linuxReactor) Wait(events []Event) (int, error) {
	raw := make([]unix.EpollEvent, len(events))
	for {
		n, err := unix.EpollWait(r.epfd, raw, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		for i := 0; i < n; i++ {
			events[i] = Event{
				Fd:       uintptr(raw[i].Fd),
				UserData: r.udata[raw[i].Fd],
			}
		}
		return n, nil
	}
}

// FD returns the epoll file descriptor itself.
func (r *linuxReactor) FD() uintptr { return uintptr(r.epfd) }

// Close closes the epoll instance.
func (r *linuxReactor) Close() error {
	return unix.Close(r.epfd)
}
