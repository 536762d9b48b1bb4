//go:build windows

// File: reactor/reactor_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows IOCP (I/O Completion Port) reactor implementation and factory.

package reactor

import (
	"golang.org/x/sys/windows"
)

// windowsReactor is an IOCP-based aggregating event descriptor.
type windowsReactor struct {
	iocp windows.Handle
}

// New constructs a new platform-specific EventReactor for Windows.
func New() (EventReactor, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	return &windowsReactor{iocp: port}, nil
}

// Register associates handle with the completion port, tagging it with
// udata as the completion key.
func (r *windowsReactor) Register(handle uintptr, udata uintptr) error {
	h := windows.Handle(handle)
	_, err := windows.CreateIoCompletionPort(h, r.iocp, udata, 0)
	return err
}

// Unregister is a no-op on IOCP: handles are detached by closing them.
func (r *windowsReactor) Unregister(_ uintptr) error { return nil }

// Wait blocks for one completion and reports it.
func (r *windowsReactor) Wait(events []Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	var bytes uint32
	var key uintptr
	var overlapped *windows.Overlapped
	err := windows.GetQueuedCompletionStatus(r.iocp, &bytes, &key, &overlapped, windows.INFINITE)
	if err != nil {
		return 0, err
	}
	events[0] = Event{Fd: uintptr(key), UserData: key}
	return 1, nil
}

// FD returns the IOCP handle itself.
func (r *windowsReactor) FD() uintptr { return uintptr(r.iocp) }

// Close closes the IOCP handle.
func (r *windowsReactor) Close() error {
	return windows.CloseHandle(r.iocp)
}
