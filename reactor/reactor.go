// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for the aggregating event descriptor used
// to multiplex per-interface wakeup handles plus the worker's self-pipe.

package reactor

// Event is a single readiness notification.
type Event struct {
	// Fd is the file descriptor or system handle that became ready.
	Fd uintptr
	// UserData is an opaque value supplied at Register time, typically an
	// index into the worker's per-interface wakeup array, or a sentinel
	// for the self-pipe.
	UserData uintptr
}

// EventReactor is the common interface for an aggregating event
// descriptor, regardless of the underlying OS polling mechanism.
type EventReactor interface {
	// Register associates fd with this reactor, tagging it with udata.
	Register(fd uintptr, udata uintptr) error
	// Unregister removes fd from this reactor.
	Unregister(fd uintptr) error
	// Wait blocks until at least one registered fd is ready, or until
	// interrupted, filling ready events into events and returning how
	// many were written. It retries internally on EINTR.
	Wait(events []Event) (int, error)
	// FD returns the OS-level descriptor backing the whole aggregation,
	// suitable for worker.GetEFD.
	FD() uintptr
	Close() error
}
