// Package transport defines the transport-driver contract consumed by the
// worker core. Concrete transports (shared memory, RDMA fabrics, TCP
// loopback) implement Interface; the worker never interprets
// transport-specific address or key bytes, treating them as length-
// prefixed opaque blobs.
package transport

import (
	"github.com/momentics/uworker/ammsg"
	"github.com/momentics/uworker/capability"
)

// WakeupEvents is a bitmask of event classes a wakeup handle can be armed
// for.
type WakeupEvents uint32

const (
	EventTXCompletion WakeupEvents = 1 << iota
	EventRXAM
	EventRXSignaledAM
)

// WakeupHandle is a per-interface event source the worker's wakeup
// multiplexer aggregates alongside its self-pipe.
type WakeupHandle interface {
	// Arm requests notification for events. It returns uerr-coded Busy
	// (via the returned bool) if events are already pending.
	Arm(events WakeupEvents) (pending bool, err error)
	// FD returns the OS-level event descriptor backing this handle.
	FD() (uintptr, error)
	Close() error
}

// RemoteKey is an unpacked, opaque one-sided-access key for a remote
// buffer. Its Bytes are never interpreted by the worker core.
type RemoteKey struct {
	Bytes []byte
}

// Endpoint is a transport-level connection to a remote worker.
type Endpoint interface {
	// Address returns this endpoint's wire address, an opaque blob.
	Address() ([]byte, error)
	// Connect wires this endpoint up to a remote address.
	Connect(remoteAddr []byte) error
	// SendAM sends an active message carrying payload, tagged amID, to
	// whatever remote this endpoint is connected to.
	SendAM(amID int, payload []byte) error
	Destroy() error
}

// Interface is one opened (transport, device) resource, owned exclusively
// by the worker for its lifetime.
type Interface interface {
	// Capabilities returns this interface's cached capability record.
	Capabilities() capability.Record

	// InstallHandler installs handler for amID. Installing over an
	// already-active amID replaces the prior handler (at most one
	// handler per (worker, AM id) at any time).
	InstallHandler(amID int, rec ammsg.HandlerRecord) error
	// RemoveHandler installs the drop handler over amID, preserving its
	// gating fields. Used during teardown before Close.
	RemoveHandler(amID int, rec ammsg.HandlerRecord) error

	// OpenWakeup opens this interface's wakeup handle, or returns
	// uerr.Unsupported if Capabilities().Flags lacks FlagWakeup.
	OpenWakeup() (WakeupHandle, error)

	// PackKey/UnpackKey (de)serialize one-sided-access remote keys.
	PackKey() ([]byte, error)
	UnpackKey(data []byte) (RemoteKey, error)

	// NewEndpoint creates a standalone endpoint (remoteAddr == nil) or one
	// connected to remoteAddr.
	NewEndpoint(remoteAddr []byte) (Endpoint, error)

	// Progress drains this interface's event queue, invoking installed
	// sync AM handlers and TX-completion callbacks as it goes. It
	// returns the number of events drained.
	Progress() int

	// Flush blocks until all outstanding operations on this interface
	// complete.
	Flush() error

	Close() error
}
