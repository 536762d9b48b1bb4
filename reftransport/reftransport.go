// Package reftransport is an in-memory, loopback-style implementation of
// the transport.Interface contract. It is a test/demo collaborator, not a
// production transport: it delivers active messages between Interfaces
// created in the same process, at-least-once and in-order per endpoint,
// matching the guarantee the worker core assumes of any real transport.
package reftransport

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/uworker/ammsg"
	"github.com/momentics/uworker/capability"
	"github.com/momentics/uworker/transport"
	"github.com/momentics/uworker/uerr"
)

var (
	registryMu sync.Mutex
	registry   = map[string]*Interface{}
)

func register(addr string, iface *Interface) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[addr] = iface
}

func unregister(addr string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, addr)
}

func lookup(addr string) (*Interface, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	iface, ok := registry[addr]
	return iface, ok
}

type frame struct {
	amID    int
	payload []byte
}

// Interface is a loopback transport resource. Two Interfaces "connect"
// to each other by address string; sends enqueue a frame on the peer's
// inbox, drained by the peer's Progress call.
type Interface struct {
	mu       sync.Mutex
	addr     string
	cap      capability.Record
	headroom int
	handlers map[int]ammsg.HandlerRecord
	inbox    chan frame
	closed   bool

	inUse    atomic.Int64
	released atomic.Int64

	wakeup *wakeupHandle
}

// New constructs an Interface bound to addr with the given capability
// record. headroomSize is the rx_headroom reserved ahead of every
// delivered payload.
func New(addr string, cap capability.Record, headroomSize int) *Interface {
	iface := &Interface{
		addr:     addr,
		cap:      cap,
		headroom: headroomSize,
		handlers: make(map[int]ammsg.HandlerRecord),
		inbox:    make(chan frame, 4096),
	}
	register(addr, iface)
	return iface
}

// Capabilities returns this interface's capability record.
func (i *Interface) Capabilities() capability.Record { return i.cap }

// InstallHandler installs rec for amID, replacing any prior handler.
func (i *Interface) InstallHandler(amID int, rec ammsg.HandlerRecord) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return uerr.New(uerr.IOError, "reftransport: interface closed")
	}
	i.handlers[amID] = rec
	return nil
}

// RemoveHandler installs the drop handler over amID, preserving gating.
func (i *Interface) RemoveHandler(amID int, rec ammsg.HandlerRecord) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.handlers[amID] = ammsg.DropRecord(rec)
	return nil
}

// OpenWakeup opens this interface's wakeup handle.
func (i *Interface) OpenWakeup() (transport.WakeupHandle, error) {
	if !i.cap.Flags.Has(capability.FlagWakeup) {
		return nil, uerr.New(uerr.Unsupported, "reftransport: interface has no wakeup capability")
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.wakeup == nil {
		i.wakeup = &wakeupHandle{iface: i}
	}
	return i.wakeup, nil
}

// PackKey returns an opaque, addr-derived remote key blob.
func (i *Interface) PackKey() ([]byte, error) {
	return []byte(i.addr), nil
}

// UnpackKey parses a blob produced by PackKey.
func (i *Interface) UnpackKey(data []byte) (transport.RemoteKey, error) {
	cp := make([]byte, len(data))
	copy(cp, data)
	return transport.RemoteKey{Bytes: cp}, nil
}

// NewEndpoint creates a standalone endpoint, or one connected to
// remoteAddr if non-nil.
func (i *Interface) NewEndpoint(remoteAddr []byte) (transport.Endpoint, error) {
	ep := &Endpoint{owner: i}
	if remoteAddr != nil {
		if err := ep.Connect(remoteAddr); err != nil {
			return nil, err
		}
	}
	return ep, nil
}

// Progress drains up to the interface's current inbox contents, invoking
// sync handlers for each frame. It returns the count of frames drained.
func (i *Interface) Progress() int {
	n := 0
	for {
		select {
		case fr := <-i.inbox:
			i.dispatch(fr)
			n++
		default:
			return n
		}
	}
}

func (i *Interface) dispatch(fr frame) {
	i.mu.Lock()
	rec, ok := i.handlers[fr.amID]
	i.mu.Unlock()
	if !ok {
		return
	}
	headroom := make([]byte, i.headroom)
	i.inUse.Add(1)
	desc := ammsg.NewDescriptor(headroom, fr.payload, func() {
		i.released.Add(1)
	})
	disp := rec.Handler(nil, desc)
	if disp == ammsg.OK {
		i.released.Add(1)
	}
	// IN_PROGRESS: the caller keeps the descriptor and must call Release.
}

// RxPoolStats reports how many receive slots have been checked out versus
// released, exposing the spec's IN_PROGRESS-without-release leak as a
// measurable counter.
func (i *Interface) RxPoolStats() (inUse, released int64) {
	return i.inUse.Load(), i.released.Load()
}

// deliver enqueues a frame for later Progress-time dispatch.
func (i *Interface) deliver(amID int, payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	select {
	case i.inbox <- frame{amID: amID, payload: cp}:
		if i.wakeup != nil {
			i.wakeup.markPending()
		}
		return nil
	default:
		return uerr.New(uerr.NoResource, "reftransport: inbox full")
	}
}

// Flush blocks until the inbox is empty (best-effort, loopback transport
// has no further in-flight state once delivered).
func (i *Interface) Flush() error {
	for len(i.inbox) > 0 {
		i.Progress()
	}
	return nil
}

// Close tears down the interface and removes it from the address
// registry.
func (i *Interface) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	unregister(i.addr)
	return nil
}

// Endpoint is a loopback connection bound to a peer Interface.
type Endpoint struct {
	owner  *Interface
	remote *Interface
}

// Address returns this endpoint's owning interface address.
func (e *Endpoint) Address() ([]byte, error) {
	return []byte(e.owner.addr), nil
}

// Connect binds this endpoint to the interface registered at remoteAddr.
func (e *Endpoint) Connect(remoteAddr []byte) error {
	iface, ok := lookup(string(remoteAddr))
	if !ok {
		return uerr.Errorf(uerr.NoDevice, "reftransport: no interface at %q", string(remoteAddr))
	}
	e.remote = iface
	return nil
}

// Destroy releases the endpoint; reftransport endpoints hold no
// transport-side resources beyond the reference to their peer.
func (e *Endpoint) Destroy() error {
	e.remote = nil
	return nil
}

// SendAM delivers an active message of amID carrying payload to the
// connected peer's inbox, for it to pick up on its next Progress call.
func (e *Endpoint) SendAM(amID int, payload []byte) error {
	if e.remote == nil {
		return uerr.New(uerr.InvalidParam, "reftransport: endpoint not connected")
	}
	return e.remote.deliver(amID, payload)
}

// wakeupHandle is reftransport's per-interface wakeup handle: a single
// pending flag set whenever a frame is delivered and cleared on Arm.
type wakeupHandle struct {
	mu      sync.Mutex
	iface   *Interface
	pending bool
}

func (w *wakeupHandle) markPending() {
	w.mu.Lock()
	w.pending = true
	w.mu.Unlock()
}

// Arm reports whether events were already pending, per the worker's Arm
// contract (BUSY on a non-empty result).
func (w *wakeupHandle) Arm(_ transport.WakeupEvents) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	wasPending := w.pending || len(w.iface.inbox) > 0
	w.pending = false
	return wasPending, nil
}

// FD is not backed by a real OS descriptor in the loopback transport; it
// returns uerr.Unsupported so callers fall back to polling Progress.
func (w *wakeupHandle) FD() (uintptr, error) {
	return 0, uerr.New(uerr.Unsupported, "reftransport: no OS-level wakeup fd")
}

func (w *wakeupHandle) Close() error { return nil }
