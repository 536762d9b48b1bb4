// Package ammsg implements the active-message dispatch contract: a
// process-wide immutable array mapping an AM id to a handler function, a
// feature-mask gate, and an optional tracer, plus the descriptor-ownership
// disposition a handler returns.
package ammsg

import (
	"github.com/momentics/uworker/capability"
)

// Disposition is the linear, type-distinct return of a handler call.
// Exactly one of OK or InProgress is returned; there is no third state.
// Making the two paths distinct types (rather than a status int) follows
// the descriptor-ownership design: OK borrows the receive slot for the
// call only, InProgress transfers ownership until Descriptor.Release.
type Disposition interface {
	disposition()
}

// OKDisposition means the handler consumed data synchronously; the
// transport reclaims the receive buffer immediately.
type OKDisposition struct{}

func (OKDisposition) disposition() {}

// InProgressDisposition means the handler will asynchronously release
// the descriptor later; the transport must keep the receive buffer valid
// until Descriptor.Release is called.
type InProgressDisposition struct{}

func (InProgressDisposition) disposition() {}

// OK and InProgress are the two singleton dispositions a handler returns.
var (
	OK         Disposition = OKDisposition{}
	InProgress Disposition = InProgressDisposition{}
)

// Descriptor is the receive-buffer handle passed to a handler. The
// rx_headroom bytes immediately preceding Data are exposed via Headroom
// and are the protocol's private scratch space.
type Descriptor struct {
	data     []byte
	headroom []byte
	release  func()
}

// NewDescriptor constructs a Descriptor. release is invoked exactly once,
// by Release, when the handler is done with an IN_PROGRESS buffer.
func NewDescriptor(headroom, data []byte, release func()) *Descriptor {
	return &Descriptor{data: data, headroom: headroom, release: release}
}

// Data returns the AM payload.
func (d *Descriptor) Data() []byte { return d.data }

// Headroom returns the protocol-private bytes preceding Data.
func (d *Descriptor) Headroom() []byte { return d.headroom }

// Release hands the receive buffer back to the transport. Calling it more
// than once is a programming error and panics, matching the worker's
// convention that descriptor double-release is not a recoverable status.
func (d *Descriptor) Release() {
	if d.release == nil {
		panic("ammsg: descriptor released twice")
	}
	rel := d.release
	d.release = nil
	rel()
}

// Mode distinguishes handlers that must run on the progress thread (Sync)
// from handlers that may run on a transport-owned async thread (Async).
// Mode is a plain field of HandlerRecord and both modes share the one
// HandlerFunc type; installation code branches on it at run time, so the
// two handler sets are not separated by type.
type Mode int

const (
	Sync Mode = iota
	Async
)

// HandlerFunc is the contract's callback shape: (context arg, descriptor).
// The context arg is opaque to ammsg; it is whatever the protocol plug-in
// closed over at registration time.
type HandlerFunc func(ctxArg any, desc *Descriptor) Disposition

// TracerFunc observes AM traffic without participating in dispatch.
type TracerFunc func(ctxArg any, desc *Descriptor)

// HandlerRecord is one immutable entry of the process-wide dispatch table.
type HandlerRecord struct {
	Features capability.Flags
	Mode     Mode
	Handler  HandlerFunc
	Tracer   TracerFunc
}

// dropHandler is installed over every active AM id before an interface is
// closed, so no protocol handler is ever invoked against freed worker
// state. It unconditionally returns OK.
func dropHandler(_ any, desc *Descriptor) Disposition {
	return OK
}

// DropRecord returns a HandlerRecord wrapping the drop handler, preserving
// the original record's Features/Mode so installation gating is unaffected
// by the swap.
func DropRecord(original HandlerRecord) HandlerRecord {
	return HandlerRecord{
		Features: original.Features,
		Mode:     original.Mode,
		Handler:  dropHandler,
	}
}

// Table is the process-wide immutable array of HandlerRecord indexed by
// AM id, installed once at build time by whatever protocol plug-in links
// against ammsg.
type Table struct {
	records []HandlerRecord
}

// NewTable builds a dispatch table from id-indexed records. The slice is
// copied so the caller's backing array can be discarded or mutated
// afterward without affecting the table.
func NewTable(records []HandlerRecord) *Table {
	t := &Table{records: make([]HandlerRecord, len(records))}
	copy(t.records, records)
	return t
}

// Len returns AM_ID_LAST, the number of ids the table covers.
func (t *Table) Len() int { return len(t.records) }

// Record returns the immutable record for amID.
func (t *Table) Record(amID int) HandlerRecord { return t.records[amID] }

// Active reports whether amID is active for a worker whose feature set is
// workerFeatures: the worker's features must intersect the record's
// feature-mask gate.
func (t *Table) Active(amID int, workerFeatures capability.Flags) bool {
	return t.records[amID].Features.Any(workerFeatures)
}
