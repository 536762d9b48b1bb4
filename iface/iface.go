// Package iface implements the worker's interface pool: it opens one
// transport.Interface per selected resource, holds its capability record
// and optional wakeup handle, and owns teardown order.
package iface

import (
	"sync"

	"github.com/momentics/uworker/ammsg"
	"github.com/momentics/uworker/capability"
	"github.com/momentics/uworker/transport"
)

// Entry is one opened interface, owned exclusively by the worker that
// created it.
type Entry struct {
	RscIndex  int
	Transport transport.Interface
	Record    capability.Record
	Wakeup    transport.WakeupHandle

	mu       sync.Mutex
	handlers map[int]ammsg.HandlerRecord
}

// Open wraps an already-constructed transport.Interface for rscIndex,
// caching its capability record.
func Open(rscIndex int, t transport.Interface) *Entry {
	return &Entry{
		RscIndex:  rscIndex,
		Transport: t,
		Record:    t.Capabilities(),
		handlers:  make(map[int]ammsg.HandlerRecord),
	}
}

// OpenWakeupIfSupported opens this interface's wakeup handle when its
// capability record advertises FlagWakeup; it is a no-op otherwise, so
// Entry.Wakeup stays nil for non-wakeup-capable interfaces, matching the
// invariant that the worker's per-interface wakeup array slot is non-nil
// iff wakeup is supported.
func (e *Entry) OpenWakeupIfSupported() error {
	if !e.Record.Flags.Has(capability.FlagWakeup) {
		return nil
	}
	wh, err := e.Transport.OpenWakeup()
	if err != nil {
		return err
	}
	e.Wakeup = wh
	return nil
}

// InstallHandler installs rec for amID on this interface and remembers it
// so DropAll can later replace it with the drop handler.
func (e *Entry) InstallHandler(amID int, rec ammsg.HandlerRecord) error {
	if err := e.Transport.InstallHandler(amID, rec); err != nil {
		return err
	}
	e.mu.Lock()
	e.handlers[amID] = rec
	e.mu.Unlock()
	return nil
}

// DropAll replaces every currently-installed handler on this interface
// with the drop handler, preserving each record's gating fields. It must
// be called, across every interface, before any interface is closed.
func (e *Entry) DropAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for amID, rec := range e.handlers {
		if err := e.Transport.RemoveHandler(amID, rec); err != nil {
			return err
		}
	}
	return nil
}

// Close tears down this interface's wakeup handle (if any) and then the
// interface itself. Best-effort: both are attempted even if the first
// fails.
func (e *Entry) Close() error {
	var firstErr error
	if e.Wakeup != nil {
		if err := e.Wakeup.Close(); err != nil {
			firstErr = err
		}
		e.Wakeup = nil
	}
	if err := e.Transport.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Pool holds the worker's dense, per-resource array of opened interfaces.
type Pool struct {
	entries []*Entry
}

// NewPool allocates a pool sized for numTLs resources. Slots start nil
// and are filled in by Set as each resource's interface is opened.
func NewPool(numTLs int) *Pool {
	return &Pool{entries: make([]*Entry, numTLs)}
}

// Len returns numTLs.
func (p *Pool) Len() int { return len(p.entries) }

// Set installs the opened entry for rscIndex.
func (p *Pool) Set(rscIndex int, e *Entry) { p.entries[rscIndex] = e }

// Get returns the entry for rscIndex, or nil if it was never opened.
func (p *Pool) Get(rscIndex int) *Entry { return p.entries[rscIndex] }

// All returns every opened entry, skipping nil slots, in RscIndex order.
func (p *Pool) All() []*Entry {
	out := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// DropAllHandlers replaces every active handler on every interface with
// the drop handler. Must run before CloseAll, per the worker's teardown
// ordering (spec §4.2 "Removal before destroy").
func (p *Pool) DropAllHandlers() error {
	var firstErr error
	for _, e := range p.entries {
		if e == nil {
			continue
		}
		if err := e.DropAll(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CloseAll tears down every opened interface in reverse RscIndex order,
// mirroring the order they were opened in during worker construction.
func (p *Pool) CloseAll() error {
	var firstErr error
	for i := len(p.entries) - 1; i >= 0; i-- {
		e := p.entries[i]
		if e == nil {
			continue
		}
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
