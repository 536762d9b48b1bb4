// Package epconfig implements the worker's endpoint configuration cache:
// endpoint parameter tuples are deduplicated so N endpoints sharing the
// same selection key share one configuration record, referenced by a
// small index that must fit in 8 bits.
package epconfig

import (
	"github.com/momentics/uworker/uerr"
)

// LaneRole names a role an endpoint's lanes can be assigned to.
type LaneRole int

const (
	LaneAM LaneRole = iota
	LanePut
	LaneGet
	LaneAtomic
)

// Key is the selection tuple an endpoint configuration is derived from:
// a set of lane roles, the chosen resource per role, and thresholds.
// Key must be comparable so Table can test equality with ==.
type Key struct {
	Roles      [4]bool // indexed by LaneRole; true if the role is in use
	Resource   [4]int  // RscIndex chosen per role
	ShortThres int
	ZcopyThres int
}

// Entry is the derived, per-key state cached alongside a Key.
type Entry struct {
	Key   Key
	State DerivedState
}

// DerivedState holds whatever a per-configuration initializer computes;
// callers populate it via the Init hook passed to NewTable.
type DerivedState struct {
	ScratchPathSize int
}

// maxTableSize mirrors spec §4.1 step 1: min(num_tls^3 + epsilon, 255),
// sized so the index fits in 8 bits.
func maxTableSize(numTLs int) int {
	const epsilon = 8
	bound := numTLs*numTLs*numTLs + epsilon
	if bound > 255 || bound <= 0 {
		return 255
	}
	return bound
}

// Table is the worker's bounded, append-only endpoint configuration
// cache.
type Table struct {
	entries []Entry
	max     int
	init    func(Key) DerivedState
}

// NewTable allocates a table sized from numTLs, per spec §4.1/§4.4. init
// computes the derived state for a newly inserted key; it may be nil, in
// which case entries carry a zero DerivedState.
func NewTable(numTLs int, init func(Key) DerivedState) *Table {
	return &Table{
		max:  maxTableSize(numTLs),
		init: init,
	}
}

// GetOrInsert returns the index of an entry whose Key equals key,
// inserting a new one (running init to populate its derived state) if
// none exists. Exceeding the table's bound is a programming error per
// spec §4.4 and is reported as a fatal *uerr.Status rather than silent
// overflow.
func (t *Table) GetOrInsert(key Key) (uint8, error) {
	for i, e := range t.entries {
		if e.Key == key {
			return uint8(i), nil
		}
	}
	if len(t.entries) >= t.max {
		return 0, uerr.Errorf(uerr.InvalidParam,
			"epconfig: table full at %d entries; exceeding the endpoint-configuration limit is a programming error", t.max)
	}
	state := DerivedState{}
	if t.init != nil {
		state = t.init(key)
	}
	t.entries = append(t.entries, Entry{Key: key, State: state})
	return uint8(len(t.entries) - 1), nil
}

// Len returns the current entry count.
func (t *Table) Len() int { return len(t.entries) }

// At returns the entry at idx. idx must have come from a prior
// GetOrInsert on this table; indices are stable for the table's lifetime
// because entries are append-only.
func (t *Table) At(idx uint8) Entry {
	return t.entries[idx]
}
