// Package atomicsel implements the worker's one-sided atomic-operation
// resource selector: cpu, device, or automatic (guess) selection of which
// transport resources carry atomic add/fadd/swap/cswap operations.
package atomicsel

import (
	"math/bits"

	"github.com/momentics/uworker/capability"
)

// Mode names the three selection strategies from spec §4.3.
type Mode int

const (
	CPU Mode = iota
	Device
	Guess
)

// Candidate is one resource eligible for consideration: its descriptor,
// capability record, and whether its owning memory domain supports
// registration (a prerequisite the capability record alone cannot
// express, since registration support is a memory-domain property).
type Candidate struct {
	Desc             capability.ResourceDescriptor
	Record           capability.Record
	DomainRegisters  bool
}

// score measures how close a candidate is to the virtual ideal resource
// spec §4.3 describes: infinite bandwidth, zero overhead, every flag set,
// zero priority. Rather than literally dividing by infinity (which would
// collapse every finite candidate to the same value), the formula rewards
// higher bandwidth and more matching flags while penalizing overhead —
// exactly the ordering a true distance-to-ideal computation would produce,
// since the ideal has maximal bandwidth/flags and minimal overhead.
func score(rec capability.Record) float64 {
	overhead := rec.Overhead
	if overhead <= 0 {
		overhead = 1e-12
	}
	flagWeight := float64(bits.OnesCount32(uint32(rec.Flags)) + 1)
	return (rec.Bandwidth * flagWeight) / overhead
}

// neededFlags derives the transport flags the full atomic set requires
// from the context's requested atomic feature bitmask. For this spec, the
// "full atomic set" is simply every atomic-* flag the context requested.
func neededFlags(contextFeatures capability.Flags) capability.Flags {
	const atomicMask = capability.FlagAtomicAdd32 | capability.FlagAtomicAdd64 |
		capability.FlagAtomicFadd32 | capability.FlagAtomicFadd64 |
		capability.FlagAtomicSwap32 | capability.FlagAtomicSwap64 |
		capability.FlagAtomicCswap32 | capability.FlagAtomicCswap64
	return contextFeatures & atomicMask
}

// Select runs mode over candidates and contextFeatures (the atomic
// operations the worker's context requested), returning a bitmask over
// RscIndex of every resource that should carry atomic operations.
// Guess runs Device if any candidate advertises AtomicDevice, else CPU.
func Select(mode Mode, candidates []Candidate, contextFeatures capability.Flags) (tls uint64, note string) {
	switch mode {
	case CPU:
		return selectCPU(candidates), ""
	case Device:
		return selectDevice(candidates, contextFeatures)
	case Guess:
		for _, c := range candidates {
			if c.Record.Flags.Has(capability.FlagAtomicDevice) {
				return selectDevice(candidates, contextFeatures)
			}
		}
		return selectCPU(candidates), ""
	default:
		panic("atomicsel: unrecognized atomic mode value")
	}
}

// selectCPU enables atomics on every interface whose capability record
// has FlagAtomicCPU.
func selectCPU(candidates []Candidate) uint64 {
	var tls uint64
	for _, c := range candidates {
		if c.Record.Flags.Has(capability.FlagAtomicCPU) {
			tls |= 1 << uint(c.Desc.RscIndex)
		}
	}
	return tls
}

// selectDevice picks the single best interface among those whose memory
// domain supports registration and whose capability record includes every
// flag the requested atomic set needs, then enables atomics on every
// interface sharing that interface's memory domain and device name. If no
// candidate qualifies, atomics remain disabled and a debug note explains
// why.
func selectDevice(candidates []Candidate, contextFeatures capability.Flags) (uint64, string) {
	need := neededFlags(contextFeatures)
	var best *Candidate
	var bestScore float64
	for i := range candidates {
		c := &candidates[i]
		if !c.DomainRegisters {
			continue
		}
		if !c.Record.Flags.Has(need) {
			continue
		}
		s := score(c.Record)
		if best == nil || s > bestScore ||
			(s == bestScore && c.Desc.Priority > best.Desc.Priority) {
			best = c
			bestScore = s
		}
	}
	if best == nil {
		return 0, "atomicsel: no interface qualifies for device-side atomics; atomics remain disabled"
	}
	var tls uint64
	for _, c := range candidates {
		if c.Desc.MemDomain == best.Desc.MemDomain && c.Desc.Device == best.Desc.Device {
			tls |= 1 << uint(c.Desc.RscIndex)
		}
	}
	return tls, ""
}
