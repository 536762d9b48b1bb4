// Package wakeup implements the worker's wakeup state: one non-blocking
// self-pipe, an array of optional per-interface wakeup handles dense over
// [0, NumTLs), and a lazily created aggregating event descriptor.
package wakeup

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/uworker/reactor"
	"github.com/momentics/uworker/transport"
	"github.com/momentics/uworker/uerr"
)

// selfPipeTag is the UserData value reactor.Event reports for the
// self-pipe, distinguishing it from per-interface indices (which are
// tagged rscIndex+1, so 0 is never ambiguous with a real interface).
const selfPipeTag = 0

// State is the worker's wakeup/progress/signal backing store.
type State struct {
	mu       sync.Mutex
	pipe     *selfPipe
	react    reactor.EventReactor
	perIface []transport.WakeupHandle
	// signaled is set by Signal and consumed by Arm, so a signal sent
	// before Arm makes Arm report busy.
	signaled atomic.Bool
}

// NewState allocates wakeup state for a worker with numTLs transport
// resources. The self-pipe is created immediately (spec §4.1 step 8); the
// aggregating event descriptor is created lazily on first GetEFD call.
func NewState(numTLs int) (*State, error) {
	pipe, err := newSelfPipe()
	if err != nil {
		return nil, err
	}
	return &State{
		pipe:     pipe,
		perIface: make([]transport.WakeupHandle, numTLs),
	}, nil
}

// SetInterfaceWakeup installs the wakeup handle opened for the interface
// at rscIndex. Passing nil marks that interface as having no wakeup
// capability, per the invariant that the array's slot is non-nil iff the
// interface's capability record includes wakeup.
func (s *State) SetInterfaceWakeup(rscIndex int, h transport.WakeupHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perIface[rscIndex] = h
}

// NumTLs returns the length of the per-interface wakeup array.
func (s *State) NumTLs() int { return len(s.perIface) }

// GetEFD lazily constructs the aggregating event descriptor on first
// call, registering the self-pipe and every per-interface wakeup fd that
// exposes one; subsequent calls return the cached descriptor.
func (s *State) GetEFD() (uintptr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.react != nil {
		return s.react.FD(), nil
	}
	r, err := reactor.New()
	if err != nil {
		return 0, err
	}
	if err := r.Register(s.pipe.FD(), selfPipeTag); err != nil {
		r.Close()
		return 0, err
	}
	for idx, h := range s.perIface {
		if h == nil {
			continue
		}
		fd, err := h.FD()
		if err != nil {
			// Transports without an OS-level descriptor (e.g. the
			// loopback reference transport) are skipped; they are
			// still polled for pending events via Arm.
			continue
		}
		if err := r.Register(fd, uintptr(idx+1)); err != nil {
			r.Close()
			return 0, err
		}
	}
	s.react = r
	return r.FD(), nil
}

// Arm arms every per-interface wakeup handle for TX completion, RX AM,
// and RX signaled-AM events, then drains the self-pipe. It reports busy
// if any transport indicated events were already pending, or if Signal
// was called since the previous Arm.
func (s *State) Arm() (busy bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wantEvents := transport.EventTXCompletion | transport.EventRXAM | transport.EventRXSignaledAM
	for _, h := range s.perIface {
		if h == nil {
			continue
		}
		pending, aerr := h.Arm(wantEvents)
		if aerr != nil && !uerr.Is(aerr, uerr.Unsupported) {
			return false, aerr
		}
		if pending {
			busy = true
		}
	}
	s.pipe.Drain()
	if s.signaled.Swap(false) {
		busy = true
	}
	return busy, nil
}

// Wait blocks on the aggregating event descriptor until at least one
// event is ready. GetEFD must have been called first.
func (s *State) Wait() error {
	s.mu.Lock()
	react := s.react
	numTLs := len(s.perIface)
	s.mu.Unlock()
	if react == nil {
		return uerr.New(uerr.InvalidParam, "wakeup: Wait called before GetEFD")
	}
	events := make([]reactor.Event, numTLs+1)
	_, err := react.Wait(events)
	return err
}

// Signal writes one byte to the self-pipe, waking any blocked Wait.
func (s *State) Signal() error {
	s.signaled.Store(true)
	return s.pipe.Signal()
}

// Close tears down the aggregating event descriptor (if created) and the
// self-pipe. Best-effort: the first error encountered is returned but
// every resource is still attempted.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if s.react != nil {
		if err := s.react.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.react = nil
	}
	if err := s.pipe.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
