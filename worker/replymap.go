package worker

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/uworker/transport"
)

// replyEntry is one reply-map slot: either a promoted real endpoint, or a
// stub queuing outgoing operations until the wire-up protocol promotes
// it.
type replyEntry struct {
	uuid uint64
	ep   transport.Endpoint // nil until promoted
	stub *stubEndpoint      // nil once promoted
}

// stubEndpoint queues outgoing active messages for a peer the wire-up
// protocol has not yet connected a real endpoint to. Grounded on the
// teacher's internal/session.sessionManager sharding, generalized from a
// string session id to a 64-bit peer uuid.
type stubEndpoint struct {
	uuid    uint64
	mu      sync.Mutex
	pending *queue.Queue
}

type pendingSend struct {
	amID    int
	payload []byte
}

func newStubEndpoint(uuid uint64) *stubEndpoint {
	return &stubEndpoint{uuid: uuid, pending: queue.New()}
}

// enqueue records an outgoing send for replay once this stub is promoted.
func (s *stubEndpoint) enqueue(amID int, payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.mu.Lock()
	s.pending.Add(pendingSend{amID: amID, payload: cp})
	s.mu.Unlock()
}

// drainInto replays every queued send against ep, in FIFO order, stopping
// (and leaving the remainder queued) at the first error.
func (s *stubEndpoint) drainInto(ep transport.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending.Length() > 0 {
		item := s.pending.Peek()
		send := item.(pendingSend)
		if err := ep.SendAM(send.amID, send.payload); err != nil {
			return err
		}
		s.pending.Remove()
	}
	return nil
}

// replyShard is one bucket of the sharded reply map.
type replyShard struct {
	mu      sync.RWMutex
	entries map[uint64]*replyEntry
}

// replyMap is the worker's sharded reply-endpoint map: remote-worker uuid
// to endpoint handle, per spec §3 "Reply-endpoint map" / §4.6. Sharded by
// hash the way the teacher's sessionManager shards session ids, keyed
// here by uint64 peer uuid instead of string session id.
type replyMap struct {
	shards []*replyShard
	mask   uint64
}

func newReplyMap(shardCount int) *replyMap {
	if shardCount <= 0 {
		shardCount = 16
	}
	n := nextPowerOfTwo(uint64(shardCount))
	shards := make([]*replyShard, n)
	for i := range shards {
		shards[i] = &replyShard{entries: make(map[uint64]*replyEntry)}
	}
	return &replyMap{shards: shards, mask: n - 1}
}

func (m *replyMap) shard(uuid uint64) *replyShard {
	return m.shards[fnv64(uuid)&m.mask]
}

// getOrCreateStub looks up uuid; on miss it creates and stores a stub
// entry, returning (entry, created).
func (m *replyMap) getOrCreateStub(uuid uint64) (*replyEntry, bool) {
	sh := m.shard(uuid)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[uuid]; ok {
		return e, false
	}
	e := &replyEntry{uuid: uuid, stub: newStubEndpoint(uuid)}
	sh.entries[uuid] = e
	return e, true
}

func (m *replyMap) get(uuid uint64) (*replyEntry, bool) {
	sh := m.shard(uuid)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entries[uuid]
	return e, ok
}

// promote replaces uuid's stub with a real endpoint, draining any queued
// sends into it. Must be called only from the worker's main progress
// thread (spec §4.6's re-entrancy requirement). On a partial drain
// failure the stub's remaining backlog is kept on the entry, not
// discarded: progressStubEPs retries it later via retryDrain.
func (m *replyMap) promote(uuid uint64, ep transport.Endpoint) error {
	sh := m.shard(uuid)
	sh.mu.Lock()
	e, ok := sh.entries[uuid]
	if !ok {
		sh.mu.Unlock()
		return nil
	}
	e.ep = ep
	stub := e.stub
	sh.mu.Unlock()

	if stub == nil {
		return nil
	}
	if err := stub.drainInto(ep); err != nil {
		return err
	}

	sh.mu.Lock()
	e.stub = nil
	sh.mu.Unlock()
	return nil
}

// retryDrain retries draining uuid's remaining stub backlog against its
// already-promoted endpoint. Called off the Progress hot path by the
// worker's executor, once rangeRetryable notices the entry still has a
// queued backlog.
func (m *replyMap) retryDrain(uuid uint64) error {
	sh := m.shard(uuid)
	sh.mu.RLock()
	e, ok := sh.entries[uuid]
	sh.mu.RUnlock()
	if !ok || e.ep == nil || e.stub == nil {
		return nil
	}

	if err := e.stub.drainInto(e.ep); err != nil {
		return err
	}

	sh.mu.Lock()
	e.stub = nil
	sh.mu.Unlock()
	return nil
}

// rangeRetryable invokes fn with the uuid of every entry that has been
// promoted to a real endpoint but still carries a stub backlog pending a
// retry drain, per spec §4.6's progress_stub_eps pass.
func (m *replyMap) rangeRetryable(fn func(uuid uint64)) {
	for _, sh := range m.shards {
		sh.mu.RLock()
		var retryable []uint64
		for uuid, e := range sh.entries {
			if e.ep != nil && e.stub != nil {
				retryable = append(retryable, uuid)
			}
		}
		sh.mu.RUnlock()
		for _, uuid := range retryable {
			fn(uuid)
		}
	}
}

func (m *replyMap) delete(uuid uint64) {
	sh := m.shard(uuid)
	sh.mu.Lock()
	delete(sh.entries, uuid)
	sh.mu.Unlock()
}

// rangeEndpoints invokes fn for every promoted (non-stub) endpoint
// currently in the map.
func (m *replyMap) rangeEndpoints(fn func(ep transport.Endpoint)) {
	for _, sh := range m.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			if e.ep != nil {
				fn(e.ep)
			}
		}
		sh.mu.RUnlock()
	}
}

func fnv64(v uint64) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < 8; i++ {
		h ^= v & 0xff
		v >>= 8
		h *= prime64
	}
	return h
}

func nextPowerOfTwo(v uint64) uint64 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return v
}
