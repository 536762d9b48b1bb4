// Package reqpool implements the worker's request memory pool: a single,
// fixed-element-size, cache-line-aligned pool seeded with 128 elements
// and allowed to grow unbounded under load (spec §4.1 step 11).
package reqpool

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/uworker/internal/concurrency"
)

const initialCapacity = 128

// cacheLinePadBytes pads each element so two requests never share a
// cache line, avoiding false sharing between concurrently-progressed
// endpoints.
const cacheLinePadBytes = 64

// Request is one pooled request-memory element: a fixed-size scratch
// area used to stage an AM request's header and trailer while it is
// outstanding.
type Request struct {
	Buf [256]byte
	_   [cacheLinePadBytes]byte

	pool *Pool
}

// Release returns the request to the pool it was allocated from. Safe to
// call at most once per Get.
func (r *Request) Release() {
	r.pool.put(r)
}

// Pool is an unbounded pool of fixed-size Request elements. A bounded
// lock-free ring absorbs the common case (elements returned at roughly
// the rate they're taken); once it's full, returned elements are simply
// dropped for GC, and once it's empty, Get falls back to direct
// allocation, so the pool never blocks or errors under load — only its
// hit rate degrades.
type Pool struct {
	ring *concurrency.LockFreeQueue[*Request]

	totalAlloc atomic.Int64
	totalFree  atomic.Int64

	numaMu     sync.Mutex
	numaCounts map[int]int64
}

// New allocates a pool pre-seeded with 128 elements.
func New() *Pool {
	p := &Pool{
		ring:       concurrency.NewLockFreeQueue[*Request](initialCapacity * 2),
		numaCounts: make(map[int]int64),
	}
	for i := 0; i < initialCapacity; i++ {
		p.ring.Enqueue(&Request{pool: p})
	}
	return p
}

// Get returns a Request, reusing a pooled element when available and
// allocating a new one otherwise. numaNode is recorded for stats only;
// reqpool does not itself perform NUMA-local allocation.
func (p *Pool) Get(numaNode int) *Request {
	if r, ok := p.ring.Dequeue(); ok {
		p.totalAlloc.Add(1)
		p.recordNUMA(numaNode)
		return r
	}
	p.totalAlloc.Add(1)
	p.recordNUMA(numaNode)
	return &Request{pool: p}
}

func (p *Pool) put(r *Request) {
	if p.ring.Enqueue(r) {
		p.totalFree.Add(1)
		return
	}
	// Ring full: drop for GC rather than block or grow it unbounded.
	p.totalFree.Add(1)
}

func (p *Pool) recordNUMA(node int) {
	p.numaMu.Lock()
	p.numaCounts[node]++
	p.numaMu.Unlock()
}

// Stats is a snapshot of pool activity.
type Stats struct {
	TotalAlloc int64
	TotalFree  int64
	InUse      int64
	NUMAStats  map[int]int64
}

// Stats returns a snapshot of the pool's allocation counters.
func (p *Pool) Stats() Stats {
	alloc := p.totalAlloc.Load()
	free := p.totalFree.Load()

	p.numaMu.Lock()
	numaStats := make(map[int]int64, len(p.numaCounts))
	for k, v := range p.numaCounts {
		numaStats[k] = v
	}
	p.numaMu.Unlock()

	return Stats{
		TotalAlloc: alloc,
		TotalFree:  free,
		InUse:      alloc - free,
		NUMAStats:  numaStats,
	}
}
