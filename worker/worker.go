package worker

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/momentics/uworker/affinity"
	"github.com/momentics/uworker/ammsg"
	"github.com/momentics/uworker/atomicsel"
	"github.com/momentics/uworker/capability"
	"github.com/momentics/uworker/control"
	"github.com/momentics/uworker/epconfig"
	"github.com/momentics/uworker/iface"
	"github.com/momentics/uworker/internal/concurrency"
	"github.com/momentics/uworker/reqpool"
	"github.com/momentics/uworker/transport"
	"github.com/momentics/uworker/wakeup"
)

// idSalt and idCounter together seed Worker.id: the spec calls for a
// 64-bit unique id "seeded by worker address plus a monotonic counter";
// since Go code shouldn't rely on an object's address for identity, a
// process-lifetime random salt stands in for the address term and an
// atomic counter for the monotonic term.
var (
	idSalt    uint64
	idCounter atomic.Uint64
)

func init() {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err == nil {
		idSalt = binary.BigEndian.Uint64(buf[:])
	}
}

func nextWorkerID() uint64 {
	return idSalt ^ idCounter.Add(1)
}

// locker is satisfied by both *sync.Mutex and *spinlock; Single mode uses
// a no-op implementation so the hot path pays nothing for locking it
// doesn't need.
type locker interface {
	Lock()
	Unlock()
}

type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

// Worker is the top-level runtime object binding the capability
// registry, interface pool, AM dispatch table, wakeup multiplexer,
// endpoint-configuration cache, and atomic-resource selector. Grounded on
// the teacher's facade.HioloadWS lifecycle shape.
type Worker struct {
	id   uint64
	name string

	threadMode ThreadMode
	lock       locker

	inprogress atomic.Int32

	ctx      *Context
	registry *capability.Registry
	ifaces   *iface.Pool
	epTable  *epconfig.Table
	replies  *replyMap
	wake     *wakeup.State
	pool     *reqpool.Pool

	executor  *concurrency.Executor
	asyncLoop *concurrency.AsyncLoop

	config  *control.ConfigStore
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes

	atomicTLs        uint64
	cpuMask          affinity.Mask
	asyncCompletions atomic.Int64

	addrMu    sync.Mutex
	addrEPs   []transport.Endpoint
	published bool
}

// asyncCompletion is what an Async-mode handler's wrapper posts to the
// worker's AsyncLoop: the descriptor it was handed plus the disposition
// it returned, so the completion handler knows whether it still owns the
// descriptor.
type asyncCompletion struct {
	desc *ammsg.Descriptor
	disp ammsg.Disposition
}

// asyncCompletionHandler releases descriptors an Async-mode handler
// returned InProgress on, off the Progress hot path, and counts every
// completion so checkMissedAsyncEvents can surface how many are pending.
type asyncCompletionHandler struct {
	w *Worker
}

func (h *asyncCompletionHandler) HandleCompletion(c concurrency.Completion) {
	if ac, ok := c.Data.(asyncCompletion); ok && ac.disp == ammsg.InProgress {
		ac.desc.Release()
	}
	h.w.asyncCompletions.Add(1)
}

// Create builds a Worker from ctx and params, following the 13-step
// ordered construction of spec §4.1, rolling back everything completed
// so far on any failure.
func Create(ctx *Context, params Params) (w *Worker, err error) {
	var rollback []func()
	defer func() {
		if err != nil {
			for i := len(rollback) - 1; i >= 0; i-- {
				rollback[i]()
			}
		}
	}()

	numTLs := len(ctx.Resources)

	w = &Worker{ctx: ctx, threadMode: params.ThreadMode, cpuMask: params.CPUMask}

	// Step 0: pin the creating (and, in Single thread mode, sole
	// progress) OS thread to the requested CPU mask. LockOSThread is
	// never released: a worker's affinity is meant to hold for the
	// creating goroutine's lifetime.
	if params.CPUMask != 0 {
		runtime.LockOSThread()
		if affErr := affinity.SetAffinity(params.CPUMask); affErr != nil {
			err = affErr
			return nil, err
		}
	}

	// Step 1: endpoint-configuration table sized min(numTLs^3+eps, 255).
	w.epTable = epconfig.NewTable(numTLs, func(k epconfig.Key) epconfig.DerivedState {
		return epconfig.DerivedState{ScratchPathSize: k.ShortThres + k.ZcopyThres}
	})

	// Step 2: thread-safety mode.
	if params.ThreadMode == Multi {
		if ctx.PreferMutex {
			w.lock = &sync.Mutex{}
		} else {
			w.lock = &spinlock{}
		}
	} else {
		w.lock = noopLocker{}
	}

	// Step 3: 64-bit unique id.
	w.id = nextWorkerID()

	// Step 4: process-host-name+pid formatted name.
	host, _ := os.Hostname()
	w.name = fmt.Sprintf("%s-%d", host, os.Getpid())

	// Step 5: reply-endpoint map.
	w.replies = newReplyMap(16)

	// Step 6: dense per-interface arrays.
	w.registry = capability.NewRegistry(ctx.Resources)
	w.ifaces = iface.NewPool(numTLs)
	rollback = append(rollback, func() { w.ifaces.CloseAll() })

	// Step 7: statistics.
	w.metrics = control.NewMetricsRegistry()
	w.config = control.NewConfigStore()
	w.debug = control.NewDebugProbes()
	control.RegisterPlatformProbes(w.debug)
	w.debug.RegisterWorkerProbes(
		func() any { return w.id },
		func() any { return w.name },
		func() any { return w.threadMode.String() },
	)
	w.debug.RegisterProbe("async.completions", func() any { return w.asyncCompletions.Load() })
	w.config.OnReload(func() {
		stats := w.pool.Stats()
		w.metrics.SetPoolStats(stats.InUse, stats.TotalAlloc, stats.TotalFree)
	})

	// Step 8: wakeup state (non-blocking self-pipe).
	wake, werr := wakeup.NewState(numTLs)
	if werr != nil {
		err = werr
		return nil, err
	}
	w.wake = wake
	rollback = append(rollback, func() { w.wake.Close() })

	// Step 9: asynchronous-progress context.
	w.executor = concurrency.NewExecutor(1)
	rollback = append(rollback, func() { w.executor.Close() })
	w.asyncLoop = concurrency.NewAsyncLoop(32, 256)
	w.asyncLoop.RegisterHandler(&asyncCompletionHandler{w: w})
	go w.asyncLoop.Run()
	rollback = append(rollback, func() { w.asyncLoop.Stop() })

	// Step 10: underlying transport worker. Transport construction is a
	// caller concern (ctx.Transports are already constructed); nothing
	// to do here beyond the per-interface opening in step 12.

	// Step 11: request memory pool.
	w.pool = reqpool.New()

	// Step 12: open an interface per filtered resource index.
	for _, idx := range ctx.filteredIndices() {
		t := ctx.Transports[idx]
		entry := iface.Open(idx, t)
		rec := entry.Record
		w.registry.Set(idx, rec)

		if err = entry.OpenWakeupIfSupported(); err != nil {
			return nil, err
		}
		w.ifaces.Set(idx, entry)
		w.wake.SetInterfaceWakeup(idx, entry.Wakeup)

		if installErr := installHandlers(w, entry, ctx.Dispatch, ctx.Features); installErr != nil {
			err = installErr
			return nil, err
		}
	}

	// Step 13: atomic resource selector.
	w.atomicTLs = runAtomicSelect(ctx, w.ifaces)

	if snapErr := w.config.SetWorkerSnapshot(control.WorkerSnapshot{
		NumTLs:     numTLs,
		ThreadMode: w.threadMode.String(),
		AtomicTLs:  w.atomicTLs,
	}); snapErr != nil {
		err = snapErr
		return nil, err
	}

	return w, nil
}

// installHandlers installs every AM id active for workerFeatures onto
// entry, per spec §4.2: a sync handler is never installed on an
// interface lacking sync-callback capability. An Async-mode handler is
// wrapped so its completion is posted to w's AsyncLoop rather than
// resolved inline, keeping descriptor release for IN_PROGRESS handlers
// off the Progress hot path (spec §4.5).
func installHandlers(w *Worker, entry *iface.Entry, dispatch *ammsg.Table, workerFeatures capability.Flags) error {
	if dispatch == nil {
		return nil
	}
	for amID := 0; amID < dispatch.Len(); amID++ {
		if !dispatch.Active(amID, workerFeatures) {
			continue
		}
		rec := dispatch.Record(amID)
		if rec.Mode == ammsg.Sync && !entry.Record.Flags.Has(capability.FlagAMSyncCallback) {
			continue
		}
		if rec.Mode == ammsg.Async {
			rec.Handler = wrapAsyncHandler(w, amID, rec.Handler)
		}
		if err := entry.InstallHandler(amID, rec); err != nil {
			return err
		}
	}
	return nil
}

// wrapAsyncHandler runs orig and posts its outcome to w.asyncLoop instead
// of letting the caller resolve it inline, so an IN_PROGRESS descriptor's
// eventual Release happens on the async completion loop rather than on
// whatever thread the transport invoked the handler from.
func wrapAsyncHandler(w *Worker, amID int, orig ammsg.HandlerFunc) ammsg.HandlerFunc {
	return func(ctxArg any, desc *ammsg.Descriptor) ammsg.Disposition {
		disp := orig(ctxArg, desc)
		posted := w.asyncLoop.Post(concurrency.Completion{
			AMID: amID,
			Data: asyncCompletion{desc: desc, disp: disp},
		})
		if !posted && disp == ammsg.InProgress {
			desc.Release()
		}
		return disp
	}
}

// runAtomicSelect builds atomicsel.Candidate values for every opened
// interface and runs ctx.AtomicMode over them.
func runAtomicSelect(ctx *Context, pool *iface.Pool) uint64 {
	var candidates []atomicsel.Candidate
	for _, entry := range pool.All() {
		desc := ctx.Resources[entry.RscIndex]
		candidates = append(candidates, atomicsel.Candidate{
			Desc:            desc,
			Record:          entry.Record,
			DomainRegisters: true,
		})
	}
	tls, _ := atomicsel.Select(ctx.AtomicMode, candidates, ctx.Features)
	return tls
}

// Destroy tears the worker down in order: remove handlers, destroy reply
// endpoints, close interfaces, then everything else. Best-effort per spec
// §4.2 — no step is allowed to fail fatally.
func (w *Worker) Destroy() {
	w.lock.Lock()
	defer w.lock.Unlock()

	w.ifaces.DropAllHandlers()

	w.replies.rangeEndpoints(func(ep transport.Endpoint) {
		ep.Destroy()
	})

	w.ifaces.CloseAll()

	w.addrMu.Lock()
	for _, ep := range w.addrEPs {
		ep.Destroy()
	}
	w.addrEPs = nil
	w.addrMu.Unlock()

	w.executor.Close()
	w.asyncLoop.Stop()
	w.wake.Close()
}

// Query reports the worker's effective thread mode.
func (w *Worker) Query() ThreadMode {
	return w.threadMode
}

// Progress drains every opened interface's event queue, retries any
// promoted reply endpoint whose stub backlog didn't fully drain
// (progressStubEPs, spec §4.6), and surfaces async-progress-context
// completions not yet observed by an application thread
// (checkMissedAsyncEvents, spec §4.5). Asserts the non-reentrancy
// invariant on entry (the counter must go 0->1, else it panics) and
// resets the counter to 0 on exit.
func (w *Worker) Progress() int {
	w.lock.Lock()
	defer w.lock.Unlock()

	if !w.inprogress.CompareAndSwap(0, 1) {
		panic("worker: Progress is not reentrant")
	}
	defer w.inprogress.Store(0)

	total := 0
	for _, entry := range w.ifaces.All() {
		total += entry.Transport.Progress()
	}

	w.progressStubEPs()
	w.checkMissedAsyncEvents()

	return total
}

// progressStubEPs is spec §4.6's progress_stub_eps pass: it retries
// draining any promoted reply endpoint whose stub backlog did not fully
// drain on PromoteReplyEndpoint's first attempt, submitting each retry to
// w.executor so a slow or failing peer endpoint never blocks the
// Progress hot path. Driven here, from the main progress thread, per
// spec's re-entrancy requirement on stub promotion.
func (w *Worker) progressStubEPs() {
	w.replies.rangeRetryable(func(uuid uint64) {
		_ = w.executor.Submit(func() {
			_ = w.replies.retryDrain(uuid)
		})
	})
}

// checkMissedAsyncEvents surfaces the count of async-mode handler
// completions still queued for the background AsyncLoop to drain, so
// progress made on the async completion thread stays observable to a
// thread calling Progress instead of only being visible to the async
// loop itself (spec §4.5's missed-async-event check).
func (w *Worker) checkMissedAsyncEvents() {
	w.metrics.SetAsyncPending(w.asyncLoop.Pending())
}

// RefreshAtomicTLs re-runs the atomic-resource selector over the
// worker's currently opened interfaces and republishes the result
// through the control plane. AtomicTLs is the one worker-identity field
// SetWorkerSnapshot allows a hot reload to change after construction;
// NumTLs and ThreadMode are resent unchanged and rejected by
// SetWorkerSnapshot if they ever drifted.
func (w *Worker) RefreshAtomicTLs() error {
	w.lock.Lock()
	tls := runAtomicSelect(w.ctx, w.ifaces)
	w.lock.Unlock()

	w.atomicTLs = tls
	return w.config.SetWorkerSnapshot(control.WorkerSnapshot{
		NumTLs:     w.registry.NumTLs(),
		ThreadMode: w.threadMode.String(),
		AtomicTLs:  tls,
	})
}

// GetEFD lazily builds the aggregating event descriptor and returns it.
func (w *Worker) GetEFD() (uintptr, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.wake.GetEFD()
}

// Arm arms every per-interface wakeup handle, returning busy if events
// were already pending on any of them or if Signal was called since the
// previous Arm.
func (w *Worker) Arm() (busy bool, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.wake.Arm()
}

// Wait obtains the event descriptor, arms it, and blocks until an event
// is ready, unless Arm reports busy.
func (w *Worker) Wait() error {
	if _, err := w.GetEFD(); err != nil {
		return err
	}
	busy, err := w.Arm()
	if err != nil {
		return err
	}
	if busy {
		return nil
	}
	return w.wake.Wait()
}

// Signal wakes a blocked Wait from any thread.
func (w *Worker) Signal() error {
	return w.wake.Signal()
}

// GetAddress publishes this worker's address: a length-prefixed
// concatenation of a local endpoint address from every opened interface,
// opaque to callers and to the worker core itself.
func (w *Worker) GetAddress() ([]byte, error) {
	w.addrMu.Lock()
	defer w.addrMu.Unlock()

	if w.published {
		return w.encodeAddress(), nil
	}

	for _, entry := range w.ifaces.All() {
		ep, err := entry.Transport.NewEndpoint(nil)
		if err != nil {
			for _, prior := range w.addrEPs {
				prior.Destroy()
			}
			w.addrEPs = nil
			return nil, err
		}
		w.addrEPs = append(w.addrEPs, ep)
	}
	w.published = true
	return w.encodeAddress(), nil
}

func (w *Worker) encodeAddress() []byte {
	var out []byte
	for _, ep := range w.addrEPs {
		addr, err := ep.Address()
		if err != nil {
			continue
		}
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(addr)))
		out = append(out, lenBuf[:]...)
		out = append(out, addr...)
	}
	return out
}

// ReleaseAddress tears down the per-interface endpoints GetAddress
// created, invalidating the previously published address blob.
func (w *Worker) ReleaseAddress([]byte) error {
	w.addrMu.Lock()
	defer w.addrMu.Unlock()
	var firstErr error
	for _, ep := range w.addrEPs {
		if err := ep.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.addrEPs = nil
	w.published = false
	return firstErr
}

// GetReplyEp looks up peerUUID in the reply map, creating a stub endpoint
// on first reference. The stub queues outgoing sends until the caller
// promotes it with PromoteReplyEndpoint; a backlog left by a failed drain
// is retried by progressStubEPs, which Progress runs and which hands each
// retry to the worker's executor goroutine.
func (w *Worker) GetReplyEp(peerUUID uint64) *replyEntry {
	entry, _ := w.replies.getOrCreateStub(peerUUID)
	return entry
}

// AllocateReply allocates a pooled request for a reply to peerUUID; the
// pool itself never fails to satisfy a request.
func (w *Worker) AllocateReply(peerUUID uint64) *reqpool.Request {
	_ = peerUUID
	return w.pool.Get(0)
}

// GetEPConfig returns the table index for key, inserting a new entry if
// none matches. Exceeding the table's bound is reported as a fatal
// *uerr.Status (spec §4.4), not silently truncated.
func (w *Worker) GetEPConfig(key epconfig.Key) (uint8, error) {
	return w.epTable.GetOrInsert(key)
}

// PromoteReplyEndpoint promotes peerUUID's stub to a real endpoint,
// draining any queued sends. Must be called from the main progress
// thread, per spec §4.6.
func (w *Worker) PromoteReplyEndpoint(peerUUID uint64, ep transport.Endpoint) error {
	return w.replies.promote(peerUUID, ep)
}

// PrintInfo renders a human-readable snapshot of the worker's
// configuration and live control-plane state to out, mirroring the
// teacher's debug/metrics introspection surface.
func (w *Worker) PrintInfo(out *os.File) {
	fmt.Fprintf(out, "worker %016x (%s) thread_mode=%s num_tls=%d atomic_tls=%b\n",
		w.id, w.name, w.threadMode, w.registry.NumTLs(), w.atomicTLs)
	for k, v := range w.config.GetSnapshot() {
		fmt.Fprintf(out, "  config.%s = %v\n", k, v)
	}
	for k, v := range w.metrics.GetSnapshot() {
		fmt.Fprintf(out, "  metric.%s = %v\n", k, v)
	}
	for k, v := range w.debug.DumpState() {
		fmt.Fprintf(out, "  debug.%s = %v\n", k, v)
	}
}

// RegisterDebugProbe installs a named debug hook, surfaced by PrintInfo
// and by any external introspection client reading the worker's debug
// state.
func (w *Worker) RegisterDebugProbe(name string, fn func() any) {
	w.debug.RegisterProbe(name, fn)
}

// SetMetric records a named metric value, surfaced by PrintInfo.
func (w *Worker) SetMetric(name string, value any) {
	w.metrics.Set(name, value)
}

// ID returns the worker's 64-bit unique id.
func (w *Worker) ID() uint64 { return w.id }

// Name returns the worker's process-host-name+pid formatted name.
func (w *Worker) Name() string { return w.name }
