// Package worker binds the capability registry, interface pool, AM
// dispatch table, wakeup multiplexer, endpoint configuration cache, and
// atomic-resource selector into the single Worker abstraction applications
// create, progress, and destroy.
//
// Grounded on the teacher's facade.HioloadWS (construction/teardown
// ordering, Config/DefaultConfig pattern, sync.RWMutex-guarded started
// flag) and internal/session.sessionManager (sharded map, generalized here
// to the reply-endpoint map).
package worker

import (
	"os"
	"strings"

	"github.com/momentics/uworker/affinity"
	"github.com/momentics/uworker/ammsg"
	"github.com/momentics/uworker/atomicsel"
	"github.com/momentics/uworker/capability"
	"github.com/momentics/uworker/transport"
)

// tlsEnvVar is the one environment variable the core reads: a
// comma-separated allow-list of transport names filtering the capability
// registry's candidate resources before interface opening.
const tlsEnvVar = "UWORKER_TLS"

// Context is the caller-supplied collaborator set a Worker is built
// atop: the resources available, their already-constructed (but not yet
// opened-by-the-worker) transport.Interface instances, and the feature
// set/atomic mode the application wants.
type Context struct {
	// Resources and Transports are parallel slices: Transports[i] is the
	// interface for Resources[i].RscIndex == i.
	Resources  []capability.ResourceDescriptor
	Transports []transport.Interface

	// Features is the bitmask of operation classes this worker's AM
	// dispatch and atomic selection should consider active.
	Features capability.Flags

	// AtomicMode selects cpu/device/guess atomic-resource selection.
	AtomicMode atomicsel.Mode

	// PreferMutex requests a sync.Mutex over the default spinlock when
	// ThreadMode is Multi (spec §5 "use_mt_mutex").
	PreferMutex bool

	// RequestTrailerSize is the caller-configured trailer appended to
	// every pooled request's fixed header (spec §4.1 step 11). Reserved
	// for callers that need it; reqpool.Request carries a fixed buffer
	// sized generously enough for the common case.
	RequestTrailerSize int

	// Dispatch is the process-wide AM handler table consulted during
	// interface handler installation.
	Dispatch *ammsg.Table
}

// filteredIndices applies the UWORKER_TLS allow-list (if set) to ctx's
// resources, returning the RscIndex values to open interfaces for.
func (ctx *Context) filteredIndices() []int {
	allow := os.Getenv(tlsEnvVar)
	if allow == "" {
		out := make([]int, len(ctx.Resources))
		for i := range ctx.Resources {
			out[i] = i
		}
		return out
	}
	allowed := make(map[string]bool)
	for _, name := range strings.Split(allow, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			allowed[name] = true
		}
	}
	var out []int
	for i, d := range ctx.Resources {
		if allowed[d.Transport] {
			out = append(out, i)
		}
	}
	return out
}

// ThreadMode selects the worker's public-API locking discipline.
type ThreadMode int

const (
	// Single means no lock: all worker calls must originate from one
	// thread.
	Single ThreadMode = iota
	// Multi guards all public worker operations with a mutex or
	// spinlock, per Context.PreferMutex.
	Multi
)

func (m ThreadMode) String() string {
	if m == Multi {
		return "multi"
	}
	return "single"
}

// Params are the worker-creation parameters recognized by Create (spec
// §6 "Parameter flags"). Unrecognized/zero fields fall back to
// ThreadMode: Single and an empty CPUMask.
type Params struct {
	ThreadMode ThreadMode
	CPUMask    affinity.Mask
}

// NewContext builds a Context from resources/transports (parallel,
// RscIndex-indexed) plus the feature set and atomic mode the worker
// should use.
func NewContext(resources []capability.ResourceDescriptor, transports []transport.Interface, dispatch *ammsg.Table, features capability.Flags, atomicMode atomicsel.Mode) *Context {
	return &Context{
		Resources:  resources,
		Transports: transports,
		Features:   features,
		AtomicMode: atomicMode,
		Dispatch:   dispatch,
	}
}
