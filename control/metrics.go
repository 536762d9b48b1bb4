// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for system-level monitoring.
// Exposes counters in a thread-safe map with dynamic registration.

package control

import (
	"sync"
	"time"
)

// MetricsRegistry holds mutable and read-only metrics.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]any
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]any),
	}
}

// Set sets or updates a metric key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// GetSnapshot returns the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}

// SetPoolStats records the worker's request-pool usage counters under a
// fixed, namespaced key set, rather than leaving callers to invent their
// own pool.* key strings.
func (mr *MetricsRegistry) SetPoolStats(inUse, totalAlloc, totalFree int64) {
	mr.Set("pool.in_use", inUse)
	mr.Set("pool.total_alloc", totalAlloc)
	mr.Set("pool.total_free", totalFree)
}

// SetAsyncPending records the number of async-progress-context
// completions not yet observed by an application thread.
func (mr *MetricsRegistry) SetAsyncPending(n int) {
	mr.Set("async.pending", n)
}
