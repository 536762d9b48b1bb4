// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with dynamic update and hot-reload propagation.

package control

import (
	"fmt"
	"sync"
)

// ConfigStore is a dynamic key/value map with atomic snapshot and listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()
}

// WorkerSnapshot is the fixed set of worker-identity fields the control
// plane publishes. NumTLs and ThreadMode are decided once at
// worker.Create and never change for that worker's lifetime; AtomicTLs
// may be refreshed whenever the atomic-resource selector re-runs.
type WorkerSnapshot struct {
	NumTLs     int
	ThreadMode string
	AtomicTLs  uint64
}

// SetWorkerSnapshot installs ws, triggering reload listeners. NumTLs and
// ThreadMode are rejected if a prior snapshot set them to a different
// value: hot-reload may refresh AtomicTLs and caller metrics, but it must
// never be able to mutate the worker shape Create fixed.
func (cs *ConfigStore) SetWorkerSnapshot(ws WorkerSnapshot) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if v, ok := cs.config["num_tls"]; ok && v != ws.NumTLs {
		return fmt.Errorf("control: num_tls is fixed at worker construction (have %v, got %d)", v, ws.NumTLs)
	}
	if v, ok := cs.config["thread_mode"]; ok && v != ws.ThreadMode {
		return fmt.Errorf("control: thread_mode is fixed at worker construction (have %v, got %s)", v, ws.ThreadMode)
	}
	cs.config["num_tls"] = ws.NumTLs
	cs.config["thread_mode"] = ws.ThreadMode
	cs.config["atomic_tls"] = ws.AtomicTLs
	cs.dispatchReload()
	return nil
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config:    make(map[string]any),
		listeners: make([]func(), 0),
	}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	copy := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		copy[k] = v
	}
	return copy
}

// SetConfig merges new values and dispatches reload if needed.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
	cs.dispatchReload()
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// dispatchReload invokes all listeners.
func (cs *ConfigStore) dispatchReload() {
	for _, fn := range cs.listeners {
		go fn()
	}
}
