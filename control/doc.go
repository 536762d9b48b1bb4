// Package control is the worker's control plane: a live configuration
// snapshot store, a metrics registry, and a debug-probe registry, backing
// Worker.Query and Worker.PrintInfo.
//
// Provides concurrent-safe state handling primitives including:
//   - Immutable snapshot config reads and atomic updates
//   - Runtime observers for hot-reload
//   - Metrics telemetry contracts
//   - State export, debug hooks, and probe registration
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
