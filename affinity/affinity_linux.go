//go:build linux
// +build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific implementation of thread CPU affinity, using
// golang.org/x/sys/unix.SchedSetaffinity instead of cgo + pthread so the
// package builds with CGO_ENABLED=0.

package affinity

import (
	"golang.org/x/sys/unix"
)

// setAffinityPlatform pins the calling OS thread to every CPU in mask
// via sched_setaffinity(2) against tid 0 ("calling thread").
func setAffinityPlatform(mask Mask) error {
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range mask.CPUs() {
		set.Set(cpu)
	}
	return unix.SchedSetaffinity(0, &set)
}
