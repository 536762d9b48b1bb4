package capability_test

import (
	"testing"

	"github.com/momentics/uworker/capability"
)

func TestRegistryFilter(t *testing.T) {
	reg := capability.NewRegistry([]capability.ResourceDescriptor{
		{RscIndex: 0, Transport: "shm", Device: "mm0"},
		{RscIndex: 1, Transport: "rc", Device: "mlx5_0"},
		{RscIndex: 2, Transport: "rc", Device: "mlx5_1"},
	})

	all := reg.Filter(nil)
	if len(all) != 3 {
		t.Fatalf("expected 3 unfiltered resources, got %d", len(all))
	}

	rc := reg.Filter(map[string]bool{"rc": true})
	if len(rc) != 2 || rc[0] != 1 || rc[1] != 2 {
		t.Fatalf("expected [1 2], got %v", rc)
	}
}

func TestFlagsHasAny(t *testing.T) {
	f := capability.FlagAMBcopy | capability.FlagAtomicCPU
	if !f.Has(capability.FlagAMBcopy) {
		t.Fatal("expected FlagAMBcopy set")
	}
	if f.Has(capability.FlagAMZcopy) {
		t.Fatal("did not expect FlagAMZcopy set")
	}
	if !f.Any(capability.FlagAMZcopy | capability.FlagAtomicCPU) {
		t.Fatal("expected Any to match FlagAtomicCPU")
	}
}

func TestRegistrySetRecord(t *testing.T) {
	reg := capability.NewRegistry([]capability.ResourceDescriptor{{RscIndex: 0, Transport: "shm"}})
	rec := capability.Record{Flags: capability.FlagWakeup, Priority: 5}
	reg.Set(0, rec)
	got := reg.Record(0)
	if got.Flags != capability.FlagWakeup || got.Priority != 5 {
		t.Fatalf("unexpected record: %+v", got)
	}
}
