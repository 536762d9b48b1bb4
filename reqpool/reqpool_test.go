package reqpool_test

import (
	"testing"

	"github.com/momentics/uworker/reqpool"
)

func TestGetReleaseReusesElements(t *testing.T) {
	p := reqpool.New()
	before := p.Stats()
	if before.TotalAlloc != 0 {
		t.Fatalf("expected no allocations before any Get, got %d", before.TotalAlloc)
	}

	r := p.Get(0)
	if r == nil {
		t.Fatal("expected a non-nil request")
	}
	r.Release()

	after := p.Stats()
	if after.TotalAlloc != 1 || after.InUse != 0 {
		t.Fatalf("expected 1 alloc / 0 in-use after release, got %+v", after)
	}
}

func TestGetBeyondSeedAllocatesFresh(t *testing.T) {
	p := reqpool.New()
	reqs := make([]*reqpool.Request, 0, 300)
	for i := 0; i < 300; i++ {
		reqs = append(reqs, p.Get(i%2))
	}
	stats := p.Stats()
	if stats.TotalAlloc != 300 {
		t.Fatalf("expected 300 allocations, got %d", stats.TotalAlloc)
	}
	if stats.InUse != 300 {
		t.Fatalf("expected 300 in-use, got %d", stats.InUse)
	}
	for _, r := range reqs {
		r.Release()
	}
	stats = p.Stats()
	if stats.InUse != 0 {
		t.Fatalf("expected 0 in-use after releasing all, got %d", stats.InUse)
	}
}

func TestNUMAStatsTracked(t *testing.T) {
	p := reqpool.New()
	p.Get(3)
	p.Get(3)
	p.Get(7)

	stats := p.Stats()
	if stats.NUMAStats[3] != 2 {
		t.Fatalf("expected 2 allocations recorded for node 3, got %d", stats.NUMAStats[3])
	}
	if stats.NUMAStats[7] != 1 {
		t.Fatalf("expected 1 allocation recorded for node 7, got %d", stats.NUMAStats[7])
	}
}
