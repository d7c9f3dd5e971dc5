package tlab

import (
	"testing"

	"github.com/orizon-lang/zgc/gc/region"
)

func newTestHeap(t *testing.T) *region.Heap {
	t.Helper()
	h, err := region.New(region.Config{MaxHeapSize: 8 << 20, RegionSize: 1 << 20, EvacThreshold: 0.5})
	if err != nil {
		t.Fatalf("region.New: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestFastPathBumpsWithoutRefill(t *testing.T) {
	h := newTestHeap(t)
	tl := New(h, WithMinSize(4096), WithMaxSize(4096))

	a1, err := tl.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	a2, err := tl.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if a2-a1 != 64 {
		t.Fatalf("second allocation at %#x, want %#x", a2, a1+64)
	}
}

func TestAllocationsAreEightByteAligned(t *testing.T) {
	h := newTestHeap(t)
	tl := New(h, WithMinSize(4096), WithMaxSize(4096))

	a1, err := tl.Allocate(3)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	a2, err := tl.Allocate(1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if a2-a1 != 8 {
		t.Fatalf("3-byte request did not align to 8: delta = %d", a2-a1)
	}
}

func TestRefillOnOverflowRetiresWaste(t *testing.T) {
	h := newTestHeap(t)
	tl := New(h, WithMinSize(128), WithMaxSize(128))

	for i := 0; i < 3; i++ {
		if _, err := tl.Allocate(50); err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
	}
	// 50-byte requests align up to 56; two fit in a 128-byte slab with
	// 16 bytes left over, so the third forces a refill and retires that
	// remainder as waste.
	if tl.WasteBytes() != 16 {
		t.Fatalf("WasteBytes() = %d, want 16", tl.WasteBytes())
	}
}

func TestNeedsRefillNearCapacityEdge(t *testing.T) {
	h := newTestHeap(t)
	tl := New(h, WithMinSize(256), WithMaxSize(256))

	if !tl.NeedsRefill() {
		t.Fatal("a TLAB with no slab always needs a refill")
	}
	if _, err := tl.Allocate(64); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if tl.NeedsRefill() {
		t.Fatal("freshly refilled TLAB with plenty of room should not need a refill")
	}
	if _, err := tl.Allocate(256 - 64 - 32); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if !tl.NeedsRefill() {
		t.Fatal("TLAB within fast_refill_threshold of exhaustion should need a refill")
	}
}

func TestOutOfMemoryWhenHeapExhausted(t *testing.T) {
	h, err := region.New(region.Config{MaxHeapSize: 4096, RegionSize: 4096, EvacThreshold: 0.5})
	if err != nil {
		t.Fatalf("region.New: %v", err)
	}
	defer h.Close()

	tl := New(h, WithMinSize(4096), WithMaxSize(4096))
	if _, err := tl.Allocate(4096); err != nil {
		t.Fatalf("first allocation should succeed: %v", err)
	}
	if _, err := tl.Allocate(1); err == nil {
		t.Fatal("expected ErrOutOfMemory once the only region is exhausted")
	}
}

func TestHighSurvivalSiteBiasesRefillLarger(t *testing.T) {
	h := newTestHeap(t)
	tl := New(h, WithMinSize(64), WithMaxSize(1<<20))

	for i := 0; i < 10; i++ {
		tl.RecordSurvival("hotpath.alloc", true)
	}
	if bias := tl.siteBias("hotpath.alloc"); bias <= 1.0 {
		t.Fatalf("siteBias for a fully-surviving site = %v, want > 1.0", bias)
	}
	if bias := tl.siteBias("unseen.alloc"); bias != 1.0 {
		t.Fatalf("siteBias for an unseen site = %v, want 1.0", bias)
	}

	if _, err := tl.AllocateFor("hotpath.alloc", 64); err != nil {
		t.Fatalf("AllocateFor: %v", err)
	}
}
