package generation

import (
	"testing"

	"github.com/orizon-lang/zgc/gc/hostiface"
	"github.com/orizon-lang/zgc/gc/pointer"
	"github.com/orizon-lang/zgc/gc/region"
)

func newTestGenHeap(t *testing.T) (*region.Heap, *hostiface.FakeRuntime, *Heap) {
	t.Helper()
	rh, err := region.New(region.Config{MaxHeapSize: 8 << 20, RegionSize: 64 << 10, EvacThreshold: 0.5})
	if err != nil {
		t.Fatalf("region.New: %v", err)
	}
	t.Cleanup(func() { _ = rh.Close() })
	rt := hostiface.NewFakeRuntime()
	return rh, rt, New(rh, rt, Config{PromotionThreshold: 2})
}

func allocEdenObject(t *testing.T, rh *region.Heap, rt *hostiface.FakeRuntime, g *Heap, size uintptr) pointer.Ref {
	t.Helper()
	addr, ok := g.AllocateEden(size)
	if !ok {
		t.Fatalf("AllocateEden(%d) failed", size)
	}
	ref := pointer.FromAddress(addr, pointer.ColorMarked0)
	rt.Put(ref, hostiface.Header{Size: size}, nil)
	return ref
}

func TestMinorCollectCopiesYoungObjectsToSurvivor(t *testing.T) {
	_, rt, g := newTestGenHeap(t)
	var live []pointer.Ref
	for i := 0; i < 5; i++ {
		live = append(live, allocEdenObject(t, nil, rt, g, 32))
	}

	stats := g.MinorCollect(live, nil)
	if stats.ObjectsCopied != 5 {
		t.Fatalf("ObjectsCopied = %d, want 5", stats.ObjectsCopied)
	}
	if stats.ObjectsPromoted != 0 {
		t.Fatalf("ObjectsPromoted = %d, want 0", stats.ObjectsPromoted)
	}
}

func TestMinorCollectPromotesAtThresholdAge(t *testing.T) {
	_, rt, g := newTestGenHeap(t) // PromotionThreshold = 2
	ref := allocEdenObject(t, nil, rt, g, 32)

	h, _ := rt.ReadHeader(ref)
	h.Age = 2
	rt.WriteHeader(ref, h)

	stats := g.MinorCollect([]pointer.Ref{ref}, nil)
	if stats.ObjectsPromoted != 1 {
		t.Fatalf("ObjectsPromoted = %d, want 1", stats.ObjectsPromoted)
	}
	if stats.ObjectsCopied != 0 {
		t.Fatalf("ObjectsCopied = %d, want 0", stats.ObjectsCopied)
	}
	if g.OldUsedRatio() <= 0 {
		t.Fatal("promoted object should register old-generation usage")
	}
}

// TestS2ThreeMinorGCsWithoutFirstCyclePromotion runs spec.md scenario
// S2's setup, 1000 live eden objects and three minor GCs, and checks that
// none of them promotes on the first minor GC and that all three minor
// GCs are counted. Where the copies end up after the later cycles is not
// checked.
func TestS2ThreeMinorGCsWithoutFirstCyclePromotion(t *testing.T) {
	rh, rt, g := newTestGenHeap(t)
	const n = 1000

	live := make([]pointer.Ref, n)
	for i := range live {
		live[i] = allocEdenObject(t, rh, rt, g, 32)
	}

	// Cycle 1: age 0 -> copied to survivor, age becomes 1.
	g.MinorCollect(live, nil)
	if g.Stats().ObjectsPromoted != 0 {
		t.Fatal("no object should promote on the first minor GC")
	}

	// MinorCollect copies the objects to new addresses, and the refs held
	// here still point at the pre-copy addresses. Without the new
	// addresses there are no roots to pass, so the remaining two cycles
	// run with none and only the minor GC count is checked afterwards.
	for cycle := 0; cycle < 2; cycle++ {
		stats := g.MinorCollect(nil, nil)
		_ = stats
	}

	if g.Stats().MinorGCCount != 3 {
		t.Fatalf("MinorGCCount = %d, want 3", g.Stats().MinorGCCount)
	}
}

// TestEdenFullTriggersMinorGC confirms EdenFull actually observes real
// exhaustion of the same region AllocateEden bumps into, not a region
// the heap's unrelated small-object cursor happens to be using.
func TestEdenFullTriggersMinorGC(t *testing.T) {
	_, rt, g := newTestGenHeap(t) // region size 64<<10

	id, _ := g.EdenRegion()
	const objSize = 1 << 10
	full := false
	for i := 0; i < 128; i++ {
		if g.EdenFull(objSize) {
			full = true
			break
		}
		ref := allocEdenObject(t, nil, rt, g, objSize)
		gotID, ok := g.EdenRegion()
		if !ok || (i > 0 && gotID != id) {
			t.Fatalf("eden allocation %d landed outside the tracked eden region", i)
		}
		id = gotID
		_ = ref
	}
	if !full {
		t.Fatal("EdenFull never reported exhaustion after filling the eden region")
	}
}

func TestAdaptiveTenuringRaisesThresholdWhenSurvivorUnderused(t *testing.T) {
	_, rt, g := newTestGenHeap(t)
	before := g.PromotionThreshold()

	ref := allocEdenObject(t, nil, rt, g, 32)
	g.MinorCollect([]pointer.Ref{ref}, nil)

	after := g.PromotionThreshold()
	if after < before {
		t.Fatalf("promotion threshold decreased (%d -> %d) despite low survivor usage", before, after)
	}
}

func TestEdenRegionReportsCarvedRegion(t *testing.T) {
	_, rt, g := newTestGenHeap(t)
	if _, ok := g.EdenRegion(); ok {
		t.Fatal("EdenRegion should report false before any eden allocation")
	}
	_ = allocEdenObject(t, nil, rt, g, 32)
	if _, ok := g.EdenRegion(); !ok {
		t.Fatal("EdenRegion should report true once eden has been carved")
	}
}

func TestFromSurvivorRegionTracksRoleSwap(t *testing.T) {
	_, rt, g := newTestGenHeap(t)
	if _, ok := g.FromSurvivorRegion(); ok {
		t.Fatal("FromSurvivorRegion should report false before any minor GC")
	}

	ref := allocEdenObject(t, nil, rt, g, 32)
	g.MinorCollect([]pointer.Ref{ref}, nil)
	// The first minor GC populates to-survivor, then the survivors swap
	// roles: the just-filled slot is the next cycle's from-survivor.
	if _, ok := g.FromSurvivorRegion(); !ok {
		t.Fatal("FromSurvivorRegion should report true after one minor GC: the just-filled to-survivor is the next cycle's from-survivor")
	}
}

func TestIsOldReflectsPromotedRegions(t *testing.T) {
	_, rt, g := newTestGenHeap(t)
	ref := allocEdenObject(t, nil, rt, g, 32)
	h, _ := rt.ReadHeader(ref)
	h.Age = 2
	rt.WriteHeader(ref, h)

	g.MinorCollect([]pointer.Ref{ref}, nil)

	found := false
	for _, id := range g.OldRegions() {
		_ = id
		found = true
	}
	if !found {
		t.Fatal("expected at least one old-generation region after promotion")
	}
}
