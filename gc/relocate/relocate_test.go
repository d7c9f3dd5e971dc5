package relocate

import (
	"context"
	"testing"

	"github.com/orizon-lang/zgc/gc/hostiface"
	"github.com/orizon-lang/zgc/gc/pointer"
	"github.com/orizon-lang/zgc/gc/region"
)

type noPins struct{}

func (noPins) IsPinned(uintptr) bool { return false }

type fakePins struct{ pinned map[uintptr]bool }

func (p fakePins) IsPinned(addr uintptr) bool { return p.pinned[addr] }

func newTestHeap(t *testing.T) *region.Heap {
	t.Helper()
	h, err := region.New(region.Config{MaxHeapSize: 8 << 20, RegionSize: 64 << 10, EvacThreshold: 0.5})
	if err != nil {
		t.Fatalf("region.New: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestEvacuateRegionInstallsForwardingAndCopiesBytes(t *testing.T) {
	h := newTestHeap(t)
	rt := hostiface.NewFakeRuntime()
	table := NewTable()
	rel := New(h, rt, table, noPins{})

	addr, id, err := h.Allocate(64, region.Medium)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	ref := pointer.FromAddress(addr, pointer.ColorMarked0)
	rt.Put(ref, hostiface.Header{Size: 64}, nil)
	rt.WriteBytes(ref, []byte("hello, world"))

	stats, err := rel.EvacuateRegion(id, []pointer.Ref{ref})
	if err != nil {
		t.Fatalf("EvacuateRegion: %v", err)
	}
	if stats.ObjectsRelocated != 1 {
		t.Fatalf("ObjectsRelocated = %d, want 1", stats.ObjectsRelocated)
	}

	newRef, ok := table.Lookup(ref)
	if !ok {
		t.Fatal("forwarding table missing entry for evacuated object")
	}
	if newRef.Address() == ref.Address() {
		t.Fatal("forwarded address should differ from the original")
	}

	got := rt.ReadBytes(newRef, 12)
	if string(got) != "hello, world" {
		t.Fatalf("copied payload = %q, want %q", got, "hello, world")
	}

	r, _ := h.Region(id)
	if r.State() != region.Relocated {
		t.Fatalf("region state = %v, want RELOCATED", r.State())
	}
}

func TestEvacuateRegionSkipsPinnedObjects(t *testing.T) {
	h := newTestHeap(t)
	rt := hostiface.NewFakeRuntime()
	table := NewTable()

	addr, id, err := h.Allocate(64, region.Medium)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	ref := pointer.FromAddress(addr, pointer.ColorMarked0)
	rt.Put(ref, hostiface.Header{Size: 64}, nil)

	pins := fakePins{pinned: map[uintptr]bool{ref.Address(): true}}
	rel := New(h, rt, table, pins)

	stats, err := rel.EvacuateRegion(id, []pointer.Ref{ref})
	if err != nil {
		t.Fatalf("EvacuateRegion: %v", err)
	}
	if stats.RegionsSkippedPin != 1 {
		t.Fatalf("RegionsSkippedPin = %d, want 1", stats.RegionsSkippedPin)
	}
	if _, ok := table.Lookup(ref); ok {
		t.Fatal("pinned object must not get a forwarding entry")
	}
	r, _ := h.Region(id)
	if r.State() != region.Pinned {
		t.Fatalf("region state = %v, want PINNED", r.State())
	}
	if r.Start() != addr {
		t.Fatal("pinned region's base address changed")
	}
}

func TestEvacuateOneAbortsOnAllocationFailure(t *testing.T) {
	// A heap with exactly one region: once it's consumed by the source
	// object, there is no space left for the copy.
	h, err := region.New(region.Config{MaxHeapSize: 4096, RegionSize: 4096, EvacThreshold: 0.5})
	if err != nil {
		t.Fatalf("region.New: %v", err)
	}
	defer h.Close()

	rt := hostiface.NewFakeRuntime()
	table := NewTable()
	rel := New(h, rt, table, noPins{})

	addr, id, err := h.Allocate(4096, region.Medium)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	ref := pointer.FromAddress(addr, pointer.ColorMarked0)
	rt.Put(ref, hostiface.Header{Size: 4096}, nil)

	stats, err := rel.EvacuateRegion(id, []pointer.Ref{ref})
	if err != nil {
		t.Fatalf("EvacuateRegion: %v", err)
	}
	if stats.RelocationAborted != 1 {
		t.Fatalf("RelocationAborted = %d, want 1", stats.RelocationAborted)
	}
	if _, ok := table.Lookup(ref); ok {
		t.Fatal("aborted relocation must not install a forwarding entry")
	}
}

func TestRunParallelEvacuatesAllCandidates(t *testing.T) {
	h := newTestHeap(t)
	rt := hostiface.NewFakeRuntime()
	table := NewTable()
	rel := New(h, rt, table, noPins{})

	var ids []region.ID
	refsByRegion := map[region.ID][]pointer.Ref{}
	for i := 0; i < 3; i++ {
		addr, id, err := h.Allocate(64, region.Medium)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		ref := pointer.FromAddress(addr, pointer.ColorMarked0)
		rt.Put(ref, hostiface.Header{Size: 64}, nil)
		ids = append(ids, id)
		refsByRegion[id] = []pointer.Ref{ref}
	}

	stats, err := rel.RunParallel(context.Background(), ids, func(id region.ID) []pointer.Ref {
		return refsByRegion[id]
	}, 2)
	if err != nil {
		t.Fatalf("RunParallel: %v", err)
	}
	if stats.RegionsEvacuated != 3 {
		t.Fatalf("RegionsEvacuated = %d, want 3", stats.RegionsEvacuated)
	}
	if stats.ObjectsRelocated != 3 {
		t.Fatalf("ObjectsRelocated = %d, want 3", stats.ObjectsRelocated)
	}
}
