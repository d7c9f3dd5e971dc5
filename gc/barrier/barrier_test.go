package barrier

import (
	"sync/atomic"
	"testing"

	"github.com/orizon-lang/zgc/gc/phase"
	"github.com/orizon-lang/zgc/gc/pointer"
)

type fakeForwarding struct {
	table map[pointer.Ref]pointer.Ref
}

func newFakeForwarding() *fakeForwarding {
	return &fakeForwarding{table: make(map[pointer.Ref]pointer.Ref)}
}

func (f *fakeForwarding) set(old, new pointer.Ref) { f.table[old] = new }

func (f *fakeForwarding) Lookup(old pointer.Ref) (pointer.Ref, bool) {
	v, ok := f.table[old]
	return v, ok
}

func TestLoadFastPathReturnsUnchangedWhenGood(t *testing.T) {
	colors := NewColorState()
	var ph phase.Var
	ph.Store(phase.Idle)
	lb := NewLoadBarrier(colors, &ph, newFakeForwarding())

	ref := pointer.FromAddress(0x1000, pointer.ColorRemapped)
	got, action := lb.Load(ref)
	if got != ref || action != None {
		t.Fatalf("Load(good ref) = (%v,%v), want (%v,NONE)", got, action, ref)
	}
}

func TestLoadDuringMarkHealsToMarkColor(t *testing.T) {
	colors := NewColorState()
	var ph phase.Var
	ph.Store(phase.Idle)
	colors.OnPhaseChange(phase.Mark)
	ph.Store(phase.Mark)
	lb := NewLoadBarrier(colors, &ph, newFakeForwarding())

	stale := pointer.FromAddress(0x2000, pointer.ColorRemapped)
	got, action := lb.Load(stale)
	if action != Mark {
		t.Fatalf("action = %v, want MARK", action)
	}
	if got.Color() != colors.MarkColor() {
		t.Fatalf("healed color = %v, want mark color %v", got.Color(), colors.MarkColor())
	}
	if got.Address() != stale.Address() {
		t.Fatal("healing must not change the address")
	}
}

func TestLoadDuringRelocateFollowsForwardingAndHealsToGood(t *testing.T) {
	colors := NewColorState()
	colors.OnPhaseChange(phase.Mark)
	var ph phase.Var
	ph.Store(phase.Relocate)

	fwd := newFakeForwarding()
	// oldRef carries a stale color (left over from before this cycle's
	// mark color was assigned) so the fast path misses and the slow
	// path consults the forwarding table.
	oldRef := pointer.FromAddress(0x3000, pointer.ColorRemapped)
	newRef := pointer.FromAddress(0x4000, colors.MarkColor())
	fwd.set(oldRef, newRef)

	lb := NewLoadBarrier(colors, &ph, fwd)
	got, action := lb.Load(oldRef)
	if action != Relocate {
		t.Fatalf("action = %v, want RELOCATE", action)
	}
	if got.Address() != newRef.Address() {
		t.Fatalf("address = %#x, want forwarded %#x", got.Address(), newRef.Address())
	}
	if got.Color() != colors.Good() {
		t.Fatalf("color after relocate-heal = %v, want good color %v", got.Color(), colors.Good())
	}
}

func TestGoodColorBecomesRemappedOnlyAtRelocateIdle(t *testing.T) {
	colors := NewColorState()
	colors.OnPhaseChange(phase.Mark)
	if colors.Good() == pointer.ColorRemapped {
		t.Fatal("good color should be the mark color during MARK, not REMAPPED")
	}
	colors.OnPhaseChange(phase.RelocateIdle)
	if colors.Good() != pointer.ColorRemapped {
		t.Fatalf("good color after RELOCATE_IDLE = %v, want REMAPPED", colors.Good())
	}
}

func TestSATBQueueOverflowIncrementsCounterAndDropsEntry(t *testing.T) {
	var overflow atomic.Uint64
	q := NewSATBQueue(2, &overflow)
	r1 := pointer.FromAddress(8, pointer.ColorMarked0)
	r2 := pointer.FromAddress(16, pointer.ColorMarked0)
	r3 := pointer.FromAddress(24, pointer.ColorMarked0)

	q.Enqueue(r1)
	q.Enqueue(r2)
	q.Enqueue(r3) // should overflow

	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
	if overflow.Load() != 1 {
		t.Fatalf("overflow = %d, want 1", overflow.Load())
	}
}

func TestSATBDrainEmptiesQueue(t *testing.T) {
	var overflow atomic.Uint64
	q := NewSATBQueue(4, &overflow)
	q.Enqueue(pointer.FromAddress(8, pointer.ColorMarked0))
	q.Enqueue(pointer.FromAddress(16, pointer.ColorMarked0))

	drained := q.Drain()
	if len(drained) != 2 {
		t.Fatalf("Drain() len = %d, want 2", len(drained))
	}
	if q.Len() != 0 {
		t.Fatal("queue should be empty after Drain")
	}
}

func TestWriteBarrierPreOnlyDuringMark(t *testing.T) {
	var ph phase.Var
	ph.Store(phase.Idle)
	cards := NewCardTable()
	wb := NewWriteBarrier(&ph, cards, false, nil)

	var overflow atomic.Uint64
	q := NewSATBQueue(4, &overflow)
	wb.Pre(q, pointer.FromAddress(8, pointer.ColorMarked0))
	if q.Len() != 0 {
		t.Fatal("Pre should be a no-op outside MARK/MARK_IDLE")
	}

	ph.Store(phase.Mark)
	wb.Pre(q, pointer.FromAddress(8, pointer.ColorMarked0))
	if q.Len() != 1 {
		t.Fatal("Pre should enqueue during MARK")
	}
}

func TestWriteBarrierPostMarksCardOnlyForOldGenInGenerationalMode(t *testing.T) {
	var ph phase.Var
	cards := NewCardTable()
	oldGenBoundary := uintptr(0x10000)
	isOld := func(addr uintptr) bool { return addr >= oldGenBoundary }

	wb := NewWriteBarrier(&ph, cards, true, isOld)
	young := pointer.FromAddress(0x5000, pointer.ColorRemapped)

	wb.Post(0x5000, young) // field in young gen: no card mark
	if cards.IsMarked(0x5000) {
		t.Fatal("young-generation field store should not mark a card")
	}

	wb.Post(0x20000, young) // field in old gen: card mark
	if !cards.IsMarked(0x20000) {
		t.Fatal("old-generation field store should mark its card")
	}
}

func TestWriteBarrierPostDisabledWhenNotGenerational(t *testing.T) {
	var ph phase.Var
	cards := NewCardTable()
	wb := NewWriteBarrier(&ph, cards, false, func(uintptr) bool { return true })

	wb.Post(0x20000, pointer.FromAddress(0x5000, pointer.ColorRemapped))
	if cards.IsMarked(0x20000) {
		t.Fatal("card marking must be disabled when generational mode is off")
	}
}

func TestCardTableRememberedRootsReturnsMarkedReferences(t *testing.T) {
	var ph phase.Var
	cards := NewCardTable()
	isOld := func(addr uintptr) bool { return addr >= 0x10000 }
	wb := NewWriteBarrier(&ph, cards, true, isOld)

	young := pointer.FromAddress(0x5000, pointer.ColorRemapped)
	wb.Post(0x20000, young)

	roots := cards.RememberedRoots()
	if len(roots) != 1 || roots[0] != young {
		t.Fatalf("RememberedRoots() = %v, want [%v]", roots, young)
	}
}

func TestCardTableClearEmptiesRememberedRoots(t *testing.T) {
	var ph phase.Var
	cards := NewCardTable()
	isOld := func(addr uintptr) bool { return true }
	wb := NewWriteBarrier(&ph, cards, true, isOld)

	wb.Post(0x20000, pointer.FromAddress(0x5000, pointer.ColorRemapped))
	cards.Clear()

	if len(cards.RememberedRoots()) != 0 {
		t.Fatal("Clear should empty the remembered-set roots")
	}
	if cards.IsMarked(0x20000) {
		t.Fatal("Clear should unmark every card")
	}
}
