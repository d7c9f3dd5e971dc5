package refproc

import (
	"testing"

	"github.com/orizon-lang/zgc/gc/hostiface"
	"github.com/orizon-lang/zgc/gc/pointer"
)

type fakeReach struct{ marked map[uintptr]bool }

func (f fakeReach) IsMarked(addr uintptr) bool { return f.marked[addr] }

func refAt(addr uintptr) pointer.Ref { return pointer.FromAddress(addr, pointer.ColorMarked0) }

// TestS5SoftRefClearingUnderPressure is spec.md scenario S5.
func TestS5SoftRefClearingUnderPressure(t *testing.T) {
	p := New(hostiface.NewFakeRuntime())
	p.Register(Descriptor{Kind: Soft, Self: refAt(0x1000), Referent: refAt(0x2000)})

	reach := fakeReach{marked: map[uintptr]bool{}}
	stats := p.Process(reach, 0.95, true)

	if stats.SoftCleared != 1 {
		t.Fatalf("SoftCleared = %d, want 1", stats.SoftCleared)
	}
}

func TestSoftRefsSurviveUnderLowUsage(t *testing.T) {
	p := New(hostiface.NewFakeRuntime())
	p.Register(Descriptor{Kind: Soft, Self: refAt(0x1000), Referent: refAt(0x2000)})

	stats := p.Process(fakeReach{marked: map[uintptr]bool{}}, 0.2, false)
	if stats.SoftCleared != 0 {
		t.Fatalf("SoftCleared = %d, want 0 under low pressure", stats.SoftCleared)
	}
}

func TestWeakRefClearedWhenNotStronglyReachable(t *testing.T) {
	p := New(hostiface.NewFakeRuntime())
	p.Register(Descriptor{Kind: Weak, Self: refAt(0x1000), Referent: refAt(0x2000)})

	stats := p.Process(fakeReach{marked: map[uintptr]bool{}}, 0.1, false)
	if stats.WeakCleared != 1 {
		t.Fatalf("WeakCleared = %d, want 1", stats.WeakCleared)
	}
}

func TestWeakRefSurvivesWhenStronglyReachable(t *testing.T) {
	p := New(hostiface.NewFakeRuntime())
	referent := refAt(0x2000)
	p.Register(Descriptor{Kind: Weak, Self: refAt(0x1000), Referent: referent})

	stats := p.Process(fakeReach{marked: map[uintptr]bool{referent.Address(): true}}, 0.1, false)
	if stats.WeakCleared != 0 {
		t.Fatalf("WeakCleared = %d, want 0", stats.WeakCleared)
	}
}

func TestPhantomRefNeverClearedButEnqueued(t *testing.T) {
	p := New(hostiface.NewFakeRuntime())
	self := refAt(0x1000)
	p.Register(Descriptor{Kind: Phantom, Self: self, Referent: refAt(0x2000)})

	stats := p.Process(fakeReach{marked: map[uintptr]bool{}}, 0.1, false)
	if stats.PhantomEnqueued != 1 {
		t.Fatalf("PhantomEnqueued = %d, want 1", stats.PhantomEnqueued)
	}
	q := p.NotifyQueue()
	if len(q) != 1 || q[0] != self {
		t.Fatalf("NotifyQueue = %v, want [%v]", q, self)
	}
}

func TestFinalizerQueuedOnceAndRemovesRecord(t *testing.T) {
	p := New(hostiface.NewFakeRuntime())
	referent := refAt(0x3000)
	p.Register(Descriptor{Kind: Final, Self: refAt(0x1000), Referent: referent})

	if !p.IsFinalizable(referent.Address()) {
		t.Fatal("expected IsFinalizable before processing")
	}

	stats := p.Process(fakeReach{marked: map[uintptr]bool{}}, 0.1, false)
	if stats.FinalizersQueued != 1 {
		t.Fatalf("FinalizersQueued = %d, want 1", stats.FinalizersQueued)
	}
	q := p.FinalizationQueue()
	if len(q) != 1 || q[0] != referent {
		t.Fatalf("FinalizationQueue = %v, want [%v]", q, referent)
	}

	if p.IsFinalizable(referent.Address()) {
		t.Fatal("finalizer record must be removed so the object cannot revive twice")
	}

	// A second pass with the same (now unreachable, unregistered) object
	// must not re-enqueue it.
	stats2 := p.Process(fakeReach{marked: map[uintptr]bool{}}, 0.1, false)
	if stats2.FinalizersQueued != 0 {
		t.Fatalf("FinalizersQueued on second pass = %d, want 0", stats2.FinalizersQueued)
	}
}

func TestSoftRefClearingOrdersOldestFirst(t *testing.T) {
	p := New(hostiface.NewFakeRuntime())
	young := Descriptor{Kind: Soft, Self: refAt(0x1000), Referent: refAt(0x2000), Age: 1}
	old := Descriptor{Kind: Soft, Self: refAt(0x3000), Referent: refAt(0x4000), Age: 10}
	p.Register(young)
	p.Register(old)

	stats := p.Process(fakeReach{marked: map[uintptr]bool{}}, 0.95, false)
	if stats.SoftCleared != 2 {
		t.Fatalf("SoftCleared = %d, want 2", stats.SoftCleared)
	}
}
