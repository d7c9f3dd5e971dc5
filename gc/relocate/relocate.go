// Package relocate implements the collector's concurrent relocator:
// selecting sparsely-live regions, evacuating their live objects, and
// maintaining the append-only forwarding table the load barrier consults
// to heal stale references lazily.
package relocate

import (
	"sync"

	"github.com/orizon-lang/zgc/gc/hostiface"
	"github.com/orizon-lang/zgc/gc/pointer"
	"github.com/orizon-lang/zgc/gc/region"
)

// Table is the forwarding table: an append-only map from an evacuated
// object's old address to its new reference. Ordering: writes only
// happen during relocation; once relocation completes the table is
// read-only. Lookup takes the read lock on every call, so outside
// relocation it never waits on a writer. During relocation itself, reads
// and writes share the lock since evacuation runs concurrently with
// mutator load barriers.
type Table struct {
	mu      sync.RWMutex
	entries map[pointer.Ref]pointer.Ref
}

// NewTable returns an empty forwarding table.
func NewTable() *Table {
	return &Table{entries: make(map[pointer.Ref]pointer.Ref)}
}

// Lookup implements barrier.ForwardingTable.
func (t *Table) Lookup(old pointer.Ref) (pointer.Ref, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.entries[old]
	return v, ok
}

// install records old -> new. Called only by the relocator.
func (t *Table) install(old, new pointer.Ref) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[old] = new
}

// Reset clears the table once its entries' regions have returned to the
// free list and no mutator can still be holding an unhealed reference.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[pointer.Ref]pointer.Ref)
}

// Stats accumulates a relocation cycle's counters.
type Stats struct {
	RegionsEvacuated  int
	RegionsSkippedPin int
	ObjectsRelocated  uint64
	BytesRelocated    uint64
	RelocationAborted uint64
}

// PinChecker reports whether an address is currently pinned, blocking
// relocation of its region. It is satisfied by the pin table.
type PinChecker interface {
	IsPinned(addr uintptr) bool
}

// Relocator evacuates live objects out of candidate regions into fresh
// space allocated from the heap, leaving a forwarding entry behind.
type Relocator struct {
	heap  *region.Heap
	rt    hostiface.Runtime
	table *Table
	pins  PinChecker
}

// New builds a Relocator sharing table with the collector's load
// barrier.
func New(heap *region.Heap, rt hostiface.Runtime, table *Table, pins PinChecker) *Relocator {
	return &Relocator{heap: heap, rt: rt, table: table, pins: pins}
}

// SelectCandidates returns the heap's current relocation candidates:
// used regions whose live ratio sits below the configured evacuation
// threshold (spec.md §4.7 step 1).
func (r *Relocator) SelectCandidates() []region.ID {
	return r.heap.RelocationCandidates()
}

// EvacuateRegion evacuates every live object in the region at id,
// described by liveObjects (the runtime-provided enumeration of objects
// still marked from the preceding mark cycle). If any object in the
// region is pinned, the whole region is skipped and marked PINNED rather
// than partially evacuated.
func (r *Relocator) EvacuateRegion(id region.ID, liveObjects []pointer.Ref) (Stats, error) {
	var stats Stats

	for _, ref := range liveObjects {
		if r.pins != nil && r.pins.IsPinned(ref.Address()) {
			_ = r.heap.SetPinned(id, true)
			stats.RegionsSkippedPin++
			return stats, nil
		}
	}

	if err := r.heap.BeginRelocating(id); err != nil {
		return stats, err
	}

	for _, ref := range liveObjects {
		if !r.evacuateOne(ref, &stats) {
			stats.RelocationAborted++
		}
	}

	if stats.RelocationAborted > 0 {
		// Live data remains in this region; it cannot be reclaimed this
		// cycle. It stays USED and will be reconsidered as a candidate
		// on the next mark/relocate cycle.
		_ = r.heap.AbortRelocating(id)
		return stats, nil
	}

	if err := r.heap.CompleteRelocation(id); err != nil {
		return stats, err
	}
	stats.RegionsEvacuated++
	return stats, nil
}

// evacuateOne copies one object to freshly allocated space and installs
// its forwarding entry. If the new-space allocation fails, relocation
// aborts for that object and it is left in place (spec.md §4.7 edge
// case); it reports success/failure for the caller's abort counter.
func (r *Relocator) evacuateOne(ref pointer.Ref, stats *Stats) bool {
	h, ok := r.rt.ReadHeader(ref)
	if !ok || h.Forwarded {
		return true
	}

	newAddr, _, err := r.heap.Allocate(h.Size, region.Small)
	if err != nil {
		return false
	}

	payload := r.rt.ReadBytes(ref, h.Size)
	newRef := pointer.FromAddress(newAddr, ref.Color())
	r.rt.WriteBytes(newRef, payload)
	r.rt.WriteHeader(newRef, h)

	h.Forwarded = true
	h.Forward = newRef
	r.rt.WriteHeader(ref, h)

	r.table.install(ref, newRef)

	stats.ObjectsRelocated++
	stats.BytesRelocated += uint64(h.Size)
	return true
}

// Reclaim returns a RELOCATED region to the free list, once a safepoint
// has confirmed no mutator still holds an unhealed reference into it
// (spec.md §4.7 step 3). The controller calls this during CLEANUP for
// every candidate region left RELOCATED; it runs no separate
// load-barrier sweep first.
func (r *Relocator) Reclaim(id region.ID) error {
	return r.heap.FreeRegion(id)
}
