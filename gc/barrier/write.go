package barrier

import (
	"github.com/orizon-lang/zgc/gc/phase"
	"github.com/orizon-lang/zgc/gc/pointer"
)

// OldGenPredicate reports whether the field at addr lives in an
// old-generation region, gating the card-marking sub-barrier. It is
// satisfied by the generational layer; the barrier package has no
// knowledge of generation boundaries itself.
type OldGenPredicate func(fieldAddr uintptr) bool

// WriteBarrier is the composite of the SATB pre-write and card-marking
// post-write sub-barriers (spec.md §4.5).
type WriteBarrier struct {
	phase        *phase.Var
	cards        *CardTable
	generational bool
	isOldGen     OldGenPredicate
}

// NewWriteBarrier builds a WriteBarrier. generational gates whether the
// post-write card-marking sub-barrier ever fires; isOldGen may be nil
// when generational is false.
func NewWriteBarrier(ph *phase.Var, cards *CardTable, generational bool, isOldGen OldGenPredicate) *WriteBarrier {
	return &WriteBarrier{phase: ph, cards: cards, generational: generational, isOldGen: isOldGen}
}

// Pre is the SATB sub-barrier: called before the mutator overwrites a
// reference field, with the field's old value. Active only during
// MARK/MARK_IDLE.
func (wb *WriteBarrier) Pre(queue *SATBQueue, oldValue pointer.Ref) {
	if !wb.phase.Load().IsMarking() {
		return
	}
	queue.Enqueue(oldValue)
}

// Post is the card-marking sub-barrier: called after the mutator stores
// newValue into the reference field at fieldAddr. Active whenever
// generational mode is on and the field lives in the old generation.
func (wb *WriteBarrier) Post(fieldAddr uintptr, newValue pointer.Ref) {
	if !wb.generational || newValue.IsNull() {
		return
	}
	if wb.isOldGen != nil && wb.isOldGen(fieldAddr) {
		wb.cards.Mark(fieldAddr, newValue)
	}
}

// PreArray folds Pre over a contiguous run of old field values, for bulk
// array writes (e.g. slice copies, array fills).
func (wb *WriteBarrier) PreArray(queue *SATBQueue, oldValues []pointer.Ref) {
	if !wb.phase.Load().IsMarking() {
		return
	}
	for _, old := range oldValues {
		queue.Enqueue(old)
	}
}

// PostArray folds Post over a contiguous run of fields, given their
// addresses and new values in parallel slices.
func (wb *WriteBarrier) PostArray(fieldAddrs []uintptr, newValues []pointer.Ref) {
	if !wb.generational {
		return
	}
	n := len(fieldAddrs)
	if len(newValues) < n {
		n = len(newValues)
	}
	for i := 0; i < n; i++ {
		wb.Post(fieldAddrs[i], newValues[i])
	}
}
