package barrier

import (
	"sync"

	"github.com/orizon-lang/zgc/gc/pointer"
)

// cardShift sizes a card at 512 bytes, a common granularity for
// remembered-set card tables: fine enough to keep false sharing of scan
// work low, coarse enough to keep the table small.
const cardShift = 9

// CardTable tracks which cards (fixed-size address ranges) have received
// a store of a non-null reference into an old-generation field since the
// table was last cleared, and which reference was last stored there.
// The mark phase of both minor and major cycles treats every recorded
// reference as an additional root (spec.md §4.6 root source (v)) instead
// of scanning the whole old generation to find objects kept alive from
// old ones.
type CardTable struct {
	mu     sync.Mutex
	marked map[uintptr]pointer.Ref
}

// NewCardTable returns an empty card table.
func NewCardTable() *CardTable {
	return &CardTable{marked: make(map[uintptr]pointer.Ref)}
}

func cardIndex(addr uintptr) uintptr { return addr >> cardShift }

// Mark records that ref was stored into the card covering addr.
func (ct *CardTable) Mark(addr uintptr, ref pointer.Ref) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.marked[cardIndex(addr)] = ref
}

// IsMarked reports whether the card covering addr has been marked.
func (ct *CardTable) IsMarked(addr uintptr) bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	_, ok := ct.marked[cardIndex(addr)]
	return ok
}

// RememberedRoots returns the references recorded against every marked
// card, for the mark phase to trace as additional roots alongside the
// host's own root set.
func (ct *CardTable) RememberedRoots() []pointer.Ref {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	out := make([]pointer.Ref, 0, len(ct.marked))
	for _, ref := range ct.marked {
		out = append(out, ref)
	}
	return out
}

// Clear empties the table after a minor or major cycle has taken its
// remembered roots.
func (ct *CardTable) Clear() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.marked = make(map[uintptr]pointer.Ref)
}
