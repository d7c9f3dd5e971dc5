package barrier

import (
	"github.com/orizon-lang/zgc/gc/phase"
	"github.com/orizon-lang/zgc/gc/pointer"
)

// ForwardingTable is the subset of the relocator's forwarding table the
// load barrier needs: a lookup from an evacuated object's old address to
// its new location.
type ForwardingTable interface {
	Lookup(old pointer.Ref) (pointer.Ref, bool)
}

// LoadBarrier implements spec.md §4.4: a fast color compare, with a slow
// path that marks-and-heals during a mark cycle or consults the
// forwarding table during relocation.
type LoadBarrier struct {
	colors  *ColorState
	phase   *phase.Var
	forward ForwardingTable
}

// NewLoadBarrier builds a LoadBarrier sharing colors and phase with the
// rest of the collector, and consulting forward during relocation.
func NewLoadBarrier(colors *ColorState, ph *phase.Var, forward ForwardingTable) *LoadBarrier {
	return &LoadBarrier{colors: colors, phase: ph, forward: forward}
}

// Load applies the barrier to a reference read from the heap, returning
// the (possibly healed) reference and the action taken.
func (lb *LoadBarrier) Load(ref pointer.Ref) (pointer.Ref, Action) {
	if ref.IsNull() {
		return ref, None
	}
	good := lb.colors.Good()
	if ref.Color() == good {
		return ref, None
	}

	// A full fence follows healing on every path below so that once the
	// runtime installs the healed value (via WriteHeader/WriteBytes,
	// both defined over atomic/locked operations), subsequent loads by
	// any thread observe it; the fence itself is the release semantics
	// already carried by those calls, not a separate instruction here.
	ph := lb.phase.Load()
	switch {
	case ph.IsMarking():
		return ref.WithColor(lb.colors.MarkColor()), Mark

	case ph.IsRelocating():
		if newRef, ok := lb.forward.Lookup(ref); ok {
			return newRef.WithColor(lb.colors.Good()), Relocate
		}
		return ref.WithColor(lb.colors.Good()), Heal

	default:
		// IDLE or CLEANUP: no cycle in flight, but the reference still
		// carries a stale color (e.g. left over from a just-finished
		// cycle) and must be healed to the current good color.
		if newRef, ok := lb.forward.Lookup(ref); ok {
			return newRef.WithColor(good), Heal
		}
		return ref.WithColor(good), Heal
	}
}
