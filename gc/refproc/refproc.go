// Package refproc implements the collector's reference processor: the
// ordered soft -> weak -> phantom -> finalizer discovery-and-clearing
// pass that runs once a mark cycle has computed reachability.
package refproc

import (
	"sort"
	"sync"

	"github.com/orizon-lang/zgc/gc/hostiface"
	"github.com/orizon-lang/zgc/gc/pointer"
)

// Kind enumerates the reference-object descriptor types spec.md §3
// defines.
type Kind uint8

const (
	Soft Kind = iota
	Weak
	Phantom
	Final
)

func (k Kind) String() string {
	switch k {
	case Soft:
		return "SOFT"
	case Weak:
		return "WEAK"
	case Phantom:
		return "PHANTOM"
	case Final:
		return "FINAL"
	default:
		return "UNKNOWN"
	}
}

// Descriptor mirrors spec.md §3's reference-object descriptor: a kind,
// the reference-object's own reference, the reference to the referent,
// and an age used to order soft-ref clearing. It carries no notification
// queue; phantom and finalizer notifications go to the Processor's own
// NotifyQueue and FinalizationQueue.
type Descriptor struct {
	Kind     Kind
	Self     pointer.Ref // the reference-object's own address
	Referent pointer.Ref
	Age      uint32
}

// Reachable reports whether addr was visited by the mark cycle that
// just completed; the processor consults it to decide whether a
// referent is only weakly/phantom reachable.
type Reachable interface {
	IsMarked(addr uintptr) bool
}

// Stats accumulates one reference-processing pass's counters, feeding
// directly into gc/metrics.
type Stats struct {
	SoftCleared      uint64
	WeakCleared      uint64
	PhantomEnqueued  uint64
	FinalizersQueued uint64
}

// Processor runs the ordered soft/weak/phantom/finalizer pass described
// in spec.md §4.9.
type Processor struct {
	mu sync.Mutex
	rt hostiface.Runtime

	descriptors []*Descriptor
	finalizers  map[uintptr]*Descriptor // referent address -> finalizer descriptor

	notifyQueue []pointer.Ref
	finalQueue  []pointer.Ref
}

// New creates an empty reference processor.
func New(rt hostiface.Runtime) *Processor {
	return &Processor{
		rt:         rt,
		finalizers: make(map[uintptr]*Descriptor),
	}
}

// Register adds a reference-object descriptor for the processor to
// consider on its next Process pass.
func (p *Processor) Register(d Descriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := d
	p.descriptors = append(p.descriptors, &cp)
	if d.Kind == Final {
		p.finalizers[d.Referent.Address()] = &cp
	}
}

// NotifyQueue drains and returns the phantom references enqueued for
// notification by the most recent Process call.
func (p *Processor) NotifyQueue() []pointer.Ref {
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.notifyQueue
	p.notifyQueue = nil
	return q
}

// FinalizationQueue drains and returns the objects enqueued for
// finalization by the most recent Process call.
func (p *Processor) FinalizationQueue() []pointer.Ref {
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.finalQueue
	p.finalQueue = nil
	return q
}

// Process runs the ordered discovery-and-clearing pass against the
// reachability information computed by the mark cycle that just
// completed. memoryLow forces soft-ref clearing regardless of
// heapUsage (spec.md §4.9 step 1 and its Open Question (iii)).
func (p *Processor) Process(reach Reachable, heapUsage float64, memoryLow bool) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var stats Stats
	remaining := p.descriptors[:0]

	clearSoft := heapUsage > 0.9 || memoryLow

	// Soft refs first, oldest first when under pressure (spec.md §4.9
	// step 1's "clearing order optionally by age").
	soft := make([]*Descriptor, 0)
	for _, d := range p.descriptors {
		if d.Kind == Soft {
			soft = append(soft, d)
		} else {
			remaining = append(remaining, d)
		}
	}
	if clearSoft {
		sort.Slice(soft, func(i, j int) bool { return soft[i].Age > soft[j].Age })
		for _, d := range soft {
			p.clearReferent(d)
			stats.SoftCleared++
		}
	} else {
		remaining = append(remaining, soft...)
	}

	next := remaining[:0]
	for _, d := range remaining {
		switch d.Kind {
		case Weak:
			if !reach.IsMarked(d.Referent.Address()) {
				p.clearReferent(d)
				stats.WeakCleared++
				continue
			}
		case Phantom:
			if !reach.IsMarked(d.Referent.Address()) {
				p.notifyQueue = append(p.notifyQueue, d.Self)
				stats.PhantomEnqueued++
				continue
			}
		case Final:
			if !reach.IsMarked(d.Referent.Address()) {
				// Only reachable through its finalizer: keep the
				// referent alive this cycle, queue it, and remove the
				// finalizer record so it cannot revive the object
				// again on a future cycle.
				p.finalQueue = append(p.finalQueue, d.Referent)
				delete(p.finalizers, d.Referent.Address())
				stats.FinalizersQueued++
				continue
			}
		}
		next = append(next, d)
	}

	p.descriptors = next
	return stats
}

// IsFinalizable reports whether addr has a live finalizer record: a
// registered FINAL descriptor that Process has not yet queued for
// finalization. The marker does not consult it.
func (p *Processor) IsFinalizable(addr uintptr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.finalizers[addr]
	return ok
}

// clearReferent nulls the referent field on the processor's own copy of
// the descriptor; Register stores a copy, so the caller's Descriptor
// value is left unchanged.
func (p *Processor) clearReferent(d *Descriptor) {
	d.Referent = pointer.Null
}
