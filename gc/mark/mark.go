// Package mark implements the collector's concurrent tracing marker:
// tri-color, snapshot-at-the-beginning, iterative over an explicit work
// stack rather than recursive over the reference graph.
package mark

import (
	"sync/atomic"

	"github.com/orizon-lang/zgc/gc/hostiface"
	"github.com/orizon-lang/zgc/gc/pointer"
)

const (
	defaultStackCapacity = 4096
	defaultBatchSize     = 100
)

// Stats accumulates a marker's counters for the metrics layer.
type Stats struct {
	BytesMarked   uint64
	ObjectsMarked uint64
	RootOverflow  uint64
	StackOverflow uint64
}

// Config bounds a Marker's work stack and deadline-check cadence.
type Config struct {
	StackCapacity int
	BatchSize     int
}

// DefaultConfig returns spec.md's defaults: a 4096-entry stack, deadline
// checks every 100 objects.
func DefaultConfig() Config {
	return Config{StackCapacity: defaultStackCapacity, BatchSize: defaultBatchSize}
}

// Marker performs one mark cycle's worth of tracing over a Runtime's
// object graph. The mark bit it tests and sets is the header's Marked
// flag; the marker never clears it. markColor is only recorded and
// reported by MarkColor; it does not affect tracing.
type Marker struct {
	rt        hostiface.Runtime
	cfg       Config
	markColor pointer.Color

	stack   []pointer.Ref
	visited map[uintptr]pointer.Ref

	stats Stats
}

// New builds a Marker for the cycle whose mark color is markColor.
func New(rt hostiface.Runtime, markColor pointer.Color, cfg Config) *Marker {
	if cfg.StackCapacity <= 0 {
		cfg.StackCapacity = defaultStackCapacity
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Marker{
		rt:        rt,
		cfg:       cfg,
		markColor: markColor,
		stack:     make([]pointer.Ref, 0, cfg.StackCapacity),
		visited:   make(map[uintptr]pointer.Ref),
	}
}

// LiveRefs returns every reference the marker found reachable this
// cycle, for the relocator's per-region live-object enumeration.
func (m *Marker) LiveRefs() []pointer.Ref {
	out := make([]pointer.Ref, 0, len(m.visited))
	for _, r := range m.visited {
		out = append(out, r)
	}
	return out
}

// Stats returns a snapshot of the marker's counters so far.
func (m *Marker) Stats() Stats { return m.stats }

// MarkColor returns the mark color this Marker was built with.
func (m *Marker) MarkColor() pointer.Color { return m.markColor }

// Seed pushes the current root set onto the work stack, truncating and
// recording overflow if roots exceed stack_capacity.
func (m *Marker) Seed(roots []pointer.Ref) {
	for _, r := range roots {
		if !m.push(r) {
			atomic.AddUint64(&m.stats.RootOverflow, 1)
		}
	}
}

// EnqueueSATB pushes references drained from a write barrier's SATB
// queue onto the work stack, compensating for a prior overflow there.
func (m *Marker) EnqueueSATB(refs []pointer.Ref) {
	for _, r := range refs {
		if !m.push(r) {
			atomic.AddUint64(&m.stats.StackOverflow, 1)
		}
	}
}

// push appends r to the work stack, returning false without mutating
// the stack if it is already at capacity. Callers decide which overflow
// counter a rejected push should be charged to.
func (m *Marker) push(r pointer.Ref) bool {
	if r.IsNull() {
		return true
	}
	if len(m.stack) >= m.cfg.StackCapacity {
		return false
	}
	m.stack = append(m.stack, r)
	return true
}

func (m *Marker) pop() (pointer.Ref, bool) {
	n := len(m.stack)
	if n == 0 {
		return pointer.Null, false
	}
	r := m.stack[n-1]
	m.stack = m.stack[:n-1]
	return r, true
}

// Run drains the work stack to completion in one call: a single
// `while !stack.is_empty` loop per spec.md §4.6, with no recursion over
// the object graph. Use Step for an incremental, deadline-bounded
// variant.
func (m *Marker) Run() {
	for {
		if _, complete := m.Step(nil); complete {
			return
		}
	}
}

// Step pops and processes stack entries until the stack empties or
// shouldStop reports true. shouldStop is polled every batch_size
// objects, matching spec.md §4.6's "deadline checks happen every
// batch_size objects" — the controller supplies a closure testing either
// a target_work_units counter or a deadline_ms wall-clock budget.
// shouldStop == nil runs to completion. It returns the number of stack
// entries popped and whether the stack is now empty.
func (m *Marker) Step(shouldStop func() bool) (processed int, complete bool) {
	for {
		if len(m.stack) == 0 {
			return processed, true
		}
		if processed > 0 && processed%m.cfg.BatchSize == 0 && shouldStop != nil && shouldStop() {
			return processed, false
		}

		ref, ok := m.pop()
		if !ok {
			return processed, true
		}
		processed++
		if ref.IsNull() {
			continue
		}
		if _, seen := m.visited[ref.Address()]; seen {
			continue
		}

		h, ok := m.rt.ReadHeader(ref)
		if !ok {
			continue
		}
		if h.Marked {
			m.visited[ref.Address()] = ref
			continue
		}

		h.Marked = true
		m.rt.WriteHeader(ref, h)
		m.visited[ref.Address()] = ref
		m.stats.ObjectsMarked++
		m.stats.BytesMarked += uint64(h.Size)

		for _, child := range m.rt.GetReferences(h, ref) {
			if !m.push(child) {
				atomic.AddUint64(&m.stats.StackOverflow, 1)
			}
		}
	}
}

// Done reports whether the work stack has drained.
func (m *Marker) Done() bool { return len(m.stack) == 0 }
