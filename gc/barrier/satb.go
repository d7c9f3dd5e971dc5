package barrier

import (
	"sync"
	"sync/atomic"

	"github.com/orizon-lang/zgc/gc/pointer"
)

// SATBQueue is a per-mutator-thread snapshot-at-the-beginning buffer. The
// write barrier's pre-write sub-barrier enqueues the overwritten
// reference here before the store lands; the marker drains it. A full
// queue discards the reference and increments a shared overflow counter
// instead of blocking the mutator.
type SATBQueue struct {
	mu       sync.Mutex
	buf      []pointer.Ref
	capacity int
	overflow *atomic.Uint64
}

// NewSATBQueue returns an empty queue bounded at capacity, reporting
// overflow through the shared counter (typically owned by the metrics
// layer).
func NewSATBQueue(capacity int, overflow *atomic.Uint64) *SATBQueue {
	return &SATBQueue{
		buf:      make([]pointer.Ref, 0, capacity),
		capacity: capacity,
		overflow: overflow,
	}
}

// Enqueue records old as a pre-write snapshot value. If the queue is
// full, the reference is dropped and the overflow counter increments;
// the marker compensates with a rescan (spec.md §7).
func (q *SATBQueue) Enqueue(old pointer.Ref) {
	if old.IsNull() {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) >= q.capacity {
		if q.overflow != nil {
			q.overflow.Add(1)
		}
		return
	}
	q.buf = append(q.buf, old)
}

// Drain removes and returns every queued reference, for the marker to
// push onto its work stack.
func (q *SATBQueue) Drain() []pointer.Ref {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return nil
	}
	out := q.buf
	q.buf = make([]pointer.Ref, 0, q.capacity)
	return out
}

// Len reports the number of references currently queued.
func (q *SATBQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
