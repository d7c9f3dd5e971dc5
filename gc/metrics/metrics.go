// Package metrics implements the collector's counters, gauges, and
// alert thresholds described in spec.md §4.12, exported in both
// Prometheus text exposition and a plain human-readable format.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Counters accumulates the collector's monotonic counters for the
// lifetime of one Registry.
type Counters struct {
	GCCount            atomic.Uint64 // number of completed collection cycles
	TotalGCTimeMS      atomic.Uint64 // cumulative pause time across all phases
	SoftCleared        atomic.Uint64
	WeakCleared        atomic.Uint64
	PhantomEnqueued    atomic.Uint64
	FinalizersQueued   atomic.Uint64
	SATBOverflows      atomic.Uint64
	MarkStackOverflows atomic.Uint64
	TLABWasteBytes     atomic.Uint64
	InvalidHandles     atomic.Uint64 // unpin() calls naming an unknown handle
}

// PauseHistogram records per-phase pause durations, one bucket per
// phase name, matching spec.md's "array of per-phase durations".
type PauseHistogram struct {
	mu      sync.Mutex
	samples map[string][]float64 // phase name -> observed durations (ms)
}

func newPauseHistogram() *PauseHistogram {
	return &PauseHistogram{samples: make(map[string][]float64)}
}

// Observe records one pause-duration sample for phase.
func (h *PauseHistogram) Observe(phase string, ms float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[phase] = append(h.samples[phase], ms)
}

// Snapshot returns a copy of every phase's recorded samples.
func (h *PauseHistogram) Snapshot() map[string][]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string][]float64, len(h.samples))
	for k, v := range h.samples {
		cp := make([]float64, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// MaxPause returns the largest single pause observed across all
// phases, for the alert manager's pause-threshold rule.
func (h *PauseHistogram) MaxPause() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var max float64
	for _, samples := range h.samples {
		for _, s := range samples {
			if s > max {
				max = s
			}
		}
	}
	return max
}

// allocRateEWMA tracks bytes/ms allocation rate with an exponentially
// weighted moving average, the same smoothing idiom used elsewhere in
// the collector's sizing heuristics (gc/tlab's avg_request_size).
type allocRateEWMA struct {
	mu     sync.Mutex
	weight float64
	value  float64
	seen   bool
}

func (e *allocRateEWMA) observe(bytesPerMS float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.seen {
		e.value = bytesPerMS
		e.seen = true
		return
	}
	e.value = e.weight*bytesPerMS + (1-e.weight)*e.value
}

func (e *allocRateEWMA) load() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Gauges holds the collector's point-in-time measurements, guarded by
// a mutex since they are floats (no lock-free atomic float64 in the
// standard library).
type Gauges struct {
	mu             sync.Mutex
	heapUsageRatio float64
	fragmentation  float64
	pinnedObjects  int64
}

func (g *Gauges) SetHeapUsageRatio(v float64) {
	g.mu.Lock()
	g.heapUsageRatio = v
	g.mu.Unlock()
}

func (g *Gauges) SetFragmentation(v float64) {
	g.mu.Lock()
	g.fragmentation = v
	g.mu.Unlock()
}

func (g *Gauges) SetPinnedObjects(n int64) {
	g.mu.Lock()
	g.pinnedObjects = n
	g.mu.Unlock()
}

func (g *Gauges) snapshot() (heapUsage, frag float64, pinned int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.heapUsageRatio, g.fragmentation, g.pinnedObjects
}

// AvoidedAllocations counts allocations the host runtime satisfied
// without touching the managed heap, broken down by the technique it
// used. A host that stack-allocates or reference-counts an object
// reports it here so the export still reflects total allocation
// pressure, not just what passed through Allocate.
type AvoidedAllocations struct {
	stackAllocations atomic.Uint64
	refcountAllocs   atomic.Uint64
}

// RecordStackAllocation reports one allocation the host placed on its
// own stack instead of the managed heap.
func (a *AvoidedAllocations) RecordStackAllocation() { a.stackAllocations.Add(1) }

// RecordRefcountAllocation reports one allocation the host manages
// with its own reference counting instead of the managed heap.
func (a *AvoidedAllocations) RecordRefcountAllocation() { a.refcountAllocs.Add(1) }

func (a *AvoidedAllocations) snapshot() (stack, refcount uint64) {
	return a.stackAllocations.Load(), a.refcountAllocs.Load()
}

// AlertThresholds bounds the alert manager's trigger conditions
// (spec.md §4.12's "alerts fire on thresholds").
type AlertThresholds struct {
	MaxPauseMS       float64
	MaxHeapUsage     float64
	MaxFragmentation float64
	MinThroughput    float64
}

// DefaultAlertThresholds returns spec.md's documented thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{MaxPauseMS: 10, MaxHeapUsage: 0.9, MaxFragmentation: 0.5, MinThroughput: 0.8}
}

// Alert describes one fired threshold violation.
type Alert struct {
	Name    string
	Value   float64
	Limit   float64
	Message string
}

// Registry is the collector's process-wide metrics instance: one
// Counters, one PauseHistogram, one set of Gauges, and the alert
// thresholds they are checked against.
type Registry struct {
	Counters   Counters
	Pauses     *PauseHistogram
	Gauges     Gauges
	Avoided    AvoidedAllocations
	Thresholds AlertThresholds
	allocRate  allocRateEWMA

	throughput   float64
	throughputMu sync.Mutex
}

// NewRegistry returns an empty Registry with default alert thresholds
// and an allocation-rate EWMA weight of 0.2.
func NewRegistry() *Registry {
	return &Registry{
		Pauses:     newPauseHistogram(),
		Thresholds: DefaultAlertThresholds(),
		allocRate:  allocRateEWMA{weight: 0.2},
		throughput: 1.0,
	}
}

// RecordPause records one phase's pause duration, both into the
// histogram and the cumulative total_gc_time_ms counter.
func (r *Registry) RecordPause(phase string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	r.Pauses.Observe(phase, ms)
	r.Counters.TotalGCTimeMS.Add(uint64(math.Round(ms)))
}

// RecordAllocation feeds one allocation's size and the wall-clock time
// it took into the allocation-rate EWMA.
func (r *Registry) RecordAllocation(bytes uint64, elapsed time.Duration) {
	ms := float64(elapsed) / float64(time.Millisecond)
	if ms <= 0 {
		ms = 0.001
	}
	r.allocRate.observe(float64(bytes) / ms)
}

// AllocationRate returns the current bytes/ms EWMA.
func (r *Registry) AllocationRate() float64 { return r.allocRate.load() }

// SetThroughput records the mutator-time fraction of wall-clock time,
// the value the throughput alert rule compares against MinThroughput.
func (r *Registry) SetThroughput(v float64) {
	r.throughputMu.Lock()
	r.throughput = v
	r.throughputMu.Unlock()
}

func (r *Registry) throughputValue() float64 {
	r.throughputMu.Lock()
	defer r.throughputMu.Unlock()
	return r.throughput
}

// CheckAlerts evaluates every threshold rule against the registry's
// current state, returning the ones currently violated.
func (r *Registry) CheckAlerts() []Alert {
	var alerts []Alert

	if maxPause := r.Pauses.MaxPause(); maxPause > r.Thresholds.MaxPauseMS {
		alerts = append(alerts, Alert{Name: "pause_exceeded", Value: maxPause, Limit: r.Thresholds.MaxPauseMS,
			Message: fmt.Sprintf("pause %.2fms exceeds max_pause_ms %.2fms", maxPause, r.Thresholds.MaxPauseMS)})
	}
	heapUsage, frag, _ := r.Gauges.snapshot()
	if heapUsage > r.Thresholds.MaxHeapUsage {
		alerts = append(alerts, Alert{Name: "heap_usage_high", Value: heapUsage, Limit: r.Thresholds.MaxHeapUsage,
			Message: fmt.Sprintf("heap usage %.2f exceeds %.2f", heapUsage, r.Thresholds.MaxHeapUsage)})
	}
	if frag > r.Thresholds.MaxFragmentation {
		alerts = append(alerts, Alert{Name: "fragmentation_high", Value: frag, Limit: r.Thresholds.MaxFragmentation,
			Message: fmt.Sprintf("fragmentation %.2f exceeds %.2f", frag, r.Thresholds.MaxFragmentation)})
	}
	if tp := r.throughputValue(); tp < r.Thresholds.MinThroughput {
		alerts = append(alerts, Alert{Name: "throughput_low", Value: tp, Limit: r.Thresholds.MinThroughput,
			Message: fmt.Sprintf("throughput %.2f below %.2f", tp, r.Thresholds.MinThroughput)})
	}
	return alerts
}

// snapshot collects every counter/gauge into a flat name->value map,
// the same MetricFunc shape the teacher's exposition handler consumes.
func (r *Registry) snapshot() map[string]float64 {
	heapUsage, frag, pinned := r.Gauges.snapshot()
	stackAvoided, refcountAvoided := r.Avoided.snapshot()
	m := map[string]float64{
		"gc_count":                  float64(r.Counters.GCCount.Load()),
		"total_gc_time_ms":          float64(r.Counters.TotalGCTimeMS.Load()),
		"soft_cleared":              float64(r.Counters.SoftCleared.Load()),
		"weak_cleared":              float64(r.Counters.WeakCleared.Load()),
		"phantom_enqueued":          float64(r.Counters.PhantomEnqueued.Load()),
		"finalizers_queued":         float64(r.Counters.FinalizersQueued.Load()),
		"satb_overflows":            float64(r.Counters.SATBOverflows.Load()),
		"mark_stack_overflows":      float64(r.Counters.MarkStackOverflows.Load()),
		"tlab_waste_bytes":          float64(r.Counters.TLABWasteBytes.Load()),
		"invalid_handles":           float64(r.Counters.InvalidHandles.Load()),
		"alloc_rate_bytes_per_ms":   r.AllocationRate(),
		"heap_usage_ratio":          heapUsage,
		"fragmentation":             frag,
		"pinned_objects":            float64(pinned),
		"throughput":                r.throughputValue(),
		"stack_allocations_avoided": float64(stackAvoided),
		"refcount_allocations":      float64(refcountAvoided),
	}
	return m
}

// sanitizeMetricToken mirrors the teacher's metrics_exporter.go
// sanitization: only [a-zA-Z0-9_:] survive, anything else becomes '_'.
func sanitizeMetricToken(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ExportHuman renders every metric as one "name value" line per
// stable-sorted key, in the teacher's hand-rolled text-exposition
// style (metrics_exporter.go's StartMetricsServer handler).
func (r *Registry) ExportHuman() string {
	snap := r.snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s %g\n", sanitizeMetricToken("gc_"+k), snap[k])
	}
	return b.String()
}
