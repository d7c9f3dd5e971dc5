// Package gc is the public facade of the collector: it wires the
// colored-pointer, region heap, TLAB, barrier, marker, relocator,
// generational, reference-processor, pin, controller, and metrics
// packages behind the operations described in spec.md §6. A host
// runtime interacts with the collector only through this package and
// hostiface.Runtime.
package gc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orizon-lang/zgc/gc/barrier"
	"github.com/orizon-lang/zgc/gc/controller"
	"github.com/orizon-lang/zgc/gc/generation"
	"github.com/orizon-lang/zgc/gc/hostiface"
	"github.com/orizon-lang/zgc/gc/internal/gclog"
	"github.com/orizon-lang/zgc/gc/metrics"
	"github.com/orizon-lang/zgc/gc/phase"
	"github.com/orizon-lang/zgc/gc/pin"
	"github.com/orizon-lang/zgc/gc/pointer"
	"github.com/orizon-lang/zgc/gc/refproc"
	"github.com/orizon-lang/zgc/gc/region"
	"github.com/orizon-lang/zgc/gc/relocate"
	"github.com/orizon-lang/zgc/gc/tlab"
	"github.com/orizon-lang/zgc/internal/gcconfig"
)

// Sentinel errors, named after spec.md §7's error kinds.
var (
	// ErrOutOfMemory: all allocation paths exhausted after a forced GC.
	ErrOutOfMemory = errors.New("gc: out of memory")
	// ErrPinTableFull: the pin table is at capacity.
	ErrPinTableFull = errors.New("gc: pin table full")
	// ErrConfigError: the supplied configuration is impossible.
	ErrConfigError = gcconfig.ErrConfig
	// ErrInvalidHandle: unpin named a handle the table has no record of.
	ErrInvalidHandle = errors.New("gc: invalid pin handle")
	// ErrInvalidRegion: an operation named a region index outside the
	// heap's table.
	ErrInvalidRegion = region.ErrInvalidRegion
	// ErrAllocationFailedRetryWithGC is internal: the fast path failed
	// but a forced cycle may recover enough space to retry.
	ErrAllocationFailedRetryWithGC = errors.New("gc: allocation failed, retry after gc")
	// ErrStackOverflow: the mark work stack's capacity was exceeded.
	// Locally recovered; surfaced here for callers inspecting CycleStats.
	ErrStackOverflow = errors.New("gc: mark stack overflow")
	// ErrSATBOverflow: a per-thread SATB queue filled before being
	// drained. Locally recovered; the marker compensates with a rescan.
	ErrSATBOverflow = errors.New("gc: satb queue overflow")
)

const (
	// smallMaxBytes and mediumMaxBytes bound the non-generational
	// allocation path's size-class classification (spec.md §3's region
	// size classes).
	smallMaxBytes  = 256 << 10
	mediumMaxBytes = 4 << 20

	// satbQueueCapacity bounds each mutator thread's pre-write snapshot
	// queue. Scenario S6 in spec.md §8 exercises overflow at a much
	// smaller, test-chosen capacity; this is the steady-state default.
	satbQueueCapacity = 1024
)

func classify(size uintptr) region.SizeClass {
	switch {
	case size <= smallMaxBytes:
		return region.Small
	case size <= mediumMaxBytes:
		return region.Medium
	default:
		return region.Large
	}
}

// State is one initialized collector instance. The zero value is not
// usable; build one with Init.
type State struct {
	cfg gcconfig.Config
	rt  hostiface.Runtime

	heap *region.Heap
	gen  *generation.Heap // nil unless cfg.UseGenerational

	colors  *barrier.ColorState
	phaseV  *phase.Var
	cards   *barrier.CardTable
	loadB   *barrier.LoadBarrier
	writeB  *barrier.WriteBarrier
	table   *relocate.Table
	pins    *pin.Table
	refp    *refproc.Processor
	ctrl    *controller.Controller
	ctrlCfg controller.Config
	Metrics *metrics.Registry

	satbOverflow atomic.Uint64

	tlabMu sync.Mutex
	tlabs  map[uint64]*tlab.TLAB

	satbMu sync.Mutex
	satbs  map[uint64]*barrier.SATBQueue

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Init reserves the collector's heap and starts its background
// controller loop. rt is the host's capability interface; cfg is
// validated before anything is allocated (spec.md §4.2's `init`
// contract: fails with ConfigError rather than reserving memory).
func Init(rt hostiface.Runtime, cfg gcconfig.Config) (*State, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigError, err)
	}

	heap, err := region.New(region.Config{
		MaxHeapSize:   cfg.MaxHeapSize,
		RegionSize:    cfg.RegionSize,
		EvacThreshold: region.DefaultConfig().EvacThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigError, err)
	}

	s := &State{
		cfg:    cfg,
		rt:     rt,
		heap:   heap,
		colors: barrier.NewColorState(),
		phaseV: &phase.Var{},
		cards:  barrier.NewCardTable(),
		table:  relocate.NewTable(),
		pins: pin.New(
			pin.WithMaxPins(cfg.Pin.MaxPins),
			pin.WithMaxPinDuration(time.Duration(cfg.Pin.MaxPinDurationMS)*time.Millisecond),
		),
		refp:    refproc.New(rt),
		Metrics: metrics.NewRegistry(),
		tlabs:   make(map[uint64]*tlab.TLAB),
		satbs:   make(map[uint64]*barrier.SATBQueue),
	}

	if cfg.UseGenerational {
		s.gen = generation.New(heap, rt, generation.DefaultConfig())
	}

	var isOldGen barrier.OldGenPredicate
	if s.gen != nil {
		isOldGen = s.gen.IsOld
	}
	s.loadB = barrier.NewLoadBarrier(s.colors, s.phaseV, s.table)
	s.writeB = barrier.NewWriteBarrier(s.phaseV, s.cards, cfg.UseGenerational, isOldGen)

	s.ctrlCfg = controller.DefaultConfig()
	s.ctrlCfg.TriggerHeapUsage = cfg.TriggerHeapUsage
	s.ctrlCfg.ConcurrencyLevel = cfg.ConcurrencyLevel
	s.ctrl = controller.New(heap, rt, s.colors, s.phaseV, s.table, s.refp, s.pins, s.cards, s.ctrlCfg)
	s.ctrl.SetSATBSource(s)
	if s.gen != nil {
		s.ctrl.EnableGenerational(s.gen)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.backgroundLoop(ctx)

	return s, nil
}

func (s *State) backgroundLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.ctrlCfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.ctrl.Phase() == phase.Idle && s.ctrl.ShouldCollect() {
				if _, err := s.runCycle(ctx); err != nil {
					gclog.Warn("background gc cycle failed", "error", err)
				}
			}
		}
	}
}

func (s *State) runCycle(ctx context.Context) (controller.CycleStats, error) {
	stats, err := s.ctrl.ForceGC(ctx)
	if err != nil {
		return stats, err
	}
	s.recordCycleMetrics(stats)
	return stats, nil
}

func (s *State) recordCycleMetrics(stats controller.CycleStats) {
	s.Metrics.Counters.GCCount.Add(1)
	for p, ms := range stats.PauseMS {
		s.Metrics.RecordPause(p.String(), time.Duration(ms*float64(time.Millisecond)))
	}
	s.Metrics.Counters.SoftCleared.Add(stats.RefProc.SoftCleared)
	s.Metrics.Counters.WeakCleared.Add(stats.RefProc.WeakCleared)
	s.Metrics.Counters.PhantomEnqueued.Add(stats.RefProc.PhantomEnqueued)
	s.Metrics.Counters.FinalizersQueued.Add(stats.RefProc.FinalizersQueued)
	s.Metrics.Counters.MarkStackOverflows.Add(stats.Mark.StackOverflow + stats.Mark.RootOverflow)
	s.Metrics.Counters.SATBOverflows.Store(s.satbOverflow.Load())

	hs := s.heap.Stats()
	s.Metrics.Gauges.SetHeapUsageRatio(heapUsageRatio(hs))
	s.Metrics.Gauges.SetFragmentation(fragmentation(hs))
	s.Metrics.Gauges.SetPinnedObjects(int64(s.pins.Len()))
}

func heapUsageRatio(hs region.Stats) float64 {
	if hs.ReservedBytes == 0 {
		return 0
	}
	return float64(hs.UsedBytes) / float64(hs.ReservedBytes)
}

func fragmentation(hs region.Stats) float64 {
	if hs.UsedBytes == 0 {
		return 0
	}
	return 1 - float64(hs.LiveBytes)/float64(hs.UsedBytes)
}

func (s *State) tlabFor(threadID uint64) *tlab.TLAB {
	s.tlabMu.Lock()
	defer s.tlabMu.Unlock()
	t, ok := s.tlabs[threadID]
	if !ok {
		t = tlab.New(s.heap,
			tlab.WithMinSize(s.cfg.TLAB.MinSize),
			tlab.WithMaxSize(s.cfg.TLAB.MaxSize),
			tlab.WithWasteRatio(s.cfg.TLAB.RefillWasteTarget),
		)
		s.tlabs[threadID] = t
	}
	return t
}

func (s *State) satbFor(threadID uint64) *barrier.SATBQueue {
	s.satbMu.Lock()
	defer s.satbMu.Unlock()
	q, ok := s.satbs[threadID]
	if !ok {
		q = barrier.NewSATBQueue(satbQueueCapacity, &s.satbOverflow)
		s.satbs[threadID] = q
	}
	return q
}

// DrainAll implements controller.SATBSource: it drains every mutator
// thread's SATB queue so the next mark phase traces objects snapshotted
// mid-cycle rather than silently dropping them (spec.md §4.9, Testable
// Property #9).
func (s *State) DrainAll() []pointer.Ref {
	s.satbMu.Lock()
	defer s.satbMu.Unlock()
	var out []pointer.Ref
	for _, q := range s.satbs {
		out = append(out, q.Drain()...)
	}
	return out
}

// Allocate services a mutator's allocation request, trying the fast
// per-thread path first and falling back to a forced collection cycle
// once before surfacing ErrOutOfMemory (spec.md §6's `allocate`).
func (s *State) Allocate(threadID uint64, size uintptr, typeID uint32) (pointer.Ref, error) {
	addr, err := s.allocateSlow(threadID, size)
	if err != nil {
		if _, gcErr := s.runCycle(context.Background()); gcErr != nil {
			return pointer.Null, fmt.Errorf("%w: forced gc failed: %v", ErrOutOfMemory, gcErr)
		}
		addr, err = s.allocateSlow(threadID, size)
		if err != nil {
			return pointer.Null, ErrOutOfMemory
		}
	}

	ref := pointer.FromAddress(addr, s.colors.Good())
	s.rt.WriteHeader(ref, hostiface.Header{Size: size, TypeID: typeID})
	return ref, nil
}

func (s *State) allocateSlow(threadID uint64, size uintptr) (uintptr, error) {
	if s.gen != nil {
		if s.gen.EdenFull(size) {
			// Eden exhausted: run a minor cycle (young-generation
			// mark/copy/promote) before considering a full major cycle,
			// per spec.md §4.8.
			if _, err := s.ctrl.RunMinorCycle(context.Background(), s.gen); err != nil {
				return 0, err
			}
		}
		if addr, ok := s.gen.AllocateEden(size); ok {
			return addr, nil
		}
		return 0, region.ErrOutOfMemory
	}

	class := classify(size)
	if class == region.Small {
		addr, err := s.tlabFor(threadID).Allocate(size)
		if err != nil {
			return 0, err
		}
		return addr, nil
	}

	addr, _, err := s.heap.Allocate(size, class)
	if err != nil {
		return 0, err
	}
	return addr, nil
}

// ReadBarrier applies the load barrier to ref, returning its healed
// value (spec.md §6's `read_barrier`; identity on the fast path).
func (s *State) ReadBarrier(ref pointer.Ref) pointer.Ref {
	healed, _ := s.loadB.Load(ref)
	return healed
}

// WriteBarrier applies the dual SATB + card-marking write barrier for a
// mutator thread storing new into the reference field at fieldAddr,
// which previously held old (spec.md §6's `write_barrier`).
func (s *State) WriteBarrier(threadID uint64, fieldAddr uintptr, old, new pointer.Ref) {
	s.writeB.Pre(s.satbFor(threadID), old)
	s.writeB.Post(fieldAddr, new)
}

// Pin exempts ref's object from relocation until Unpin releases the
// returned handle (spec.md §6's `pin`).
func (s *State) Pin(ref pointer.Ref, threadID uint64) (pin.Handle, error) {
	h, err := s.pins.Pin(ref, threadID, time.Now())
	if err != nil {
		if errors.Is(err, pin.ErrTableFull) {
			return 0, ErrPinTableFull
		}
		return 0, err
	}
	return h, nil
}

// Unpin releases a pin handle. Per spec.md §7, an unknown handle is a
// no-op recorded in metrics rather than an error surfaced to the
// mutator; it still returns ErrInvalidHandle so callers can log it.
func (s *State) Unpin(h pin.Handle) error {
	if err := s.pins.Unpin(h); err != nil {
		s.Metrics.Counters.InvalidHandles.Add(1)
		return ErrInvalidHandle
	}
	return nil
}

// ForceGC runs one synchronous collection cycle regardless of the
// trigger heap usage (spec.md §6's `force_gc`).
func (s *State) ForceGC(ctx context.Context) (controller.CycleStats, error) {
	return s.runCycle(ctx)
}

// AvoidedAllocationKind names a technique the host runtime used to
// satisfy an allocation without the managed heap.
type AvoidedAllocationKind int

const (
	// StackAllocation: the host proved the object does not escape and
	// placed it on its own call stack.
	StackAllocation AvoidedAllocationKind = iota
	// RefcountAllocation: the host manages the object's lifetime with
	// its own reference counting instead of tracing.
	RefcountAllocation
)

// RecordAvoidedAllocation lets a host that bypasses the collector for
// some allocations (stack placement, reference counting) still show up
// in its metrics export, so stats and alerts reflect total allocation
// pressure rather than only what passed through Allocate.
func (s *State) RecordAvoidedAllocation(kind AvoidedAllocationKind) {
	switch kind {
	case StackAllocation:
		s.Metrics.Avoided.RecordStackAllocation()
	case RefcountAllocation:
		s.Metrics.Avoided.RecordRefcountAllocation()
	}
}

// Stats is the snapshot spec.md §6's `get_stats` returns.
type Stats struct {
	Heap    region.Stats
	GCCount uint64
	Pinned  int
}

// GetStats returns a point-in-time snapshot of heap and collection
// counters.
func (s *State) GetStats() Stats {
	return Stats{
		Heap:    s.heap.Stats(),
		GCCount: s.ctrl.GCCount(),
		Pinned:  s.pins.Len(),
	}
}

// ExportMetrics renders the collector's metrics in the requested
// format, either "prometheus" or "human" (spec.md §6's
// `export_metrics`).
func (s *State) ExportMetrics(format string) (string, error) {
	switch format {
	case "prometheus":
		return s.Metrics.ExportPrometheus()
	case "human":
		return s.Metrics.ExportHuman(), nil
	default:
		return "", fmt.Errorf("gc: unknown metrics format %q", format)
	}
}

// Shutdown stops the background controller loop and releases the
// reserved virtual address range (spec.md §6's `shutdown`).
func (s *State) Shutdown() error {
	s.cancel()
	s.wg.Wait()
	return s.heap.Close()
}
