// Package controller drives the collector's phase state machine:
// IDLE -> MARK -> MARK_IDLE -> RELOCATE -> RELOCATE_IDLE -> CLEANUP -> IDLE,
// polling for triggers in the background and coordinating the marker,
// relocator, and reference processor at each transition.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/orizon-lang/zgc/gc/barrier"
	"github.com/orizon-lang/zgc/gc/generation"
	"github.com/orizon-lang/zgc/gc/hostiface"
	"github.com/orizon-lang/zgc/gc/internal/gclog"
	"github.com/orizon-lang/zgc/gc/mark"
	"github.com/orizon-lang/zgc/gc/phase"
	"github.com/orizon-lang/zgc/gc/pointer"
	"github.com/orizon-lang/zgc/gc/refproc"
	"github.com/orizon-lang/zgc/gc/region"
	"github.com/orizon-lang/zgc/gc/relocate"
)

// ErrAlreadyRunning is returned by ForceGC when a cycle is already in
// flight.
var ErrAlreadyRunning = errors.New("controller: collection already running")

// SATBSource drains every mutator thread's snapshot-at-the-beginning
// queue, so the marker can trace objects reachable only through a field
// overwritten mid-cycle (spec.md §4.9, Testable Property #9). It is
// satisfied by the facade's per-thread SATB queue map.
type SATBSource interface {
	DrainAll() []pointer.Ref
}

// Config bounds the controller's trigger and scheduling policy.
type Config struct {
	PollInterval     time.Duration
	TriggerHeapUsage float64
	ConcurrencyLevel int
	MarkConfig       mark.Config
	BackoffOnFailure time.Duration
}

// DefaultConfig returns spec.md §4.11/§6's defaults: a 100ms poll
// interval, trigger_heap_usage 0.75, concurrency_level 4.
func DefaultConfig() Config {
	return Config{
		PollInterval:     100 * time.Millisecond,
		TriggerHeapUsage: 0.75,
		ConcurrencyLevel: 4,
		MarkConfig:       mark.DefaultConfig(),
		BackoffOnFailure: 500 * time.Millisecond,
	}
}

// CycleStats is the set of counters one full collection cycle produced,
// feeding gc/metrics.
type CycleStats struct {
	Mark     mark.Stats
	Relocate relocate.Stats
	RefProc  refproc.Stats
	PauseMS  map[phase.Phase]float64
}

// Controller owns the collector's phase variable and coordinates a
// Marker, Relocator, and reference Processor against a shared region
// Heap and host Runtime.
type Controller struct {
	heap   *region.Heap
	rt     hostiface.Runtime
	colors *barrier.ColorState
	phaseV *phase.Var
	table  *relocate.Table
	refp   *refproc.Processor
	pins   relocate.PinChecker
	cards  *barrier.CardTable
	cfg    Config

	gen  *generation.Heap // nil unless EnableGenerational was called
	satb SATBSource       // nil unless SetSATBSource was called

	sem *semaphore.Weighted

	mu      sync.Mutex
	running bool
	gcCount uint64
	lastErr error
}

// New builds a Controller. table and refp may be shared with a
// barrier.LoadBarrier and the host's reference-object bookkeeping
// respectively; pins is consulted by the relocator (typically a
// *pin.Table); cards is the write barrier's remembered set, consulted as
// an additional root source every cycle (spec.md §4.6 root source (v)).
func New(heap *region.Heap, rt hostiface.Runtime, colors *barrier.ColorState, phaseV *phase.Var, table *relocate.Table, refp *refproc.Processor, pins relocate.PinChecker, cards *barrier.CardTable, cfg Config) *Controller {
	if cfg.ConcurrencyLevel <= 0 {
		cfg.ConcurrencyLevel = 4
	}
	return &Controller{
		heap:   heap,
		rt:     rt,
		colors: colors,
		phaseV: phaseV,
		table:  table,
		refp:   refp,
		pins:   pins,
		cards:  cards,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.ConcurrencyLevel)),
	}
}

// EnableGenerational tells the controller a generational heap sits
// beneath the allocator, restricting the major cycle's candidate set to
// old-generation regions (spec.md §4.8: the major cycle scans "only old
// regions... via the remembered set").
func (c *Controller) EnableGenerational(gen *generation.Heap) {
	c.gen = gen
}

// SetSATBSource wires the host's per-thread snapshot queues into the
// mark phase's root set.
func (c *Controller) SetSATBSource(src SATBSource) {
	c.satb = src
}

// Phase returns the controller's current phase.
func (c *Controller) Phase() phase.Phase { return c.phaseV.Load() }

// GCCount returns the number of completed cycles.
func (c *Controller) GCCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gcCount
}

func (c *Controller) transition(p phase.Phase) {
	gclog.Debug("gc phase transition", "phase", p.String())
	c.phaseV.Store(p)
	c.colors.OnPhaseChange(p)
}

// ShouldCollect reports the IDLE->MARK trigger condition: used/capacity
// exceeds TriggerHeapUsage.
func (c *Controller) ShouldCollect() bool {
	return c.heap.ShouldCollect(c.cfg.TriggerHeapUsage)
}

// Run starts the background poll loop (spec.md §4.11's "a background
// thread polls, default 100ms, for triggers"). It blocks until ctx is
// canceled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.Phase() == phase.Idle && c.ShouldCollect() {
				_ = c.RunCycle(ctx)
			}
		}
	}
}

// ForceGC runs a synchronous collection cycle regardless of
// ShouldCollect, for allocation's slow-path-exhausted fallback
// (spec.md §6's `force_gc`).
func (c *Controller) ForceGC(ctx context.Context) (CycleStats, error) {
	return c.runLocked(ctx)
}

// RunCycle runs one full IDLE->...->IDLE cycle if not already running.
func (c *Controller) RunCycle(ctx context.Context) error {
	_, err := c.runLocked(ctx)
	return err
}

func (c *Controller) runLocked(ctx context.Context) (CycleStats, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return CycleStats{}, ErrAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	stats, err := c.collect(ctx)
	c.mu.Lock()
	if err != nil {
		gclog.Warn("gc cycle failed, backing off", "error", err, "backoff", c.cfg.BackoffOnFailure)
		c.lastErr = err
		c.phaseV.Store(phase.Idle)
		c.colors.OnPhaseChange(phase.Idle)
	} else {
		c.gcCount++
	}
	c.mu.Unlock()

	if err != nil {
		select {
		case <-time.After(c.cfg.BackoffOnFailure):
		case <-ctx.Done():
		}
	}
	return stats, err
}

// collect drives the six-phase state machine described in spec.md
// §4.11, recording a pause timestamp at every transition.
func (c *Controller) collect(ctx context.Context) (CycleStats, error) {
	weight := int64(c.cfg.ConcurrencyLevel)
	if err := c.sem.Acquire(ctx, weight); err != nil {
		return CycleStats{}, err
	}
	defer c.sem.Release(weight)

	pauses := make(map[phase.Phase]float64)
	start := time.Now()

	c.transition(phase.Mark)
	markStats, liveRefs, err := mark.RunParallel(ctx, c.rt, c.colors.MarkColor(), c.cfg.MarkConfig, c.collectRoots(), c.cfg.ConcurrencyLevel)
	if err != nil {
		return CycleStats{}, err
	}
	if c.cards != nil {
		c.cards.Clear()
	}
	if markStats.RootOverflow > 0 || markStats.StackOverflow > 0 {
		gclog.Warn("mark stack overflow", "root_overflow", markStats.RootOverflow, "stack_overflow", markStats.StackOverflow)
	}
	pauses[phase.Mark] = time.Since(start).Seconds() * 1000

	c.transition(phase.MarkIdle)
	t1 := time.Now()
	refStats := refproc.Stats{}
	if c.refp != nil {
		reach := markReachable{addrs: refSetOf(liveRefs)}
		refStats = c.refp.Process(reach, heapUsageRatio(c.heap), false)
	}
	pauses[phase.MarkIdle] = time.Since(t1).Seconds() * 1000

	c.transition(phase.Relocate)
	t2 := time.Now()
	liveByRegion := groupByRegion(c.heap, liveRefs)
	c.updateLiveBytes(liveByRegion)

	rel := relocate.New(c.heap, c.rt, c.table, c.pins)
	candidates := rel.SelectCandidates()
	if c.gen != nil {
		candidates = restrictToOld(candidates, c.gen.OldRegions())
	}
	relStats, err := rel.RunParallel(ctx, candidates, func(id region.ID) []pointer.Ref {
		return liveByRegion[id]
	}, c.cfg.ConcurrencyLevel)
	if err != nil {
		return CycleStats{}, err
	}
	pauses[phase.Relocate] = time.Since(t2).Seconds() * 1000

	c.transition(phase.RelocateIdle)
	pauses[phase.RelocateIdle] = 0

	c.transition(phase.Cleanup)
	t3 := time.Now()
	for _, id := range candidates {
		if r, ok := c.heap.Region(id); ok && r.State() == region.Relocated {
			_ = rel.Reclaim(id)
		}
	}
	c.table.Reset()
	pauses[phase.Cleanup] = time.Since(t3).Seconds() * 1000

	c.transition(phase.Idle)

	return CycleStats{Mark: markStats, Relocate: relStats, RefProc: refStats, PauseMS: pauses}, nil
}

// collectRoots returns the host's root set plus every additional root
// source the mark phase must trace: the write barrier's remembered set
// (spec.md §4.6 root source (v)) and every mutator thread's drained SATB
// queue (spec.md §4.9).
func (c *Controller) collectRoots() []pointer.Ref {
	roots := append([]pointer.Ref(nil), c.rt.Roots()...)
	if c.cards != nil {
		roots = append(roots, c.cards.RememberedRoots()...)
	}
	if c.satb != nil {
		roots = append(roots, c.satb.DrainAll()...)
	}
	return roots
}

// restrictToOld filters candidates down to the subset named in old,
// preserving candidates' order.
func restrictToOld(candidates, old []region.ID) []region.ID {
	oldSet := make(map[region.ID]struct{}, len(old))
	for _, id := range old {
		oldSet[id] = struct{}{}
	}
	filtered := make([]region.ID, 0, len(candidates))
	for _, id := range candidates {
		if _, ok := oldSet[id]; ok {
			filtered = append(filtered, id)
		}
	}
	return filtered
}

// RunMinorCycle runs one young-generation collection: it traces live
// objects reachable from the host's roots, the remembered set, and
// drained SATB snapshots, then hands the objects found in eden and the
// from-survivor space to gen.MinorCollect. This is the EdenFull fallback
// the allocator takes before considering a full major cycle (spec.md
// §4.8's minor/survivor/promotion path).
func (c *Controller) RunMinorCycle(ctx context.Context, gen *generation.Heap) (generation.Stats, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return generation.Stats{}, ErrAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	c.transition(phase.Mark)
	_, liveRefs, err := mark.RunParallel(ctx, c.rt, c.colors.MarkColor(), c.cfg.MarkConfig, c.collectRoots(), c.cfg.ConcurrencyLevel)
	if err != nil {
		c.transition(phase.Idle)
		return generation.Stats{}, err
	}
	if c.cards != nil {
		c.cards.Clear()
	}

	liveEden, liveFromSurvivor := partitionYoung(c.heap, gen, liveRefs)
	stats := gen.MinorCollect(liveEden, liveFromSurvivor)

	c.transition(phase.Idle)
	return stats, nil
}

// partitionYoung splits liveRefs into the subset found in gen's eden
// region and the subset found in its current from-survivor region,
// dropping anything already in the old generation.
func partitionYoung(heap *region.Heap, gen *generation.Heap, liveRefs []pointer.Ref) (eden, fromSurvivor []pointer.Ref) {
	edenID, hasEden := gen.EdenRegion()
	fromID, hasFrom := gen.FromSurvivorRegion()
	for _, ref := range liveRefs {
		addr := ref.Address()
		switch {
		case hasEden && regionContains(heap, edenID, addr):
			eden = append(eden, ref)
		case hasFrom && regionContains(heap, fromID, addr):
			fromSurvivor = append(fromSurvivor, ref)
		}
	}
	return eden, fromSurvivor
}

func regionContains(heap *region.Heap, id region.ID, addr uintptr) bool {
	r, ok := heap.Region(id)
	if !ok {
		return false
	}
	return addr >= r.Start() && addr < r.Start()+r.Size()
}

type markReachable struct{ addrs map[uintptr]struct{} }

func (m markReachable) IsMarked(addr uintptr) bool {
	_, ok := m.addrs[addr]
	return ok
}

// updateLiveBytes records each region's post-mark live byte count so
// SelectCandidates' live_ratio comparison reflects this cycle's
// reachability rather than whatever the previous cycle left behind.
func (c *Controller) updateLiveBytes(liveByRegion map[region.ID][]pointer.Ref) {
	for i := 0; i < c.heap.NumRegions(); i++ {
		id := region.ID(i)
		r, ok := c.heap.Region(id)
		if !ok || r.State() != region.Used {
			continue
		}
		var live uintptr
		for _, ref := range liveByRegion[id] {
			if h, ok := c.rt.ReadHeader(ref); ok {
				live += h.Size
			}
		}
		r.SetLiveBytes(live)
	}
}

func heapUsageRatio(heap *region.Heap) float64 {
	s := heap.Stats()
	if s.ReservedBytes == 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(s.ReservedBytes)
}

func refSetOf(refs []pointer.Ref) map[uintptr]struct{} {
	m := make(map[uintptr]struct{}, len(refs))
	for _, r := range refs {
		m[r.Address()] = struct{}{}
	}
	return m
}

func groupByRegion(heap *region.Heap, refs []pointer.Ref) map[region.ID][]pointer.Ref {
	out := make(map[region.ID][]pointer.Ref)
	for _, ref := range refs {
		for i := 0; i < heap.NumRegions(); i++ {
			r, ok := heap.Region(region.ID(i))
			if !ok {
				continue
			}
			addr := ref.Address()
			if addr >= r.Start() && addr < r.Start()+r.Size() {
				out[r.ID()] = append(out[r.ID()], ref)
				break
			}
		}
	}
	return out
}
