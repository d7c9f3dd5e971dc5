// Package generation implements the collector's generational layer: an
// Eden bump area, two survivor spaces that swap to-space/from-space
// roles each minor cycle, and an old generation reclaimed by the
// concurrent mark+relocate cycle.
package generation

import (
	"sync"

	"github.com/orizon-lang/zgc/gc/hostiface"
	"github.com/orizon-lang/zgc/gc/pointer"
	"github.com/orizon-lang/zgc/gc/region"
)

const (
	defaultPromotionThreshold = 3
	maxAge                    = 15
	tenuringBalanceRatio      = 0.5
)

// Config bounds the generational layer's tenuring policy.
type Config struct {
	PromotionThreshold uint8
}

// DefaultConfig returns spec.md's default promotion_threshold of 3.
func DefaultConfig() Config {
	return Config{PromotionThreshold: defaultPromotionThreshold}
}

// Stats accumulates one minor (or major) GC's counters.
type Stats struct {
	MinorGCCount    uint64
	MajorGCCount    uint64
	ObjectsPromoted uint64
	ObjectsCopied   uint64
	SurvivorUsage   float64
}

// Heap partitions a subset of a region.Heap's regions into eden, two
// survivor spaces, and an unordered set of old-generation regions. It
// owns no memory of its own; it only classifies and steers allocation
// across regions obtained from the shared region.Heap.
type Heap struct {
	mu sync.Mutex

	heap *region.Heap
	rt   hostiface.Runtime
	cfg  Config

	edenID      region.ID
	hasEden     bool
	survivor    [2]region.ID
	hasSurvivor [2]bool
	toIndex     int // which survivor[] slot is "to-space" this cycle

	oldRegions map[region.ID]struct{}

	promotionThreshold uint8
	stats              Stats
}

// New creates a generational Heap layered on top of heap.
func New(heap *region.Heap, rt hostiface.Runtime, cfg Config) *Heap {
	if cfg.PromotionThreshold == 0 {
		cfg.PromotionThreshold = defaultPromotionThreshold
	}
	return &Heap{
		heap:               heap,
		rt:                 rt,
		cfg:                cfg,
		oldRegions:         make(map[region.ID]struct{}),
		promotionThreshold: cfg.PromotionThreshold,
	}
}

// Stats returns a snapshot of the generational layer's counters.
func (g *Heap) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// PromotionThreshold returns the current adaptive tenuring age.
func (g *Heap) PromotionThreshold() uint8 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.promotionThreshold
}

// AllocateEden is a pure bump-pointer allocation from the eden region,
// obtaining a fresh eden region from the shared heap on first use or
// overflow. ok is false when eden is full and a minor GC is required.
func (g *Heap) AllocateEden(size uintptr) (addr uintptr, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.hasEden {
		id, err := g.freshRegion()
		if err != nil {
			return 0, false
		}
		g.edenID = id
		g.hasEden = true
	}
	return g.heap.AllocateFromRegion(g.edenID, size)
}

func (g *Heap) freshRegion() (region.ID, error) {
	_, id, err := g.heap.Allocate(1, region.Medium)
	return id, err
}

// EdenFull reports whether the eden region can no longer satisfy a
// bump allocation of size bytes, the minor-GC trigger condition.
func (g *Heap) EdenFull(size uintptr) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.hasEden {
		return false
	}
	r, ok := g.heap.Region(g.edenID)
	if !ok {
		return true
	}
	return r.Free() < size
}

// IsOld reports whether addr falls within a region currently classified
// as old generation, used by the write barrier's card-marking predicate.
func (g *Heap) IsOld(addr uintptr) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id := range g.oldRegions {
		r, ok := g.heap.Region(id)
		if !ok {
			continue
		}
		if addr >= r.Start() && addr < r.Start()+r.Size() {
			return true
		}
	}
	return false
}

// MinorCollect copies live objects out of eden and the current
// from-survivor into the current to-survivor, promoting objects whose
// age has reached the promotion threshold into the old generation
// instead. liveInEden and liveInFromSurvivor are the runtime-provided
// enumerations of objects the preceding root scan found reachable.
func (g *Heap) MinorCollect(liveInEden, liveInFromSurvivor []pointer.Ref) Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	toIdx := g.toIndex
	fromIdx := 1 - toIdx

	if !g.hasSurvivor[toIdx] {
		if id, err := g.freshRegion(); err == nil {
			g.survivor[toIdx] = id
			g.hasSurvivor[toIdx] = true
		}
	}

	var copied, promoted uint64
	for _, set := range [][]pointer.Ref{liveInEden, liveInFromSurvivor} {
		for _, ref := range set {
			h, ok := g.rt.ReadHeader(ref)
			if !ok {
				continue
			}
			if h.Age >= g.promotionThreshold {
				g.promoteLocked(ref, h)
				promoted++
				continue
			}
			g.copyToSurvivorLocked(ref, h, toIdx)
			copied++
		}
	}

	// Eden and the old from-survivor are now empty; release their
	// regions back to the heap's free list.
	if g.hasEden {
		_ = g.heap.FreeRegion(g.edenID)
		g.hasEden = false
	}
	if g.hasSurvivor[fromIdx] {
		_ = g.heap.FreeRegion(g.survivor[fromIdx])
		g.hasSurvivor[fromIdx] = false
	}

	usage := g.survivorUsageLocked(toIdx)
	g.adaptTenuringLocked(usage)

	g.toIndex = fromIdx // swap roles: today's to-survivor becomes tomorrow's from-survivor
	g.stats.MinorGCCount++
	g.stats.ObjectsCopied += copied
	g.stats.ObjectsPromoted += promoted
	g.stats.SurvivorUsage = usage

	return Stats{MinorGCCount: 1, ObjectsCopied: copied, ObjectsPromoted: promoted, SurvivorUsage: usage}
}

func (g *Heap) copyToSurvivorLocked(ref pointer.Ref, h hostiface.Header, toIdx int) {
	newAddr, ok := g.heap.AllocateFromRegion(g.survivor[toIdx], h.Size)
	if !ok {
		return
	}
	h.Age++
	newRef := pointer.FromAddress(newAddr, ref.Color())
	g.rt.WriteBytes(newRef, g.rt.ReadBytes(ref, h.Size))
	g.rt.WriteHeader(newRef, h)
}

func (g *Heap) promoteLocked(ref pointer.Ref, h hostiface.Header) {
	newAddr, id, err := g.heap.Allocate(h.Size, region.Medium)
	if err != nil {
		return
	}
	newRef := pointer.FromAddress(newAddr, ref.Color())
	g.rt.WriteBytes(newRef, g.rt.ReadBytes(ref, h.Size))
	g.rt.WriteHeader(newRef, h)
	g.oldRegions[id] = struct{}{}
}

func (g *Heap) survivorUsageLocked(idx int) float64 {
	if !g.hasSurvivor[idx] {
		return 0
	}
	r, ok := g.heap.Region(g.survivor[idx])
	if !ok || r.Size() == 0 {
		return 0
	}
	return float64(r.Used()) / float64(r.Size())
}

// adaptTenuringLocked implements the adaptive-tenuring rule: if
// to-survivor usage after a minor GC exceeds 50%, promote sooner
// (decrement the threshold); otherwise raise it toward MAX_AGE.
func (g *Heap) adaptTenuringLocked(usage float64) {
	if usage > tenuringBalanceRatio {
		if g.promotionThreshold > 1 {
			g.promotionThreshold--
		}
	} else if g.promotionThreshold < maxAge {
		g.promotionThreshold++
	}
}

// OldUsedRatio returns the fraction of old-generation regions' capacity
// currently in use, for the controller's major-GC trigger policy.
func (g *Heap) OldUsedRatio() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.oldRegions) == 0 {
		return 0
	}
	var used, total uintptr
	for id := range g.oldRegions {
		r, ok := g.heap.Region(id)
		if !ok {
			continue
		}
		used += r.Used()
		total += r.Size()
	}
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total)
}

// OldRegions returns the current old-generation region set, for the
// major collector to restrict its mark+relocate scope to.
func (g *Heap) OldRegions() []region.ID {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]region.ID, 0, len(g.oldRegions))
	for id := range g.oldRegions {
		out = append(out, id)
	}
	return out
}

// EdenRegion returns the region currently serving as the eden allocation
// area, and whether one has been carved yet.
func (g *Heap) EdenRegion() (region.ID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.edenID, g.hasEden
}

// FromSurvivorRegion returns the survivor region a minor GC would copy
// live objects out of this cycle (the complement of the current
// to-space), and whether one exists yet.
func (g *Heap) FromSurvivorRegion() (region.ID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fromIdx := 1 - g.toIndex
	return g.survivor[fromIdx], g.hasSurvivor[fromIdx]
}
