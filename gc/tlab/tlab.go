// Package tlab implements per-thread allocation buffers: small private
// slices of a heap region that satisfy the bulk of small-object
// allocation without touching the heap lock.
package tlab

import (
	"errors"

	"github.com/orizon-lang/zgc/gc/region"
)

// ErrOutOfMemory is returned when both a fast-path bump and a single
// refill attempt fail.
var ErrOutOfMemory = errors.New("tlab: out of memory")

const (
	alignment           = 8
	fastRefillThreshold = 64
	defaultWasteRatio   = 0.02
	// avgRequestMultiplier is the target-allocation estimate factor from
	// spec.md §4.3: size the next TLAB for roughly this many average
	// requests.
	avgRequestMultiplier = 50
)

// Config bounds the adaptive refill policy.
type Config struct {
	MinSize     uintptr
	MaxSize     uintptr
	WasteRatio  float64
	RefillLowAt uintptr
}

// Option mutates a Config.
type Option func(*Config)

func WithMinSize(n uintptr) Option    { return func(c *Config) { c.MinSize = n } }
func WithMaxSize(n uintptr) Option    { return func(c *Config) { c.MaxSize = n } }
func WithWasteRatio(f float64) Option { return func(c *Config) { c.WasteRatio = f } }

// DefaultConfig returns spec.md's defaults: 32 KiB / 1 MiB bounds, 2%
// waste ratio.
func DefaultConfig() Config {
	return Config{
		MinSize:     32 << 10,
		MaxSize:     1 << 20,
		WasteRatio:  defaultWasteRatio,
		RefillLowAt: fastRefillThreshold,
	}
}

func (c Config) apply(opts ...Option) Config {
	for _, o := range opts {
		o(&c)
	}
	return c
}

func alignUp(n uintptr) uintptr {
	return (n + alignment - 1) &^ (alignment - 1)
}

// siteProfile tracks a single allocation site's survival history, the
// renamed equivalent of an escape-analysis pattern: sites whose objects
// tend to survive get a larger initial slab, the same running-average
// idea applied to TLAB sizing instead of stack-vs-heap placement.
type siteProfile struct {
	survivalRate float64
	samples      int64
}

// highSurvivalThreshold mirrors the 50% escape-rate cutoff: above it, a
// site's refill target is scaled up since its objects are unlikely to
// die before the TLAB tail is retired anyway.
const highSurvivalThreshold = 0.5

// TLAB is a thread-local allocation buffer. It is not safe for concurrent
// use by more than one goroutine; each mutator thread owns exactly one.
type TLAB struct {
	heap *region.Heap
	cfg  Config

	regionID  region.ID
	slabStart uintptr
	top       uintptr
	end       uintptr

	// avgRequest is an exponentially weighted estimate of recent
	// allocation request sizes, used to size the next refill.
	avgRequest float64

	profiles map[string]*siteProfile

	wasteBytes uintptr
	hasSlab    bool
}

// New creates an empty TLAB bound to heap. It holds no slab until its
// first allocation triggers a refill.
func New(heap *region.Heap, opts ...Option) *TLAB {
	return &TLAB{
		heap:     heap,
		cfg:      DefaultConfig().apply(opts...),
		profiles: make(map[string]*siteProfile),
	}
}

// Allocate services a request of size bytes with no allocation-site
// profile, equivalent to AllocateFor("", size).
func (t *TLAB) Allocate(size uintptr) (uintptr, error) {
	return t.AllocateFor("", size)
}

// AllocateFor services a request of size bytes tagged with the caller's
// allocation site. It is the three-compare bump fast path described in
// spec.md §4.3; on miss it retires the current slab, refills once, and
// retries. site biases the refill's target size toward sites with a
// history of high object survival (see RecordSurvival).
func (t *TLAB) AllocateFor(site string, size uintptr) (uintptr, error) {
	size = alignUp(size)
	t.observe(size)

	if t.hasSlab && t.top+size <= t.end {
		addr := t.top
		t.top += size
		return addr, nil
	}

	t.retire()
	if err := t.refill(size, site); err != nil {
		return 0, err
	}
	if t.top+size > t.end {
		return 0, ErrOutOfMemory
	}
	addr := t.top
	t.top += size
	return addr, nil
}

// RecordSurvival updates site's running survival rate from one report of
// whether an object allocated at site was still live at the end of a
// collection cycle. Neither the marker nor the generational layer calls it.
func (t *TLAB) RecordSurvival(site string, survived bool) {
	if site == "" {
		return
	}
	p, ok := t.profiles[site]
	if !ok {
		p = &siteProfile{}
		t.profiles[site] = p
	}
	p.samples++
	outcome := 0.0
	if survived {
		outcome = 1.0
	}
	p.survivalRate = (p.survivalRate*float64(p.samples-1) + outcome) / float64(p.samples)
}

// siteBias returns the refill-size multiplier for site: sites above
// highSurvivalThreshold get a larger initial slab, unknown sites are
// treated neutrally.
func (t *TLAB) siteBias(site string) float64 {
	p, ok := t.profiles[site]
	if !ok {
		return 1.0
	}
	if p.survivalRate > highSurvivalThreshold {
		return 1.0 + p.survivalRate
	}
	return 1.0
}

// NeedsRefill reports whether the TLAB's remaining capacity has fallen
// below the fast-refill threshold or below waste_ratio of its capacity,
// per spec.md §4.3.
func (t *TLAB) NeedsRefill() bool {
	if !t.hasSlab {
		return true
	}
	remaining := t.end - t.top
	capacity := t.end - t.slabStart
	if remaining < t.cfg.RefillLowAt {
		return true
	}
	return float64(remaining) < t.cfg.WasteRatio*float64(capacity)
}

func (t *TLAB) observe(size uintptr) {
	const ewmaWeight = 0.1
	if t.avgRequest == 0 {
		t.avgRequest = float64(size)
		return
	}
	t.avgRequest = (1-ewmaWeight)*t.avgRequest + ewmaWeight*float64(size)
}

// refill asks the heap for a fresh slab sized by the adaptive policy,
// clamped to [MinSize, MaxSize] and grown to exactly size when the
// clamped estimate is smaller than the request. The caller retires the
// current slab first.
func (t *TLAB) refill(size uintptr, site string) error {
	target := t.avgRequest * avgRequestMultiplier * t.siteBias(site)
	slabSize := uintptr(target)
	if slabSize < t.cfg.MinSize {
		slabSize = t.cfg.MinSize
	}
	if slabSize > t.cfg.MaxSize {
		slabSize = t.cfg.MaxSize
	}
	if slabSize < size {
		slabSize = size
	}

	addr, id, err := t.heap.Allocate(slabSize, region.Small)
	if err != nil {
		return ErrOutOfMemory
	}
	t.regionID = id
	t.slabStart = addr
	t.top = addr
	t.end = addr + slabSize
	t.hasSlab = true
	return nil
}

// retire records the unused tail of the current slab as waste. The
// memory is not returned to the heap's free list; the owning region
// keeps the bump-pointer bookkeeping, per spec.md §4.3.
func (t *TLAB) retire() {
	if !t.hasSlab {
		return
	}
	t.wasteBytes += t.end - t.top
	t.hasSlab = false
}

// WasteBytes returns the cumulative bytes lost to retired TLAB tails.
func (t *TLAB) WasteBytes() uintptr { return t.wasteBytes }

// RegionID returns the region backing the TLAB's current slab.
func (t *TLAB) RegionID() (region.ID, bool) { return t.regionID, t.hasSlab }
