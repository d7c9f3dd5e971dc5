package region

import (
	"errors"
	"fmt"
	"sync"
)

// ErrConfig is returned by New when the supplied Config cannot produce a
// valid heap (e.g. a zero region size).
var ErrConfig = errors.New("region: invalid configuration")

// ErrOutOfMemory is returned by Allocate when no region (or, for a LARGE
// request, no contiguous run of regions) is available.
var ErrOutOfMemory = errors.New("region: out of memory")

// ErrInvalidRegion is returned when an operation names a region index
// outside the heap's table, or whose state forbids the operation.
var ErrInvalidRegion = errors.New("region: invalid region")

// Config configures a Heap. Defaults match spec.md's configuration table.
type Config struct {
	MaxHeapSize   uintptr
	RegionSize    uintptr
	EvacThreshold float64

	// NUMANode is a bookkeeping hint recorded on every region carved
	// without an explicit per-call override (see Heap.AllocateHinted).
	// -1 means no hint. The allocator never learns topology from it; it
	// is accepted and tagged, per spec.md's NUMA non-goal.
	NUMANode int
}

// Option mutates a Config, following the functional-options idiom used
// throughout the collector's configuration surface.
type Option func(*Config)

// WithMaxHeapSize overrides the reserved virtual-address range size.
func WithMaxHeapSize(n uintptr) Option { return func(c *Config) { c.MaxHeapSize = n } }

// WithRegionSize overrides the fixed slab size regions are carved into.
func WithRegionSize(n uintptr) Option { return func(c *Config) { c.RegionSize = n } }

// WithEvacThreshold overrides the live-ratio cutoff below which a used
// region is offered up as a relocation candidate.
func WithEvacThreshold(f float64) Option { return func(c *Config) { c.EvacThreshold = f } }

// DefaultConfig returns the spec's defaults: 1 GiB max heap, 2 MiB
// regions, 0.5 evacuation threshold.
func DefaultConfig() Config {
	return Config{
		MaxHeapSize:   1 << 30,
		RegionSize:    2 << 20,
		EvacThreshold: 0.5,
		NUMANode:      -1,
	}
}

func (c Config) apply(opts ...Option) Config {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Heap is the ordered collection of regions over a reserved
// virtual-address range, plus the free/used index lists that partition
// it. A single lock guards the lists and the allocation slow path, as
// required by the collector's locking discipline: TLABs stay lock-free by
// batching their refills through Allocate.
type Heap struct {
	mu sync.Mutex

	arena arena
	mem   []byte
	base  uintptr

	regionSize    uintptr
	evacThreshold float64
	numaDefault   int
	reservedBytes uintptr

	regions []*Region
	free    []ID
	inFree  []bool // indexed by ID, mirrors membership in free for O(1) checks

	curSmall ID
	hasSmall bool
}

// New reserves cfg.MaxHeapSize of virtual address space and partitions it
// into ⌊max/region_size⌋ regions, all initially free.
func New(cfg Config, opts ...Option) (*Heap, error) {
	cfg = cfg.apply(opts...)
	if cfg.RegionSize == 0 {
		return nil, fmt.Errorf("%w: region_size must be nonzero", ErrConfig)
	}
	if cfg.MaxHeapSize < cfg.RegionSize {
		return nil, fmt.Errorf("%w: max_heap_size smaller than region_size", ErrConfig)
	}
	if cfg.EvacThreshold <= 0 || cfg.EvacThreshold > 1 {
		cfg.EvacThreshold = 0.5
	}

	count := int(cfg.MaxHeapSize / cfg.RegionSize)
	a := newArena()
	mem, err := a.reserve(uintptr(count) * cfg.RegionSize)
	if err != nil {
		return nil, err
	}

	h := &Heap{
		arena:         a,
		mem:           mem,
		base:          uintptr(0),
		regionSize:    cfg.RegionSize,
		evacThreshold: cfg.EvacThreshold,
		numaDefault:   cfg.NUMANode,
		reservedBytes: uintptr(count) * cfg.RegionSize,
		regions:       make([]*Region, count),
		free:          make([]ID, 0, count),
		inFree:        make([]bool, count),
	}
	if len(mem) > 0 {
		h.base = sliceAddr(mem)
	}
	for i := 0; i < count; i++ {
		h.regions[i] = &Region{
			id:       ID(i),
			start:    h.base + uintptr(i)*cfg.RegionSize,
			size:     cfg.RegionSize,
			state:    Empty,
			numaNode: -1,
		}
		h.free = append(h.free, ID(i))
		h.inFree[i] = true
	}
	h.hasSmall = false
	return h, nil
}

// Close releases the heap's backing memory. The heap must not be used
// afterward.
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.arena.release(h.mem)
}

// RegionSize returns the configured fixed slab size.
func (h *Heap) RegionSize() uintptr { return h.regionSize }

// NumRegions returns the total number of regions carved out of the
// reserved range, used and free combined.
func (h *Heap) NumRegions() int { return len(h.regions) }

// Region returns the region at id, or false if id is out of range.
func (h *Heap) Region(id ID) (*Region, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(id) < 0 || int(id) >= len(h.regions) {
		return nil, false
	}
	return h.regions[id], true
}

// Allocate dispatches by size class. SMALL uses the current allocation
// region and bumps its pointer, pulling a fresh region from the free list
// on overflow. MEDIUM consumes a fresh region. LARGE consumes
// ⌈bytes/region_size⌉ contiguous regions. It returns ErrOutOfMemory if no
// suitable region (or contiguous run) exists.
func (h *Heap) Allocate(size uintptr, class SizeClass) (addr uintptr, regionID ID, err error) {
	return h.AllocateHinted(size, class, h.numaDefault)
}

// AllocateHinted behaves like Allocate but, when a fresh region must be
// carved from the free list, tags it with numaNode instead of the
// heap's default hint. The hint is bookkeeping only: allocation
// placement is unaffected, per spec.md's NUMA non-goal.
func (h *Heap) AllocateHinted(size uintptr, class SizeClass, numaNode int) (addr uintptr, regionID ID, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch class {
	case Small:
		return h.allocSmallLocked(size, numaNode)
	case Medium:
		return h.allocFreshLocked(size, numaNode)
	case Large:
		return h.allocLargeLocked(size, numaNode)
	default:
		return 0, 0, fmt.Errorf("region: unknown size class %d", class)
	}
}

func (h *Heap) allocSmallLocked(size uintptr, numaNode int) (uintptr, ID, error) {
	if h.hasSmall {
		r := h.regions[h.curSmall]
		if addr, ok := r.bump(size); ok {
			return addr, r.id, nil
		}
	}
	id, ok := h.takeFreeLocked()
	if !ok {
		return 0, 0, ErrOutOfMemory
	}
	r := h.regions[id]
	r.state = Used
	r.sizeClass = Small
	r.numaNode = numaNode
	h.curSmall = id
	h.hasSmall = true
	addr, ok := r.bump(size)
	if !ok {
		return 0, 0, fmt.Errorf("%w: object larger than region_size", ErrOutOfMemory)
	}
	return addr, id, nil
}

func (h *Heap) allocFreshLocked(size uintptr, numaNode int) (uintptr, ID, error) {
	id, ok := h.takeFreeLocked()
	if !ok {
		return 0, 0, ErrOutOfMemory
	}
	r := h.regions[id]
	r.state = Used
	r.sizeClass = Medium
	r.numaNode = numaNode
	addr, ok := r.bump(size)
	if !ok {
		h.returnFreeLocked(id)
		return 0, 0, fmt.Errorf("%w: object larger than region_size", ErrOutOfMemory)
	}
	return addr, id, nil
}

func (h *Heap) allocLargeLocked(size uintptr, numaNode int) (uintptr, ID, error) {
	n := int((size + h.regionSize - 1) / h.regionSize)
	if n < 1 {
		n = 1
	}
	start, ok := h.findContiguousFreeLocked(n)
	if !ok {
		return 0, 0, fmt.Errorf("%w: no contiguous run of %d regions", ErrOutOfMemory, n)
	}
	head := h.regions[start]
	for i := 0; i < n; i++ {
		id := ID(int(start) + i)
		h.removeFromFreeLocked(id)
		r := h.regions[id]
		r.state = Used
		r.sizeClass = Large
		r.numaNode = numaNode
		r.inSpan = true
		r.spanHead = start
		r.used = r.size // large objects occupy their whole span
		if i == 0 {
			r.spanLen = n
		}
	}
	return head.start, head.id, nil
}

// AllocateFromRegion bump-allocates size bytes from the region at id
// directly, bypassing the heap's own current-small-region tracking. It
// lets a caller that manages its own region identity (the generational
// layer's eden and survivor spaces) keep every allocation in the exact
// region it carved, rather than sharing the heap-wide small-object
// cursor with unrelated callers.
func (h *Heap) AllocateFromRegion(id ID, size uintptr) (addr uintptr, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(id) < 0 || int(id) >= len(h.regions) {
		return 0, false
	}
	return h.regions[id].bump(size)
}

// takeFreeLocked pops one region off the free list.
func (h *Heap) takeFreeLocked() (ID, bool) {
	if len(h.free) == 0 {
		return 0, false
	}
	id := h.free[len(h.free)-1]
	h.free = h.free[:len(h.free)-1]
	h.inFree[id] = false
	return id, true
}

func (h *Heap) removeFromFreeLocked(id ID) {
	if !h.inFree[id] {
		return
	}
	for i, v := range h.free {
		if v == id {
			h.free = append(h.free[:i], h.free[i+1:]...)
			break
		}
	}
	h.inFree[id] = false
}

func (h *Heap) returnFreeLocked(id ID) {
	if h.inFree[id] {
		return
	}
	h.regions[id].reset()
	h.free = append(h.free, id)
	h.inFree[id] = true
}

// findContiguousFreeLocked finds n free regions with consecutive IDs,
// returning the first ID of the run.
func (h *Heap) findContiguousFreeLocked(n int) (ID, bool) {
	run := 0
	for i := 0; i < len(h.regions); i++ {
		if h.inFree[i] {
			run++
			if run == n {
				return ID(i - n + 1), true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// FreeRegion zeroes a region's bookkeeping and returns it (and, if it is
// a LARGE span head, every member region) to the free list.
func (h *Heap) FreeRegion(id ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(id) < 0 || int(id) >= len(h.regions) {
		return ErrInvalidRegion
	}
	r := h.regions[id]
	if h.hasSmall && h.curSmall == id {
		h.hasSmall = false
	}
	n := 1
	head := id
	if r.inSpan {
		head = r.spanHead
		n = h.regions[head].spanLen
	}
	for i := 0; i < n; i++ {
		h.returnFreeLocked(ID(int(head) + i))
	}
	return nil
}

// BeginRelocating transitions a used region to RELOCATING. Pinned regions
// are left untouched and reported as such.
func (h *Heap) BeginRelocating(id ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(id) < 0 || int(id) >= len(h.regions) {
		return ErrInvalidRegion
	}
	r := h.regions[id]
	if r.state == Pinned {
		return fmt.Errorf("region: %d is pinned", id)
	}
	if r.state != Used {
		return fmt.Errorf("%w: region %d not USED", ErrInvalidRegion, id)
	}
	r.state = Relocating
	return nil
}

// AbortRelocating reverts a region from RELOCATING back to USED, for
// when one or more of its objects could not be evacuated (spec.md §4.7
// edge case: allocation failure aborts relocation for that object, and
// the source stays in place, so the region cannot be reclaimed).
func (h *Heap) AbortRelocating(id ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(id) < 0 || int(id) >= len(h.regions) {
		return ErrInvalidRegion
	}
	r := h.regions[id]
	if r.state != Relocating {
		return fmt.Errorf("%w: region %d not RELOCATING", ErrInvalidRegion, id)
	}
	r.state = Used
	return nil
}

// CompleteRelocation marks a region RELOCATED once its live objects have
// been evacuated; it does not yet return the region to the free list
// (spec.md requires a confirming safepoint first, see Heap.FreeRegion).
func (h *Heap) CompleteRelocation(id ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(id) < 0 || int(id) >= len(h.regions) {
		return ErrInvalidRegion
	}
	r := h.regions[id]
	if r.state != Relocating {
		return fmt.Errorf("%w: region %d not RELOCATING", ErrInvalidRegion, id)
	}
	r.state = Relocated
	return nil
}

// SetPinned marks a region PINNED, exempting it from relocation. It is
// idempotent.
func (h *Heap) SetPinned(id ID, pinned bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(id) < 0 || int(id) >= len(h.regions) {
		return ErrInvalidRegion
	}
	r := h.regions[id]
	if pinned {
		r.state = Pinned
	} else if r.state == Pinned {
		r.state = Used
	}
	return nil
}

// RelocationCandidates returns used regions whose live/used ratio is
// below the configured evacuation threshold.
func (h *Heap) RelocationCandidates() []ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []ID
	for _, r := range h.regions {
		if r.state == Used && r.LiveRatio() < h.evacThreshold {
			out = append(out, r.id)
		}
	}
	return out
}

// ShouldCollect reports whether used bytes over total reserved bytes
// exceeds triggerRatio.
func (h *Heap) ShouldCollect(triggerRatio float64) bool {
	s := h.Stats()
	if s.ReservedBytes == 0 {
		return false
	}
	return float64(s.UsedBytes)/float64(s.ReservedBytes) > triggerRatio
}

// Stats snapshots heap-wide bookkeeping for the metrics layer.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	var s Stats
	s.TotalRegions = len(h.regions)
	s.ReservedBytes = uint64(len(h.regions)) * uint64(h.regionSize)
	for _, r := range h.regions {
		switch r.state {
		case Empty:
			s.FreeRegions++
		case Used:
			s.UsedRegions++
		case Pinned:
			s.PinnedRegions++
		case Relocating:
			s.RelocatingCount++
		}
		s.UsedBytes += uint64(r.used)
		s.LiveBytes += uint64(r.liveBytes)
	}
	return s
}

// CheckBalance verifies spec.md's heap-balance invariant against
// reservedBytes, the capacity New reserved once at startup and never
// re-derives from the region table, and checks every region's free-list
// membership agrees with its state. Summing a region's own used and
// Free() fields is true by construction and can never observe a bug;
// comparing against the independently recorded reservation, and against
// free-list membership, actually can. Intended for tests and debug
// assertions, not the allocation hot path.
func (h *Heap) CheckBalance() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	var total uintptr
	for i, r := range h.regions {
		total += r.size
		if (r.state == Empty) != h.inFree[i] {
			return false
		}
	}
	return total == h.reservedBytes
}
