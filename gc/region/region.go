// Package region implements the collector's region-based heap: a reserved
// virtual-address range carved into fixed-size slabs, each tracked through
// a small state machine as it is allocated into, relocated, and freed.
package region

// SizeClass buckets an allocation request by how it is satisfied from the
// region heap.
type SizeClass uint8

const (
	// Small objects share a region via per-thread TLAB refills.
	Small SizeClass = iota
	// Medium objects consume a fresh region of their own.
	Medium
	// Large objects span multiple contiguous regions.
	Large
)

// State is a region's position in its EMPTY -> USED -> RELOCATING ->
// RELOCATED -> EMPTY lifecycle. Pinned is orthogonal: it blocks the first
// two transitions out of USED but is not itself part of the cycle.
type State uint8

const (
	Empty State = iota
	Used
	Relocating
	Relocated
	Pinned
)

func (s State) String() string {
	switch s {
	case Empty:
		return "EMPTY"
	case Used:
		return "USED"
	case Relocating:
		return "RELOCATING"
	case Relocated:
		return "RELOCATED"
	case Pinned:
		return "PINNED"
	default:
		return "UNKNOWN"
	}
}

// ID identifies a region by its index into the heap's region table.
type ID int32

// Region is a contiguous fixed-size heap slab. Used and LiveBytes are
// updated by the allocator and the marker respectively; state transitions
// are serialized by the owning Heap's lock.
type Region struct {
	id    ID
	start uintptr
	size  uintptr

	state     State
	sizeClass SizeClass

	// used is a bump pointer offset from start; it only grows while the
	// region is USED. LiveBytes is recomputed by a completed mark cycle
	// and drives relocation-candidate selection.
	used      uintptr
	liveBytes uintptr

	age uint32

	// numaNode is the NUMA hint the region was carved under, -1 if none.
	// It is bookkeeping only: the allocator never reads topology and
	// never steers allocation by it.
	numaNode int

	// inSpan, spanHead and spanLen describe a LARGE allocation's
	// contiguous region run. inSpan is set on every member region
	// including the head; spanLen (the run's length) is only meaningful
	// on the head, where spanHead == id.
	inSpan   bool
	spanHead ID
	spanLen  int
}

// ID returns the region's index in its heap.
func (r *Region) ID() ID { return r.id }

// Start returns the region's base address in the reserved arena.
func (r *Region) Start() uintptr { return r.start }

// Size returns the region's total capacity in bytes.
func (r *Region) Size() uintptr { return r.size }

// Used returns the number of bytes bumped out of this region so far.
func (r *Region) Used() uintptr { return r.used }

// LiveBytes returns the live-object total computed by the last completed
// mark cycle.
func (r *Region) LiveBytes() uintptr { return r.liveBytes }

// Free returns the remaining bump-allocatable capacity.
func (r *Region) Free() uintptr { return r.size - r.used }

// State returns the region's current lifecycle state.
func (r *Region) State() State { return r.state }

// SizeClass returns the class this region was carved for.
func (r *Region) SizeClass() SizeClass { return r.sizeClass }

// Age returns the region's age counter. It is reset to 0 when the region
// returns to the free list; nothing in this package increments it.
func (r *Region) Age() uint32 { return r.age }

// NUMANode returns the NUMA hint recorded when this region was carved
// from the free list, or -1 if none was given.
func (r *Region) NUMANode() int { return r.numaNode }

// LiveRatio returns LiveBytes/Used, or 1.0 for an empty region so it is
// never mistaken for a relocation candidate before its first mark cycle.
func (r *Region) LiveRatio() float64 {
	if r.used == 0 {
		return 1.0
	}
	return float64(r.liveBytes) / float64(r.used)
}

// SetLiveBytes records the result of a completed mark cycle's census.
func (r *Region) SetLiveBytes(n uintptr) { r.liveBytes = n }

// bump reserves n bytes from the region's free space, returning the
// resulting object's start address. Callers hold the heap lock.
func (r *Region) bump(n uintptr) (uintptr, bool) {
	if n > r.Free() {
		return 0, false
	}
	addr := r.start + r.used
	r.used += n
	return addr, true
}

// reset clears bookkeeping so the region can re-enter the free list.
func (r *Region) reset() {
	r.used = 0
	r.liveBytes = 0
	r.age = 0
	r.state = Empty
	r.numaNode = -1
	r.inSpan = false
	r.spanLen = 0
	r.spanHead = 0
}

// Stats is a point-in-time snapshot of heap-wide bookkeeping, exposed to
// the metrics layer.
type Stats struct {
	TotalRegions    int
	FreeRegions     int
	UsedRegions     int
	PinnedRegions   int
	RelocatingCount int
	UsedBytes       uint64
	LiveBytes       uint64
	ReservedBytes   uint64
}
