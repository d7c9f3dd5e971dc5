// Package hostiface defines the capability interface the collector core
// requires from a host mutator runtime. Per spec.md §9 ("Polymorphism over
// object shape"), this is the only abstraction the core needs over object
// layout — everything else (tracing, relocation, reference processing)
// is written against these six operations.
package hostiface

//go:generate mockgen -source=hostiface.go -destination=mock_runtime.go -package=hostiface

import "github.com/orizon-lang/zgc/gc/pointer"

// Header is the per-object metadata record described in spec.md §3
// ("Object header"). The host runtime owns its representation in heap
// memory; this struct is the value the collector reads and writes through
// Runtime.
type Header struct {
	// Size is the object's size in bytes, excluding the header itself.
	Size uintptr
	// TypeID is opaque to the collector; the runtime uses it to locate
	// reference fields via GetReferences.
	TypeID uint32
	// Age counts survived minor GCs, used by the generational layer's
	// promotion policy.
	Age uint8
	// Marked is set once the object has been visited during the current
	// mark cycle.
	Marked bool
	// Forwarded is set once the object has been evacuated; Forward then
	// holds its new location.
	Forwarded bool
	Forward   pointer.Ref
}

// Runtime is the capability interface a host mutator runtime implements
// and passes to gc.Init. The collector never otherwise assumes anything
// about how objects are laid out in memory.
type Runtime interface {
	// ReadHeader returns the header stored at ref's address. ok is false
	// if ref does not address a live object header (e.g. a stale or
	// corrupt reference).
	ReadHeader(ref pointer.Ref) (h Header, ok bool)

	// WriteHeader stores h at ref's address. Used by the collector to set
	// mark bits, ages, and forwarding information.
	WriteHeader(ref pointer.Ref, h Header)

	// GetReferences returns the outgoing references held by the object
	// described by h, addressed at ref. The marker pushes these onto its
	// worklist.
	GetReferences(h Header, ref pointer.Ref) []pointer.Ref

	// ReadBytes returns a copy of the object's payload bytes (excluding
	// the header), used by the relocator to copy an object to its new
	// location.
	ReadBytes(ref pointer.Ref, size uintptr) []byte

	// WriteBytes installs data as the object's payload bytes at ref.
	WriteBytes(ref pointer.Ref, data []byte)

	// Roots returns the current root set: thread stacks, globals, and
	// any TLAB-embedded roots (spec.md §4.6).
	Roots() []pointer.Ref
}
