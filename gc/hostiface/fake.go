package hostiface

import (
	"sync"

	"github.com/orizon-lang/zgc/gc/pointer"
)

// FakeRuntime is a minimal in-memory Runtime used by the collector's own
// package tests to build small object graphs without a real mutator.
// Objects are keyed by address, not by the full colored Ref, matching the
// real contract that healing a reference's color never changes its
// identity. It is not part of the public collector API.
type FakeRuntime struct {
	mu      sync.Mutex
	headers map[uintptr]Header
	refs    map[uintptr][]pointer.Ref
	bytes   map[uintptr][]byte
	roots   []pointer.Ref
}

// NewFakeRuntime returns an empty FakeRuntime.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		headers: make(map[uintptr]Header),
		refs:    make(map[uintptr][]pointer.Ref),
		bytes:   make(map[uintptr][]byte),
	}
}

// Put registers an object at ref with header h and outgoing references
// pointing at other objects.
func (f *FakeRuntime) Put(ref pointer.Ref, h Header, outgoing []pointer.Ref) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers[ref.Address()] = h
	f.refs[ref.Address()] = outgoing
}

// AddRoot adds ref to the root set returned by Roots.
func (f *FakeRuntime) AddRoot(ref pointer.Ref) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roots = append(f.roots, ref)
}

// SetRoots replaces the root set wholesale.
func (f *FakeRuntime) SetRoots(refs []pointer.Ref) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roots = append([]pointer.Ref(nil), refs...)
}

// Header returns the header currently stored at addr, for test assertions.
func (f *FakeRuntime) Header(addr uintptr) (Header, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.headers[addr]
	return h, ok
}

func (f *FakeRuntime) ReadHeader(ref pointer.Ref) (Header, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.headers[ref.Address()]
	return h, ok
}

func (f *FakeRuntime) WriteHeader(ref pointer.Ref, h Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers[ref.Address()] = h
}

func (f *FakeRuntime) GetReferences(h Header, ref pointer.Ref) []pointer.Ref {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pointer.Ref(nil), f.refs[ref.Address()]...)
}

func (f *FakeRuntime) ReadBytes(ref pointer.Ref, size uintptr) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.bytes[ref.Address()]
	out := make([]byte, size)
	copy(out, b)
	return out
}

func (f *FakeRuntime) WriteBytes(ref pointer.Ref, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bytes[ref.Address()] = append([]byte(nil), data...)
}

// Move copies bookkeeping for an object from oldAddr to newAddr, mirroring
// what a real runtime's relocation copy would leave behind.
func (f *FakeRuntime) Move(oldAddr, newAddr uintptr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers[newAddr] = f.headers[oldAddr]
	f.refs[newAddr] = f.refs[oldAddr]
	f.bytes[newAddr] = f.bytes[oldAddr]
}

func (f *FakeRuntime) Roots() []pointer.Ref {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pointer.Ref(nil), f.roots...)
}
