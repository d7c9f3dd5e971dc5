package main

import (
	"sync"

	"github.com/orizon-lang/zgc/gc/hostiface"
	"github.com/orizon-lang/zgc/gc/pointer"
)

// demoRuntime is a toy mutator: every object is a fixed-size byte blob
// with no outgoing references, reachable only if the demo loop chose to
// keep it as a root. It exists to drive the collector end to end without
// pulling in the compiler front-end the collector itself never depends
// on.
type demoRuntime struct {
	mu      sync.Mutex
	headers map[uintptr]hostiface.Header
	bytes   map[uintptr][]byte
	roots   []pointer.Ref
}

func newDemoRuntime() *demoRuntime {
	return &demoRuntime{
		headers: make(map[uintptr]hostiface.Header),
		bytes:   make(map[uintptr][]byte),
	}
}

func (d *demoRuntime) ReadHeader(ref pointer.Ref) (hostiface.Header, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.headers[ref.Address()]
	return h, ok
}

func (d *demoRuntime) WriteHeader(ref pointer.Ref, h hostiface.Header) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.headers[ref.Address()] = h
}

func (d *demoRuntime) GetReferences(hostiface.Header, pointer.Ref) []pointer.Ref {
	return nil
}

func (d *demoRuntime) ReadBytes(ref pointer.Ref, size uintptr) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.bytes[ref.Address()]
	if !ok {
		return make([]byte, size)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (d *demoRuntime) WriteBytes(ref pointer.Ref, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	d.bytes[ref.Address()] = cp
}

func (d *demoRuntime) Roots() []pointer.Ref {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]pointer.Ref, len(d.roots))
	copy(out, d.roots)
	return out
}

// addRoot keeps ref reachable, simulating a mutator holding a long-lived
// pointer to it.
func (d *demoRuntime) addRoot(ref pointer.Ref) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roots = append(d.roots, ref)
}

// dropOldestRoots releases up to n of the oldest roots, simulating a
// mutator letting objects go out of scope.
func (d *demoRuntime) dropOldestRoots(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n > len(d.roots) {
		n = len(d.roots)
	}
	d.roots = d.roots[n:]
}

func (d *demoRuntime) rootCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.roots)
}
