// Package pin implements the collector's pinning table: handle-based
// exemption from relocation described in spec.md §4.10.
package pin

import (
	"errors"
	"sync"
	"time"

	"github.com/orizon-lang/zgc/gc/pointer"
)

// ErrTableFull is returned by Pin when the table already holds
// MaxPins entries.
var ErrTableFull = errors.New("pin: table at capacity")

// ErrInvalidHandle is returned by Unpin/AddRef for an unknown handle;
// callers are expected to treat it as a no-op and record it in
// metrics, not propagate it as a fatal error.
var ErrInvalidHandle = errors.New("pin: invalid handle")

// Handle identifies one pin table entry.
type Handle uint64

// Config bounds the pin table's capacity and aging policy.
type Config struct {
	MaxPins        int
	MaxPinDuration time.Duration
	AllowNested    bool
}

// Option configures a Table at construction time.
type Option func(*Config)

// DefaultConfig returns spec.md's default max_pins of 10000 and no
// forced expiry.
func DefaultConfig() Config {
	return Config{MaxPins: 10000, MaxPinDuration: 0, AllowNested: true}
}

// WithMaxPins overrides the table's capacity.
func WithMaxPins(n int) Option { return func(c *Config) { c.MaxPins = n } }

// WithMaxPinDuration sets the age past which Sweep may forcibly
// release a pin at a safepoint.
func WithMaxPinDuration(d time.Duration) Option { return func(c *Config) { c.MaxPinDuration = d } }

type entry struct {
	ref      pointer.Ref
	threadID uint64
	refCount int
	pinnedAt time.Time
}

// Table is the process-wide pinning table. A handle's entry keeps the
// referenced object's address constant for as long as its ref-count
// stays above zero; the relocator consults IsPinned before evacuating
// a region.
type Table struct {
	mu      sync.Mutex
	cfg     Config
	entries map[Handle]*entry
	byAddr  map[uintptr]int // addr -> number of live handles pinning it
	next    Handle

	expired uint64
}

// New returns an empty pin table.
func New(opts ...Option) *Table {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Table{
		cfg:     cfg,
		entries: make(map[Handle]*entry),
		byAddr:  make(map[uintptr]int),
	}
}

// Pin records a new pin on ref, returning a handle. It returns
// ErrTableFull once the table holds MaxPins entries.
func (t *Table) Pin(ref pointer.Ref, threadID uint64, now time.Time) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) >= t.cfg.MaxPins {
		return 0, ErrTableFull
	}
	t.next++
	h := t.next
	t.entries[h] = &entry{ref: ref, threadID: threadID, refCount: 1, pinnedAt: now}
	t.byAddr[ref.Address()]++
	return h, nil
}

// AddRef increments a handle's reference count, supporting nested
// scoped pins on the same object (spec.md §4.10's "allow_nested").
func (t *Table) AddRef(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok {
		return ErrInvalidHandle
	}
	e.refCount++
	return nil
}

// Unpin decrements a handle's reference count, removing the entry and
// freeing the address for relocation once the count reaches zero.
func (t *Table) Unpin(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok {
		return ErrInvalidHandle
	}
	e.refCount--
	if e.refCount <= 0 {
		delete(t.entries, h)
		t.byAddr[e.ref.Address()]--
		if t.byAddr[e.ref.Address()] <= 0 {
			delete(t.byAddr, e.ref.Address())
		}
	}
	return nil
}

// IsPinned implements relocate.PinChecker.
func (t *Table) IsPinned(addr uintptr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byAddr[addr] > 0
}

// Len returns the number of live pin entries, for metrics' gauge.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Scope pins ref for the lifetime of the returned release function,
// wrapping Pin + automatic Unpin (spec.md §4.10's "scoped pins").
func (t *Table) Scope(ref pointer.Ref, threadID uint64, now time.Time) (release func(), err error) {
	h, err := t.Pin(ref, threadID, now)
	if err != nil {
		return func() {}, err
	}
	return func() { _ = t.Unpin(h) }, nil
}

// CriticalSection pins every ref in refs atomically: either all of
// them succeed, or none do (spec.md §4.10's all-or-nothing batch pin).
// The returned release function unpins every handle it acquired.
func (t *Table) CriticalSection(refs []pointer.Ref, threadID uint64, now time.Time) (release func(), err error) {
	t.mu.Lock()
	if len(t.entries)+len(refs) > t.cfg.MaxPins {
		t.mu.Unlock()
		return func() {}, ErrTableFull
	}
	handles := make([]Handle, 0, len(refs))
	for _, ref := range refs {
		t.next++
		h := t.next
		t.entries[h] = &entry{ref: ref, threadID: threadID, refCount: 1, pinnedAt: now}
		t.byAddr[ref.Address()]++
		handles = append(handles, h)
	}
	t.mu.Unlock()

	return func() {
		for _, h := range handles {
			_ = t.Unpin(h)
		}
	}, nil
}

// Sweep forcibly releases pins older than MaxPinDuration (spec.md §4.6's
// cancellation/timeout section). The controller does not call it. It
// returns the number of pins it force-released.
func (t *Table) Sweep(now time.Time) int {
	if t.cfg.MaxPinDuration <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var released int
	for h, e := range t.entries {
		if now.Sub(e.pinnedAt) > t.cfg.MaxPinDuration {
			delete(t.entries, h)
			t.byAddr[e.ref.Address()]--
			if t.byAddr[e.ref.Address()] <= 0 {
				delete(t.byAddr, e.ref.Address())
			}
			released++
			t.expired++
		}
	}
	return released
}

// ExpiredCount returns the number of pins Sweep has force-released
// over this table's lifetime, for metrics.
func (t *Table) ExpiredCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}
