// Package phase defines the collector's phase-sequencing enum, shared by
// the controller (which drives transitions) and the barriers, marker,
// relocator and reference processor (which read the current phase to
// decide their behavior). Keeping it in its own package lets those
// consumers avoid importing gc/controller directly.
package phase

import "sync/atomic"

// Phase is a position in the collector's state machine:
// IDLE -> MARK -> MARK_IDLE -> RELOCATE -> RELOCATE_IDLE -> CLEANUP -> IDLE.
type Phase int32

const (
	Idle Phase = iota
	Mark
	MarkIdle
	Relocate
	RelocateIdle
	Cleanup
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "IDLE"
	case Mark:
		return "MARK"
	case MarkIdle:
		return "MARK_IDLE"
	case Relocate:
		return "RELOCATE"
	case RelocateIdle:
		return "RELOCATE_IDLE"
	case Cleanup:
		return "CLEANUP"
	default:
		return "UNKNOWN"
	}
}

// IsMarking reports whether SATB pre-write barriers and the marker's
// work-stack draining should be active.
func (p Phase) IsMarking() bool { return p == Mark || p == MarkIdle }

// IsRelocating reports whether the load barrier should consult the
// forwarding table.
func (p Phase) IsRelocating() bool { return p == Relocate || p == RelocateIdle }

// Var is an atomically readable/writable Phase, published by the
// controller and read by every other component without locking.
type Var struct {
	v atomic.Int32
}

// Load returns the current phase.
func (pv *Var) Load() Phase { return Phase(pv.v.Load()) }

// Store publishes a new phase.
func (pv *Var) Store(p Phase) { pv.v.Store(int32(p)) }
