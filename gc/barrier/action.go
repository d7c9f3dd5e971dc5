// Package barrier implements the collector's load and write barriers: the
// only points where a mutator thread's view of a reference can diverge
// from the heap's canonical state, and therefore the only places that
// need to know about an in-progress mark or relocation cycle.
package barrier

// Action reports what a load barrier invocation did, for the runtime's
// instrumentation and for tests.
type Action uint8

const (
	None Action = iota
	Mark
	Relocate
	Heal
)

func (a Action) String() string {
	switch a {
	case None:
		return "NONE"
	case Mark:
		return "MARK"
	case Relocate:
		return "RELOCATE"
	case Heal:
		return "HEAL"
	default:
		return "UNKNOWN"
	}
}
