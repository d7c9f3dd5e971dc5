package barrier

import (
	"sync/atomic"

	"github.com/orizon-lang/zgc/gc/phase"
	"github.com/orizon-lang/zgc/gc/pointer"
)

// ColorState holds the two colors every barrier invocation consults: the
// currently "good" color (a reference carrying it needs no barrier work)
// and the mark color for the in-progress cycle. Both are updated only by
// the controller's phase transitions and read without locking elsewhere.
type ColorState struct {
	good      atomic.Int32
	markColor atomic.Int32
}

// NewColorState returns a ColorState in its steady IDLE configuration:
// good references carry ColorRemapped.
func NewColorState() *ColorState {
	cs := &ColorState{}
	cs.good.Store(int32(pointer.ColorRemapped))
	cs.markColor.Store(int32(pointer.ColorMarked0))
	return cs
}

// Good returns the color a reference must carry to skip all barrier work.
func (cs *ColorState) Good() pointer.Color { return pointer.Color(cs.good.Load()) }

// MarkColor returns the mark color for the in-progress (or most recent)
// mark cycle.
func (cs *ColorState) MarkColor() pointer.Color { return pointer.Color(cs.markColor.Load()) }

// OnPhaseChange updates colors as the controller transitions phases. Per
// the mark/relocate healing rule: heal to the mark color during
// MARK/MARK_IDLE, and only adopt REMAPPED as the good color once
// RELOCATE_IDLE or CLEANUP is reached.
func (cs *ColorState) OnPhaseChange(p phase.Phase) {
	switch p {
	case phase.Mark:
		next := pointer.ColorMarked1
		if cs.MarkColor() == pointer.ColorMarked1 {
			next = pointer.ColorMarked0
		}
		cs.markColor.Store(int32(next))
		cs.good.Store(int32(next))
	case phase.RelocateIdle, phase.Cleanup:
		cs.good.Store(int32(pointer.ColorRemapped))
	}
}
