package board

import (
	"github.com/rs/zerolog"

	"veriline/internal/machine"
)

// Controller runs the drag interaction cycle: drag-start computes the
// allowed destination columns, drag-end validates the drop, applies the
// transition, reindexes the board, and dispatches the persistence write.
type Controller struct {
	Board  *Board
	Def    *machine.Definition
	Writes *WriteQueue
	Log    zerolog.Logger

	drag *dragState
}

type dragState struct {
	unitID  int
	source  string
	allowed []string
}

// DragStart enters the dragging state and returns the columns the unit may
// legally move to. Lookup failures return nil (no highlighting) but do not
// block the drag; correctness is enforced at the drop.
func (c *Controller) DragStart(unitID int, sourceColumn string) []string {
	c.drag = &dragState{unitID: unitID, source: sourceColumn}
	unit, col, ok := c.Board.Find(unitID)
	if !ok || col != sourceColumn {
		return nil
	}
	snap, err := machine.DecodeSnapshot(unit.State)
	if err != nil {
		c.Log.Debug().Err(err).Int("unit", unitID).Msg("snapshot decode failed; no highlighting")
		return nil
	}
	resolved := machine.Resolve(c.Def, snap)
	var allowed []string
	for _, ev := range resolved.NextEvents {
		col := machine.EventColumn(ev)
		if c.Board.Has(col) {
			allowed = append(allowed, col)
		}
	}
	c.drag.allowed = allowed
	return append([]string(nil), allowed...)
}

// Allowed returns the destination columns of the drag in progress, if any.
func (c *Controller) Allowed() []string {
	if c.drag == nil {
		return nil
	}
	return append([]string(nil), c.drag.allowed...)
}

// DragEnd leaves the dragging state and, for a legal drop, applies the
// transition, moves the unit to the destination at the drop index, and
// dispatches the persistence write without awaiting it. The reported bool
// is whether a move was applied. Allowed columns clear unconditionally, so
// stale highlighting never survives past one interaction.
func (c *Controller) DragEnd(destinationColumn string, at int) bool {
	drag := c.drag
	c.drag = nil
	if drag == nil {
		return false
	}
	if destinationColumn == "" || !c.Board.Has(destinationColumn) {
		return false
	}
	unit, col, ok := c.Board.Find(drag.unitID)
	if !ok || col != drag.source {
		return false
	}
	snap, err := machine.DecodeSnapshot(unit.State)
	if err != nil {
		c.Log.Debug().Err(err).Int("unit", unit.ID).Msg("snapshot decode failed on drop")
		return false
	}
	event := machine.ColumnEvent(destinationColumn)
	next, changed := machine.Transition(c.Def, snap, event)
	if !changed {
		// Illegal move; silent no-op.
		return false
	}
	unit.State = machine.EncodeSnapshot(next)
	// Board mutation strictly precedes the write dispatch: the local view
	// is always ahead of or equal to the store, never behind.
	c.Board.Move(unit, drag.source, destinationColumn, at)
	if c.Writes != nil {
		c.Writes.Enqueue(unit.ID, unit.State)
	}
	return true
}
