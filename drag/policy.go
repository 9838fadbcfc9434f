package drag

import (
	"sprintboard/board"
	"sprintboard/domain"
)

// Outcome classifies a completed drop.
type Outcome int

const (
	// OutcomeAborted — invalid target, board already restored.
	OutcomeAborted Outcome = iota
	// OutcomeReorder — same-container move, committed without confirmation.
	OutcomeReorder
	// OutcomeConfirmMove — cross-container move, user must confirm Move.
	OutcomeConfirmMove
	// OutcomeConfirmMoveOrSplit — cross-container move out of an ACTIVE
	// sprint, user may pick Move or Split.
	OutcomeConfirmMoveOrSplit
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReorder:
		return "reorder"
	case OutcomeConfirmMove:
		return "confirm-move"
	case OutcomeConfirmMoveOrSplit:
		return "confirm-move-or-split"
	default:
		return "aborted"
	}
}

// PendingMove is a cross-container relocation awaiting explicit confirmation.
type PendingMove struct {
	TaskID       string
	Origin       domain.ContainerRef
	OriginStatus domain.SprintStatus // empty when the origin is the backlog
	Dest         domain.ContainerRef
	Index        int
	Board        board.Board // optimistic board shown while the dialog is up
	Snapshot     board.Board // pre-drag state restored on Cancel
}

// Decide applies the move policy to a completed drop. Same-container drops
// commit immediately as reorders; every cross-container drop requires
// confirmation so an accidental drag cannot silently change sprint scope, and
// only moves out of an ACTIVE sprint offer the Split alternative, because
// that is the case that affects commitment tracking.
func Decide(d Drop) (Outcome, PendingMove) {
	if d.Aborted {
		return OutcomeAborted, PendingMove{}
	}

	pending := PendingMove{
		TaskID:   d.TaskID,
		Origin:   d.Origin,
		Dest:     d.Dest,
		Index:    d.Index,
		Board:    d.Board,
		Snapshot: d.Snapshot,
	}
	if sprint, ok := d.Snapshot.Sprint(d.Origin); ok {
		pending.OriginStatus = sprint.Status
	}

	if d.Origin == d.Dest {
		return OutcomeReorder, pending
	}
	if pending.OriginStatus == domain.SprintActive {
		return OutcomeConfirmMoveOrSplit, pending
	}
	return OutcomeConfirmMove, pending
}
