package domain

import "time"

// SprintStatus is the lifecycle state of a sprint container.
type SprintStatus string

const (
	SprintPlanned   SprintStatus = "PLANNED"
	SprintActive    SprintStatus = "ACTIVE"
	SprintUAT       SprintStatus = "UAT"
	SprintCompleted SprintStatus = "COMPLETED"
)

// Sprint is a dated task container. Task membership lives on the tasks
// themselves (Task.SprintID); the board model groups them.
type Sprint struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	StartDate *time.Time   `json:"startDate,omitempty"`
	EndDate   *time.Time   `json:"endDate,omitempty"`
	Status    SprintStatus `json:"status"`
}

// CanTransition reports whether a sprint may move from one lifecycle status to
// another. Reactivating a completed sprint is reserved for admins.
func CanTransition(from, to SprintStatus, admin bool) bool {
	switch {
	case from == SprintPlanned && to == SprintActive:
		return true
	case from == SprintActive && to == SprintUAT:
		return true
	case from == SprintActive && to == SprintCompleted:
		return true
	case from == SprintUAT && to == SprintCompleted:
		return true
	case from == SprintCompleted && to == SprintActive:
		return admin
	default:
		return false
	}
}

// OpenForTransition reports whether a still-open task must be dispositioned
// when its sprint transitions to the given status. For a move to UAT,
// READY_TO_TEST tasks are allowed to remain and are not considered open.
func OpenForTransition(status TaskStatus, to SprintStatus) bool {
	if status.Closed() {
		return false
	}
	if to == SprintUAT && status == StatusReadyToTest {
		return false
	}
	return true
}

// DispositionAction is the bulk action applied to a sprint's open tasks
// during a lifecycle transition.
type DispositionAction string

const (
	DispositionCloseAll DispositionAction = "close_all"
	DispositionMoveAll  DispositionAction = "move_all"
	DispositionSplitAll DispositionAction = "split_all"
)

// Disposition pairs the bulk action with its target sprint. TargetSprintID is
// nil for close_all and for moves/splits targeting the backlog.
type Disposition struct {
	Action         DispositionAction `json:"action"`
	TargetSprintID *string           `json:"targetSprintId,omitempty"`
}
