// Package drag models an in-progress pointer drag as an explicit state
// machine, independent of any UI event loop, so it can be driven by synthetic
// events in tests. It mutates board state purely in memory; committing the
// result is the reconciler's job.
package drag

import (
	"errors"

	"sprintboard/board"
	"sprintboard/domain"
)

// State of the drag machine.
type State int

const (
	StateIdle State = iota
	StateDragging
)

var (
	// ErrDragInProgress is returned when a drag starts while one is active.
	// The interaction model makes this impossible, so hitting it is an
	// invariant violation in the caller.
	ErrDragInProgress = errors.New("drag session already active")
	// ErrNoDrag is returned for hover/drop events outside a session.
	ErrNoDrag = errors.New("no drag session active")
	// ErrUnknownTask is returned when the dragged task is in no container.
	ErrUnknownTask = errors.New("dragged task not found in any container")
)

// Target identifies what the pointer was released over. A zero Target is an
// invalid drop (released outside any container) and aborts the session.
type Target struct {
	Valid     bool
	Container domain.ContainerRef
	TaskID    string // task element dropped onto; empty for container whitespace
}

// Drop is the finalized result of a gesture, handed to the move policy.
type Drop struct {
	Aborted  bool
	TaskID   string
	Origin   domain.ContainerRef // container at drag start
	Dest     domain.ContainerRef // container at drop time, post hover
	Index    int                 // target index within Dest, order-sorted
	Board    board.Board         // live board after the gesture
	Snapshot board.Board         // deep snapshot captured at drag start
}

// Machine tracks at most one drag session at a time.
type Machine struct {
	state    State
	taskID   string
	origin   domain.ContainerRef
	snapshot board.Board
	live     board.Board
}

func NewMachine() *Machine {
	return &Machine{}
}

func (m *Machine) State() State {
	return m.state
}

// Board returns the live, possibly speculatively mutated board.
func (m *Machine) Board() board.Board {
	return m.live
}

// StartDrag captures a deep snapshot of the board for guaranteed revert and
// locates the dragged task.
func (m *Machine) StartDrag(b board.Board, taskID string) error {
	if m.state != StateIdle {
		return ErrDragInProgress
	}
	origin, ok := b.FindContainer(taskID)
	if !ok {
		return ErrUnknownTask
	}
	m.state = StateDragging
	m.taskID = taskID
	m.origin = origin
	m.snapshot = b.Snapshot()
	m.live = b
	return nil
}

// HoverOver gives live feedback while the pointer crosses containers: the
// dragged task is speculatively transferred to the hovered container, in
// memory only. Hovering the container it already sits in is a no-op, and
// hovering back over the origin transfers it back.
func (m *Machine) HoverOver(target domain.ContainerRef) error {
	if m.state != StateDragging {
		return ErrNoDrag
	}
	current, ok := m.live.FindContainer(m.taskID)
	if !ok {
		return ErrUnknownTask
	}
	if current == target {
		return nil
	}
	next, task, err := m.live.RemoveTask(current, m.taskID)
	if err != nil {
		return err
	}
	srcTasks, _ := next.Tasks(current)
	next, err = next.WithContainer(current, board.Renumber(board.SortByOrder(srcTasks)))
	if err != nil {
		return err
	}
	destTasks, ok := next.Tasks(target)
	if !ok {
		return board.ErrContainerNotFound
	}
	next, err = next.WithContainer(target, board.InsertAt(destTasks, task, len(destTasks)))
	if err != nil {
		return err
	}
	m.live = next
	return nil
}

// Drop finalizes the gesture. An invalid target restores the snapshot taken
// at StartDrag, including any speculative cross-container transfers made
// while hovering. Either way the machine returns to idle; evaluating the
// drop is the move policy's job.
func (m *Machine) Drop(target Target) (Drop, error) {
	if m.state != StateDragging {
		return Drop{}, ErrNoDrag
	}
	result := Drop{
		TaskID:   m.taskID,
		Origin:   m.origin,
		Snapshot: m.snapshot,
	}
	defer m.reset()

	if !target.Valid {
		result.Aborted = true
		result.Board = m.snapshot
		return result, nil
	}

	// The hover path normally already moved the task into the drop container;
	// a drop without a preceding hover transfers it here.
	if err := m.HoverOver(target.Container); err != nil {
		return Drop{}, err
	}

	destTasks, _ := m.live.Tasks(target.Container)
	index := len(destTasks) - 1
	if target.TaskID != "" {
		// Dropping onto the dragged task itself resolves to its own index,
		// so the resulting reorder is a no-op.
		index = board.TargetIndex(destTasks, target.TaskID)
	}

	result.Dest = target.Container
	result.Index = index
	result.Board = m.live
	return result, nil
}

func (m *Machine) reset() {
	m.state = StateIdle
	m.taskID = ""
	m.origin = domain.ContainerRef{}
	m.snapshot = board.Board{}
	m.live = board.Board{}
}
