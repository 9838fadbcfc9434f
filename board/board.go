// Package board holds the in-memory container model for one project: the
// single backlog plus its sprints, each with an ordered task list.
//
// Every mutating helper returns a fresh Board value whose touched container
// lists are newly allocated, so a caller can hold any earlier Board as a
// revert snapshot. Task values are shared structurally; whole-list swaps keep
// readers from ever observing a task in two containers at once.
package board

import (
	"errors"

	"sprintboard/domain"
)

var (
	// ErrTaskNotInContainer signals a lookup that expected to find a task in a
	// container. It is an internal consistency violation, not user input.
	ErrTaskNotInContainer = errors.New("task not in container")
	// ErrContainerNotFound signals an operation against an unknown sprint.
	ErrContainerNotFound = errors.New("container not found")
)

// SprintColumn pairs a sprint with its ordered task list.
type SprintColumn struct {
	Sprint domain.Sprint
	Tasks  []domain.Task
}

// Board is one project's containers.
type Board struct {
	Backlog []domain.Task
	Sprints []SprintColumn
}

// Tasks returns the task list of the referenced container.
func (b Board) Tasks(ref domain.ContainerRef) ([]domain.Task, bool) {
	if ref.IsBacklog() {
		return b.Backlog, true
	}
	id, _ := ref.SprintID()
	for _, col := range b.Sprints {
		if col.Sprint.ID == id {
			return col.Tasks, true
		}
	}
	return nil, false
}

// Sprint returns the sprint named by the ref.
func (b Board) Sprint(ref domain.ContainerRef) (domain.Sprint, bool) {
	id, ok := ref.SprintID()
	if !ok {
		return domain.Sprint{}, false
	}
	for _, col := range b.Sprints {
		if col.Sprint.ID == id {
			return col.Sprint, true
		}
	}
	return domain.Sprint{}, false
}

// FindContainer locates the container currently holding the task by scanning
// each container's list.
func (b Board) FindContainer(taskID string) (domain.ContainerRef, bool) {
	for _, t := range b.Backlog {
		if t.ID == taskID {
			return domain.Backlog(), true
		}
	}
	for _, col := range b.Sprints {
		for _, t := range col.Tasks {
			if t.ID == taskID {
				return domain.SprintRef(col.Sprint.ID), true
			}
		}
	}
	return domain.ContainerRef{}, false
}

// Task returns the task by id together with its container.
func (b Board) Task(taskID string) (domain.Task, domain.ContainerRef, bool) {
	ref, ok := b.FindContainer(taskID)
	if !ok {
		return domain.Task{}, domain.ContainerRef{}, false
	}
	tasks, _ := b.Tasks(ref)
	for _, t := range tasks {
		if t.ID == taskID {
			return t, ref, true
		}
	}
	return domain.Task{}, domain.ContainerRef{}, false
}

// WithContainer swaps in a replacement task list for one container, returning
// a new Board. The untouched containers are shared with the receiver.
func (b Board) WithContainer(ref domain.ContainerRef, tasks []domain.Task) (Board, error) {
	if ref.IsBacklog() {
		b.Backlog = tasks
		return b, nil
	}
	id, _ := ref.SprintID()
	for i, col := range b.Sprints {
		if col.Sprint.ID != id {
			continue
		}
		sprints := make([]SprintColumn, len(b.Sprints))
		copy(sprints, b.Sprints)
		sprints[i].Tasks = tasks
		b.Sprints = sprints
		return b, nil
	}
	return b, ErrContainerNotFound
}

// WithSprint swaps in a replacement sprint value, keeping its task list.
func (b Board) WithSprint(sprint domain.Sprint) (Board, error) {
	for i, col := range b.Sprints {
		if col.Sprint.ID != sprint.ID {
			continue
		}
		sprints := make([]SprintColumn, len(b.Sprints))
		copy(sprints, b.Sprints)
		sprints[i].Sprint = sprint
		b.Sprints = sprints
		return b, nil
	}
	return b, ErrContainerNotFound
}

// RemoveTask removes and returns the task from the referenced container.
func (b Board) RemoveTask(ref domain.ContainerRef, taskID string) (Board, domain.Task, error) {
	tasks, ok := b.Tasks(ref)
	if !ok {
		return b, domain.Task{}, ErrContainerNotFound
	}
	for i, t := range tasks {
		if t.ID != taskID {
			continue
		}
		next := make([]domain.Task, 0, len(tasks)-1)
		next = append(next, tasks[:i]...)
		next = append(next, tasks[i+1:]...)
		out, err := b.WithContainer(ref, next)
		return out, t, err
	}
	return b, domain.Task{}, ErrTaskNotInContainer
}

// InsertTask inserts the task at the given index, clamped to [0, len]. The
// task's SprintID is rewritten to match the destination container.
func (b Board) InsertTask(ref domain.ContainerRef, task domain.Task, atIndex int) (Board, error) {
	tasks, ok := b.Tasks(ref)
	if !ok {
		return b, ErrContainerNotFound
	}
	if atIndex < 0 {
		atIndex = 0
	}
	if atIndex > len(tasks) {
		atIndex = len(tasks)
	}
	task.SprintID = ref.SprintIDPtr()
	next := make([]domain.Task, 0, len(tasks)+1)
	next = append(next, tasks[:atIndex]...)
	next = append(next, task)
	next = append(next, tasks[atIndex:]...)
	return b.WithContainer(ref, next)
}

// Snapshot deep-copies every container list so the result stays valid as a
// revert target no matter what later mutations do.
func (b Board) Snapshot() Board {
	out := Board{Backlog: cloneTasks(b.Backlog)}
	if b.Sprints != nil {
		out.Sprints = make([]SprintColumn, len(b.Sprints))
		for i, col := range b.Sprints {
			out.Sprints[i] = SprintColumn{Sprint: col.Sprint, Tasks: cloneTasks(col.Tasks)}
		}
	}
	return out
}

func cloneTasks(tasks []domain.Task) []domain.Task {
	if tasks == nil {
		return nil
	}
	out := make([]domain.Task, len(tasks))
	copy(out, tasks)
	for i := range out {
		if out[i].SplitTasks != nil {
			st := make([]string, len(out[i].SplitTasks))
			copy(st, out[i].SplitTasks)
			out[i].SplitTasks = st
		}
	}
	return out
}

// Equal reports structural equality of two boards: same tasks in the same
// containers in the same order with the same order values.
func Equal(a, b Board) bool {
	if !tasksEqual(a.Backlog, b.Backlog) {
		return false
	}
	if len(a.Sprints) != len(b.Sprints) {
		return false
	}
	for i := range a.Sprints {
		if a.Sprints[i].Sprint.ID != b.Sprints[i].Sprint.ID {
			return false
		}
		if a.Sprints[i].Sprint.Status != b.Sprints[i].Sprint.Status {
			return false
		}
		if !tasksEqual(a.Sprints[i].Tasks, b.Sprints[i].Tasks) {
			return false
		}
	}
	return true
}

func tasksEqual(a, b []domain.Task) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Order != b[i].Order {
			return false
		}
	}
	return true
}
