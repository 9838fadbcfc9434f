package board

import (
	"sort"

	"sprintboard/domain"
)

// SortByOrder returns the tasks sorted ascending by Order. The sort is stable
// so equal order values keep their list position, which is what breaks ties
// deterministically.
func SortByOrder(tasks []domain.Task) []domain.Task {
	out := make([]domain.Task, len(tasks))
	copy(out, tasks)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// TargetIndex resolves the visual position of a drop inside a container: the
// index of the drop-target task in order-sorted sequence, or len(tasks) when
// the drop landed on empty space below the list.
func TargetIndex(tasks []domain.Task, targetTaskID string) int {
	sorted := SortByOrder(tasks)
	for i, t := range sorted {
		if t.ID == targetTaskID {
			return i
		}
	}
	return len(tasks)
}

// Reorder splices the task from its current position to toIndex within the
// container's order-sorted sequence and renumbers the whole list densely.
// Renumbering on every reorder is intentional: it keeps Order a direct proxy
// for the render position and avoids drift from repeated insertions. After
// renumbering, a task's Order and its sorted index coincide, so a drop
// target's existing Order doubles as the splice index.
func Reorder(tasks []domain.Task, taskID string, toIndex int) ([]domain.Task, error) {
	sorted := SortByOrder(tasks)
	from := -1
	for i, t := range sorted {
		if t.ID == taskID {
			from = i
			break
		}
	}
	if from == -1 {
		return nil, ErrTaskNotInContainer
	}
	if toIndex < 0 {
		toIndex = 0
	}
	if toIndex >= len(sorted) {
		toIndex = len(sorted) - 1
	}
	if from == toIndex {
		return Renumber(sorted), nil
	}
	moved := sorted[from]
	rest := append(sorted[:from], sorted[from+1:]...)
	out := make([]domain.Task, 0, len(rest)+1)
	out = append(out, rest[:toIndex]...)
	out = append(out, moved)
	out = append(out, rest[toIndex:]...)
	return Renumber(out), nil
}

// InsertAt splices the task into the order-sorted sequence at the given index
// (clamped to the end) and renumbers densely. Used when a task enters a
// container from outside.
func InsertAt(tasks []domain.Task, task domain.Task, atIndex int) []domain.Task {
	sorted := SortByOrder(tasks)
	if atIndex < 0 {
		atIndex = 0
	}
	if atIndex > len(sorted) {
		atIndex = len(sorted)
	}
	out := make([]domain.Task, 0, len(sorted)+1)
	out = append(out, sorted[:atIndex]...)
	out = append(out, task)
	out = append(out, sorted[atIndex:]...)
	return Renumber(out)
}

// Renumber assigns Order = list index to every task. Idempotent.
func Renumber(tasks []domain.Task) []domain.Task {
	out := make([]domain.Task, len(tasks))
	copy(out, tasks)
	for i := range out {
		out[i].Order = i
	}
	return out
}
