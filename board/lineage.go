package board

import (
	"errors"

	"sprintboard/domain"
)

// ErrLineageCycle is returned when chain traversal does not terminate within
// the number of known tasks. Split lineage is a simple path by construction,
// so hitting this means the stored pointers are corrupt.
var ErrLineageCycle = errors.New("split lineage contains a cycle")

// Chain is the derived, read-only view of a task's split lineage: the ordered
// sequence from the root task to the newest continuation, plus the number of
// distinct containers the chain has passed through.
type Chain struct {
	Tasks      []domain.Task
	Containers int
}

// TaskIndex builds an id lookup over every task on the board, used to resolve
// lineage pointers.
func (b Board) TaskIndex() map[string]domain.Task {
	index := make(map[string]domain.Task, len(b.Backlog))
	for _, t := range b.Backlog {
		index[t.ID] = t
	}
	for _, col := range b.Sprints {
		for _, t := range col.Tasks {
			index[t.ID] = t
		}
	}
	return index
}

// ChainFor walks splitFrom pointers back to the root of the lineage and
// splitTasks pointers forward to the newest continuation. When a task has
// been split more than once the most recent continuation is followed.
// Traversal is bounded by the index size so corrupt pointers fail instead of
// hanging.
func ChainFor(taskID string, index map[string]domain.Task) (Chain, error) {
	task, ok := index[taskID]
	if !ok {
		return Chain{}, ErrTaskNotInContainer
	}

	limit := len(index) + 1

	root := task
	for steps := 0; root.SplitFrom != ""; steps++ {
		if steps >= limit {
			return Chain{}, ErrLineageCycle
		}
		prev, ok := index[root.SplitFrom]
		if !ok {
			break
		}
		root = prev
	}

	chain := Chain{}
	seen := make(map[string]struct{})
	containers := make(map[domain.ContainerRef]struct{})
	cur := root
	for {
		if _, dup := seen[cur.ID]; dup {
			return Chain{}, ErrLineageCycle
		}
		seen[cur.ID] = struct{}{}
		chain.Tasks = append(chain.Tasks, cur)
		containers[cur.Container()] = struct{}{}

		if len(cur.SplitTasks) == 0 {
			break
		}
		next, ok := index[cur.SplitTasks[len(cur.SplitTasks)-1]]
		if !ok {
			break
		}
		cur = next
	}
	chain.Containers = len(containers)
	return chain, nil
}
