package board

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"sprintboard/domain"
)

// checkUnique verifies every task appears in exactly one container.
func checkUnique(t interface{ Fatalf(string, ...interface{}) }, b Board) {
	seen := make(map[string]string)
	record := func(container string, tasks []domain.Task) {
		for _, task := range tasks {
			if prev, dup := seen[task.ID]; dup {
				t.Fatalf("task %s present in both %s and %s", task.ID, prev, container)
			}
			seen[task.ID] = container
		}
	}
	record("backlog", b.Backlog)
	for _, col := range b.Sprints {
		record(col.Sprint.ID, col.Tasks)
	}
}

// checkDense verifies every container is densely renumbered 0..n-1.
func checkDense(t interface{ Fatalf(string, ...interface{}) }, tasks []domain.Task) {
	for i, task := range tasks {
		if task.Order != i {
			t.Fatalf("order not dense at index %d: %+v", i, task)
		}
	}
}

func genBoard(t *rapid.T) Board {
	n := rapid.IntRange(0, 12).Draw(t, "tasks")
	sprints := rapid.IntRange(0, 3).Draw(t, "sprints")

	b := Board{Backlog: []domain.Task{}}
	for s := 0; s < sprints; s++ {
		b.Sprints = append(b.Sprints, SprintColumn{
			Sprint: domain.Sprint{ID: fmt.Sprintf("s%d", s), Status: domain.SprintActive},
			Tasks:  []domain.Task{},
		})
	}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("t%d", i)
		container := rapid.IntRange(-1, sprints-1).Draw(t, "container")
		if container < 0 {
			b.Backlog = append(b.Backlog, task(id, len(b.Backlog), nil))
		} else {
			col := &b.Sprints[container]
			col.Tasks = append(col.Tasks, task(id, len(col.Tasks), sprintID(col.Sprint.ID)))
		}
	}
	return b
}

func containerRefs(b Board) []domain.ContainerRef {
	refs := []domain.ContainerRef{domain.Backlog()}
	for _, col := range b.Sprints {
		refs = append(refs, domain.SprintRef(col.Sprint.ID))
	}
	return refs
}

func TestPropertyRelocationsKeepMembershipUniqueAndOrdersDense(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := genBoard(t)
		refs := containerRefs(b)

		steps := rapid.IntRange(1, 20).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			index := b.TaskIndex()
			if len(index) == 0 {
				return
			}
			var taskIDs []string
			for id := range index {
				taskIDs = append(taskIDs, id)
			}
			taskID := rapid.SampledFrom(taskIDs).Draw(t, "task")
			dest := rapid.SampledFrom(refs).Draw(t, "dest")
			at := rapid.IntRange(0, 12).Draw(t, "at")

			src, ok := b.FindContainer(taskID)
			if !ok {
				t.Fatalf("task %s lost", taskID)
			}
			if src == dest {
				tasks, _ := b.Tasks(src)
				out, err := Reorder(tasks, taskID, at%max(len(tasks), 1))
				if err != nil {
					t.Fatalf("reorder: %v", err)
				}
				b, err = b.WithContainer(src, out)
				if err != nil {
					t.Fatalf("swap: %v", err)
				}
			} else {
				next, moved, err := b.RemoveTask(src, taskID)
				if err != nil {
					t.Fatalf("remove: %v", err)
				}
				srcTasks, _ := next.Tasks(src)
				next, err = next.WithContainer(src, Renumber(SortByOrder(srcTasks)))
				if err != nil {
					t.Fatalf("swap source: %v", err)
				}
				destTasks, _ := next.Tasks(dest)
				next, err = next.WithContainer(dest, InsertAt(destTasks, moved, at))
				if err != nil {
					t.Fatalf("swap dest: %v", err)
				}
				b = next
			}

			checkUnique(t, b)
			for _, ref := range refs {
				tasks, _ := b.Tasks(ref)
				checkDense(t, tasks)
			}
		}
	})
}

func TestPropertySnapshotSurvivesArbitraryMutation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := genBoard(t)
		snap := b.Snapshot()

		index := b.TaskIndex()
		for id := range index {
			src, _ := b.FindContainer(id)
			next, moved, err := b.RemoveTask(src, id)
			if err != nil {
				t.Fatalf("remove: %v", err)
			}
			next, err = next.InsertTask(domain.Backlog(), moved, 0)
			if err != nil {
				t.Fatalf("insert: %v", err)
			}
			b = next
		}

		restored := snap.Snapshot()
		if !Equal(snap, restored) {
			t.Fatal("snapshot changed while the live board was mutated")
		}
	})
}
