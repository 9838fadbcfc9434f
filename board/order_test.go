package board

import (
	"testing"

	"sprintboard/domain"
)

func ids(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func assertOrdered(t *testing.T, tasks []domain.Task, want ...string) {
	t.Helper()
	if len(tasks) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids(tasks))
	}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Fatalf("expected %v, got %v", want, ids(tasks))
		}
		if tasks[i].Order != i {
			t.Fatalf("order not dense at %d: %+v", i, tasks[i])
		}
	}
}

func TestReorderWithinContainer(t *testing.T) {
	tasks := []domain.Task{task("a", 0, nil), task("b", 1, nil)}

	// Drag a after b.
	out, err := Reorder(tasks, "a", TargetIndex(tasks, "b"))
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	assertOrdered(t, out, "b", "a")
}

func TestReorderNoOpRenumbers(t *testing.T) {
	tasks := []domain.Task{task("a", 3, nil), task("b", 7, nil), task("c", 9, nil)}

	out, err := Reorder(tasks, "b", 1)
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	assertOrdered(t, out, "a", "b", "c")
}

func TestReorderUnknownTask(t *testing.T) {
	if _, err := Reorder([]domain.Task{task("a", 0, nil)}, "ghost", 0); err != ErrTaskNotInContainer {
		t.Fatalf("expected ErrTaskNotInContainer, got %v", err)
	}
}

func TestTargetIndexDefaultsToEnd(t *testing.T) {
	tasks := []domain.Task{task("a", 0, nil), task("b", 1, nil)}
	if got := TargetIndex(tasks, "not-here"); got != 2 {
		t.Fatalf("expected append index 2, got %d", got)
	}
	if got := TargetIndex(nil, "anything"); got != 0 {
		t.Fatalf("expected 0 for empty container, got %d", got)
	}
}

func TestTargetIndexSortsByOrderFirst(t *testing.T) {
	tasks := []domain.Task{task("b", 1, nil), task("a", 0, nil)}
	if got := TargetIndex(tasks, "a"); got != 0 {
		t.Fatalf("expected index 0 for lowest order, got %d", got)
	}
}

func TestSortByOrderStableOnTies(t *testing.T) {
	tasks := []domain.Task{task("a", 1, nil), task("b", 1, nil), task("c", 0, nil)}
	sorted := SortByOrder(tasks)
	got := ids(sorted)
	if got[0] != "c" || got[1] != "a" || got[2] != "b" {
		t.Fatalf("unexpected sort: %v", got)
	}
}

func TestInsertAt(t *testing.T) {
	tasks := []domain.Task{task("a", 0, nil), task("b", 1, nil)}

	out := InsertAt(tasks, task("n", 42, nil), 1)
	assertOrdered(t, out, "a", "n", "b")

	out = InsertAt(tasks, task("n", 0, nil), 99)
	assertOrdered(t, out, "a", "b", "n")

	out = InsertAt(nil, task("n", 5, nil), 0)
	assertOrdered(t, out, "n")
}

func TestRenumberIdempotent(t *testing.T) {
	tasks := []domain.Task{task("a", 4, nil), task("b", 9, nil)}
	once := Renumber(tasks)
	twice := Renumber(once)
	assertOrdered(t, once, "a", "b")
	assertOrdered(t, twice, "a", "b")
}
