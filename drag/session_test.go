package drag

import (
	"testing"

	"sprintboard/board"
	"sprintboard/domain"
)

func task(id string, order int, sprintID *string) domain.Task {
	return domain.Task{ID: id, Title: id, Status: domain.StatusTodo, Priority: domain.PriorityMedium, Order: order, SprintID: sprintID}
}

func sid(id string) *string { return &id }

func testBoard() board.Board {
	s5 := sid("s5")
	return board.Board{
		Backlog: []domain.Task{task("a", 0, nil), task("b", 1, nil)},
		Sprints: []board.SprintColumn{
			{
				Sprint: domain.Sprint{ID: "s5", Name: "Sprint 5", Status: domain.SprintActive},
				Tasks:  []domain.Task{task("x", 0, s5), task("y", 1, s5)},
			},
			{
				Sprint: domain.Sprint{ID: "s6", Name: "Sprint 6", Status: domain.SprintPlanned},
				Tasks:  nil,
			},
		},
	}
}

func TestStartDragRejectsSecondSession(t *testing.T) {
	m := NewMachine()
	if err := m.StartDrag(testBoard(), "a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.StartDrag(testBoard(), "b"); err != ErrDragInProgress {
		t.Fatalf("expected ErrDragInProgress, got %v", err)
	}
}

func TestStartDragUnknownTask(t *testing.T) {
	m := NewMachine()
	if err := m.StartDrag(testBoard(), "ghost"); err != ErrUnknownTask {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
	if m.State() != StateIdle {
		t.Fatal("machine must stay idle after a failed start")
	}
}

func TestHoverTransfersAndTransfersBack(t *testing.T) {
	m := NewMachine()
	if err := m.StartDrag(testBoard(), "a"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.HoverOver(domain.SprintRef("s5")); err != nil {
		t.Fatalf("hover: %v", err)
	}
	live := m.Board()
	if _, ok := live.FindContainer("a"); !ok {
		t.Fatal("task lost during hover")
	}
	tasks, _ := live.Tasks(domain.SprintRef("s5"))
	if len(tasks) != 3 || tasks[2].ID != "a" {
		t.Fatalf("expected a appended to s5, got %+v", tasks)
	}
	if len(live.Backlog) != 1 {
		t.Fatalf("expected a removed from backlog, got %+v", live.Backlog)
	}

	// Hovering the same container again is a no-op.
	if err := m.HoverOver(domain.SprintRef("s5")); err != nil {
		t.Fatalf("hover no-op: %v", err)
	}

	// Hovering back over the origin reverses the transfer.
	if err := m.HoverOver(domain.Backlog()); err != nil {
		t.Fatalf("hover back: %v", err)
	}
	live = m.Board()
	if len(live.Backlog) != 2 {
		t.Fatalf("expected a back in backlog, got %+v", live.Backlog)
	}
}

func TestDropInvalidTargetRestoresSnapshot(t *testing.T) {
	b := testBoard()
	m := NewMachine()
	if err := m.StartDrag(b, "x"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.HoverOver(domain.Backlog()); err != nil {
		t.Fatalf("hover: %v", err)
	}
	if err := m.HoverOver(domain.SprintRef("s6")); err != nil {
		t.Fatalf("hover: %v", err)
	}

	drop, err := m.Drop(Target{})
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if !drop.Aborted {
		t.Fatal("expected aborted drop")
	}
	if !board.Equal(drop.Board, b) {
		t.Fatalf("board not restored: %+v", drop.Board)
	}
	if m.State() != StateIdle {
		t.Fatal("machine must return to idle")
	}
}

func TestDropOnTaskComputesTargetIndex(t *testing.T) {
	m := NewMachine()
	if err := m.StartDrag(testBoard(), "a"); err != nil {
		t.Fatalf("start: %v", err)
	}

	drop, err := m.Drop(Target{Valid: true, Container: domain.Backlog(), TaskID: "b"})
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if drop.Aborted {
		t.Fatal("unexpected abort")
	}
	if drop.Origin != domain.Backlog() || drop.Dest != domain.Backlog() {
		t.Fatalf("unexpected containers: %v -> %v", drop.Origin, drop.Dest)
	}
	if drop.Index != 1 {
		t.Fatalf("expected target index 1, got %d", drop.Index)
	}
}

func TestDropOnDraggedTaskKeepsIndex(t *testing.T) {
	m := NewMachine()
	if err := m.StartDrag(testBoard(), "a"); err != nil {
		t.Fatalf("start: %v", err)
	}

	drop, err := m.Drop(Target{Valid: true, Container: domain.Backlog(), TaskID: "a"})
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if drop.Aborted {
		t.Fatal("unexpected abort")
	}
	if drop.Index != 0 {
		t.Fatalf("drop on the dragged task must resolve to its own index 0, got %d", drop.Index)
	}
}

func TestDropWithoutHoverTransfers(t *testing.T) {
	m := NewMachine()
	if err := m.StartDrag(testBoard(), "y"); err != nil {
		t.Fatalf("start: %v", err)
	}

	drop, err := m.Drop(Target{Valid: true, Container: domain.SprintRef("s6")})
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	tasks, _ := drop.Board.Tasks(domain.SprintRef("s6"))
	if len(tasks) != 1 || tasks[0].ID != "y" {
		t.Fatalf("expected y transferred on drop, got %+v", tasks)
	}
	if drop.Index != 0 {
		t.Fatalf("expected append index 0, got %d", drop.Index)
	}
	src, _ := drop.Board.Tasks(domain.SprintRef("s5"))
	if len(src) != 1 || src[0].Order != 0 {
		t.Fatalf("source not renumbered: %+v", src)
	}
}

func TestHoverAndDropRequireSession(t *testing.T) {
	m := NewMachine()
	if err := m.HoverOver(domain.Backlog()); err != ErrNoDrag {
		t.Fatalf("expected ErrNoDrag, got %v", err)
	}
	if _, err := m.Drop(Target{Valid: true, Container: domain.Backlog()}); err != ErrNoDrag {
		t.Fatalf("expected ErrNoDrag, got %v", err)
	}
}
