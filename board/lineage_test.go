package board

import (
	"testing"

	"sprintboard/domain"
)

func TestChainForWalksToRootAndForward(t *testing.T) {
	s5 := sprintID("s5")
	s6 := sprintID("s6")
	b := Board{
		Backlog: []domain.Task{
			{ID: "root", Order: 0, SplitTasks: []string{"mid"}},
		},
		Sprints: []SprintColumn{
			{
				Sprint: domain.Sprint{ID: "s5", Status: domain.SprintCompleted},
				Tasks:  []domain.Task{{ID: "mid", Order: 0, SprintID: s5, SplitFrom: "root", SplitTasks: []string{"tip"}}},
			},
			{
				Sprint: domain.Sprint{ID: "s6", Status: domain.SprintActive},
				Tasks:  []domain.Task{{ID: "tip", Order: 0, SprintID: s6, SplitFrom: "mid"}},
			},
		},
	}
	index := b.TaskIndex()

	// Starting anywhere in the chain yields the same sequence.
	for _, start := range []string{"root", "mid", "tip"} {
		chain, err := ChainFor(start, index)
		if err != nil {
			t.Fatalf("chain from %s: %v", start, err)
		}
		got := ids(chain.Tasks)
		if len(got) != 3 || got[0] != "root" || got[1] != "mid" || got[2] != "tip" {
			t.Fatalf("chain from %s: %v", start, got)
		}
		if chain.Containers != 3 {
			t.Fatalf("expected 3 distinct containers, got %d", chain.Containers)
		}
	}
}

func TestChainForSingleTask(t *testing.T) {
	index := map[string]domain.Task{"solo": {ID: "solo"}}
	chain, err := ChainFor("solo", index)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if len(chain.Tasks) != 1 || chain.Containers != 1 {
		t.Fatalf("unexpected chain: %+v", chain)
	}
}

func TestChainForUnknownTask(t *testing.T) {
	if _, err := ChainFor("ghost", map[string]domain.Task{}); err != ErrTaskNotInContainer {
		t.Fatalf("expected ErrTaskNotInContainer, got %v", err)
	}
}

func TestChainForFollowsNewestContinuation(t *testing.T) {
	index := map[string]domain.Task{
		"root": {ID: "root", SplitTasks: []string{"old", "new"}},
		"old":  {ID: "old", SplitFrom: "root"},
		"new":  {ID: "new", SplitFrom: "root"},
	}
	chain, err := ChainFor("root", index)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	got := ids(chain.Tasks)
	if len(got) != 2 || got[1] != "new" {
		t.Fatalf("expected newest continuation, got %v", got)
	}
}

func TestChainForDetectsCorruptCycle(t *testing.T) {
	index := map[string]domain.Task{
		"a": {ID: "a", SplitFrom: "b", SplitTasks: []string{"b"}},
		"b": {ID: "b", SplitFrom: "a", SplitTasks: []string{"a"}},
	}
	if _, err := ChainFor("a", index); err != ErrLineageCycle {
		t.Fatalf("expected ErrLineageCycle, got %v", err)
	}
}

func TestChainForDanglingPointerStops(t *testing.T) {
	index := map[string]domain.Task{
		"a": {ID: "a", SplitFrom: "gone", SplitTasks: []string{"also-gone"}},
	}
	chain, err := ChainFor("a", index)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if len(chain.Tasks) != 1 {
		t.Fatalf("expected traversal to stop at dangling pointers, got %v", ids(chain.Tasks))
	}
}
