package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"sprintboard/board"
	"sprintboard/domain"
	"sprintboard/reconcile"
	"sprintboard/storage"
)

type recordingStore struct {
	mu        sync.Mutex
	envelopes []domain.EventEnvelope
}

func (r *recordingStore) FetchBoard(context.Context, string) (board.Board, error) {
	return board.Board{}, nil
}

func (r *recordingStore) FetchTask(context.Context, string, string) (domain.Task, error) {
	return domain.Task{}, nil
}

func (r *recordingStore) CreateTask(context.Context, domain.Actor, string, domain.Task) (domain.Task, error) {
	return domain.Task{}, nil
}

func (r *recordingStore) UpdateTask(context.Context, domain.Actor, string, string, storage.TaskPatch) (domain.Task, error) {
	return domain.Task{}, nil
}

func (r *recordingStore) DeleteTask(context.Context, domain.Actor, string, string) error { return nil }

func (r *recordingStore) ReorderTask(context.Context, domain.Actor, string, string, domain.ContainerRef, int) (reconcile.ReorderResult, error) {
	return reconcile.ReorderResult{}, nil
}

func (r *recordingStore) SplitTask(context.Context, domain.Actor, string, string, domain.ContainerRef, domain.TransferOptions) (domain.Task, error) {
	return domain.Task{}, nil
}

func (r *recordingStore) CreateSprint(context.Context, domain.Actor, string, domain.Sprint) (domain.Sprint, error) {
	return domain.Sprint{}, nil
}

func (r *recordingStore) TransitionSprint(context.Context, domain.Actor, string, string, domain.SprintStatus, *domain.Disposition) (reconcile.TransitionResult, error) {
	return reconcile.TransitionResult{}, nil
}

func (r *recordingStore) EnqueueEvents(_ context.Context, envelopes []domain.EventEnvelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, envelopes...)
	return nil
}

func (r *recordingStore) Envelopes() []domain.EventEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventEnvelope, len(r.envelopes))
	copy(out, r.envelopes)
	return out
}

func resetEventPublisherForTests() {
	shutdownEventPublisher()
}

func TestPublishEventsDeliversThroughWorkers(t *testing.T) {
	resetEventPublisherForTests()
	t.Cleanup(resetEventPublisherForTests)

	store := &recordingStore{}
	logger, _ := test.NewNullLogger()
	initEventPublisher(store, logger)

	env := newEnvelope(domain.Actor{ID: "u1"}, "p1", "t1", domain.EventTaskMoved, nil)
	publishEvents([]domain.EventEnvelope{env})

	deadline := time.Now().Add(time.Second)
	for {
		if got := store.Envelopes(); len(got) == 1 {
			if got[0].ActorID != "u1" || got[0].Event.Type != domain.EventTaskMoved {
				t.Fatalf("unexpected envelope: %#v", got[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for event delivery")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishEventsInlineFallbackWhenSaturated(t *testing.T) {
	resetEventPublisherForTests()
	t.Cleanup(resetEventPublisherForTests)
	t.Cleanup(func() { jobs = nil })

	store := &recordingStore{}
	logger, _ := test.NewNullLogger()
	globalStore = store
	globalLog = logger
	publishTimeout = time.Second
	handoffTimeout = 0
	jobs = make(chan publishJob, 1)
	jobs <- publishJob{} // saturate the buffer, no workers draining

	publishEvents([]domain.EventEnvelope{newEnvelope(domain.Actor{ID: "u1"}, "p1", "t1", domain.EventTaskCreated, nil)})

	if got := store.Envelopes(); len(got) != 1 {
		t.Fatalf("expected inline fallback delivery, got %d envelopes", len(got))
	}
}

func TestTryEnqueueJobWaitsForCapacity(t *testing.T) {
	resetEventPublisherForTests()
	t.Cleanup(resetEventPublisherForTests)
	t.Cleanup(func() { jobs = nil })

	jobs = make(chan publishJob, 1)
	handoffTimeout = 50 * time.Millisecond

	jobs <- publishJob{}

	done := make(chan bool, 1)
	go func() {
		done <- tryEnqueueJob(publishJob{})
	}()

	select {
	case <-done:
		t.Fatal("tryEnqueueJob returned before capacity was freed")
	case <-time.After(20 * time.Millisecond):
	}

	<-jobs

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected successful enqueue after capacity freed")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for enqueue completion")
	}
}

func TestTryEnqueueJobTimesOut(t *testing.T) {
	resetEventPublisherForTests()
	t.Cleanup(resetEventPublisherForTests)
	t.Cleanup(func() { jobs = nil })

	jobs = make(chan publishJob, 1)
	handoffTimeout = 30 * time.Millisecond

	jobs <- publishJob{}

	if tryEnqueueJob(publishJob{}) {
		t.Fatal("expected enqueue to fail when timeout elapsed")
	}

	select {
	case <-jobs:
	default:
		t.Fatal("expected channel to remain full after timeout")
	}
}

func TestTryEnqueueJobReturnsFalseWhenClosed(t *testing.T) {
	resetEventPublisherForTests()
	t.Cleanup(resetEventPublisherForTests)
	t.Cleanup(func() { jobs = nil })

	jobs = make(chan publishJob)
	close(jobs)

	if tryEnqueueJob(publishJob{}) {
		t.Fatal("expected enqueue to fail when channel is closed")
	}
}

func TestTryEnqueueJobNoWaitWhenZeroTimeout(t *testing.T) {
	resetEventPublisherForTests()
	t.Cleanup(resetEventPublisherForTests)
	t.Cleanup(func() { jobs = nil })

	jobs = make(chan publishJob, 1)
	handoffTimeout = 0

	jobs <- publishJob{}

	if tryEnqueueJob(publishJob{}) {
		t.Fatal("expected enqueue to fail when buffer full and no timeout")
	}

	<-jobs

	if !tryEnqueueJob(publishJob{}) {
		t.Fatal("expected enqueue to succeed when buffer has capacity")
	}
}
