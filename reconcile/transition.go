package reconcile

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"sprintboard/board"
	"sprintboard/domain"
)

// ErrInvalidDisposition is returned for a disposition whose action or target
// does not make sense for the transition.
var ErrInvalidDisposition = errors.New("invalid disposition")

// TransitionSprint commits a sprint lifecycle change, applying the bulk
// disposition to the sprint's still-open tasks when one is given. The
// transition is applied optimistically, persisted as a single store call, and
// the authoritative sprint and target lists are swapped in on success.
func (r *Reconciler) TransitionSprint(ctx context.Context, actor domain.Actor, sprintID string, to domain.SprintStatus, disposition *domain.Disposition) error {
	snapshot := r.Board().Snapshot()
	ref := domain.SprintRef(sprintID)

	sprint, ok := snapshot.Sprint(ref)
	if !ok {
		return board.ErrContainerNotFound
	}
	// Permission precedes any optimistic update, so no revert is needed on
	// rejection.
	if !domain.CanTransition(sprint.Status, to, actor.Admin) {
		return ErrPermissionDenied
	}

	var targetRef domain.ContainerRef
	hasTarget := false
	if disposition != nil {
		switch disposition.Action {
		case domain.DispositionCloseAll:
		case domain.DispositionMoveAll, domain.DispositionSplitAll:
			targetRef = domain.RefFromSprintID(disposition.TargetSprintID)
			if targetRef == ref {
				return ErrInvalidDisposition
			}
			if _, ok := snapshot.Tasks(targetRef); !ok {
				return board.ErrContainerNotFound
			}
			hasTarget = true
		default:
			return ErrInvalidDisposition
		}
	}

	refs := []domain.ContainerRef{ref}
	if hasTarget {
		refs = append(refs, targetRef)
	}
	acquired, err := r.guard.Acquire(ctx, r.projectID, refs...)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrMutationInFlight
	}
	defer r.guard.Release(ctx, r.projectID, refs...)

	optimistic, err := applyTransitionLocally(snapshot.Snapshot(), ref, to, disposition, targetRef)
	if err != nil {
		return err
	}
	r.Replace(optimistic)

	result, err := r.store.TransitionSprint(ctx, r.projectID, sprintID, to, disposition)
	if err != nil {
		r.Replace(snapshot)
		r.logger.WithFields(log.Fields{
			"op":      "transition",
			"sprint":  sprintID,
			"to":      string(to),
			"project": r.projectID,
		}).Warn("sprint transition reverted after store failure")
		return &RemoteError{Op: "transition", Err: err}
	}

	r.mu.Lock()
	if b, serr := r.board.WithSprint(result.Sprint); serr == nil {
		r.board = b
	}
	if b, serr := r.board.WithContainer(ref, result.SprintTasks); serr == nil {
		r.board = b
	}
	if result.Target != nil {
		if b, serr := r.board.WithContainer(result.Target.Ref, result.Target.Tasks); serr == nil {
			r.board = b
		}
	}
	r.mu.Unlock()

	fields := log.Fields{
		"op":      "transition",
		"sprint":  sprintID,
		"from":    string(sprint.Status),
		"to":      string(to),
		"project": r.projectID,
	}
	if disposition != nil {
		fields["disposition"] = string(disposition.Action)
	}
	r.logger.WithFields(fields).Info("sprint transition committed")
	return nil
}

// applyTransitionLocally produces the intended end state for the optimistic
// phase. split_all only flips the sprint status locally: the continuation
// tasks do not exist until the server assigns their ids, so their insertion
// waits for the authoritative response.
func applyTransitionLocally(b board.Board, ref domain.ContainerRef, to domain.SprintStatus, disposition *domain.Disposition, targetRef domain.ContainerRef) (board.Board, error) {
	sprint, _ := b.Sprint(ref)
	sprint.Status = to
	b, err := b.WithSprint(sprint)
	if err != nil {
		return b, err
	}
	if disposition == nil || disposition.Action == domain.DispositionSplitAll {
		return b, nil
	}

	tasks, _ := b.Tasks(ref)
	remaining := make([]domain.Task, 0, len(tasks))
	var open []domain.Task
	for _, t := range tasks {
		if domain.OpenForTransition(t.Status, to) {
			open = append(open, t)
		} else {
			remaining = append(remaining, t)
		}
	}

	switch disposition.Action {
	case domain.DispositionCloseAll:
		closed := make([]domain.Task, 0, len(tasks))
		for _, t := range tasks {
			if domain.OpenForTransition(t.Status, to) {
				t.Status = domain.StatusDone
			}
			closed = append(closed, t)
		}
		return b.WithContainer(ref, closed)
	case domain.DispositionMoveAll:
		b, err = b.WithContainer(ref, board.Renumber(board.SortByOrder(remaining)))
		if err != nil {
			return b, err
		}
		destTasks, _ := b.Tasks(targetRef)
		dest := board.SortByOrder(destTasks)
		for _, t := range board.SortByOrder(open) {
			t.SprintID = targetRef.SprintIDPtr()
			dest = append(dest, t)
		}
		return b.WithContainer(targetRef, board.Renumber(dest))
	default:
		return b, nil
	}
}
