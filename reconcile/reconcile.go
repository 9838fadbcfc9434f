// Package reconcile owns the board's write path: every committed mutation is
// applied optimistically, persisted through the remote store, then either
// replaced with the authoritative server state or reverted to the
// pre-operation snapshot. Store failures never escape as raw errors from the
// middle of a mutation; callers always observe a consistent board plus an
// error value they can surface.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"sprintboard/board"
	"sprintboard/domain"
	"sprintboard/drag"
)

var (
	// ErrPermissionDenied is returned before any optimistic update when the
	// actor may not mutate the containers involved.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrMutationInFlight is returned when a relocation targets a container
	// that already has a pending remote mutation.
	ErrMutationInFlight = errors.New("container mutation already in flight")
)

// RemoteError reports a failed store call. By the time the caller sees it the
// local board has already been reverted.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// ContainerTasks is an authoritative task list for one container.
type ContainerTasks struct {
	Ref   domain.ContainerRef
	Tasks []domain.Task
}

// ReorderResult carries the authoritative post-mutation lists for every
// container a reorder touched.
type ReorderResult struct {
	Containers []ContainerTasks
}

// TransitionResult carries the authoritative state after a sprint lifecycle
// transition, including the disposition target's list when one was involved.
type TransitionResult struct {
	Sprint      domain.Sprint
	SprintTasks []domain.Task
	Target      *ContainerTasks
}

// Store is the remote task/sprint store the engine persists through. Calls
// are fallible and not retried here; a failure triggers the revert path.
type Store interface {
	ReorderTask(ctx context.Context, projectID, taskID string, target domain.ContainerRef, newOrder int) (ReorderResult, error)
	SplitTask(ctx context.Context, projectID, taskID string, target domain.ContainerRef, opts domain.TransferOptions) (domain.Task, error)
	TransitionSprint(ctx context.Context, projectID, sprintID string, status domain.SprintStatus, disposition *domain.Disposition) (TransitionResult, error)
	FetchTask(ctx context.Context, projectID, taskID string) (domain.Task, error)
}

// Guard serializes relocations per container while a mutation is in flight.
type Guard interface {
	Acquire(ctx context.Context, projectID string, refs ...domain.ContainerRef) (bool, error)
	Release(ctx context.Context, projectID string, refs ...domain.ContainerRef)
}

// MemoryGuard is the in-process Guard used when the engine runs alone.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[string]struct{})}
}

func (g *MemoryGuard) Acquire(_ context.Context, projectID string, refs ...domain.ContainerRef) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ref := range refs {
		if _, busy := g.held[projectID+"|"+ref.String()]; busy {
			return false, nil
		}
	}
	for _, ref := range refs {
		g.held[projectID+"|"+ref.String()] = struct{}{}
	}
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, projectID string, refs ...domain.ContainerRef) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ref := range refs {
		delete(g.held, projectID+"|"+ref.String())
	}
}

// Reconciler holds one project's board and is the only writer to it.
type Reconciler struct {
	mu        sync.Mutex
	projectID string
	board     board.Board
	store     Store
	guard     Guard
	logger    *log.Logger
}

func New(projectID string, b board.Board, store Store, guard Guard, logger *log.Logger) *Reconciler {
	if store == nil {
		panic("reconcile: store is required")
	}
	if guard == nil {
		guard = NewMemoryGuard()
	}
	if logger == nil {
		logger = log.New()
	}
	return &Reconciler{projectID: projectID, board: b, store: store, guard: guard, logger: logger}
}

// Board returns the current board state.
func (r *Reconciler) Board() board.Board {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.board
}

// Replace swaps in a freshly fetched board wholesale.
func (r *Reconciler) Replace(b board.Board) {
	r.mu.Lock()
	r.board = b
	r.mu.Unlock()
}

// Cancel restores the pre-drag snapshot after the user dismissed a
// confirmation dialog. Reverts are whole-board: a hover may have passed
// through containers other than origin and destination.
func (r *Reconciler) Cancel(pending drag.PendingMove) {
	r.mu.Lock()
	r.board = pending.Snapshot
	r.mu.Unlock()
}

// Reorder commits a same-container reorder: the new order is applied
// locally, persisted, and the destination list is replaced with the server's
// authoritative copy. On failure the pre-drag snapshot is restored.
func (r *Reconciler) Reorder(ctx context.Context, actor domain.Actor, pending drag.PendingMove) error {
	return r.relocate(ctx, actor, pending, "reorder")
}

// ConfirmMove commits a confirmed cross-container move. The speculative
// hover transfer in pending.Board becomes the optimistic state; the store
// call persists it and returns authoritative lists for both containers.
func (r *Reconciler) ConfirmMove(ctx context.Context, actor domain.Actor, pending drag.PendingMove) error {
	return r.relocate(ctx, actor, pending, "move")
}

func (r *Reconciler) relocate(ctx context.Context, actor domain.Actor, pending drag.PendingMove, op string) error {
	if err := r.checkRelocation(actor, pending); err != nil {
		r.Cancel(pending)
		return err
	}

	// A same-container drop on the task's current index changes nothing;
	// skip the guard and the store call.
	if pending.Origin == pending.Dest {
		if tasks, ok := pending.Board.Tasks(pending.Dest); ok && board.TargetIndex(tasks, pending.TaskID) == pending.Index {
			return nil
		}
	}

	refs := touchedRefs(pending)
	ok, err := r.guard.Acquire(ctx, r.projectID, refs...)
	if err != nil {
		r.Cancel(pending)
		return err
	}
	if !ok {
		r.Cancel(pending)
		return ErrMutationInFlight
	}
	defer r.guard.Release(ctx, r.projectID, refs...)

	// Optimistic apply: place the task at its target index and renumber.
	destTasks, found := pending.Board.Tasks(pending.Dest)
	if !found {
		r.Cancel(pending)
		return board.ErrContainerNotFound
	}
	reordered, err := board.Reorder(destTasks, pending.TaskID, pending.Index)
	if err != nil {
		r.Cancel(pending)
		return err
	}
	optimistic, err := pending.Board.WithContainer(pending.Dest, reordered)
	if err != nil {
		r.Cancel(pending)
		return err
	}
	r.Replace(optimistic)

	result, err := r.store.ReorderTask(ctx, r.projectID, pending.TaskID, pending.Dest, pending.Index)
	if err != nil {
		r.Cancel(pending)
		r.logger.WithFields(log.Fields{
			"op":      op,
			"task":    pending.TaskID,
			"origin":  pending.Origin.String(),
			"dest":    pending.Dest.String(),
			"project": r.projectID,
		}).Warn("relocation reverted after store failure")
		return &RemoteError{Op: op, Err: err}
	}

	r.applyAuthoritative(result.Containers)
	r.logger.WithFields(log.Fields{
		"op":      op,
		"task":    pending.TaskID,
		"origin":  pending.Origin.String(),
		"dest":    pending.Dest.String(),
		"order":   pending.Index,
		"project": r.projectID,
	}).Info("relocation committed")
	return nil
}

// ConfirmSplit commits a confirmed Split: the original task stays in its
// source container (the speculative hover transfer is reverted first) and the
// server-created continuation task is linked and inserted locally.
func (r *Reconciler) ConfirmSplit(ctx context.Context, actor domain.Actor, pending drag.PendingMove, opts domain.TransferOptions) error {
	if err := r.checkRelocation(actor, pending); err != nil {
		r.Cancel(pending)
		return err
	}

	refs := touchedRefs(pending)
	ok, err := r.guard.Acquire(ctx, r.projectID, refs...)
	if err != nil {
		r.Cancel(pending)
		return err
	}
	if !ok {
		r.Cancel(pending)
		return ErrMutationInFlight
	}
	defer r.guard.Release(ctx, r.projectID, refs...)

	// The original must not move: restore the snapshot before persisting.
	r.Cancel(pending)

	newTask, err := r.store.SplitTask(ctx, r.projectID, pending.TaskID, pending.Dest, opts)
	if err != nil {
		r.logger.WithFields(log.Fields{
			"op":      "split",
			"task":    pending.TaskID,
			"dest":    pending.Dest.String(),
			"project": r.projectID,
		}).Warn("split failed, board unchanged")
		return &RemoteError{Op: "split", Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := applySplit(r.board, pending.TaskID, newTask)
	if err != nil {
		return err
	}
	r.board = b
	r.logger.WithFields(log.Fields{
		"op":      "split",
		"task":    pending.TaskID,
		"new":     newTask.ID,
		"dest":    pending.Dest.String(),
		"project": r.projectID,
	}).Info("split committed")
	return nil
}

// applySplit links the continuation onto the original and inserts the new
// task into its container at the server-assigned order.
func applySplit(b board.Board, originalID string, newTask domain.Task) (board.Board, error) {
	original, ref, found := b.Task(originalID)
	if !found {
		return b, board.ErrTaskNotInContainer
	}
	original.SplitTasks = append(append([]string(nil), original.SplitTasks...), newTask.ID)
	tasks, _ := b.Tasks(ref)
	updated := make([]domain.Task, len(tasks))
	copy(updated, tasks)
	for i := range updated {
		if updated[i].ID == originalID {
			updated[i] = original
		}
	}
	b, err := b.WithContainer(ref, updated)
	if err != nil {
		return b, err
	}

	destRef := newTask.Container()
	destTasks, found := b.Tasks(destRef)
	if !found {
		return b, board.ErrContainerNotFound
	}
	return b.WithContainer(destRef, board.InsertAt(destTasks, newTask, newTask.Order))
}

// FetchTask refreshes a single task from the store, e.g. when a detail view
// opens from a notification link outside the drag flow.
func (r *Reconciler) FetchTask(ctx context.Context, taskID string) (domain.Task, error) {
	task, err := r.store.FetchTask(ctx, r.projectID, taskID)
	if err != nil {
		return domain.Task{}, &RemoteError{Op: "fetch", Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, ref, found := r.board.Task(taskID)
	if found && ref == task.Container() {
		tasks, _ := r.board.Tasks(ref)
		updated := make([]domain.Task, len(tasks))
		copy(updated, tasks)
		for i := range updated {
			if updated[i].ID == taskID {
				updated[i] = task
			}
		}
		if b, err := r.board.WithContainer(ref, updated); err == nil {
			r.board = b
		}
	}
	return task, nil
}

// checkRelocation rejects, before any optimistic update is kept, relocations
// that touch a COMPLETED sprint unless the actor is an admin.
func (r *Reconciler) checkRelocation(actor domain.Actor, pending drag.PendingMove) error {
	if actor.Admin {
		return nil
	}
	for _, ref := range touchedRefs(pending) {
		if sprint, ok := pending.Snapshot.Sprint(ref); ok && sprint.Status == domain.SprintCompleted {
			return ErrPermissionDenied
		}
	}
	return nil
}

func touchedRefs(pending drag.PendingMove) []domain.ContainerRef {
	if pending.Origin == pending.Dest {
		return []domain.ContainerRef{pending.Dest}
	}
	return []domain.ContainerRef{pending.Origin, pending.Dest}
}

// applyAuthoritative swaps in server-returned lists, keyed strictly by the
// container each list pertains to.
func (r *Reconciler) applyAuthoritative(containers []ContainerTasks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ct := range containers {
		if b, err := r.board.WithContainer(ct.Ref, ct.Tasks); err == nil {
			r.board = b
		} else {
			r.logger.WithFields(log.Fields{
				"container": ct.Ref.String(),
				"project":   r.projectID,
			}).Error("authoritative list for unknown container dropped")
		}
	}
}
