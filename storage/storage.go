// Package storage persists boards in Azure Table Storage and publishes board
// events to an Azure Storage queue. Tasks and sprints live in two tables
// partitioned by project id; a task row's SprintID property is empty for
// backlog tasks.
package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"

	"sprintboard/board"
	"sprintboard/domain"
	"sprintboard/reconcile"
)

// Storage provides access to the underlying persistence mechanisms.
type Storage struct {
	taskTable   *aztables.Client
	sprintTable *aztables.Client
	eventQueue  *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, sprintsTable, eventQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	tt := svc.NewClient(tasksTable)
	st := svc.NewClient(sprintsTable)
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{taskTable: tt, sprintTable: st, eventQueue: eq}, nil
}

// FetchBoard retrieves the full board for the given project: the backlog plus
// every sprint with its ordered task list.
func (s *Storage) FetchBoard(ctx context.Context, projectID string) (board.Board, error) {
	sprints, err := s.listSprints(ctx, projectID)
	if err != nil {
		return board.Board{}, err
	}
	tasks, err := s.listTasks(ctx, projectID, "")
	if err != nil {
		return board.Board{}, err
	}

	b := board.Board{}
	bySprint := make(map[string][]domain.Task)
	for _, t := range tasks {
		if t.SprintID == nil {
			b.Backlog = append(b.Backlog, t)
		} else {
			bySprint[*t.SprintID] = append(bySprint[*t.SprintID], t)
		}
	}
	b.Backlog = board.SortByOrder(b.Backlog)
	for _, sprint := range sprints {
		b.Sprints = append(b.Sprints, board.SprintColumn{
			Sprint: sprint,
			Tasks:  board.SortByOrder(bySprint[sprint.ID]),
		})
	}
	return b, nil
}

// FetchTask retrieves a single task.
func (s *Storage) FetchTask(ctx context.Context, projectID, taskID string) (domain.Task, error) {
	ent, err := s.getTaskEntity(ctx, projectID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	return taskFromEntity(ent), nil
}

// CreateTask inserts a task into its initial container at the requested
// position (Task.Order, clamped) and renumbers the container densely.
func (s *Storage) CreateTask(ctx context.Context, actor domain.Actor, projectID string, task domain.Task) (domain.Task, error) {
	ref := task.Container()
	if err := s.checkContainerWritable(ctx, actor, projectID, ref); err != nil {
		return domain.Task{}, err
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = domain.StatusTodo
	}
	if task.Priority == "" {
		task.Priority = domain.PriorityMedium
	}

	tasks, err := s.listContainer(ctx, projectID, ref)
	if err != nil {
		return domain.Task{}, err
	}
	updated := board.InsertAt(tasks, task, task.Order)
	if err := s.writeContainer(ctx, projectID, updated); err != nil {
		return domain.Task{}, err
	}
	for _, t := range updated {
		if t.ID == task.ID {
			return t, nil
		}
	}
	return task, nil
}

// TaskPatch carries the mutable scalar fields of a task; nil means unchanged.
type TaskPatch struct {
	Title       *string            `json:"title,omitempty"`
	Description *string            `json:"description,omitempty"`
	Status      *domain.TaskStatus `json:"status,omitempty"`
	Priority    *domain.Priority   `json:"priority,omitempty"`
	AssigneeID  *string            `json:"assigneeId,omitempty"`
	EpicID      *string            `json:"epicId,omitempty"`
	Team        *string            `json:"team,omitempty"`
}

// UpdateTask applies a field patch to a task in place.
func (s *Storage) UpdateTask(ctx context.Context, actor domain.Actor, projectID, taskID string, patch TaskPatch) (domain.Task, error) {
	ent, err := s.getTaskEntity(ctx, projectID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	task := taskFromEntity(ent)
	if err := s.checkContainerWritable(ctx, actor, projectID, task.Container()); err != nil {
		return domain.Task{}, err
	}

	if patch.Title != nil {
		task.Title = *patch.Title
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Status != nil {
		task.Status = *patch.Status
	}
	if patch.Priority != nil {
		task.Priority = *patch.Priority
	}
	if patch.AssigneeID != nil {
		task.AssigneeID = *patch.AssigneeID
	}
	if patch.EpicID != nil {
		task.EpicID = *patch.EpicID
	}
	if patch.Team != nil {
		task.Team = *patch.Team
	}
	if err := s.upsertTask(ctx, projectID, task); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// DeleteTask removes a task and renumbers its container.
func (s *Storage) DeleteTask(ctx context.Context, actor domain.Actor, projectID, taskID string) error {
	ent, err := s.getTaskEntity(ctx, projectID, taskID)
	if err != nil {
		return err
	}
	task := taskFromEntity(ent)
	ref := task.Container()
	if err := s.checkContainerWritable(ctx, actor, projectID, ref); err != nil {
		return err
	}
	if _, err := s.taskTable.DeleteEntity(ctx, projectID, taskID, nil); err != nil {
		return wrapTableError("task", taskID, err)
	}
	tasks, err := s.listContainer(ctx, projectID, ref)
	if err != nil {
		return err
	}
	return s.writeContainer(ctx, projectID, board.Renumber(board.SortByOrder(tasks)))
}

// ReorderTask persists a same- or cross-container order change and returns
// the authoritative post-mutation lists for the affected container(s).
func (s *Storage) ReorderTask(ctx context.Context, actor domain.Actor, projectID, taskID string, target domain.ContainerRef, newOrder int) (reconcile.ReorderResult, error) {
	ent, err := s.getTaskEntity(ctx, projectID, taskID)
	if err != nil {
		return reconcile.ReorderResult{}, err
	}
	task := taskFromEntity(ent)
	source := task.Container()

	if err := s.checkContainerWritable(ctx, actor, projectID, source); err != nil {
		return reconcile.ReorderResult{}, err
	}
	if source != target {
		if err := s.checkContainerWritable(ctx, actor, projectID, target); err != nil {
			return reconcile.ReorderResult{}, err
		}
	}

	if source == target {
		tasks, err := s.listContainer(ctx, projectID, source)
		if err != nil {
			return reconcile.ReorderResult{}, err
		}
		updated, err := board.Reorder(tasks, taskID, newOrder)
		if err != nil {
			return reconcile.ReorderResult{}, err
		}
		if err := s.writeContainer(ctx, projectID, updated); err != nil {
			return reconcile.ReorderResult{}, err
		}
		return reconcile.ReorderResult{Containers: []reconcile.ContainerTasks{{Ref: source, Tasks: updated}}}, nil
	}

	sourceTasks, err := s.listContainer(ctx, projectID, source)
	if err != nil {
		return reconcile.ReorderResult{}, err
	}
	remaining := make([]domain.Task, 0, len(sourceTasks))
	for _, t := range sourceTasks {
		if t.ID != taskID {
			remaining = append(remaining, t)
		}
	}
	remaining = board.Renumber(board.SortByOrder(remaining))

	targetTasks, err := s.listContainer(ctx, projectID, target)
	if err != nil {
		return reconcile.ReorderResult{}, err
	}
	task.SprintID = target.SprintIDPtr()
	updatedTarget := board.InsertAt(targetTasks, task, newOrder)

	if err := s.writeContainer(ctx, projectID, remaining); err != nil {
		return reconcile.ReorderResult{}, err
	}
	if err := s.writeContainer(ctx, projectID, updatedTarget); err != nil {
		return reconcile.ReorderResult{}, err
	}
	return reconcile.ReorderResult{Containers: []reconcile.ContainerTasks{
		{Ref: source, Tasks: remaining},
		{Ref: target, Tasks: updatedTarget},
	}}, nil
}

// SplitTask creates a continuation of a task in the target container and
// links the two. The original stays in place. The description is copied here
// when the transfer options ask for it; comment copying happens in the
// service that owns comments, keyed off the published task-split event.
func (s *Storage) SplitTask(ctx context.Context, actor domain.Actor, projectID, taskID string, target domain.ContainerRef, opts domain.TransferOptions) (domain.Task, error) {
	ent, err := s.getTaskEntity(ctx, projectID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	original := taskFromEntity(ent)
	if err := s.checkContainerWritable(ctx, actor, projectID, original.Container()); err != nil {
		return domain.Task{}, err
	}
	if err := s.checkContainerWritable(ctx, actor, projectID, target); err != nil {
		return domain.Task{}, err
	}
	return s.createContinuation(ctx, projectID, original, target, opts)
}

func (s *Storage) createContinuation(ctx context.Context, projectID string, original domain.Task, target domain.ContainerRef, opts domain.TransferOptions) (domain.Task, error) {
	targetTasks, err := s.listContainer(ctx, projectID, target)
	if err != nil {
		return domain.Task{}, err
	}
	continuation := newContinuation(original, target, len(targetTasks), opts)
	if err := s.upsertTask(ctx, projectID, continuation); err != nil {
		return domain.Task{}, err
	}
	original.SplitTasks = append(original.SplitTasks, continuation.ID)
	if err := s.upsertTask(ctx, projectID, original); err != nil {
		return domain.Task{}, err
	}
	return continuation, nil
}

// newContinuation builds the split continuation task at the end of the
// target container's list.
func newContinuation(original domain.Task, target domain.ContainerRef, order int, opts domain.TransferOptions) domain.Task {
	continuation := domain.Task{
		ID:         uuid.NewString(),
		Title:      original.Title,
		Status:     domain.StatusTodo,
		Priority:   original.Priority,
		AssigneeID: original.AssigneeID,
		EpicID:     original.EpicID,
		Team:       original.Team,
		SprintID:   target.SprintIDPtr(),
		Order:      order,
		SplitFrom:  original.ID,
	}
	if opts.Description {
		continuation.Description = original.Description
	}
	return continuation
}

// CreateSprint inserts a sprint in PLANNED state.
func (s *Storage) CreateSprint(ctx context.Context, actor domain.Actor, projectID string, sprint domain.Sprint) (domain.Sprint, error) {
	_ = actor
	if sprint.ID == "" {
		sprint.ID = uuid.NewString()
	}
	sprint.Status = domain.SprintPlanned
	if err := s.upsertSprint(ctx, projectID, sprint, time.Now().UnixNano()); err != nil {
		return domain.Sprint{}, err
	}
	return sprint, nil
}

// TransitionSprint persists a lifecycle change with an optional bulk
// disposition of the sprint's still-open tasks, executed as one call.
func (s *Storage) TransitionSprint(ctx context.Context, actor domain.Actor, projectID, sprintID string, to domain.SprintStatus, disposition *domain.Disposition) (reconcile.TransitionResult, error) {
	sprint, seq, err := s.getSprint(ctx, projectID, sprintID)
	if err != nil {
		return reconcile.TransitionResult{}, err
	}
	if !domain.CanTransition(sprint.Status, to, actor.Admin) {
		return reconcile.TransitionResult{}, permissionError{reason: "transition " + string(sprint.Status) + " -> " + string(to)}
	}

	ref := domain.SprintRef(sprintID)
	var targetRef domain.ContainerRef
	hasTarget := false
	if disposition != nil {
		switch disposition.Action {
		case domain.DispositionCloseAll:
		case domain.DispositionMoveAll, domain.DispositionSplitAll:
			targetRef = domain.RefFromSprintID(disposition.TargetSprintID)
			if targetRef == ref {
				return reconcile.TransitionResult{}, invalidError{reason: "disposition target is the transitioning sprint"}
			}
			if err := s.checkContainerWritable(ctx, actor, projectID, targetRef); err != nil {
				return reconcile.TransitionResult{}, err
			}
			hasTarget = true
		default:
			return reconcile.TransitionResult{}, invalidError{reason: "unknown disposition action"}
		}
	}

	tasks, err := s.listContainer(ctx, projectID, ref)
	if err != nil {
		return reconcile.TransitionResult{}, err
	}

	if disposition != nil {
		switch disposition.Action {
		case domain.DispositionCloseAll:
			for i := range tasks {
				if domain.OpenForTransition(tasks[i].Status, to) {
					tasks[i].Status = domain.StatusDone
				}
			}
			if err := s.writeContainer(ctx, projectID, tasks); err != nil {
				return reconcile.TransitionResult{}, err
			}
		case domain.DispositionMoveAll:
			remaining := make([]domain.Task, 0, len(tasks))
			var open []domain.Task
			for _, t := range board.SortByOrder(tasks) {
				if domain.OpenForTransition(t.Status, to) {
					open = append(open, t)
				} else {
					remaining = append(remaining, t)
				}
			}
			targetTasks, err := s.listContainer(ctx, projectID, targetRef)
			if err != nil {
				return reconcile.TransitionResult{}, err
			}
			dest := board.SortByOrder(targetTasks)
			for _, t := range open {
				t.SprintID = targetRef.SprintIDPtr()
				dest = append(dest, t)
			}
			if err := s.writeContainer(ctx, projectID, board.Renumber(remaining)); err != nil {
				return reconcile.TransitionResult{}, err
			}
			if err := s.writeContainer(ctx, projectID, board.Renumber(dest)); err != nil {
				return reconcile.TransitionResult{}, err
			}
		case domain.DispositionSplitAll:
			for _, t := range board.SortByOrder(tasks) {
				if !domain.OpenForTransition(t.Status, to) {
					continue
				}
				if _, err := s.createContinuation(ctx, projectID, t, targetRef, domain.TransferOptions{}); err != nil {
					return reconcile.TransitionResult{}, err
				}
			}
		}
	}

	sprint.Status = to
	if err := s.upsertSprint(ctx, projectID, sprint, seq); err != nil {
		return reconcile.TransitionResult{}, err
	}

	sprintTasks, err := s.listContainer(ctx, projectID, ref)
	if err != nil {
		return reconcile.TransitionResult{}, err
	}
	result := reconcile.TransitionResult{Sprint: sprint, SprintTasks: sprintTasks}
	if hasTarget {
		targetTasks, err := s.listContainer(ctx, projectID, targetRef)
		if err != nil {
			return reconcile.TransitionResult{}, err
		}
		result.Target = &reconcile.ContainerTasks{Ref: targetRef, Tasks: targetTasks}
	}
	return result, nil
}

// checkContainerWritable rejects writes into a COMPLETED sprint for
// non-admin actors. The backlog is always writable.
func (s *Storage) checkContainerWritable(ctx context.Context, actor domain.Actor, projectID string, ref domain.ContainerRef) error {
	sprintID, ok := ref.SprintID()
	if !ok {
		return nil
	}
	sprint, _, err := s.getSprint(ctx, projectID, sprintID)
	if err != nil {
		return err
	}
	if sprint.Status == domain.SprintCompleted && !actor.Admin {
		return permissionError{reason: "sprint " + sprintID + " is completed"}
	}
	return nil
}
