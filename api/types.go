package api

import (
	"context"

	"sprintboard/board"
	"sprintboard/domain"
	"sprintboard/reconcile"
	"sprintboard/storage"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	FetchBoard(ctx context.Context, projectID string) (board.Board, error)
	FetchTask(ctx context.Context, projectID, taskID string) (domain.Task, error)
	CreateTask(ctx context.Context, actor domain.Actor, projectID string, task domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, actor domain.Actor, projectID, taskID string, patch storage.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, actor domain.Actor, projectID, taskID string) error
	ReorderTask(ctx context.Context, actor domain.Actor, projectID, taskID string, target domain.ContainerRef, newOrder int) (reconcile.ReorderResult, error)
	SplitTask(ctx context.Context, actor domain.Actor, projectID, taskID string, target domain.ContainerRef, opts domain.TransferOptions) (domain.Task, error)
	CreateSprint(ctx context.Context, actor domain.Actor, projectID string, sprint domain.Sprint) (domain.Sprint, error)
	TransitionSprint(ctx context.Context, actor domain.Actor, projectID, sprintID string, to domain.SprintStatus, disposition *domain.Disposition) (reconcile.TransitionResult, error)
	EnqueueEvents(ctx context.Context, envelopes []domain.EventEnvelope) error
}

// NotFoundError is returned when a referenced task, sprint or project does
// not exist.
type NotFoundError interface {
	error
	NotFound()
}

// PermissionDeniedError is returned when the actor lacks the rights for a
// mutation, such as placing tasks into a completed sprint.
type PermissionDeniedError interface {
	error
	PermissionDenied()
}

// InvalidInputError is returned when a request is well-formed JSON but
// semantically invalid, such as an unknown disposition action.
type InvalidInputError interface {
	error
	InvalidInput()
}

// Authenticator is implemented by types able to extract actors from headers.
type Authenticator interface {
	ActorFromAuthHeader(string) (domain.Actor, error)
}

// Deduper prevents processing of duplicate mutation requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, projectID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, projectID, key string) error
}
