package domain

import "github.com/bytedance/sonic"

// Board event types published to the event feed.
const (
	EventTaskCreated      = "task-created"
	EventTaskUpdated      = "task-updated"
	EventTaskDeleted      = "task-deleted"
	EventTaskMoved        = "task-moved"
	EventTaskSplit        = "task-split"
	EventSprintCreated    = "sprint-created"
	EventSprintTransition = "sprint-transitioned"
)

// BoardEvent records a committed board mutation for downstream consumers.
type BoardEvent struct {
	ID        string                 `json:"id"`
	ProjectID string                 `json:"projectId"`
	EntityID  string                 `json:"entityId"`
	Type      string                 `json:"type"`
	Data      sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// EventEnvelope wraps an event with the actor that caused it.
type EventEnvelope struct {
	ActorID string     `json:"actorId"`
	Event   BoardEvent `json:"event"`
}
