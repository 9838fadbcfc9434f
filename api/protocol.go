package api

import (
	"time"

	"sprintboard/domain"
	"sprintboard/reconcile"
)

const mutationMaxBodySize = 64 * 1024 // 64 KiB

// containerPayload is one container's authoritative task list as returned to
// clients after a mutation. A nil sprintId means the backlog.
type containerPayload struct {
	SprintID *string       `json:"sprintId"`
	Tasks    []domain.Task `json:"tasks"`
}

// GET /api/projects/:projectID/board response body
type boardResponse struct {
	Backlog []domain.Task         `json:"backlog"`
	Sprints []sprintColumnPayload `json:"sprints"`
}

type sprintColumnPayload struct {
	Sprint domain.Sprint `json:"sprint"`
	Tasks  []domain.Task `json:"tasks"`
}

// POST /api/projects/:projectID/tasks request body
type createTaskRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	AssigneeID  string  `json:"assigneeId,omitempty"`
	EpicID      string  `json:"epicId,omitempty"`
	Team        string  `json:"team,omitempty"`
	SprintID    *string `json:"sprintId"`
	Order       int     `json:"order"`
}

// POST /api/projects/:projectID/tasks/:taskID/reorder request body
type reorderRequest struct {
	TargetSprintID *string `json:"targetSprintId"`
	NewOrder       int     `json:"newOrder"`
	IdempotencyKey string  `json:"idempotencyKey,omitempty"`
}

type reorderResponse struct {
	Containers []containerPayload `json:"containers"`
}

// POST /api/projects/:projectID/tasks/:taskID/split request body
type splitRequest struct {
	TargetSprintID  *string `json:"targetSprintId"`
	CopyDescription bool    `json:"copyDescription"`
	CopyComments    bool    `json:"copyComments"`
	IdempotencyKey  string  `json:"idempotencyKey,omitempty"`
}

type splitResponse struct {
	Task domain.Task `json:"task"`
}

// POST /api/projects/:projectID/sprints request body
type createSprintRequest struct {
	Name      string     `json:"name"`
	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
}

// POST /api/projects/:projectID/sprints/:sprintID/transition request body
type transitionRequest struct {
	Status         domain.SprintStatus `json:"status"`
	Disposition    *domain.Disposition `json:"disposition,omitempty"`
	IdempotencyKey string              `json:"idempotencyKey,omitempty"`
}

type transitionResponse struct {
	Sprint      domain.Sprint     `json:"sprint"`
	SprintTasks []domain.Task     `json:"sprintTasks"`
	Target      *containerPayload `json:"target,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func containerPayloadFrom(ct reconcile.ContainerTasks) containerPayload {
	return containerPayload{SprintID: ct.Ref.SprintIDPtr(), Tasks: ct.Tasks}
}
