package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"sprintboard/domain"
	"sprintboard/reconcile"
	"sprintboard/storage"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, guard reconcile.Guard, dedupe Deduper, logger *log.Logger) {
	e.GET("/healthz", healthz())
	e.GET("/api/projects/:projectID/board", getBoard(store, auth))
	e.GET("/api/projects/:projectID/tasks/:taskID", getTask(store, auth))
	e.POST("/api/projects/:projectID/tasks", postTask(store, auth))
	e.PATCH("/api/projects/:projectID/tasks/:taskID", patchTask(store, auth))
	e.DELETE("/api/projects/:projectID/tasks/:taskID", deleteTask(store, auth))
	e.POST("/api/projects/:projectID/tasks/:taskID/reorder", postReorder(store, auth, guard, dedupe, logger))
	e.POST("/api/projects/:projectID/tasks/:taskID/split", postSplit(store, auth, guard, dedupe, logger))
	e.POST("/api/projects/:projectID/sprints", postSprint(store, auth))
	e.POST("/api/projects/:projectID/sprints/:sprintID/transition", postTransition(store, auth, guard, dedupe, logger))

	initEventPublisher(store, logger)
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getBoard(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.ActorFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		b, err := store.FetchBoard(ctx, c.Param("projectID"))
		if err != nil {
			return writeStoreError(c, err)
		}
		resp := boardResponse{Backlog: orEmpty(b.Backlog), Sprints: make([]sprintColumnPayload, 0, len(b.Sprints))}
		for _, col := range b.Sprints {
			resp.Sprints = append(resp.Sprints, sprintColumnPayload{Sprint: col.Sprint, Tasks: orEmpty(col.Tasks)})
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func getTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.ActorFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		task, err := store.FetchTask(ctx, c.Param("projectID"), c.Param("taskID"))
		if err != nil {
			return writeStoreError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func postTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := auth.ActorFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Title == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "title is required"})
		}
		task := domain.Task{
			Title:       req.Title,
			Description: req.Description,
			Status:      domain.TaskStatus(req.Status),
			Priority:    domain.Priority(req.Priority),
			AssigneeID:  req.AssigneeID,
			EpicID:      req.EpicID,
			Team:        req.Team,
			SprintID:    req.SprintID,
			Order:       req.Order,
		}
		if task.Status == "" {
			task.Status = domain.StatusTodo
		}
		projectID := c.Param("projectID")
		created, err := store.CreateTask(ctx, actor, projectID, task)
		if err != nil {
			return writeStoreError(c, err)
		}
		publishEvents([]domain.EventEnvelope{newEnvelope(actor, projectID, created.ID, domain.EventTaskCreated, created)})
		return c.JSON(http.StatusCreated, created)
	}
}

func patchTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := auth.ActorFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var patch storage.TaskPatch
		if err := decodeBody(c, &patch); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		projectID, taskID := c.Param("projectID"), c.Param("taskID")
		updated, err := store.UpdateTask(ctx, actor, projectID, taskID, patch)
		if err != nil {
			return writeStoreError(c, err)
		}
		publishEvents([]domain.EventEnvelope{newEnvelope(actor, projectID, taskID, domain.EventTaskUpdated, updated)})
		return c.JSON(http.StatusOK, updated)
	}
}

func deleteTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := auth.ActorFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		projectID, taskID := c.Param("projectID"), c.Param("taskID")
		if err := store.DeleteTask(ctx, actor, projectID, taskID); err != nil {
			return writeStoreError(c, err)
		}
		publishEvents([]domain.EventEnvelope{newEnvelope(actor, projectID, taskID, domain.EventTaskDeleted, nil)})
		return c.NoContent(http.StatusNoContent)
	}
}

type taskMovedEvent struct {
	TaskID         string  `json:"taskId"`
	FromSprintID   *string `json:"fromSprintId"`
	TargetSprintID *string `json:"targetSprintId"`
	NewOrder       int     `json:"newOrder"`
}

func postReorder(store Storage, auth Authenticator, guard reconcile.Guard, dedupe Deduper, logger *log.Logger) echo.HandlerFunc {
	route := "/api/projects/:projectID/tasks/:taskID/reorder"
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationRequestMetrics(ctx, route, "reorder", logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		actor, authErr := auth.ActorFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		var req reorderRequest
		if decodeErr := decodeBody(c, &req); decodeErr != nil {
			metrics.SetErrorStage("decode")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}
		if req.NewOrder < 0 {
			metrics.SetErrorStage("invalid_order")
			err = c.JSON(http.StatusBadRequest, errorResponse{Error: "newOrder must not be negative"})
			return err
		}
		metrics.SetIdempotencyKeyProvided(req.IdempotencyKey != "")

		projectID, taskID := c.Param("projectID"), c.Param("taskID")
		if status, stage, handled := dedupeAdd(ctx, dedupe, projectID, req.IdempotencyKey); handled {
			metrics.SetErrorStage(stage)
			err = c.JSON(status, errorResponse{Error: stage})
			return err
		}

		task, fetchErr := store.FetchTask(ctx, projectID, taskID)
		if fetchErr != nil {
			dedupeRemove(ctx, dedupe, projectID, req.IdempotencyKey)
			metrics.SetErrorStage("fetch")
			err = writeStoreError(c, fetchErr)
			return err
		}
		target := domain.RefFromSprintID(req.TargetSprintID)
		refs := guardRefs(task.Container(), target)

		if guard != nil {
			ok, guardErr := guard.Acquire(ctx, projectID, refs...)
			if guardErr != nil {
				dedupeRemove(ctx, dedupe, projectID, req.IdempotencyKey)
				metrics.SetErrorStage("guard")
				err = c.JSON(http.StatusInternalServerError, errorResponse{Error: "guard unavailable"})
				return err
			}
			if !ok {
				dedupeRemove(ctx, dedupe, projectID, req.IdempotencyKey)
				metrics.SetErrorStage("mutation_in_flight")
				err = c.JSON(http.StatusConflict, errorResponse{Error: "another mutation is in flight for this container"})
				return err
			}
			defer guard.Release(ctx, projectID, refs...)
		}

		storeStart := time.Now()
		result, storeErr := store.ReorderTask(ctx, actor, projectID, taskID, target, req.NewOrder)
		metrics.ObserveStore(time.Since(storeStart))
		if storeErr != nil {
			dedupeRemove(ctx, dedupe, projectID, req.IdempotencyKey)
			metrics.SetErrorStage("storage")
			err = writeStoreError(c, storeErr)
			return err
		}

		publishEvents([]domain.EventEnvelope{newEnvelope(actor, projectID, taskID, domain.EventTaskMoved, taskMovedEvent{
			TaskID:         taskID,
			FromSprintID:   task.SprintID,
			TargetSprintID: req.TargetSprintID,
			NewOrder:       req.NewOrder,
		})})

		resp := reorderResponse{Containers: make([]containerPayload, 0, len(result.Containers))}
		for _, ct := range result.Containers {
			resp.Containers = append(resp.Containers, containerPayloadFrom(ct))
		}
		metrics.SetContainersReturned(len(resp.Containers))
		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, resp)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

type taskSplitEvent struct {
	TaskID         string                 `json:"taskId"`
	ContinuationID string                 `json:"continuationId"`
	TargetSprintID *string                `json:"targetSprintId"`
	Transfer       domain.TransferOptions `json:"transfer"`
}

func postSplit(store Storage, auth Authenticator, guard reconcile.Guard, dedupe Deduper, logger *log.Logger) echo.HandlerFunc {
	route := "/api/projects/:projectID/tasks/:taskID/split"
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationRequestMetrics(ctx, route, "split", logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		actor, authErr := auth.ActorFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		var req splitRequest
		if decodeErr := decodeBody(c, &req); decodeErr != nil {
			metrics.SetErrorStage("decode")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}
		metrics.SetIdempotencyKeyProvided(req.IdempotencyKey != "")

		projectID, taskID := c.Param("projectID"), c.Param("taskID")
		if status, stage, handled := dedupeAdd(ctx, dedupe, projectID, req.IdempotencyKey); handled {
			metrics.SetErrorStage(stage)
			err = c.JSON(status, errorResponse{Error: stage})
			return err
		}

		task, fetchErr := store.FetchTask(ctx, projectID, taskID)
		if fetchErr != nil {
			dedupeRemove(ctx, dedupe, projectID, req.IdempotencyKey)
			metrics.SetErrorStage("fetch")
			err = writeStoreError(c, fetchErr)
			return err
		}
		target := domain.RefFromSprintID(req.TargetSprintID)
		refs := guardRefs(task.Container(), target)

		if guard != nil {
			ok, guardErr := guard.Acquire(ctx, projectID, refs...)
			if guardErr != nil {
				dedupeRemove(ctx, dedupe, projectID, req.IdempotencyKey)
				metrics.SetErrorStage("guard")
				err = c.JSON(http.StatusInternalServerError, errorResponse{Error: "guard unavailable"})
				return err
			}
			if !ok {
				dedupeRemove(ctx, dedupe, projectID, req.IdempotencyKey)
				metrics.SetErrorStage("mutation_in_flight")
				err = c.JSON(http.StatusConflict, errorResponse{Error: "another mutation is in flight for this container"})
				return err
			}
			defer guard.Release(ctx, projectID, refs...)
		}

		opts := domain.TransferOptions{Description: req.CopyDescription, Comments: req.CopyComments}
		storeStart := time.Now()
		continuation, storeErr := store.SplitTask(ctx, actor, projectID, taskID, target, opts)
		metrics.ObserveStore(time.Since(storeStart))
		if storeErr != nil {
			dedupeRemove(ctx, dedupe, projectID, req.IdempotencyKey)
			metrics.SetErrorStage("storage")
			err = writeStoreError(c, storeErr)
			return err
		}

		publishEvents([]domain.EventEnvelope{newEnvelope(actor, projectID, taskID, domain.EventTaskSplit, taskSplitEvent{
			TaskID:         taskID,
			ContinuationID: continuation.ID,
			TargetSprintID: req.TargetSprintID,
			Transfer:       opts,
		})})

		metrics.SetContainersReturned(1)
		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, splitResponse{Task: continuation})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func postSprint(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := auth.ActorFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createSprintRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Name == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "name is required"})
		}
		projectID := c.Param("projectID")
		sprint := domain.Sprint{Name: req.Name, StartDate: req.StartDate, EndDate: req.EndDate}
		created, err := store.CreateSprint(ctx, actor, projectID, sprint)
		if err != nil {
			return writeStoreError(c, err)
		}
		publishEvents([]domain.EventEnvelope{newEnvelope(actor, projectID, created.ID, domain.EventSprintCreated, created)})
		return c.JSON(http.StatusCreated, created)
	}
}

type sprintTransitionedEvent struct {
	SprintID    string              `json:"sprintId"`
	Status      domain.SprintStatus `json:"status"`
	Disposition *domain.Disposition `json:"disposition,omitempty"`
}

func postTransition(store Storage, auth Authenticator, guard reconcile.Guard, dedupe Deduper, logger *log.Logger) echo.HandlerFunc {
	route := "/api/projects/:projectID/sprints/:sprintID/transition"
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationRequestMetrics(ctx, route, "transition", logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		actor, authErr := auth.ActorFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		var req transitionRequest
		if decodeErr := decodeBody(c, &req); decodeErr != nil {
			metrics.SetErrorStage("decode")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}
		metrics.SetIdempotencyKeyProvided(req.IdempotencyKey != "")

		projectID, sprintID := c.Param("projectID"), c.Param("sprintID")
		if status, stage, handled := dedupeAdd(ctx, dedupe, projectID, req.IdempotencyKey); handled {
			metrics.SetErrorStage(stage)
			err = c.JSON(status, errorResponse{Error: stage})
			return err
		}

		refs := []domain.ContainerRef{domain.SprintRef(sprintID)}
		if req.Disposition != nil && req.Disposition.Action != domain.DispositionCloseAll {
			refs = guardRefs(refs[0], domain.RefFromSprintID(req.Disposition.TargetSprintID))
		}

		if guard != nil {
			ok, guardErr := guard.Acquire(ctx, projectID, refs...)
			if guardErr != nil {
				dedupeRemove(ctx, dedupe, projectID, req.IdempotencyKey)
				metrics.SetErrorStage("guard")
				err = c.JSON(http.StatusInternalServerError, errorResponse{Error: "guard unavailable"})
				return err
			}
			if !ok {
				dedupeRemove(ctx, dedupe, projectID, req.IdempotencyKey)
				metrics.SetErrorStage("mutation_in_flight")
				err = c.JSON(http.StatusConflict, errorResponse{Error: "another mutation is in flight for this container"})
				return err
			}
			defer guard.Release(ctx, projectID, refs...)
		}

		storeStart := time.Now()
		result, storeErr := store.TransitionSprint(ctx, actor, projectID, sprintID, req.Status, req.Disposition)
		metrics.ObserveStore(time.Since(storeStart))
		if storeErr != nil {
			dedupeRemove(ctx, dedupe, projectID, req.IdempotencyKey)
			metrics.SetErrorStage("storage")
			err = writeStoreError(c, storeErr)
			return err
		}

		publishEvents([]domain.EventEnvelope{newEnvelope(actor, projectID, sprintID, domain.EventSprintTransition, sprintTransitionedEvent{
			SprintID:    sprintID,
			Status:      req.Status,
			Disposition: req.Disposition,
		})})

		resp := transitionResponse{Sprint: result.Sprint, SprintTasks: orEmpty(result.SprintTasks)}
		containers := 1
		if result.Target != nil {
			tp := containerPayloadFrom(*result.Target)
			resp.Target = &tp
			containers++
		}
		metrics.SetContainersReturned(containers)
		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, resp)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func decodeBody(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, mutationMaxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// writeStoreError maps storage errors onto HTTP responses via the marker
// interfaces; anything unclassified is a 500.
func writeStoreError(c echo.Context, err error) error {
	var nf NotFoundError
	var pd PermissionDeniedError
	var ii InvalidInputError
	switch {
	case errors.As(err, &nf):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &pd):
		return c.JSON(http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.As(err, &ii):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

// dedupeAdd registers the idempotency key. handled is true when the request
// must stop with the returned status.
func dedupeAdd(ctx context.Context, dedupe Deduper, projectID, key string) (status int, stage string, handled bool) {
	if dedupe == nil || key == "" {
		return 0, "", false
	}
	added, err := dedupe.Add(ctx, projectID, key)
	if err != nil {
		return http.StatusInternalServerError, "dedupe", true
	}
	if !added {
		return http.StatusConflict, "duplicate_request", true
	}
	return 0, "", false
}

func dedupeRemove(ctx context.Context, dedupe Deduper, projectID, key string) {
	if dedupe == nil || key == "" {
		return
	}
	_ = dedupe.Remove(ctx, projectID, key)
}

func guardRefs(origin, target domain.ContainerRef) []domain.ContainerRef {
	if origin == target {
		return []domain.ContainerRef{origin}
	}
	return []domain.ContainerRef{origin, target}
}

func newEnvelope(actor domain.Actor, projectID, entityID, eventType string, payload any) domain.EventEnvelope {
	var data []byte
	if payload != nil {
		data, _ = sonic.Marshal(payload)
	}
	return domain.EventEnvelope{
		ActorID: actor.ID,
		Event: domain.BoardEvent{
			ID:        uuid.NewString(),
			ProjectID: projectID,
			EntityID:  entityID,
			Type:      eventType,
			Data:      data,
			Timestamp: nextTimestamp(),
		},
	}
}

func orEmpty(tasks []domain.Task) []domain.Task {
	if tasks == nil {
		return []domain.Task{}
	}
	return tasks
}
