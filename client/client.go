// Package client is the HTTP implementation of the remote store the drag
// reconciliation engine persists through. It talks to the board API and maps
// wire payloads back onto engine types.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sprintboard/domain"
	"sprintboard/reconcile"
)

const (
	tracerName     = "sprintboard/client"
	maxErrorBody   = 8 * 1024
	defaultTimeout = 30 * time.Second
)

// Client wraps http.Client with the board API's call shapes.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// New creates a new Client.
func New(baseURL, bearer string) *Client {
	return &Client{BaseURL: baseURL, Bearer: bearer, HTTP: &http.Client{Timeout: defaultTimeout}}
}

// APIError is a non-2xx response from the board API. It keeps the status so
// engine callers can classify permission and not-found failures.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api responded %d: %s", e.Status, e.Message)
}

// NotFound reports a 404 response.
func (e *APIError) NotFound() bool { return e.Status == http.StatusNotFound }

// PermissionDenied reports a 403 response.
func (e *APIError) PermissionDenied() bool { return e.Status == http.StatusForbidden }

// Conflict reports a 409 response, raised while another mutation is in
// flight for one of the touched containers.
func (e *APIError) Conflict() bool { return e.Status == http.StatusConflict }

type containerPayload struct {
	SprintID *string       `json:"sprintId"`
	Tasks    []domain.Task `json:"tasks"`
}

type reorderRequest struct {
	TargetSprintID *string `json:"targetSprintId"`
	NewOrder       int     `json:"newOrder"`
	IdempotencyKey string  `json:"idempotencyKey,omitempty"`
}

type reorderResponse struct {
	Containers []containerPayload `json:"containers"`
}

type splitRequest struct {
	TargetSprintID  *string `json:"targetSprintId"`
	CopyDescription bool    `json:"copyDescription"`
	CopyComments    bool    `json:"copyComments"`
}

type splitResponse struct {
	Task domain.Task `json:"task"`
}

type transitionRequest struct {
	Status      domain.SprintStatus `json:"status"`
	Disposition *domain.Disposition `json:"disposition,omitempty"`
}

type transitionResponse struct {
	Sprint      domain.Sprint     `json:"sprint"`
	SprintTasks []domain.Task     `json:"sprintTasks"`
	Target      *containerPayload `json:"target,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ReorderTask moves a task to the target container at the given order and
// returns the authoritative lists of every container the move touched.
func (c *Client) ReorderTask(ctx context.Context, projectID, taskID string, target domain.ContainerRef, newOrder int) (reconcile.ReorderResult, error) {
	path := fmt.Sprintf("/api/projects/%s/tasks/%s/reorder", url.PathEscape(projectID), url.PathEscape(taskID))
	body := reorderRequest{TargetSprintID: target.SprintIDPtr(), NewOrder: newOrder}

	var resp reorderResponse
	if err := c.postJSON(ctx, "reorderTask", path, body, &resp); err != nil {
		return reconcile.ReorderResult{}, err
	}

	result := reconcile.ReorderResult{Containers: make([]reconcile.ContainerTasks, 0, len(resp.Containers))}
	for _, ct := range resp.Containers {
		result.Containers = append(result.Containers, reconcile.ContainerTasks{
			Ref:   domain.RefFromSprintID(ct.SprintID),
			Tasks: ct.Tasks,
		})
	}
	return result, nil
}

// SplitTask creates a continuation of the task in the target container and
// returns it.
func (c *Client) SplitTask(ctx context.Context, projectID, taskID string, target domain.ContainerRef, opts domain.TransferOptions) (domain.Task, error) {
	path := fmt.Sprintf("/api/projects/%s/tasks/%s/split", url.PathEscape(projectID), url.PathEscape(taskID))
	body := splitRequest{
		TargetSprintID:  target.SprintIDPtr(),
		CopyDescription: opts.Description,
		CopyComments:    opts.Comments,
	}

	var resp splitResponse
	if err := c.postJSON(ctx, "splitTask", path, body, &resp); err != nil {
		return domain.Task{}, err
	}
	return resp.Task, nil
}

// TransitionSprint changes a sprint's lifecycle status, applying the given
// disposition to its open tasks.
func (c *Client) TransitionSprint(ctx context.Context, projectID, sprintID string, status domain.SprintStatus, disposition *domain.Disposition) (reconcile.TransitionResult, error) {
	path := fmt.Sprintf("/api/projects/%s/sprints/%s/transition", url.PathEscape(projectID), url.PathEscape(sprintID))
	body := transitionRequest{Status: status, Disposition: disposition}

	var resp transitionResponse
	if err := c.postJSON(ctx, "transitionSprint", path, body, &resp); err != nil {
		return reconcile.TransitionResult{}, err
	}

	result := reconcile.TransitionResult{Sprint: resp.Sprint, SprintTasks: resp.SprintTasks}
	if resp.Target != nil {
		result.Target = &reconcile.ContainerTasks{
			Ref:   domain.RefFromSprintID(resp.Target.SprintID),
			Tasks: resp.Target.Tasks,
		}
	}
	return result, nil
}

// FetchTask reads a single task's authoritative state.
func (c *Client) FetchTask(ctx context.Context, projectID, taskID string) (domain.Task, error) {
	path := fmt.Sprintf("/api/projects/%s/tasks/%s", url.PathEscape(projectID), url.PathEscape(taskID))

	var task domain.Task
	if err := c.getJSON(ctx, "fetchTask", path, &task); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	return c.do(ctx, op, http.MethodGet, path, nil, out)
}

func (c *Client) postJSON(ctx context.Context, op, path string, body, out any) error {
	data, err := sonic.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, op, http.MethodPost, path, data, out)
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) (err error) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("url.path", path),
		))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(spanCtx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return sonic.ConfigStd.NewDecoder(resp.Body).Decode(out)
}

func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode, Message: string(data)}
	var parsed errorResponse
	if err := sonic.Unmarshal(data, &parsed); err == nil && parsed.Error != "" {
		apiErr.Message = parsed.Error
	}
	return apiErr
}
