package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"

	"sprintboard/domain"
)

func sid(id string) *string { return &id }

func TestReorderTaskMapsContainers(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody reorderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		if err := sonic.Unmarshal(data, &gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		resp := reorderResponse{Containers: []containerPayload{
			{SprintID: nil, Tasks: []domain.Task{{ID: "a", Order: 0}}},
			{SprintID: sid("s1"), Tasks: []domain.Task{{ID: "t1", Order: 0, SprintID: sid("s1")}}},
		}}
		w.Header().Set("Content-Type", "application/json")
		_ = sonic.ConfigStd.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	result, err := c.ReorderTask(context.Background(), "p1", "t1", domain.SprintRef("s1"), 0)
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}

	if gotPath != "/api/projects/p1/tasks/t1/reorder" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("unexpected auth header: %s", gotAuth)
	}
	if gotBody.TargetSprintID == nil || *gotBody.TargetSprintID != "s1" || gotBody.NewOrder != 0 {
		t.Fatalf("unexpected request body: %#v", gotBody)
	}
	if len(result.Containers) != 2 {
		t.Fatalf("expected 2 containers, got %d", len(result.Containers))
	}
	if !result.Containers[0].Ref.IsBacklog() {
		t.Fatalf("expected first container to be the backlog")
	}
	if id, ok := result.Containers[1].Ref.SprintID(); !ok || id != "s1" {
		t.Fatalf("unexpected second container ref: %v", result.Containers[1].Ref)
	}
}

func TestSplitTaskSendsTransferOptions(t *testing.T) {
	var gotBody splitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		if err := sonic.Unmarshal(data, &gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = sonic.ConfigStd.NewEncoder(w).Encode(splitResponse{
			Task: domain.Task{ID: "t1-cont", SplitFrom: "t1", SprintID: sid("s2")},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	task, err := c.SplitTask(context.Background(), "p1", "t1", domain.SprintRef("s2"), domain.TransferOptions{Description: true})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if !gotBody.CopyDescription || gotBody.CopyComments {
		t.Fatalf("unexpected transfer options on the wire: %#v", gotBody)
	}
	if task.ID != "t1-cont" || task.SplitFrom != "t1" {
		t.Fatalf("unexpected continuation: %#v", task)
	}
}

func TestTransitionSprintMapsTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = sonic.ConfigStd.NewEncoder(w).Encode(transitionResponse{
			Sprint:      domain.Sprint{ID: "s1", Status: domain.SprintCompleted},
			SprintTasks: []domain.Task{},
			Target: &containerPayload{
				SprintID: nil,
				Tasks:    []domain.Task{{ID: "t1"}},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	disposition := &domain.Disposition{Action: domain.DispositionMoveAll}
	result, err := c.TransitionSprint(context.Background(), "p1", "s1", domain.SprintCompleted, disposition)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if result.Sprint.Status != domain.SprintCompleted {
		t.Fatalf("unexpected sprint status: %s", result.Sprint.Status)
	}
	if result.Target == nil || !result.Target.Ref.IsBacklog() {
		t.Fatalf("expected backlog target, got %#v", result.Target)
	}
}

func TestFetchTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("expected GET, got %s", r.Method)
		}
		_ = sonic.ConfigStd.NewEncoder(w).Encode(domain.Task{ID: "t1", Title: "work", Order: 3})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	task, err := c.FetchTask(context.Background(), "p1", "t1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if task.ID != "t1" || task.Order != 3 {
		t.Fatalf("unexpected task: %#v", task)
	}
}

func TestErrorResponsesBecomeAPIErrors(t *testing.T) {
	testCases := map[string]struct {
		status int
		check  func(e *APIError) bool
	}{
		"not_found": {status: http.StatusNotFound, check: (*APIError).NotFound},
		"forbidden": {status: http.StatusForbidden, check: (*APIError).PermissionDenied},
		"conflict":  {status: http.StatusConflict, check: (*APIError).Conflict},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			c := New(srv.URL, "tok")
			_, err := c.FetchTask(context.Background(), "p1", "missing")
			if err == nil {
				t.Fatalf("expected error")
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %T", err)
			}
			if !tc.check(apiErr) {
				t.Fatalf("status %d misclassified: %#v", tc.status, apiErr)
			}
			if apiErr.Message != "nope" {
				t.Fatalf("expected parsed error message, got %q", apiErr.Message)
			}
		})
	}
}
