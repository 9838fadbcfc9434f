package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"sprintboard/board"
	"sprintboard/domain"
)

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Status      string `json:"Status"`
	Priority    string `json:"Priority"`
	AssigneeID  string `json:"AssigneeID"`
	EpicID      string `json:"EpicID"`
	Team        string `json:"Team"`
	SprintID    string `json:"SprintID"`
	Order       int    `json:"Order"`
	SplitFrom   string `json:"SplitFrom"`
	SplitTasks  string `json:"SplitTasks"` // JSON-encoded id list; tables have no array type
}

type sprintEntity struct {
	aztables.Entity
	Name      string `json:"Name"`
	Status    string `json:"Status"`
	StartDate string `json:"StartDate"`
	EndDate   string `json:"EndDate"`
	Sequence  int64  `json:"Sequence"` // creation order for stable board layout
}

func taskFromEntity(ent taskEntity) domain.Task {
	t := domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      domain.TaskStatus(ent.Status),
		Priority:    domain.Priority(ent.Priority),
		AssigneeID:  ent.AssigneeID,
		EpicID:      ent.EpicID,
		Team:        ent.Team,
		Order:       ent.Order,
		SplitFrom:   ent.SplitFrom,
	}
	if ent.SprintID != "" {
		id := ent.SprintID
		t.SprintID = &id
	}
	if ent.SplitTasks != "" {
		_ = json.Unmarshal([]byte(ent.SplitTasks), &t.SplitTasks)
	}
	return t
}

func entityFromTask(projectID string, t domain.Task) taskEntity {
	ent := taskEntity{
		Entity:      aztables.Entity{PartitionKey: projectID, RowKey: t.ID},
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		AssigneeID:  t.AssigneeID,
		EpicID:      t.EpicID,
		Team:        t.Team,
		Order:       t.Order,
		SplitFrom:   t.SplitFrom,
	}
	if t.SprintID != nil {
		ent.SprintID = *t.SprintID
	}
	if len(t.SplitTasks) > 0 {
		if data, err := json.Marshal(t.SplitTasks); err == nil {
			ent.SplitTasks = string(data)
		}
	}
	return ent
}

func sprintFromEntity(ent sprintEntity) domain.Sprint {
	s := domain.Sprint{
		ID:     ent.RowKey,
		Name:   ent.Name,
		Status: domain.SprintStatus(ent.Status),
	}
	if ent.StartDate != "" {
		if ts, err := time.Parse(time.RFC3339, ent.StartDate); err == nil {
			s.StartDate = &ts
		}
	}
	if ent.EndDate != "" {
		if ts, err := time.Parse(time.RFC3339, ent.EndDate); err == nil {
			s.EndDate = &ts
		}
	}
	return s
}

func entityFromSprint(projectID string, s domain.Sprint, seq int64) sprintEntity {
	ent := sprintEntity{
		Entity:   aztables.Entity{PartitionKey: projectID, RowKey: s.ID},
		Name:     s.Name,
		Status:   string(s.Status),
		Sequence: seq,
	}
	if s.StartDate != nil {
		ent.StartDate = s.StartDate.Format(time.RFC3339)
	}
	if s.EndDate != nil {
		ent.EndDate = s.EndDate.Format(time.RFC3339)
	}
	return ent
}

func (s *Storage) getTaskEntity(ctx context.Context, projectID, taskID string) (taskEntity, error) {
	resp, err := s.taskTable.GetEntity(ctx, projectID, taskID, nil)
	if err != nil {
		return taskEntity{}, wrapTableError("task", taskID, err)
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return taskEntity{}, err
	}
	return ent, nil
}

func (s *Storage) getSprint(ctx context.Context, projectID, sprintID string) (domain.Sprint, int64, error) {
	resp, err := s.sprintTable.GetEntity(ctx, projectID, sprintID, nil)
	if err != nil {
		return domain.Sprint{}, 0, wrapTableError("sprint", sprintID, err)
	}
	var ent sprintEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Sprint{}, 0, err
	}
	return sprintFromEntity(ent), ent.Sequence, nil
}

// listTasks retrieves the project's tasks, optionally scoped to one sprint id
// ("" lists everything).
func (s *Storage) listTasks(ctx context.Context, projectID, sprintID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + projectID + "'"
	if sprintID != "" {
		filter += " and SprintID eq '" + sprintID + "'"
	}
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			tasks = append(tasks, taskFromEntity(ent))
		}
	}
	return tasks, nil
}

// listContainer retrieves one container's tasks sorted by order. Backlog
// tasks cannot be filtered server-side on the empty SprintID, so they are
// filtered here.
func (s *Storage) listContainer(ctx context.Context, projectID string, ref domain.ContainerRef) ([]domain.Task, error) {
	if sprintID, ok := ref.SprintID(); ok {
		if _, _, err := s.getSprint(ctx, projectID, sprintID); err != nil {
			return nil, err
		}
		tasks, err := s.listTasks(ctx, projectID, sprintID)
		if err != nil {
			return nil, err
		}
		return board.SortByOrder(tasks), nil
	}
	all, err := s.listTasks(ctx, projectID, "")
	if err != nil {
		return nil, err
	}
	backlog := []domain.Task{}
	for _, t := range all {
		if t.SprintID == nil {
			backlog = append(backlog, t)
		}
	}
	return board.SortByOrder(backlog), nil
}

func (s *Storage) listSprints(ctx context.Context, projectID string) ([]domain.Sprint, error) {
	filter := "PartitionKey eq '" + projectID + "'"
	pager := s.sprintTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	type seqSprint struct {
		sprint domain.Sprint
		seq    int64
	}
	var rows []seqSprint
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent sprintEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			rows = append(rows, seqSprint{sprint: sprintFromEntity(ent), seq: ent.Sequence})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	sprints := make([]domain.Sprint, len(rows))
	for i, r := range rows {
		sprints[i] = r.sprint
	}
	return sprints, nil
}

func (s *Storage) upsertTask(ctx context.Context, projectID string, t domain.Task) error {
	data, err := json.Marshal(entityFromTask(projectID, t))
	if err != nil {
		return err
	}
	mode := aztables.UpdateModeReplace
	if _, err := s.taskTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: mode}); err != nil {
		return wrapTableError("task", t.ID, err)
	}
	return nil
}

func (s *Storage) upsertSprint(ctx context.Context, projectID string, sprint domain.Sprint, seq int64) error {
	data, err := json.Marshal(entityFromSprint(projectID, sprint, seq))
	if err != nil {
		return err
	}
	mode := aztables.UpdateModeReplace
	if _, err := s.sprintTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: mode}); err != nil {
		return wrapTableError("sprint", sprint.ID, err)
	}
	return nil
}

// writeContainer upserts every task in an authoritative container list.
func (s *Storage) writeContainer(ctx context.Context, projectID string, tasks []domain.Task) error {
	for _, t := range tasks {
		if err := s.upsertTask(ctx, projectID, t); err != nil {
			return err
		}
	}
	return nil
}

// EnqueueEvents sends board events to the event queue for downstream
// consumers (read models, notification fan-out).
func (s *Storage) EnqueueEvents(ctx context.Context, envelopes []domain.EventEnvelope) error {
	for _, env := range envelopes {
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if _, err := s.eventQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return err
		}
	}
	return nil
}

func wrapTableError(kind, id string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == 404 {
		return notFoundError{kind: kind, id: id}
	}
	return err
}
