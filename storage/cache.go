package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"sprintboard/board"
	"sprintboard/domain"
	"sprintboard/reconcile"
)

type backend interface {
	FetchBoard(ctx context.Context, projectID string) (board.Board, error)
	FetchTask(ctx context.Context, projectID, taskID string) (domain.Task, error)
	CreateTask(ctx context.Context, actor domain.Actor, projectID string, task domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, actor domain.Actor, projectID, taskID string, patch TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, actor domain.Actor, projectID, taskID string) error
	ReorderTask(ctx context.Context, actor domain.Actor, projectID, taskID string, target domain.ContainerRef, newOrder int) (reconcile.ReorderResult, error)
	SplitTask(ctx context.Context, actor domain.Actor, projectID, taskID string, target domain.ContainerRef, opts domain.TransferOptions) (domain.Task, error)
	CreateSprint(ctx context.Context, actor domain.Actor, projectID string, sprint domain.Sprint) (domain.Sprint, error)
	TransitionSprint(ctx context.Context, actor domain.Actor, projectID, sprintID string, to domain.SprintStatus, disposition *domain.Disposition) (reconcile.TransitionResult, error)
	EnqueueEvents(ctx context.Context, envelopes []domain.EventEnvelope) error
}

// Cache wraps a Storage instance with Redis-backed caching of board reads.
// Every mutation evicts the project's cached board so the next read is
// authoritative.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchBoard(ctx context.Context, projectID string) (board.Board, error) {
	if b, ok := c.loadBoardFromCache(ctx, projectID); ok {
		return b, nil
	}
	b, err := c.base.FetchBoard(ctx, projectID)
	if err != nil {
		return board.Board{}, err
	}
	c.storeBoard(ctx, projectID, b)
	return b, nil
}

func (c *Cache) FetchTask(ctx context.Context, projectID, taskID string) (domain.Task, error) {
	return c.base.FetchTask(ctx, projectID, taskID)
}

func (c *Cache) CreateTask(ctx context.Context, actor domain.Actor, projectID string, task domain.Task) (domain.Task, error) {
	out, err := c.base.CreateTask(ctx, actor, projectID, task)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, projectID)
	return out, nil
}

func (c *Cache) UpdateTask(ctx context.Context, actor domain.Actor, projectID, taskID string, patch TaskPatch) (domain.Task, error) {
	out, err := c.base.UpdateTask(ctx, actor, projectID, taskID, patch)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, projectID)
	return out, nil
}

func (c *Cache) DeleteTask(ctx context.Context, actor domain.Actor, projectID, taskID string) error {
	if err := c.base.DeleteTask(ctx, actor, projectID, taskID); err != nil {
		return err
	}
	c.evict(ctx, projectID)
	return nil
}

func (c *Cache) ReorderTask(ctx context.Context, actor domain.Actor, projectID, taskID string, target domain.ContainerRef, newOrder int) (reconcile.ReorderResult, error) {
	out, err := c.base.ReorderTask(ctx, actor, projectID, taskID, target, newOrder)
	if err != nil {
		return reconcile.ReorderResult{}, err
	}
	c.evict(ctx, projectID)
	return out, nil
}

func (c *Cache) SplitTask(ctx context.Context, actor domain.Actor, projectID, taskID string, target domain.ContainerRef, opts domain.TransferOptions) (domain.Task, error) {
	out, err := c.base.SplitTask(ctx, actor, projectID, taskID, target, opts)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, projectID)
	return out, nil
}

func (c *Cache) CreateSprint(ctx context.Context, actor domain.Actor, projectID string, sprint domain.Sprint) (domain.Sprint, error) {
	out, err := c.base.CreateSprint(ctx, actor, projectID, sprint)
	if err != nil {
		return domain.Sprint{}, err
	}
	c.evict(ctx, projectID)
	return out, nil
}

func (c *Cache) TransitionSprint(ctx context.Context, actor domain.Actor, projectID, sprintID string, to domain.SprintStatus, disposition *domain.Disposition) (reconcile.TransitionResult, error) {
	out, err := c.base.TransitionSprint(ctx, actor, projectID, sprintID, to, disposition)
	if err != nil {
		return reconcile.TransitionResult{}, err
	}
	c.evict(ctx, projectID)
	return out, nil
}

func (c *Cache) EnqueueEvents(ctx context.Context, envelopes []domain.EventEnvelope) error {
	return c.base.EnqueueEvents(ctx, envelopes)
}

func (c *Cache) loadBoardFromCache(ctx context.Context, projectID string) (board.Board, bool) {
	if c.redis == nil {
		return board.Board{}, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(projectID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardCacheKey(projectID)).Err()
		}
		return board.Board{}, false
	}
	var b board.Board
	if err := sonic.Unmarshal(data, &b); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(projectID)).Err()
		return board.Board{}, false
	}
	return b, true
}

func (c *Cache) storeBoard(ctx context.Context, projectID string, b board.Board) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(b)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(projectID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, projectID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, boardCacheKey(projectID)).Result()
}

func boardCacheKey(projectID string) string {
	return "board:" + projectID
}
