package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sprintboard/domain"
)

// RedisGuard serializes container mutations across instances. A container is
// locked for the duration of a mutation; concurrent requests touching the
// same container are rejected instead of queued so clients can keep their
// optimistic state until the first mutation settles.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard creates a guard using the provided Redis client. The TTL
// bounds how long a crashed instance can keep a container locked.
func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) key(projectID string, ref domain.ContainerRef) string {
	return fmt.Sprintf("guard:%s:%s", projectID, ref.String())
}

// Acquire locks every given container, or none. It returns false when any of
// them is already held by an in-flight mutation.
func (g *RedisGuard) Acquire(ctx context.Context, projectID string, refs ...domain.ContainerRef) (bool, error) {
	acquired := make([]domain.ContainerRef, 0, len(refs))
	for _, ref := range refs {
		ok, err := g.client.SetNX(ctx, g.key(projectID, ref), 1, g.ttl).Result()
		if err != nil || !ok {
			g.Release(ctx, projectID, acquired...)
			return false, err
		}
		acquired = append(acquired, ref)
	}
	return true, nil
}

// Release unlocks the given containers.
func (g *RedisGuard) Release(ctx context.Context, projectID string, refs ...domain.ContainerRef) {
	for _, ref := range refs {
		_ = g.client.Del(ctx, g.key(projectID, ref)).Err()
	}
}

// RedisDeduper stores processed idempotency keys in Redis so all instances
// can avoid reprocessing the same mutation.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(projectID, key string) string {
	return fmt.Sprintf("dedupe:%s:%s", projectID, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, projectID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(projectID, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key. It is used when downstream
// processing fails so the caller may retry the mutation.
func (r *RedisDeduper) Remove(ctx context.Context, projectID, key string) error {
	return r.client.Del(ctx, r.key(projectID, key)).Err()
}
