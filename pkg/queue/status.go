package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrStatusNotFound = errors.New("status not cached")

// TaskStatus is the short-lived status view kept in Redis.
type TaskStatus struct {
	DocumentID string    `json:"document_id"`
	Status     string    `json:"status"`
	Attempt    int       `json:"attempt"`
	Pages      int       `json:"pages,omitempty"`
	Fields     int       `json:"fields,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// KV is the subset of the Redis client the cache uses.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// StatusCache stores TaskStatus values under task_status:<document id>.
type StatusCache struct {
	kv  KV
	ttl time.Duration
}

func NewStatusCache(kv KV, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StatusCache{kv: kv, ttl: ttl}
}

func statusKey(documentID string) string {
	return fmt.Sprintf("task_status:%s", documentID)
}

func (c *StatusCache) Save(ctx context.Context, status *TaskStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := c.kv.Set(ctx, statusKey(status.DocumentID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

func (c *StatusCache) Get(ctx context.Context, documentID string) (*TaskStatus, error) {
	data, err := c.kv.Get(ctx, statusKey(documentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStatusNotFound
		}
		return nil, fmt.Errorf("failed to get status from redis: %w", err)
	}

	var status TaskStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &status, nil
}
