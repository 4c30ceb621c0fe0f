package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/medical-document-processor/internal/models"
)

const TaskTypeDocumentProcess = "document:process"

// Queue publishes work items and reports their status.
type Queue interface {
	Enqueue(ctx context.Context, item models.WorkItem) (string, error)
	GetTaskStatus(ctx context.Context, documentID string) (*TaskStatus, error)
	SaveFinalStatus(ctx context.Context, status *TaskStatus) error
	Close() error
}

// ErrDuplicateTask is returned when the document is already queued.
var ErrDuplicateTask = errors.New("document already queued")

type QueueConfig struct {
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	Queue          string
	MaxRetries     int
	ProcessTimeout time.Duration
	StatusTTL      time.Duration
}

// TaskClient is the subset of *asynq.Client the queue uses.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// TaskInspector is the subset of *asynq.Inspector the queue uses.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	Close() error
}

type AsynqQueue struct {
	client    TaskClient
	inspector TaskInspector
	status    *StatusCache
	closeKV   func() error
	cfg       QueueConfig
}

func NewAsynqQueue(cfg QueueConfig) *AsynqQueue {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	q := NewQueueWithClients(asynq.NewClient(redisOpt), asynq.NewInspector(redisOpt), redisClient, cfg)
	q.closeKV = redisClient.Close
	return q
}

// NewQueueWithClients builds a queue over existing clients.
func NewQueueWithClients(client TaskClient, inspector TaskInspector, kv KV, cfg QueueConfig) *AsynqQueue {
	return &AsynqQueue{
		client:    client,
		inspector: inspector,
		status:    NewStatusCache(kv, cfg.StatusTTL),
		closeKV:   func() error { return nil },
		cfg:       cfg,
	}
}

// NewProcessTask builds the asynq task for a work item. The document id is
// the task id so a document is queued at most once at a time.
func NewProcessTask(item models.WorkItem, queue string, maxRetries int, timeout time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal work item: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(queue),
		asynq.MaxRetry(maxRetries),
		asynq.TaskID(item.DocumentID),
	}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	return asynq.NewTask(TaskTypeDocumentProcess, payload, opts...), nil
}

// DecodeWorkItem parses a task payload.
func DecodeWorkItem(payload []byte) (models.WorkItem, error) {
	var item models.WorkItem
	if err := json.Unmarshal(payload, &item); err != nil {
		return models.WorkItem{}, fmt.Errorf("failed to unmarshal work item: %w", err)
	}
	return item, nil
}

func (q *AsynqQueue) Enqueue(ctx context.Context, item models.WorkItem) (string, error) {
	t, err := NewProcessTask(item, q.cfg.Queue, q.cfg.MaxRetries, q.cfg.ProcessTimeout)
	if err != nil {
		return "", err
	}

	info, err := q.client.EnqueueContext(ctx, t)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		if err := q.releaseFinished(item.DocumentID); err != nil {
			return item.DocumentID, err
		}
		info, err = q.client.EnqueueContext(ctx, t)
	}
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	if err := q.status.Save(ctx, &TaskStatus{
		DocumentID: item.DocumentID,
		Status:     string(models.StatusReceived),
		StartedAt:  time.Now(),
	}); err != nil {
		return info.ID, err
	}
	return info.ID, nil
}

// releaseFinished deletes the task holding documentID when it is archived
// or completed, so the document can be submitted again. A task that is
// still waiting or running is a duplicate.
func (q *AsynqQueue) releaseFinished(documentID string) error {
	info, err := q.inspector.GetTaskInfo(q.cfg.Queue, documentID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) {
			return nil
		}
		return fmt.Errorf("failed to inspect conflicting task: %w", err)
	}

	switch info.State {
	case asynq.TaskStateArchived, asynq.TaskStateCompleted:
		if err := q.inspector.DeleteTask(q.cfg.Queue, documentID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return fmt.Errorf("failed to delete finished task: %w", err)
		}
		return nil
	default:
		return ErrDuplicateTask
	}
}

// GetTaskStatus prefers the cached status and falls back to the queue.
func (q *AsynqQueue) GetTaskStatus(ctx context.Context, documentID string) (*TaskStatus, error) {
	status, err := q.status.Get(ctx, documentID)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, ErrStatusNotFound) {
		return nil, err
	}

	info, err := q.inspector.GetTaskInfo(q.cfg.Queue, documentID)
	if err != nil {
		return nil, fmt.Errorf("task not found: %w", err)
	}
	status = convertAsynqStatus(info)

	if err := q.status.Save(ctx, status); err != nil {
		return status, err
	}
	return status, nil
}

func (q *AsynqQueue) SaveFinalStatus(ctx context.Context, status *TaskStatus) error {
	return q.status.Save(ctx, status)
}

func (q *AsynqQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close(), q.closeKV())
}

func convertAsynqStatus(info *asynq.TaskInfo) *TaskStatus {
	status := &TaskStatus{
		DocumentID: info.ID,
		Attempt:    info.Retried + 1,
		Error:      info.LastErr,
		StartedAt:  info.NextProcessAt,
	}

	switch info.State {
	case asynq.TaskStatePending, asynq.TaskStateScheduled:
		status.Status = string(models.StatusReceived)
		status.Attempt = info.Retried
	case asynq.TaskStateActive:
		status.Status = string(models.StatusProcessing)
	case asynq.TaskStateCompleted:
		status.Status = string(models.StatusDone)
		status.FinishedAt = info.CompletedAt
	case asynq.TaskStateRetry, asynq.TaskStateArchived:
		status.Status = string(models.StatusFailed)
	}
	return status
}
