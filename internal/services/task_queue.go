package services

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/huangang/scamarena/backend/internal/config"
	"github.com/huangang/scamarena/backend/pkg/logger"
)

const (
	TaskTypeRunRound = "round:run"
)

// RoundTask asks a worker to run a pending round.
type RoundTask struct {
	RoundID     uint   `json:"round_id"`
	TotalEmails int    `json:"total_emails"`
	RequestID   string `json:"request_id"`
	CreatedBy   string `json:"created_by,omitempty"`
}

// RoundProcessor runs one queued round.
type RoundProcessor func(context.Context, *RoundTask) error

// TaskQueue defines the interface for round task processing
type TaskQueue interface {
	// Enqueue adds a task to the queue
	Enqueue(task *RoundTask) error
	// IsAsync returns true if queue processes tasks asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

// NewTaskQueue picks the Redis-backed queue when enabled and reachable and
// the in-process queue otherwise.
func NewTaskQueue(cfg *config.RedisConfig) TaskQueue {
	if !cfg.Enabled {
		logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
		return NewSyncQueue()
	}
	queue, err := NewAsyncQueue(cfg)
	if err != nil {
		logger.Warnf("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
		return NewSyncQueue()
	}
	logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Addr)
	return queue
}

func redisClientOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

// NewAsyncQueue creates a new Redis-based async queue
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := redisClientOpt(cfg)
	client := asynq.NewClient(redisOpt)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

func (q *AsyncQueue) Enqueue(task *RoundTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	// A round is not safely re-runnable once started, so asynq never retries it.
	t := asynq.NewTask(TaskTypeRunRound, payload)
	info, err := q.client.Enqueue(t,
		asynq.Queue("default"),
		asynq.MaxRetry(0),
		asynq.TaskID(task.RequestID),
	)
	if err != nil {
		return err
	}

	logger.Infof("[AsyncQueue] Task enqueued: id=%s, queue=%s, round=%d", info.ID, info.Queue, task.RoundID)
	return nil
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue implements TaskQueue in-process (no Redis).
type SyncQueue struct {
	processor RoundProcessor
}

func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

// SetProcessor sets the function to process tasks
func (q *SyncQueue) SetProcessor(processor RoundProcessor) {
	q.processor = processor
}

// Enqueue runs the task in a goroutine so the HTTP request returns at once.
func (q *SyncQueue) Enqueue(task *RoundTask) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] No processor set, round %d will stay pending", task.RoundID)
		return nil
	}

	go func() {
		if err := q.processor(context.Background(), task); err != nil {
			logger.Errorf("[SyncQueue] Round %d failed: %v", task.RoundID, err)
		}
	}()

	return nil
}

func (q *SyncQueue) IsAsync() bool {
	return false
}

func (q *SyncQueue) Close() error {
	return nil
}
