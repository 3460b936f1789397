package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huangang/scamarena/backend/internal/config"
)

func TestTaskTypeRunRound_Constant(t *testing.T) {
	if TaskTypeRunRound != "round:run" {
		t.Errorf("TaskTypeRunRound = %q, expected %q", TaskTypeRunRound, "round:run")
	}
}

func TestRoundTask_JSONKeys(t *testing.T) {
	data, err := json.Marshal(RoundTask{RoundID: 7, TotalEmails: 3, RequestID: "req-7"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"round_id":7,"total_emails":3,"request_id":"req-7"}`, string(data))
}

func TestSyncQueue_IsAsync(t *testing.T) {
	q := NewSyncQueue()
	if q.IsAsync() {
		t.Error("SyncQueue.IsAsync() should return false")
	}
}

func TestSyncQueue_Close(t *testing.T) {
	q := NewSyncQueue()
	if err := q.Close(); err != nil {
		t.Errorf("SyncQueue.Close() returned error: %v", err)
	}
}

func TestSyncQueue_EnqueueWithoutProcessor(t *testing.T) {
	q := NewSyncQueue()
	if err := q.Enqueue(&RoundTask{RoundID: 1}); err != nil {
		t.Errorf("Enqueue without processor should not error, got: %v", err)
	}
}

func TestSyncQueue_EnqueueRunsProcessor(t *testing.T) {
	q := NewSyncQueue()
	got := make(chan *RoundTask, 1)
	q.SetProcessor(func(_ context.Context, task *RoundTask) error {
		got <- task
		return nil
	})

	task := &RoundTask{RoundID: 42, TotalEmails: 5, RequestID: "abc"}
	require.NoError(t, q.Enqueue(task))

	select {
	case processed := <-got:
		assert.Equal(t, task, processed)
	case <-time.After(2 * time.Second):
		t.Fatal("processor was not called")
	}
}

func TestNewTaskQueue_RedisDisabled(t *testing.T) {
	q := NewTaskQueue(&config.RedisConfig{Enabled: false})
	_, ok := q.(*SyncQueue)
	assert.True(t, ok)
}

func TestNewTaskQueue_RedisUnreachableFallsBack(t *testing.T) {
	q := NewTaskQueue(&config.RedisConfig{Enabled: true, Addr: "127.0.0.1:1"})
	assert.False(t, q.IsAsync())
}

func TestAsyncQueue_Enqueue(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.RedisConfig{Enabled: true, Addr: mr.Addr()}

	q, err := NewAsyncQueue(cfg)
	require.NoError(t, err)
	defer q.Close()
	assert.True(t, q.IsAsync())

	require.NoError(t, q.Enqueue(&RoundTask{RoundID: 9, TotalEmails: 2, RequestID: "req-9"}))

	// The request id doubles as the task id, so a duplicate is refused.
	err = q.Enqueue(&RoundTask{RoundID: 9, TotalEmails: 2, RequestID: "req-9"})
	assert.ErrorIs(t, err, asynq.ErrTaskIDConflict)

	inspector := asynq.NewInspector(redisClientOpt(cfg))
	defer inspector.Close()
	info, err := inspector.GetTaskInfo("default", "req-9")
	require.NoError(t, err)
	assert.Equal(t, TaskTypeRunRound, info.Type)
	assert.Equal(t, 0, info.MaxRetry)

	var task RoundTask
	require.NoError(t, json.Unmarshal(info.Payload, &task))
	assert.Equal(t, uint(9), task.RoundID)
}

func TestWorker_HandleRoundTask(t *testing.T) {
	w := &Worker{}
	var seen *RoundTask
	w.SetProcessor(func(_ context.Context, task *RoundTask) error {
		seen = task
		return nil
	})

	payload, err := json.Marshal(RoundTask{RoundID: 3, TotalEmails: 1, RequestID: "r"})
	require.NoError(t, err)
	require.NoError(t, w.handleRoundTask(context.Background(), asynq.NewTask(TaskTypeRunRound, payload)))
	require.NotNil(t, seen)
	assert.Equal(t, uint(3), seen.RoundID)

	err = w.handleRoundTask(context.Background(), asynq.NewTask(TaskTypeRunRound, []byte("{")))
	assert.Error(t, err)
}

func TestNewWorker_RedisDisabled(t *testing.T) {
	assert.Nil(t, NewWorker(&config.RedisConfig{Enabled: false}, 2))
}
