package task

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "AgentHub/internal/errors"
)

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error { return errors.New("broker down") }
func (failingProducer) Close() error                          { return nil }

func TestSubmitValidates(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(4), 0)
	ctx := context.Background()

	if _, err := service.Submit(ctx, Request{Task: "  "}); !xerrors.HasCode(err, CodeTaskValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := service.Submit(ctx, Request{Task: "ok", ConversationID: "../etc"}); !xerrors.HasCode(err, CodeTaskValidation) {
		t.Fatalf("expected validation error for conversation id, got %v", err)
	}
	if _, err := NewService(nil, nil, 1).Submit(ctx, Request{Task: "ok"}); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure, got %v", err)
	}

	task, err := service.Submit(ctx, Request{Task: " hello ", Metadata: map[string]any{"source": "test"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if task.ID == "" || task.Task != "hello" || task.Status != StatusPending || task.MaxRetries != DefaultMaxRetries {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestSubmitIsIdempotentByID(t *testing.T) {
	queue := NewMemoryQueue(4)
	service := NewService(NewMemoryStore(), queue, 3)
	ctx := context.Background()

	first, err := service.Submit(ctx, Request{ID: "fixed", Task: "one"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := service.Submit(ctx, Request{ID: "fixed", Task: "two"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.Task != first.Task {
		t.Fatalf("resubmission should return the existing task, got %+v", second)
	}
	if queue.Len() != 1 {
		t.Fatalf("task should be published once, queue has %d", queue.Len())
	}
}

func TestSubmitMarksPublishFailures(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, failingProducer{}, 3)
	_, err := service.Submit(context.Background(), Request{ID: "p1", Task: "lost"})
	if !xerrors.HasCode(err, CodeTaskPublish) {
		t.Fatalf("expected publish error, got %v", err)
	}
	task, getErr := service.Get(context.Background(), "p1")
	if getErr != nil {
		t.Fatalf("get: %v", getErr)
	}
	if !task.Terminal() || task.ErrorCode != string(CodeTaskPublish) {
		t.Fatalf("publish failure should be terminal, got %+v", task)
	}
}

func TestWaitUntilCompletedHonoursContext(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(4), 3)
	task, _ := service.Submit(context.Background(), Request{Task: "never processed"})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := service.WaitUntilCompleted(ctx, task.ID, 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if _, err := service.WaitUntilCompleted(context.Background(), "missing", 0); !IsTaskError(err, CodeTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRedisQueueRoundTrip(t *testing.T) {
	addr := os.Getenv("AGENTHUB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AGENTHUB_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	queueName := "agenthub:test:tasks:" + time.Now().Format("150405.000000")
	queue, err := NewRedisQueue(client, RedisQueueConfig{Queue: queueName, BlockWait: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	defer client.Del(context.Background(), queueName)

	if err := queue.Publish(context.Background(), "task-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	received := make(chan string, 1)
	go func() {
		_ = queue.Consume(ctx, 1, func(_ context.Context, id string) error {
			received <- id
			cancel()
			return nil
		})
	}()
	select {
	case id := <-received:
		if id != "task-1" {
			t.Fatalf("unexpected id %s", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("task not consumed")
	}
}
