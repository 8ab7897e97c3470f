package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/visiondispatch/core/internal/model"
)

// startRedis spins up a disposable Redis container for the duration of one
// test, mirroring the teacher's spanner emulator setup in
// internal/storage/spanner_test.go.
func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis-backed integration test in -short mode")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestQueue_EnqueueLeaseAck(t *testing.T) {
	url := startRedis(t)
	q, err := New(url)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	ctx := context.Background()
	if err := q.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	id, err := q.Enqueue(ctx, model.Task{Partition: 3})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	leased, err := q.Lease(ctx, "worker-1", []int{3}, 10)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(leased) != 1 || leased[0].Task.ID != id {
		t.Fatalf("expected to lease the enqueued job, got %+v", leased)
	}

	if err := q.Ack(ctx, model.TaskResult{TaskID: id, Status: "completed"}); err != nil {
		t.Fatalf("ack: %v", err)
	}

	depth, err := q.Depth(ctx, []int{3})
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected depth 0 after ack, got %d", depth)
	}
}

func TestQueue_LeaseRespectsPartitionAffinity(t *testing.T) {
	url := startRedis(t)
	q, err := New(url)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	ctx := context.Background()
	if _, err := q.Enqueue(ctx, model.Task{Partition: 0}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Enqueue(ctx, model.Task{Partition: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	leased, err := q.Lease(ctx, "worker-1", []int{1}, 10)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(leased) != 1 || leased[0].Task.Partition != 1 {
		t.Fatalf("expected only partition-1 job leased, got %+v", leased)
	}
}

func TestQueue_NackRetryableReschedulesWithBackoff(t *testing.T) {
	url := startRedis(t)
	q, err := New(url)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	ctx := context.Background()
	id, err := q.Enqueue(ctx, model.Task{Partition: 0, Priority: model.PriorityHigh})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Lease(ctx, "worker-1", []int{0}, 10); err != nil {
		t.Fatalf("lease: %v", err)
	}

	if err := q.Nack(ctx, id, model.ErrDescribeTransient); err != nil {
		t.Fatalf("nack: %v", err)
	}

	// Immediately after nack the job should not be ready yet (backoff delay
	// has not elapsed).
	leased, err := q.Lease(ctx, "worker-1", []int{0}, 10)
	if err != nil {
		t.Fatalf("lease after nack: %v", err)
	}
	if len(leased) != 0 {
		t.Fatalf("expected job not yet ready during backoff window, got %+v", leased)
	}

	time.Sleep(1100 * time.Millisecond) // high-priority base delay is 1s
	leased, err = q.Lease(ctx, "worker-1", []int{0}, 10)
	if err != nil {
		t.Fatalf("lease after backoff elapsed: %v", err)
	}
	if len(leased) != 1 {
		t.Fatalf("expected job ready after backoff elapsed, got %+v", leased)
	}
}

func TestQueue_NackExhaustsRetriesAndFails(t *testing.T) {
	url := startRedis(t)
	q, err := New(url)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	ctx := context.Background()
	id, err := q.Enqueue(ctx, model.Task{Partition: 0, Priority: model.PriorityHigh})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// High-priority backoff grows 1s, 2s, ... (base * 2^attempt); sleep
	// past each window so the next lease can observe the rescheduled job.
	sleepFor := []time.Duration{1100 * time.Millisecond, 2100 * time.Millisecond, 0}
	for i := 0; i < model.MaxAttempts; i++ {
		if _, err := q.Lease(ctx, "worker-1", []int{0}, 10); err != nil {
			t.Fatalf("lease: %v", err)
		}
		if err := q.Nack(ctx, id, model.ErrDescribeTransient); err != nil {
			t.Fatalf("nack: %v", err)
		}
		time.Sleep(sleepFor[i])
	}

	depth, err := q.Depth(ctx, []int{0})
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected job to terminally fail (not requeued) after exhausting attempts, got depth %d", depth)
	}
}
