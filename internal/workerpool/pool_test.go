package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/visiondispatch/core/internal/model"
)

func instantDescribe(ctx context.Context, task model.Task) (string, error) {
	return "described:" + task.ID, nil
}

func TestPool_SingleTaskCompletes(t *testing.T) {
	p, err := New(2, instantDescribe, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(context.Background())

	resultCh, err := p.Submit(context.Background(), model.Task{ID: "t1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case res := <-resultCh:
		if res.Status != "completed" {
			t.Fatalf("expected completed, got %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestPool_AssignCallbackFiresBeforeCompletion(t *testing.T) {
	var calls int32
	assignCB := func(workerID, queueSizeAfterPop int, taskID string) {
		atomic.AddInt32(&calls, 1)
	}

	p, err := New(2, instantDescribe, assignCB)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(context.Background())

	resultCh, _ := p.Submit(context.Background(), model.Task{ID: "t1"})
	<-resultCh

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 assignment callback, got %d", calls)
	}
}

func TestPool_ConcurrencyBoundedByWorkerCount(t *testing.T) {
	const workers = 4
	const tasks = 12

	var current int32
	var maxObserved int32
	blockDescribe := func(ctx context.Context, task model.Task) (string, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			m := atomic.LoadInt32(&maxObserved)
			if n <= m || atomic.CompareAndSwapInt32(&maxObserved, m, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return "ok", nil
	}

	p, err := New(workers, blockDescribe, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		resultCh, err := p.Submit(context.Background(), model.Task{ID: fmt.Sprintf("t%d", i)})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-resultCh
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxObserved); got > int32(workers) {
		t.Fatalf("observed concurrency %d exceeds worker count %d", got, workers)
	}
}

func TestPool_WorkerSelectionPrefersLowestIdleID(t *testing.T) {
	// Submit tasks one at a time, waiting for each to finish, so a single
	// idle worker pool should always pick worker 0.
	p, err := New(3, instantDescribe, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(context.Background())

	for i := 0; i < 3; i++ {
		resultCh, _ := p.Submit(context.Background(), model.Task{ID: fmt.Sprintf("t%d", i)})
		res := <-resultCh
		if res.WorkerID != 0 {
			t.Fatalf("expected worker 0 to be reused when idle, got %d", res.WorkerID)
		}
	}
}

func TestPool_ErrorFromDescribeSurfacesAsErrorResult(t *testing.T) {
	failDescribe := func(ctx context.Context, task model.Task) (string, error) {
		return "", model.ErrDescribePermanent
	}
	p, err := New(1, failDescribe, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(context.Background())

	resultCh, _ := p.Submit(context.Background(), model.Task{ID: "t1"})
	res := <-resultCh
	if res.Status != "error" {
		t.Fatalf("expected error status, got %+v", res)
	}
	if res.ErrorKind != model.ErrorKindDescribePermanent {
		t.Fatalf("expected DescribePermanent, got %v", res.ErrorKind)
	}
}

func TestPool_SubmitAfterShutdownFails(t *testing.T) {
	p, err := New(1, instantDescribe, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if _, err := p.Submit(context.Background(), model.Task{ID: "t1"}); err == nil {
		t.Fatalf("expected submit after shutdown to fail")
	}
}

func TestPool_WorkersSnapshotReflectsProcessedCount(t *testing.T) {
	p, err := New(2, instantDescribe, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(context.Background())

	resultCh, _ := p.Submit(context.Background(), model.Task{ID: "t1"})
	<-resultCh

	workers := p.Workers()
	var totalProcessed int64
	for _, w := range workers {
		totalProcessed += w.Processed
	}
	if totalProcessed != 1 {
		t.Fatalf("expected total processed count 1, got %d", totalProcessed)
	}
}
