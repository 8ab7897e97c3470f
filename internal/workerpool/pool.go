// Package workerpool implements the in-process producer/consumer worker
// pool and its coordinator: a cooperative single-coordinator / N-parallel-
// worker scheme (spec.md §4.3, §5). The coordinator suspends on a signal
// channel rather than busy-polling, per spec.md §9's replace-busy-polling
// note; bounded timers still apply so the coordinator can notice a closed
// pool and exit cleanly.
package workerpool

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/visiondispatch/core/internal/model"
)

const (
	lateArrivalPoll = 100 * time.Millisecond
	slotWaitPoll    = 50 * time.Millisecond
)

// DescribeFunc invokes the external describer for one task. The pool
// itself is agnostic to how description happens; the caller supplies this.
type DescribeFunc func(ctx context.Context, task model.Task) (string, error)

// AssignCallback is the pool's single coupling point to the Streaming
// Dispatcher: invoked before a task's description call runs.
type AssignCallback func(workerID, queueSizeAfterPop int, taskID string)

// workerSlot is one entry of the coordinator's worker table. busy and
// processed are mutated by the coordinator (assignment) and by the
// worker's own completion callback, so both are guarded by their own lock
// per spec.md §5's shared-resource policy.
type workerSlot struct {
	id int

	mu          sync.Mutex
	busy        bool
	processed   int64
	currentTask string
}

func (w *workerSlot) snapshot() model.Worker {
	w.mu.Lock()
	defer w.mu.Unlock()
	return model.Worker{ID: w.id, Busy: w.busy, Processed: w.processed, CurrentTask: w.currentTask}
}

type queuedTask struct {
	ctx      context.Context
	task     model.Task
	resultCh chan model.TaskResult
}

// Pool is the worker pool and coordinator. New constructs it and starts
// the coordinator goroutine; Submit is safe to call concurrently.
type Pool struct {
	workers  []*workerSlot
	describe DescribeFunc
	assignCB AssignCallback

	antsPool *ants.Pool

	mu       sync.Mutex
	queue    []queuedTask
	inFlight int
	closed   bool

	wake chan struct{}
	done chan struct{}
}

// New constructs a Pool with n workers. describe is invoked by every
// worker to produce a task's description; assignCB, if non-nil, is
// invoked once per dispatched task before describe runs.
func New(n int, describe DescribeFunc, assignCB AssignCallback) (*Pool, error) {
	workers := make([]*workerSlot, n)
	for i := range workers {
		workers[i] = &workerSlot{id: i}
	}

	antsPool, err := ants.NewPool(n)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		workers:  workers,
		describe: describe,
		assignCB: assignCB,
		antsPool: antsPool,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Size returns the configured worker count.
func (p *Pool) Size() int { return len(p.workers) }

// Workers returns a snapshot of every worker slot, in id order.
func (p *Pool) Workers() []model.Worker {
	out := make([]model.Worker, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.snapshot()
	}
	return out
}

// QueueSize returns the number of tasks currently queued, not counting
// in-flight tasks.
func (p *Pool) QueueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// signal wakes the coordinator if it is suspended; non-blocking.
func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Submit appends task to the FIFO queue and wakes the coordinator if
// idle. It is non-blocking and returns a channel that receives exactly
// one TaskResult when the task reaches a terminal state.
func (p *Pool) Submit(ctx context.Context, task model.Task) (<-chan model.TaskResult, error) {
	resultCh := make(chan model.TaskResult, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, model.ErrQueueUnavailable
	}
	p.queue = append(p.queue, queuedTask{ctx: ctx, task: task, resultCh: resultCh})
	p.mu.Unlock()

	p.signal()
	return resultCh, nil
}

// Shutdown stops accepting new submissions, waits for queued and
// in-flight tasks to drain, and releases the underlying execution pool.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.signal()

	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.antsPool.ReleaseTimeout(5 * time.Second)
}

// run is the coordinator loop, spec.md §4.3 steps 1-3 expressed with a
// wake channel instead of busy-polling.
func (p *Pool) run() {
	defer close(p.done)

	for {
		p.mu.Lock()
		qlen := len(p.queue)
		inFlight := p.inFlight
		closed := p.closed
		p.mu.Unlock()

		if closed && qlen == 0 && inFlight == 0 {
			return
		}

		if qlen == 0 {
			if inFlight == 0 {
				// Poll briefly for late arrivals, then idle until woken.
				select {
				case <-p.wake:
				case <-time.After(lateArrivalPoll):
				}
				p.mu.Lock()
				stillIdle := len(p.queue) == 0 && p.inFlight == 0
				closedNow := p.closed
				p.mu.Unlock()
				if stillIdle && closedNow {
					return
				}
				continue
			}
			// In-flight tasks remain but the queue is drained; wait for a
			// completion signal or a submission, bounded so shutdown is
			// noticed promptly.
			select {
			case <-p.wake:
			case <-time.After(slotWaitPoll):
			}
			continue
		}

		p.mu.Lock()
		if p.inFlight >= len(p.workers) {
			p.mu.Unlock()
			select {
			case <-p.wake:
			case <-time.After(slotWaitPoll):
			}
			continue
		}

		qt := p.queue[0]
		p.queue = p.queue[1:]
		w := p.selectWorkerLocked()
		w.mu.Lock()
		w.busy = true
		w.processed++
		w.currentTask = qt.task.ID
		w.mu.Unlock()
		p.inFlight++
		queueSizeAfterPop := len(p.queue)
		p.mu.Unlock()

		if p.assignCB != nil {
			p.assignCB(w.id, queueSizeAfterPop, qt.task.ID)
		}
		p.dispatch(w, qt)
	}
}

// selectWorkerLocked applies the selection policy from spec.md §4.3:
// prefer the lowest-id idle worker; if every worker is busy, fall back to
// the one with the lowest processed counter. Must be called with p.mu
// held (it only reads p.workers, which is fixed-size after construction).
func (p *Pool) selectWorkerLocked() *workerSlot {
	var fallback *workerSlot
	var fallbackProcessed int64

	for _, w := range p.workers {
		w.mu.Lock()
		busy := w.busy
		processed := w.processed
		w.mu.Unlock()

		if !busy {
			return w
		}
		if fallback == nil || processed < fallbackProcessed {
			fallback = w
			fallbackProcessed = processed
		}
	}
	return fallback
}

// dispatch fires the task on the execution substrate without awaiting
// completion; the worker transitions back to idle and resolves the
// future from within the submitted function.
func (p *Pool) dispatch(w *workerSlot, qt queuedTask) {
	task := qt.task
	submitErr := p.antsPool.Submit(func() {
		start := time.Now()
		desc, err := p.describe(qt.ctx, task)
		elapsed := time.Since(start)

		w.mu.Lock()
		w.busy = false
		w.currentTask = ""
		w.mu.Unlock()

		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
		p.signal()

		qt.resultCh <- buildResult(task, w.id, desc, err, elapsed)
		close(qt.resultCh)
	})
	if submitErr != nil {
		w.mu.Lock()
		w.busy = false
		w.currentTask = ""
		w.mu.Unlock()

		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
		p.signal()

		qt.resultCh <- buildResult(task, w.id, "", submitErr, 0)
		close(qt.resultCh)
	}
}

func buildResult(task model.Task, workerID int, description string, err error, elapsed time.Duration) model.TaskResult {
	if err != nil {
		return model.TaskResult{
			TaskID:    task.ID,
			Status:    "error",
			ErrorKind: model.ClassifyError(err),
			Message:   err.Error(),
			WorkerID:  workerID,
			Partition: task.Partition,
			ElapsedMS: elapsed.Milliseconds(),
		}
	}
	return model.TaskResult{
		TaskID:      task.ID,
		Status:      "completed",
		Description: description,
		WorkerID:    workerID,
		Partition:   task.Partition,
		ElapsedMS:   elapsed.Milliseconds(),
	}
}
