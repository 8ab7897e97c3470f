// Package dispatcher implements the Streaming Dispatcher pipeline from
// spec.md §4.5: it turns a batch of images into a sequence of events
// (stats, log, workers, partitions, result, complete) describing
// preparation, submission, and completion of each image's describe task.
// The pipeline itself is transport-agnostic; internal/api/http adapts its
// event channel onto an SSE response.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/visiondispatch/core/internal/events"
	"github.com/visiondispatch/core/internal/ledger"
	"github.com/visiondispatch/core/internal/metrics"
	"github.com/visiondispatch/core/internal/model"
	"github.com/visiondispatch/core/internal/partition"
	"github.com/visiondispatch/core/internal/shardstore"
	"github.com/visiondispatch/core/internal/workerpool"
)

const snippetLen = 32

// BatchImage is one image submitted to a batch, already read into memory
// by the HTTP layer.
type BatchImage struct {
	ID       string
	Filename string
	Bytes    []byte
	Priority model.Priority
}

// DescribeFunc matches workerpool.DescribeFunc; kept as its own name here
// so callers of New don't need to import workerpool just for the type.
type DescribeFunc = workerpool.DescribeFunc

// Dispatcher owns the partitioner, shard store and worker pool for one
// process and runs the streaming pipeline for each incoming batch. A
// single Dispatcher's pool is shared across concurrent batches; the
// assignSubs registry routes the pool's one assignment callback back to
// the right batch's event bus.
type Dispatcher struct {
	pt     *partition.Partitioner
	store  *shardstore.Store
	pool   *workerpool.Pool
	ledger *ledger.Ledger
	log    zerolog.Logger

	assignSubs sync.Map // taskID -> func(workerID, queueSizeAfterPop int)
}

// New constructs a Dispatcher and its worker pool. describe is the
// function invoked per task to obtain a description (normally
// describer.Describer.Describe).
func New(pt *partition.Partitioner, store *shardstore.Store, poolSize int, describe DescribeFunc, ldg *ledger.Ledger, log zerolog.Logger) (*Dispatcher, error) {
	d := &Dispatcher{pt: pt, store: store, ledger: ldg, log: log.With().Str("component", "dispatcher").Logger()}
	pool, err := workerpool.New(poolSize, describe, d.onAssign)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: construct pool: %w", err)
	}
	d.pool = pool
	return d, nil
}

// Pool exposes the underlying worker pool.
func (d *Dispatcher) Pool() *workerpool.Pool { return d.pool }

// Store exposes the shard store.
func (d *Dispatcher) Store() *shardstore.Store { return d.store }

// Shutdown drains the worker pool.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	return d.pool.Shutdown(ctx)
}

func (d *Dispatcher) onAssign(workerID, queueSizeAfterPop int, taskID string) {
	if v, ok := d.assignSubs.Load(taskID); ok {
		if cb, ok2 := v.(func(workerID, queueSizeAfterPop int)); ok2 {
			cb(workerID, queueSizeAfterPop)
		}
	}
}

// ProcessBatch runs the full pipeline for images and returns a channel of
// events describing its progress. The channel is closed once the batch's
// complete event has been emitted. ctx bounds the whole batch; canceling
// it (e.g. on client disconnect) does not abort in-flight describe calls,
// matching spec.md §5's "workers keep running to completion" note.
func (d *Dispatcher) ProcessBatch(ctx context.Context, images []BatchImage) <-chan events.Event {
	bus := events.NewBus(256)
	go d.run(ctx, images, bus)
	return bus.Subscribe()
}

func (d *Dispatcher) run(ctx context.Context, images []BatchImage, bus *events.Bus) {
	defer bus.Close()

	total := len(images)
	var mu sync.Mutex
	stats := events.Stats{Total: total, Pending: total}

	bus.Publish(statsEvent(&stats, &mu))
	bus.Publish(events.Event{Type: events.KindLog, LogType: events.LogInfo, Message: fmt.Sprintf("batch of %d images received", total)})
	bus.Publish(d.workersEvent())
	bus.Publish(d.partitionsEvent())

	if total == 0 {
		bus.Publish(events.Event{Type: events.KindComplete})
		return
	}

	resultChans := make([]<-chan model.TaskResult, 0, total)

	for _, img := range images {
		pid := d.pt.Partition(img.Filename)

		snippet := snippetOf(img.Bytes)
		if err := d.store.Store(img.Filename, snippet); err != nil {
			mu.Lock()
			stats.Pending--
			stats.Errors++
			mu.Unlock()

			metrics.TasksCompleted.WithLabelValues(metrics.LabelFor(pid), "error").Inc()
			bus.Publish(events.Event{
				Type: events.KindResult, TaskID: img.ID, Status: events.ResultError,
				Partition: &pid, Error: err.Error(),
			})
			bus.Publish(statsEvent(&stats, &mu))
			continue
		}

		bus.Publish(events.Event{
			Type: events.KindLog, LogType: events.LogPartition,
			Message: fmt.Sprintf("stored %s in partition %d (+%d replicas)", img.Filename, pid, d.pt.ReplicationFactor()-1),
		})
		bus.Publish(d.partitionsEvent())

		resultChans = append(resultChans, d.submitWithCallback(ctx, img, pid, bus, &stats, &mu))
	}

	bus.Publish(d.workersEvent())

	d.collect(resultChans, bus, &stats, &mu)

	bus.Publish(events.Event{Type: events.KindLog, LogType: events.LogSuccess, Message: "batch complete"})
	bus.Publish(events.Event{Type: events.KindComplete, TotalImages: total})
}

// submitWithCallback registers this task's assignment subscriber, submits
// it to the pool, and returns its result channel. The subscriber is
// removed once the terminal result has been observed by collect.
func (d *Dispatcher) submitWithCallback(ctx context.Context, img BatchImage, partitionID int, bus *events.Bus, stats *events.Stats, mu *sync.Mutex) <-chan model.TaskResult {
	d.assignSubs.Store(img.ID, func(workerID, queueSizeAfterPop int) {
		mu.Lock()
		stats.Pending--
		stats.Processing++
		snap := *stats
		mu.Unlock()

		wid := workerID
		pid := partitionID
		metrics.TasksSubmitted.WithLabelValues(metrics.LabelFor(partitionID)).Inc()
		bus.Publish(events.Event{Type: events.KindResult, TaskID: img.ID, Status: events.ResultProcessing, Partition: &pid, WorkerThread: &wid})
		bus.Publish(events.Event{Type: events.KindStats, Stats: &snap})
		bus.Publish(d.workersEvent())
	})

	resultCh, err := d.pool.Submit(context.WithoutCancel(ctx), model.Task{
		ID:          img.ID,
		Filename:    img.Filename,
		Payload:     img.Bytes,
		Partition:   partitionID,
		SubmittedAt: time.Now(),
		Priority:    img.Priority,
	})
	if err != nil {
		d.assignSubs.Delete(img.ID)
		ch := make(chan model.TaskResult, 1)
		ch <- model.TaskResult{TaskID: img.ID, Status: "error", ErrorKind: model.ClassifyError(err), Message: err.Error(), Partition: partitionID}
		close(ch)
		return ch
	}
	return resultCh
}

func (d *Dispatcher) collect(resultChans []<-chan model.TaskResult, bus *events.Bus, stats *events.Stats, mu *sync.Mutex) {
	merged := make(chan model.TaskResult, len(resultChans))
	for _, rc := range resultChans {
		go func(rc <-chan model.TaskResult) {
			res, ok := <-rc
			if ok {
				merged <- res
			}
		}(rc)
	}

	for range resultChans {
		res := <-merged
		d.assignSubs.Delete(res.TaskID)

		if d.ledger != nil {
			d.ledger.Record(res)
		}

		mu.Lock()
		stats.Processing--
		if res.Status == "completed" {
			stats.Completed++
		} else {
			stats.Errors++
		}
		snap := *stats
		mu.Unlock()

		wid := res.WorkerID
		pid := res.Partition
		metrics.TasksCompleted.WithLabelValues(metrics.LabelFor(res.Partition), res.Status).Inc()
		metrics.DescribeDuration.Observe(float64(res.ElapsedMS) / 1000)

		evt := events.Event{
			Type: events.KindResult, TaskID: res.TaskID, Partition: &pid, WorkerThread: &wid,
			ProcessingTime: res.ElapsedMS,
		}
		if res.Status == "completed" {
			evt.Status = events.ResultCompleted
			evt.Description = res.Description
		} else {
			evt.Status = events.ResultError
			evt.Error = res.Message
		}
		bus.Publish(evt)
		bus.Publish(events.Event{Type: events.KindStats, Stats: &snap})
		bus.Publish(d.workersEvent())
	}
}

func (d *Dispatcher) workersEvent() events.Event {
	workers := d.pool.Workers()
	snaps := make([]events.WorkerSnapshot, len(workers))
	for i, w := range workers {
		snaps[i] = events.WorkerSnapshot{ID: w.ID, Busy: w.Busy, Processed: w.Processed, CurrentTask: w.CurrentTask}
		metrics.WorkerProcessed.WithLabelValues(metrics.LabelFor(w.ID)).Set(float64(w.Processed))
	}
	return events.Event{Type: events.KindWorkers, Workers: snaps}
}

func (d *Dispatcher) partitionsEvent() events.Event {
	stats := d.store.Stats()
	snaps := make([]events.PartitionSnapshot, len(stats))
	for i, s := range stats {
		snaps[i] = events.PartitionSnapshot{ID: s.ID, ItemCount: s.ItemCount, Size: s.Size}
		metrics.PartitionSize.WithLabelValues(metrics.LabelFor(s.ID)).Set(float64(s.Size))
		metrics.PartitionItems.WithLabelValues(metrics.LabelFor(s.ID)).Set(float64(s.ItemCount))
	}
	return events.Event{Type: events.KindPartitions, Partitions: snaps}
}

func statsEvent(stats *events.Stats, mu *sync.Mutex) events.Event {
	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	snap := *stats
	return events.Event{Type: events.KindStats, Stats: &snap}
}

// snippetOf returns a short, human-legible preview of an image payload's
// size and leading bytes, standing in for real content description in the
// shard store — the store models placement, not a blob archive.
func snippetOf(b []byte) string {
	n := len(b)
	if n > snippetLen {
		n = snippetLen
	}
	return fmt.Sprintf("%d bytes, starts %x", len(b), b[:n])
}
