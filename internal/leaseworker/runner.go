// Package leaseworker is the distributed-queue counterpart to
// internal/workerpool: instead of pulling tasks off an in-process FIFO,
// it leases jobs from the Redis-backed queue that are affine to its own
// partition set and resolves them with Ack/Nack. Polling-loop shape is
// grounded on the teacher's internal/outbox/worker.go ticker pattern.
package leaseworker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/visiondispatch/core/internal/metrics"
	"github.com/visiondispatch/core/internal/model"
	"github.com/visiondispatch/core/internal/queue"
)

// FetchFunc resolves a task's image bytes given its object-store key —
// the distributed path never carries raw bytes through Redis.
type FetchFunc func(ctx context.Context, objectKey string) ([]byte, error)

// DescribeFunc produces a text description for decoded image bytes.
type DescribeFunc func(ctx context.Context, prompt string, imageBytes []byte) (string, error)

// Config controls batch size and polling cadence.
type Config struct {
	WorkerID     string
	Partitions   []int
	LeaseBatch   int
	PollInterval time.Duration
	ReapInterval time.Duration
}

// Runner leases and executes distributed tasks for one worker process.
type Runner struct {
	q        *queue.Queue
	fetch    FetchFunc
	describe DescribeFunc
	cfg      Config
	log      zerolog.Logger

	assigned map[int]bool
}

// New constructs a Runner. cfg.Partitions is the worker's assigned set,
// read from the PARTITIONS env var; an empty set leases from no
// partition (the worker idles rather than claiming everything).
func New(q *queue.Queue, fetch FetchFunc, describe DescribeFunc, cfg Config, log zerolog.Logger) *Runner {
	if cfg.LeaseBatch <= 0 {
		cfg.LeaseBatch = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = model.StallTimeout
	}
	assigned := make(map[int]bool, len(cfg.Partitions))
	for _, p := range cfg.Partitions {
		assigned[p] = true
	}
	return &Runner{
		q: q, fetch: fetch, describe: describe, cfg: cfg,
		log:      log.With().Str("component", "leaseworker").Str("workerId", cfg.WorkerID).Logger(),
		assigned: assigned,
	}
}

// Run leases and processes jobs until ctx is canceled.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info().Ints("partitions", r.cfg.Partitions).Msg("lease worker starting")

	leaseTicker := time.NewTicker(r.cfg.PollInterval)
	defer leaseTicker.Stop()
	reapTicker := time.NewTicker(r.cfg.ReapInterval)
	defer reapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("lease worker stopping")
			return ctx.Err()
		case <-leaseTicker.C:
			if err := r.leaseAndProcess(ctx); err != nil {
				r.log.Error().Err(err).Msg("lease cycle failed")
			}
		case <-reapTicker.C:
			if n, err := r.q.ReapStalled(ctx); err != nil {
				r.log.Error().Err(err).Msg("reap stalled failed")
			} else if n > 0 {
				r.log.Warn().Int("count", n).Msg("reaped stalled leases")
			}
		}
	}
}

func (r *Runner) leaseAndProcess(ctx context.Context) error {
	if len(r.cfg.Partitions) == 0 {
		return nil
	}
	jobs, err := r.q.Lease(ctx, r.cfg.WorkerID, r.cfg.Partitions, r.cfg.LeaseBatch)
	if err != nil {
		return fmt.Errorf("lease: %w", err)
	}
	for _, job := range jobs {
		r.process(ctx, job)
	}
	return nil
}

func (r *Runner) process(ctx context.Context, job model.QueuedJob) {
	task := job.Task
	metrics.TasksSubmitted.WithLabelValues(metrics.LabelFor(task.Partition)).Inc()

	if !r.assigned[task.Partition] {
		r.log.Warn().Str("taskId", task.ID).Int("partition", task.Partition).Msg("leased job outside assigned partitions; nacking")
		if err := r.q.NackMisrouted(ctx, task.ID); err != nil {
			r.log.Error().Err(err).Str("taskId", task.ID).Msg("nack misrouted failed")
		}
		return
	}

	start := time.Now()
	bytes, err := r.fetch(ctx, task.ObjectKey)
	if err == nil {
		_, err = r.describeAndAck(ctx, task, bytes, start)
	}
	if err != nil {
		metrics.TasksCompleted.WithLabelValues(metrics.LabelFor(task.Partition), "error").Inc()
		if nackErr := r.q.Nack(ctx, task.ID, err); nackErr != nil {
			r.log.Error().Err(nackErr).Str("taskId", task.ID).Msg("nack failed")
		}
	}
}

func (r *Runner) describeAndAck(ctx context.Context, task model.Task, imageBytes []byte, start time.Time) (string, error) {
	description, err := r.describe(ctx, "Describe this image.", imageBytes)
	if err != nil {
		return "", err
	}
	elapsed := time.Since(start)
	metrics.DescribeDuration.Observe(elapsed.Seconds())
	metrics.TasksCompleted.WithLabelValues(metrics.LabelFor(task.Partition), "completed").Inc()

	result := model.TaskResult{
		TaskID:      task.ID,
		Status:      "completed",
		Description: description,
		Partition:   task.Partition,
		ElapsedMS:   elapsed.Milliseconds(),
	}
	if ackErr := r.q.Ack(ctx, result); ackErr != nil {
		r.log.Error().Err(ackErr).Str("taskId", task.ID).Msg("ack failed")
	}
	return description, nil
}
