// Package queue implements the distributed job queue described in
// spec.md §4.4: partition-affine leasing, exponential backoff retries,
// stall detection, and bounded retention — backed by Redis.
//
// Each job is a JSON-encoded Redis string (`vq:job:{id}`). Per-partition "ready" sorted
// sets (`vq:ready:{partition}`) are scored by ready-at time so leasing is
// a ZRANGEBYSCORE + ZREM pair; a leased job moves into a single "leased"
// sorted set (`vq:leased`) scored by lease expiry so stall detection is
// one more ZRANGEBYSCORE scan. Completed and failed jobs are retained as
// capped Redis lists, trimmed on every push.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/visiondispatch/core/internal/model"
)

const (
	keyReadyPrefix = "vq:ready:" // + partition id
	keyLeased      = "vq:leased"
	keyJobPrefix   = "vq:job:" // + job id
	keyCompleted   = "vq:completed"
	keyFailed      = "vq:failed"

	misroutedNackDelay = time.Second
)

// Queue is a Redis-backed distributed job queue.
type Queue struct {
	rdb *redis.Client
}

// New constructs a Queue against the given Redis connection URL
// (redis://host:port/db).
func New(redisURL string) (*Queue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %v", model.ErrQueueUnavailable, err)
	}
	return &Queue{rdb: redis.NewClient(opt)}, nil
}

// Ping verifies the backing store is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrQueueUnavailable, err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (q *Queue) Close() error {
	return q.rdb.Close()
}

// jobRecord is the wire shape of a job hash's fields.
type jobRecord struct {
	Task          model.Task `json:"task"`
	Attempts      int        `json:"attempts"`
	Stalls        int        `json:"stalls"`
	LeaseOwner    string     `json:"leaseOwner"`
	LeaseExpiryMS int64      `json:"leaseExpiryMs"`
}

func jobKey(id string) string { return keyJobPrefix + id }
func readyKey(partition int) string {
	return keyReadyPrefix + strconv.Itoa(partition)
}

// Enqueue creates a QueuedJob for task and makes it immediately eligible
// for leasing by any worker affine to its partition.
func (q *Queue) Enqueue(ctx context.Context, task model.Task) (string, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	rec := jobRecord{Task: task}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("%w: marshal job: %v", model.ErrInvalidInput, err)
	}

	now := float64(time.Now().UnixMilli())
	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(task.ID), payload, 0)
	pipe.ZAdd(ctx, readyKey(task.Partition), &redis.Z{Score: now, Member: task.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("%w: enqueue: %v", model.ErrQueueUnavailable, err)
	}
	return task.ID, nil
}

// Lease pops up to limit jobs ready for any partition in partitions,
// moving each into the leased set with a fresh stall-timeout expiry.
func (q *Queue) Lease(ctx context.Context, workerID string, partitions []int, limit int) ([]model.QueuedJob, error) {
	var leased []model.QueuedJob

	for _, p := range partitions {
		if len(leased) >= limit {
			break
		}
		remaining := limit - len(leased)
		ids, err := q.rdb.ZRangeByScore(ctx, readyKey(p), &redis.ZRangeBy{
			Min:    "-inf",
			Max:    strconv.FormatInt(time.Now().UnixMilli(), 10),
			Offset: 0,
			Count:  int64(remaining),
		}).Result()
		if err != nil {
			return leased, fmt.Errorf("%w: lease scan: %v", model.ErrQueueUnavailable, err)
		}

		for _, id := range ids {
			// Optimistic removal: only the worker that successfully ZREMs
			// the member actually wins the lease, matching the pack's
			// lock-light retry style instead of a Lua compare-and-swap.
			removed, err := q.rdb.ZRem(ctx, readyKey(p), id).Result()
			if err != nil {
				return leased, fmt.Errorf("%w: lease claim: %v", model.ErrQueueUnavailable, err)
			}
			if removed == 0 {
				continue // another worker claimed it first
			}

			rec, err := q.loadJob(ctx, id)
			if err != nil {
				continue // job vanished (e.g. concurrently pruned); skip
			}
			rec.LeaseOwner = workerID
			leaseExpiry := time.Now().Add(model.StallTimeout)
			rec.LeaseExpiryMS = leaseExpiry.UnixMilli()
			if err := q.saveJob(ctx, id, rec); err != nil {
				return leased, err
			}
			if err := q.rdb.ZAdd(ctx, keyLeased, &redis.Z{Score: float64(rec.LeaseExpiryMS), Member: id}).Err(); err != nil {
				return leased, fmt.Errorf("%w: lease track: %v", model.ErrQueueUnavailable, err)
			}

			leased = append(leased, model.QueuedJob{
				Task:        rec.Task,
				Attempts:    rec.Attempts,
				Stalls:      rec.Stalls,
				LeaseOwner:  workerID,
				LeaseExpiry: leaseExpiry,
			})
		}
	}
	return leased, nil
}

// Ack reports a job completed successfully. It removes the job from the
// leased set and records its terminal outcome in the capped completed
// list.
func (q *Queue) Ack(ctx context.Context, result model.TaskResult) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, keyLeased, result.TaskID)
	pipe.Del(ctx, jobKey(result.TaskID))
	payload, _ := json.Marshal(result)
	pipe.LPush(ctx, keyCompleted, payload)
	pipe.LTrim(ctx, keyCompleted, 0, model.MaxCompletedJobs-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: ack: %v", model.ErrQueueUnavailable, err)
	}
	return nil
}

// Nack reports a job failed. Retryable failures are rescheduled with
// exponential backoff until max_attempts is exhausted; non-retryable
// failures (and exhausted retries) move straight to the failed list.
func (q *Queue) Nack(ctx context.Context, jobID string, cause error) error {
	rec, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	attemptsBeforeFailure := rec.Attempts
	rec.Attempts++

	if model.Retryable(cause) && rec.Attempts < model.MaxAttempts {
		return q.reschedule(ctx, jobID, rec, backoffDelay(rec.Task.Priority, attemptsBeforeFailure))
	}
	return q.fail(ctx, jobID, rec, cause)
}

// NackMisrouted re-queues a job a worker observed outside its assigned
// partition set. Per spec.md §9's Open Question resolution, this does
// not count against max_attempts — a misrouted job is recoverable, not
// lost.
func (q *Queue) NackMisrouted(ctx context.Context, jobID string) error {
	rec, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	return q.reschedule(ctx, jobID, rec, misroutedNackDelay)
}

func (q *Queue) reschedule(ctx context.Context, jobID string, rec jobRecord, delay time.Duration) error {
	rec.LeaseOwner = ""
	rec.LeaseExpiryMS = 0
	if err := q.saveJob(ctx, jobID, rec); err != nil {
		return err
	}
	readyAt := float64(time.Now().Add(delay).UnixMilli())
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, keyLeased, jobID)
	pipe.ZAdd(ctx, readyKey(rec.Task.Partition), &redis.Z{Score: readyAt, Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: reschedule: %v", model.ErrQueueUnavailable, err)
	}
	return nil
}

func (q *Queue) fail(ctx context.Context, jobID string, rec jobRecord, cause error) error {
	result := model.TaskResult{
		TaskID:    jobID,
		Status:    "error",
		ErrorKind: model.ClassifyError(cause),
		Message:   cause.Error(),
		Partition: rec.Task.Partition,
		Attempts:  rec.Attempts,
	}
	payload, _ := json.Marshal(result)

	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, keyLeased, jobID)
	pipe.Del(ctx, jobKey(jobID))
	pipe.LPush(ctx, keyFailed, payload)
	pipe.LTrim(ctx, keyFailed, 0, model.MaxFailedJobs-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: fail: %v", model.ErrQueueUnavailable, err)
	}
	return nil
}

// ReapStalled finds leases that expired without a completion report,
// counts a stall against each, and either re-queues the job immediately
// or declares it terminally failed after three stalls (spec.md §4.4).
func (q *Queue) ReapStalled(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := q.rdb.ZRangeByScore(ctx, keyLeased, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: reap scan: %v", model.ErrQueueUnavailable, err)
	}

	var reaped int
	for _, id := range ids {
		removed, err := q.rdb.ZRem(ctx, keyLeased, id).Result()
		if err != nil || removed == 0 {
			continue
		}
		rec, err := q.loadJob(ctx, id)
		if err != nil {
			continue
		}
		rec.Stalls++
		if rec.Stalls >= model.MaxStalls {
			if err := q.fail(ctx, id, rec, model.ErrQueueUnavailable); err != nil {
				return reaped, err
			}
			reaped++
			continue
		}
		rec.LeaseOwner = ""
		rec.LeaseExpiryMS = 0
		if err := q.saveJob(ctx, id, rec); err != nil {
			return reaped, err
		}
		if err := q.rdb.ZAdd(ctx, readyKey(rec.Task.Partition), &redis.Z{
			Score:  float64(time.Now().UnixMilli()),
			Member: id,
		}).Err(); err != nil {
			return reaped, fmt.Errorf("%w: reap requeue: %v", model.ErrQueueUnavailable, err)
		}
		reaped++
	}
	return reaped, nil
}

// Depth returns the number of jobs ready across the given partitions,
// for health reporting and /worker's queue-depth response.
func (q *Queue) Depth(ctx context.Context, partitions []int) (int64, error) {
	var total int64
	for _, p := range partitions {
		n, err := q.rdb.ZCard(ctx, readyKey(p)).Result()
		if err != nil {
			return total, fmt.Errorf("%w: depth: %v", model.ErrQueueUnavailable, err)
		}
		total += n
	}
	return total, nil
}

func (q *Queue) loadJob(ctx context.Context, id string) (jobRecord, error) {
	raw, err := q.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return jobRecord{}, fmt.Errorf("%w: job %s", model.ErrNotFound, id)
		}
		return jobRecord{}, fmt.Errorf("%w: load job: %v", model.ErrQueueUnavailable, err)
	}
	var rec jobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return jobRecord{}, fmt.Errorf("%w: decode job: %v", model.ErrQueueUnavailable, err)
	}
	return rec, nil
}

func (q *Queue) saveJob(ctx context.Context, id string, rec jobRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode job: %v", model.ErrQueueUnavailable, err)
	}
	if err := q.rdb.Set(ctx, jobKey(id), payload, 0).Err(); err != nil {
		return fmt.Errorf("%w: save job: %v", model.ErrQueueUnavailable, err)
	}
	return nil
}

// backoffDelay computes `base * 2^attempts` per spec.md §4.4.
func backoffDelay(priority model.Priority, attempts int) time.Duration {
	base := model.BackoffBase(priority)
	multiplier := math.Pow(2, float64(attempts))
	return time.Duration(float64(base) * multiplier)
}
