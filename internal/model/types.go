package model

import "time"

// Priority is the queue-plane priority class for a Task.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Task is an opaque request to produce a description for one image.
type Task struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Payload     []byte    `json:"-"` // inline bytes, in-process path only
	ObjectKey   string    `json:"objectKey,omitempty"` // object-store key, distributed path only
	Partition   int       `json:"partition"`
	SubmittedAt time.Time `json:"submittedAt"`
	Priority    Priority  `json:"priority"`
}

// TaskResult is the terminal outcome of a Task. Exactly one of Completed or
// Failed fields is meaningful, discriminated by Status.
type TaskResult struct {
	TaskID      string    `json:"id"`
	Status      string    `json:"status"` // "completed" | "error"
	Description string    `json:"description,omitempty"`
	ErrorKind   ErrorKind `json:"errorKind,omitempty"`
	Message     string    `json:"message,omitempty"`
	WorkerID    int       `json:"workerId,omitempty"`
	Partition   int       `json:"partition"`
	ElapsedMS   int64     `json:"elapsedMs"`
	Attempts    int       `json:"attempts,omitempty"`
}

// Worker is a stable execution slot tracked by the coordinator.
type Worker struct {
	ID         int   `json:"id"`
	Busy       bool  `json:"busy"`
	Processed  int64 `json:"processed"`
	CurrentTask string `json:"currentTask,omitempty"`
	// Partitions is populated only for distributed-queue workers: the set
	// of partition ids this worker process is affine to.
	Partitions []int `json:"partitions,omitempty"`
}

// PartitionEntry is one stored value inside a partition's key→value table.
type PartitionEntry struct {
	Key             string    `json:"key"`
	PayloadSnippet  string    `json:"payloadSnippet"`
	Timestamp       time.Time `json:"timestamp"`
	PrimaryPartition int      `json:"primaryPartition"`
	IsReplica       bool      `json:"isReplica"`
}

// PartitionStats is a snapshot of one partition's size for telemetry.
type PartitionStats struct {
	ID        int   `json:"id"`
	ItemCount int   `json:"itemCount"`
	Size      int64 `json:"size"`
}

// QueuedJob is a Task plus distributed-queue-plane bookkeeping.
type QueuedJob struct {
	Task          Task      `json:"task"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"nextAttemptAt"`
	Stalls        int       `json:"stalls"`
	LeaseOwner    string    `json:"leaseOwner,omitempty"`
	LeaseExpiry   time.Time `json:"leaseExpiry,omitempty"`
}

const (
	MaxAttempts       = 3
	MaxStalls         = 3
	StallTimeout      = 30 * time.Second
	BackoffBaseNormal = 2 * time.Second
	BackoffBaseHigh   = 1 * time.Second
	MaxCompletedJobs  = 1000
	MaxFailedJobs     = 5000
)

// BackoffBase returns the exponential-backoff base delay for a priority
// class, per spec §4.4.
func BackoffBase(p Priority) time.Duration {
	if p == PriorityHigh {
		return BackoffBaseHigh
	}
	return BackoffBaseNormal
}
