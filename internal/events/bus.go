// Package events is a lightweight in-process pub-sub bus used by the
// Streaming Dispatcher to multiplex coordinator callbacks and pipeline
// progress onto one outbound event stream. One Bus is constructed per
// request; there is no process-global singleton.
package events

// Kind is the wire event type named in spec.md §6.
type Kind string

const (
	KindStats      Kind = "stats"
	KindLog        Kind = "log"
	KindWorkers    Kind = "workers"
	KindPartitions Kind = "partitions"
	KindResult     Kind = "result"
	KindError      Kind = "error"
	KindProgress   Kind = "progress"
	KindComplete   Kind = "complete"
)

// LogType is the sub-classification carried by a log event.
type LogType string

const (
	LogInfo      LogType = "info"
	LogSuccess   LogType = "success"
	LogError     LogType = "error"
	LogWorker    LogType = "worker"
	LogPartition LogType = "partition"
)

// ResultStatus is the per-task status carried by a result event.
type ResultStatus string

const (
	ResultProcessing ResultStatus = "processing"
	ResultCompleted  ResultStatus = "completed"
	ResultError      ResultStatus = "error"
)

// Stats mirrors the running counters described in spec.md §4.5. The
// invariant `Pending + Processing + Completed + Errors == Total` holds at
// every emission.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Errors     int `json:"errors"`
}

// WorkerSnapshot is one entry of a `workers` event's payload.
type WorkerSnapshot struct {
	ID          int    `json:"id"`
	Busy        bool   `json:"busy"`
	Processed   int64  `json:"processed"`
	CurrentTask string `json:"currentTask,omitempty"`
}

// PartitionSnapshot is one entry of a `partitions` event's payload.
type PartitionSnapshot struct {
	ID        int   `json:"id"`
	ItemCount int   `json:"itemCount"`
	Size      int64 `json:"size"`
}

// Event is one line of the outbound stream. Only the fields relevant to
// Type are populated; the rest are omitted from the JSON encoding.
type Event struct {
	Type Kind `json:"type"`

	Stats      *Stats              `json:"stats,omitempty"`
	LogType    LogType             `json:"logType,omitempty"`
	Message    string              `json:"message,omitempty"`
	Workers    []WorkerSnapshot    `json:"workers,omitempty"`
	Partitions []PartitionSnapshot `json:"partitions,omitempty"`

	TaskID         string       `json:"id,omitempty"`
	Status         ResultStatus `json:"status,omitempty"`
	Description    string       `json:"description,omitempty"`
	Partition      *int         `json:"partition,omitempty"`
	WorkerThread   *int         `json:"workerThread,omitempty"`
	ProcessingTime int64        `json:"processingTime,omitempty"`
	Error          string       `json:"error,omitempty"`

	BatchIndex    int    `json:"batchIndex,omitempty"`
	TotalBatches  int    `json:"totalBatches,omitempty"`
	BatchSize     int    `json:"batchSize,omitempty"`
	TotalIngested int    `json:"totalIngested,omitempty"`
	TotalImages   int    `json:"totalImages,omitempty"`
	DatasetName   string `json:"datasetName,omitempty"`
}

// Bus is a non-blocking, buffered single-producer pub-sub channel. Publish
// never blocks the coordinator: a full buffer drops the event rather than
// stalling task dispatch.
type Bus struct {
	ch chan Event
}

// NewBus constructs a Bus with the given buffer size.
func NewBus(buffer int) *Bus {
	return &Bus{ch: make(chan Event, buffer)}
}

// Publish attempts to enqueue evt without blocking. Returns true if
// published, false if the buffer was full and the event was dropped.
func (b *Bus) Publish(evt Event) bool {
	select {
	case b.ch <- evt:
		return true
	default:
		return false
	}
}

// Subscribe returns the bus's read-only event channel.
func (b *Bus) Subscribe() <-chan Event {
	return b.ch
}

// Close closes the underlying channel. Callers must stop publishing
// before calling Close; the dispatcher calls this once its pipeline
// phases have all completed.
func (b *Bus) Close() {
	close(b.ch)
}
