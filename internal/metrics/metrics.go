// Package metrics registers the Prometheus series exposed at GET
// /metrics, grounded on the shardqueue client's per-shard gauge/counter
// pattern but generalized to this system's task/partition vocabulary.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "visiondispatch",
			Name:      "tasks_submitted_total",
			Help:      "Describe tasks accepted by the worker pool, by partition.",
		},
		[]string{"partition"},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "visiondispatch",
			Name:      "tasks_completed_total",
			Help:      "Describe tasks that reached a terminal state, by partition and status.",
		},
		[]string{"partition", "status"},
	)

	DescribeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "visiondispatch",
			Name:      "describe_duration_seconds",
			Help:      "Wall-clock time spent inside one describe call.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	PartitionSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "visiondispatch",
			Name:      "partition_size_bytes",
			Help:      "Current byte size of each shard-store partition.",
		},
		[]string{"partition"},
	)

	PartitionItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "visiondispatch",
			Name:      "partition_items",
			Help:      "Current item count of each shard-store partition.",
		},
		[]string{"partition"},
	)

	WorkerProcessed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "visiondispatch",
			Name:      "worker_processed_total",
			Help:      "Cumulative tasks processed by each in-process worker slot.",
		},
		[]string{"worker"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "visiondispatch",
			Name:      "queue_depth",
			Help:      "Current ready-job depth of the distributed queue, by partition.",
		},
		[]string{"partition"},
	)
)

// LabelFor renders a partition or worker id as a Prometheus label value.
func LabelFor(i int) string { return strconv.Itoa(i) }
