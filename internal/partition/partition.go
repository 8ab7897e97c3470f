// Package partition implements the deterministic key→partition mapping
// and replica placement shared by the shard store, the dispatcher, and
// the HTTP layer. It is pure and stateless: the same key maps to
// the same partition in every process, which is load-bearing for
// cross-process compatibility.
package partition

import "fmt"

// Partitioner maps keys to partitions and partitions to replica sets.
type Partitioner struct {
	numPartitions int
	replication   int
}

// New constructs a Partitioner with p partitions and replication factor r.
// r must be at least 1 and no greater than p; violating either is a
// configuration error caught at construction rather than at call time.
func New(p, r int) (*Partitioner, error) {
	if p <= 0 {
		return nil, fmt.Errorf("partition: num partitions must be positive, got %d", p)
	}
	if r <= 0 {
		return nil, fmt.Errorf("partition: replication factor must be positive, got %d", r)
	}
	if r > p {
		return nil, fmt.Errorf("partition: replication factor (%d) cannot exceed num partitions (%d)", r, p)
	}
	return &Partitioner{numPartitions: p, replication: r}, nil
}

// NumPartitions returns P.
func (pt *Partitioner) NumPartitions() int { return pt.numPartitions }

// ReplicationFactor returns R.
func (pt *Partitioner) ReplicationFactor() int { return pt.replication }

// Partition returns the primary partition for key, in [0, P).
//
// The hash is a left-shift variant (`h = (h<<5) - h + c`, truncated to
// signed 32-bit on every step) chosen for byte-compatibility across
// language runtimes, not cryptographic strength. The empty key hashes to 0.
func (pt *Partitioner) Partition(key string) int {
	return Hash(key) % pt.numPartitions
}

// Replicas returns the ordered replica partitions for a primary partition,
// of length R-1: `(primary + i) mod P` for i in [1, R). A replication
// factor of 1 yields an empty slice.
func (pt *Partitioner) Replicas(primary int) []int {
	if pt.replication <= 1 {
		return nil
	}
	out := make([]int, 0, pt.replication-1)
	for i := 1; i < pt.replication; i++ {
		out = append(out, (primary+i)%pt.numPartitions)
	}
	return out
}

// AllPartitions returns the primary partition followed by its replicas,
// in placement order.
func (pt *Partitioner) AllPartitions(key string) []int {
	primary := pt.Partition(key)
	out := append([]int{primary}, pt.Replicas(primary)...)
	return out
}

// Hash computes the raw, non-negative hash value for key; reduction mod P
// is NOT applied here — callers needing a bounded partition id should use
// Partition. Exported so callers can reproduce the exact truncation
// behavior when p is not yet known.
func Hash(key string) int {
	var h int32
	for i := 0; i < len(key); i++ {
		h = int32(h<<5) - h + int32(key[i])
	}
	// Take the absolute value in int, not int32, so that -2^31 maps to
	// 2^31 instead of staying negative.
	v := int(h)
	if v < 0 {
		v = -v
	}
	return v
}
