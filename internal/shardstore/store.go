// Package shardstore implements the in-memory simulated shard store: one
// key→entry table per partition, each guarded by its own lock so that
// concurrent requests touching logically independent partitions never
// contend on a single global mutex.
package shardstore

import (
	"sync"
	"time"

	"github.com/visiondispatch/core/internal/model"
	"github.com/visiondispatch/core/internal/partition"
)

// entry is the internal representation of a stored value; PayloadSnippet
// is kept short deliberately (the store models placement, not a blob store).
type entry struct {
	payloadSnippet string
	timestamp      time.Time
	primary        int
	isReplica      bool
}

// partitionShard is one partition's table plus its own lock and counters.
type partitionShard struct {
	mu        sync.RWMutex
	entries   map[string]entry
	itemCount int
	byteSize  int64
}

// Store is the simulated shard store described in spec.md §4.2: a
// per-partition key→value table with replica fan-out on write.
type Store struct {
	pt                *partition.Partitioner
	shards            []*partitionShard
	maxPartitionBytes int64 // 0 = unbounded
}

// New constructs a Store with one shard per partition known to pt.
// maxPartitionBytes of 0 disables the size cap.
func New(pt *partition.Partitioner, maxPartitionBytes int64) *Store {
	shards := make([]*partitionShard, pt.NumPartitions())
	for i := range shards {
		shards[i] = &partitionShard{entries: make(map[string]entry)}
	}
	return &Store{pt: pt, shards: shards, maxPartitionBytes: maxPartitionBytes}
}

// Store places value (as a short snippet) in the primary partition for key
// and a copy in each replica partition. store is atomic per-partition; it
// is not atomic across partitions — a concurrent Retrieve may observe the
// primary updated while replicas still lag.
func (s *Store) Store(key, payloadSnippet string) error {
	primary := s.pt.Partition(key)
	replicas := s.pt.Replicas(primary)

	if err := s.writeOne(primary, key, payloadSnippet, primary, false); err != nil {
		return err
	}
	for _, r := range replicas {
		if err := s.writeOne(r, key, payloadSnippet, primary, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeOne(partitionID int, key, payloadSnippet string, primary int, isReplica bool) error {
	sh := s.shards[partitionID]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	size := int64(len(payloadSnippet))
	if s.maxPartitionBytes > 0 && sh.byteSize+size > s.maxPartitionBytes {
		return model.ErrPartitionFull
	}

	if existing, ok := sh.entries[key]; ok {
		sh.byteSize -= int64(len(existing.payloadSnippet))
	} else {
		sh.itemCount++
	}
	sh.entries[key] = entry{
		payloadSnippet: payloadSnippet,
		timestamp:      time.Now(),
		primary:        primary,
		isReplica:      isReplica,
	}
	sh.byteSize += size
	return nil
}

// Retrieve reads key from its primary partition. Replicas are never read
// directly; spec.md §4.2 expects callers to read the primary.
func (s *Store) Retrieve(key string) (model.PartitionEntry, error) {
	primary := s.pt.Partition(key)
	sh := s.shards[primary]

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e, ok := sh.entries[key]
	if !ok {
		return model.PartitionEntry{}, model.ErrNotFound
	}
	return model.PartitionEntry{
		Key:              key,
		PayloadSnippet:   e.payloadSnippet,
		Timestamp:        e.timestamp,
		PrimaryPartition: e.primary,
		IsReplica:        e.isReplica,
	}, nil
}

// Stats returns a snapshot of every partition's item count and byte size.
func (s *Store) Stats() []model.PartitionStats {
	out := make([]model.PartitionStats, len(s.shards))
	for i, sh := range s.shards {
		sh.mu.RLock()
		out[i] = model.PartitionStats{ID: i, ItemCount: sh.itemCount, Size: sh.byteSize}
		sh.mu.RUnlock()
	}
	return out
}

// Clear resets one partition, or every partition when partitionID is nil.
func (s *Store) Clear(partitionID *int) {
	if partitionID != nil {
		s.clearOne(*partitionID)
		return
	}
	for i := range s.shards {
		s.clearOne(i)
	}
}

func (s *Store) clearOne(id int) {
	sh := s.shards[id]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.entries = make(map[string]entry)
	sh.itemCount = 0
	sh.byteSize = 0
}

// Rebalance is a no-op hook per spec.md §4.2: the partitioner never
// migrates data when P changes, so Rebalance only returns the current
// snapshot.
func (s *Store) Rebalance() []model.PartitionStats {
	return s.Stats()
}
