package shardstore

import (
	"errors"
	"testing"

	"github.com/visiondispatch/core/internal/model"
	"github.com/visiondispatch/core/internal/partition"
)

func mustPartitioner(t *testing.T, p, r int) *partition.Partitioner {
	t.Helper()
	pt, err := partition.New(p, r)
	if err != nil {
		t.Fatalf("partition.New: %v", err)
	}
	return pt
}

// TestStore_RoundTrip exercises spec.md S2: P=4,R=2, store then retrieve.
func TestStore_RoundTrip(t *testing.T) {
	pt := mustPartitioner(t, 4, 2)
	st := New(pt, 0)

	if err := st.Store("k1", "snippet-a"); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := st.Retrieve("k1")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got.PayloadSnippet != "snippet-a" {
		t.Fatalf("expected snippet-a, got %s", got.PayloadSnippet)
	}

	primary := pt.Partition("k1")
	replica := (primary + 1) % 4
	stats := st.Stats()
	if stats[primary].ItemCount != 1 {
		t.Fatalf("expected primary partition %d itemCount 1, got %d", primary, stats[primary].ItemCount)
	}
	if stats[replica].ItemCount != 1 {
		t.Fatalf("expected replica partition %d itemCount 1, got %d", replica, stats[replica].ItemCount)
	}
}

func TestStore_RetrieveMissingKeyReturnsNotFound(t *testing.T) {
	pt := mustPartitioner(t, 4, 1)
	st := New(pt, 0)

	_, err := st.Retrieve("missing")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_PartitionFullRejectsWrite(t *testing.T) {
	pt := mustPartitioner(t, 2, 1)
	st := New(pt, 4) // 4 bytes cap

	if err := st.Store("a", "1234"); err != nil {
		t.Fatalf("first write should fit: %v", err)
	}
	if err := st.Store("a", "12345"); !errors.Is(err, model.ErrPartitionFull) {
		t.Fatalf("expected ErrPartitionFull on oversized write, got %v", err)
	}
}

func TestStore_ClearOnePartition(t *testing.T) {
	pt := mustPartitioner(t, 4, 1)
	st := New(pt, 0)
	_ = st.Store("k1", "v1")

	primary := pt.Partition("k1")
	st.Clear(&primary)

	if _, err := st.Retrieve("k1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected key gone after clear, got err=%v", err)
	}
}

func TestStore_ClearAllPartitions(t *testing.T) {
	pt := mustPartitioner(t, 4, 1)
	st := New(pt, 0)
	_ = st.Store("k1", "v1")
	_ = st.Store("k2", "v2")

	st.Clear(nil)

	for _, s := range st.Stats() {
		if s.ItemCount != 0 {
			t.Fatalf("expected all partitions empty after Clear(nil), got %+v", s)
		}
	}
}

func TestStore_RebalanceIsNoOpReturningStats(t *testing.T) {
	pt := mustPartitioner(t, 4, 1)
	st := New(pt, 0)
	_ = st.Store("k1", "v1")

	before := st.Stats()
	after := st.Rebalance()

	if len(before) != len(after) {
		t.Fatalf("rebalance changed partition count")
	}
	for i := range before {
		if before[i].ItemCount != after[i].ItemCount {
			t.Fatalf("rebalance mutated item counts at partition %d", i)
		}
	}
}

func TestStore_OverwriteUpdatesSizeNotCount(t *testing.T) {
	pt := mustPartitioner(t, 4, 1)
	st := New(pt, 0)

	if err := st.Store("k1", "short"); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := st.Store("k1", "a longer snippet"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	primary := pt.Partition("k1")
	stats := st.Stats()
	if stats[primary].ItemCount != 1 {
		t.Fatalf("expected item count to stay 1 on overwrite, got %d", stats[primary].ItemCount)
	}
	if want := int64(len("a longer snippet")); stats[primary].Size != want {
		t.Fatalf("expected size %d after overwrite, got %d", want, stats[primary].Size)
	}
}
