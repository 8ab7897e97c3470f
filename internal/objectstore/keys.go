package objectstore

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// ImageKey builds the object key for an uploaded image under its assigned
// partition: partition-{i}/{hash8}-{epoch_ms}.{ext}, per spec.md §6.
func ImageKey(partitionID int, filename string, epochMS int64, ext string) string {
	sum := sha1.Sum([]byte(filename))
	hash8 := hex.EncodeToString(sum[:])[:8]
	return fmt.Sprintf("partition-%d/%s-%d%s", partitionID, hash8, epochMS, ext)
}

// ResultKey builds the object key for a stored result: results/{id}.json.
func ResultKey(taskID string) string {
	return fmt.Sprintf("results/%s.json", taskID)
}
