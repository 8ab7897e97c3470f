// Package validate holds request-shape checks for the dispatch HTTP API.
// Every failure wraps model.ErrInvalidInput; handlers translate that into
// a 400 via respond.WriteBadRequest.
package validate

import (
	"fmt"
	"mime/multipart"

	"github.com/visiondispatch/core/internal/model"
)

const (
	maxBatchImages   = 500
	maxDatasetNameLn = 200
)

// NonEmpty reports a missing required field.
func NonEmpty(field, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s is required", model.ErrInvalidInput, field)
	}
	return nil
}

// Batch validates a parsed multipart batch. An empty batch is allowed: it
// flows through to the dispatcher, which emits a zero-total stats event and
// completes the stream with no result events. If imageIds were supplied
// they must align 1:1 with the image parts.
func Batch(images []*multipart.FileHeader, imageIds []string) error {
	if len(images) > maxBatchImages {
		return fmt.Errorf("%w: batch of %d images exceeds the %d-image limit", model.ErrInvalidInput, len(images), maxBatchImages)
	}
	if len(imageIds) > 0 && len(imageIds) != len(images) {
		return fmt.Errorf("%w: imageIds count (%d) must match image count (%d)", model.ErrInvalidInput, len(imageIds), len(images))
	}
	return nil
}

// IngestRequest validates the fields of a POST /ingest request.
func IngestRequest(datasetName string, batchSize int) error {
	if err := NonEmpty("datasetName", datasetName); err != nil {
		return err
	}
	if len(datasetName) > maxDatasetNameLn {
		return fmt.Errorf("%w: datasetName exceeds %d characters", model.ErrInvalidInput, maxDatasetNameLn)
	}
	if batchSize <= 0 {
		return fmt.Errorf("%w: batchSize must be positive, got %d", model.ErrInvalidInput, batchSize)
	}
	return nil
}

// PartitionTopology checks that a replication factor is compatible with a
// partition count, the same invariant partition.New enforces at
// construction time — surfaced here so a malformed request body produces
// a 400 instead of a 500 from a deeper constructor error.
func PartitionTopology(numPartitions, replicationFactor int) error {
	if numPartitions <= 0 {
		return fmt.Errorf("%w: numPartitions must be positive, got %d", model.ErrInvalidInput, numPartitions)
	}
	if replicationFactor <= 0 {
		return fmt.Errorf("%w: replicationFactor must be positive, got %d", model.ErrInvalidInput, replicationFactor)
	}
	if replicationFactor > numPartitions {
		return fmt.Errorf("%w: replicationFactor (%d) cannot exceed numPartitions (%d)", model.ErrInvalidInput, replicationFactor, numPartitions)
	}
	return nil
}
