// Package http adapts the Streaming Dispatcher and its supporting
// components onto the HTTP surface named in spec.md §6.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/visiondispatch/core/internal/api/respond"
	"github.com/visiondispatch/core/internal/api/validate"
	"github.com/visiondispatch/core/internal/config"
	"github.com/visiondispatch/core/internal/dispatcher"
	"github.com/visiondispatch/core/internal/events"
	"github.com/visiondispatch/core/internal/health"
	"github.com/visiondispatch/core/internal/leaseworker"
	"github.com/visiondispatch/core/internal/model"
	"github.com/visiondispatch/core/internal/objectstore"
	"github.com/visiondispatch/core/internal/partition"
	"github.com/visiondispatch/core/internal/queue"
)

const maxMultipartMemory = 64 << 20 // 64MiB held in memory before spilling to temp files

// Handler holds every dependency the dispatch HTTP surface needs.
type Handler struct {
	Dispatcher  *dispatcher.Dispatcher
	ObjectStore *objectstore.Client
	Queue       *queue.Queue // nil disables /worker and queue-backed health checks
	Partitioner *partition.Partitioner
	Describe    leaseworker.DescribeFunc
	Cfg         *config.Config
	Checks      map[string]health.HealthChecker // keys: "queue", "s3", "redis"
	Log         zerolog.Logger

	// WorkerCtx bounds the background lease loop started by WorkerBootstrap.
	// It must outlive any single request; callers should set it to a
	// process-lifetime context (e.g. context.Background()), never leave it
	// nil. Defaults to context.Background() if unset.
	WorkerCtx context.Context

	workerOnce sync.Once
	runnerDone <-chan struct{}
}

// Process implements POST /process: spec.md §4.5/§6.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	images, imageIds, err := h.parseBatch(r)
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}

	batch, err := h.loadBatch(images, imageIds, model.PriorityNormal)
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}

	stream, ok := newSSEStream(w, h.Log)
	if !ok {
		respond.WriteInternalError(w, "streaming unsupported")
		return
	}

	for evt := range h.Dispatcher.ProcessBatch(r.Context(), batch) {
		if !stream.safeWrite(evt) {
			continue
		}
		h.persistResult(r.Context(), evt)
	}
}

// Ingest implements POST /ingest: spec.md §6's bulk-ingest endpoint. It
// chunks the batch into datasetName/batchSize-sized sub-batches and runs
// each through the same dispatcher pipeline, translating dispatcher
// events into the ingest-specific progress/complete vocabulary.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	images, imageIds, err := h.parseBatch(r)
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	datasetName := r.FormValue("datasetName")
	batchSize, _ := strconv.Atoi(r.FormValue("batchSize"))
	if err := validate.IngestRequest(datasetName, batchSize); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}

	batch, err := h.loadBatch(images, imageIds, model.PriorityNormal)
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}

	stream, ok := newSSEStream(w, h.Log)
	if !ok {
		respond.WriteInternalError(w, "streaming unsupported")
		return
	}

	totalImages := len(batch)
	totalBatches := (totalImages + batchSize - 1) / batchSize
	stream.safeWrite(events.Event{Type: events.KindLog, LogType: events.LogInfo, Message: fmt.Sprintf("ingest %s: %d images in %d batches", datasetName, totalImages, totalBatches)})

	totalIngested := 0
	for i := 0; i < totalBatches; i++ {
		start := i * batchSize
		end := start + batchSize
		if end > totalImages {
			end = totalImages
		}
		chunk := batch[start:end]

		for evt := range h.Dispatcher.ProcessBatch(r.Context(), chunk) {
			if evt.Type == events.KindComplete {
				totalIngested += len(chunk)
				stream.safeWrite(events.Event{
					Type: events.KindProgress, BatchIndex: i, TotalBatches: totalBatches,
					BatchSize: len(chunk), TotalIngested: totalIngested, TotalImages: totalImages,
				})
				continue
			}
			if !stream.safeWrite(evt) {
				continue
			}
			h.persistResult(r.Context(), evt)
		}
	}

	stream.safeWrite(events.Event{
		Type: events.KindComplete, TotalIngested: totalIngested, DatasetName: datasetName,
		Message: fmt.Sprintf("ingested %d images into %s", totalIngested, datasetName),
	})
}

func (h *Handler) parseBatch(r *http.Request) ([]*multipart.FileHeader, []string, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, nil, fmt.Errorf("%w: parse multipart form: %v", model.ErrInvalidInput, err)
	}
	images := r.MultipartForm.File["images"]
	imageIds := r.MultipartForm.Value["imageIds"]
	if err := validate.Batch(images, imageIds); err != nil {
		return nil, nil, err
	}
	return images, imageIds, nil
}

func (h *Handler) loadBatch(images []*multipart.FileHeader, imageIds []string, priority model.Priority) ([]dispatcher.BatchImage, error) {
	batch := make([]dispatcher.BatchImage, len(images))
	for i, fh := range images {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open image part %d: %v", model.ErrInvalidInput, i, err)
		}
		data, err := io.ReadAll(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("%w: read image part %d: %v", model.ErrInvalidInput, i, err)
		}
		_ = f.Close()

		id := uuid.NewString()
		if i < len(imageIds) && imageIds[i] != "" {
			id = imageIds[i]
		}
		batch[i] = dispatcher.BatchImage{ID: id, Filename: fh.Filename, Bytes: data, Priority: priority}
	}
	return batch, nil
}

// persistResult best-effort mirrors a terminal completed result into the
// results bucket, per spec.md §6's persisted-state contract. Object
// storage failures are logged, not surfaced to the client: this is
// enrichment, not part of the task's terminal outcome.
func (h *Handler) persistResult(ctx context.Context, evt events.Event) {
	if h.ObjectStore == nil || !h.ObjectStore.Enabled() || evt.Type != events.KindResult || evt.Status != events.ResultCompleted {
		return
	}
	partitionID := 0
	if evt.Partition != nil {
		partitionID = *evt.Partition
	}
	workerID := 0
	if evt.WorkerThread != nil {
		workerID = *evt.WorkerThread
	}
	body, err := json.Marshal(struct {
		Description    string `json:"description"`
		Partition      int    `json:"partition"`
		WorkerID       int    `json:"workerId"`
		ProcessingTime int64  `json:"processingTime"`
		Timestamp      string `json:"timestamp"`
	}{
		Description: evt.Description, Partition: partitionID, WorkerID: workerID,
		ProcessingTime: evt.ProcessingTime, Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	key := objectstore.ResultKey(evt.TaskID)
	if err := h.ObjectStore.PutObject(ctx, objectstore.ResultsBucket, key, body, "application/json", nil); err != nil {
		h.Log.Warn().Err(err).Str("taskId", evt.TaskID).Msg("failed to persist result")
	}
}

// healthResponse is the wire shape for GET /health, spec.md §6.
type healthResponse struct {
	Status  string          `json:"status"`
	Checks  map[string]bool `json:"checks"`
	Stamped string          `json:"timestamp"`
}

// Health implements GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]bool, len(h.Checks))
	allHealthy := true
	for name, checker := range h.Checks {
		ok := checker.IsHealthy()
		checks[name] = ok
		if !ok {
			allHealthy = false
		}
	}

	status := "UP"
	code := http.StatusOK
	if !allHealthy {
		status = "DOWN"
		code = http.StatusServiceUnavailable
	}
	respond.WriteJSON(w, code, healthResponse{Status: status, Checks: checks, Stamped: time.Now().UTC().Format(time.RFC3339)})
}

// WorkerBootstrap implements POST /worker: reads WORKER_ID and PARTITIONS
// from configuration, and starts a background lease loop exactly once.
func (h *Handler) WorkerBootstrap(w http.ResponseWriter, r *http.Request) {
	if h.Queue == nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "distributed queue not configured")
		return
	}
	partitions, err := h.Cfg.ParsedPartitions()
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}

	h.workerOnce.Do(func() {
		runCtx := h.WorkerCtx
		if runCtx == nil {
			runCtx = context.Background()
		}
		done := make(chan struct{})
		h.runnerDone = done
		runner := leaseworker.New(h.Queue, h.fetchImage, h.Describe, leaseworker.Config{
			WorkerID:   h.Cfg.WorkerID,
			Partitions: partitions,
		}, h.Log)
		go func() {
			defer close(done)
			_ = runner.Run(runCtx)
		}()
	})

	respond.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"workerId":   h.Cfg.WorkerID,
		"partitions": partitions,
		"status":     "bootstrapped",
	})
}

func (h *Handler) fetchImage(ctx context.Context, objectKey string) ([]byte, error) {
	return h.ObjectStore.GetObject(ctx, objectstore.ImagesBucket, objectKey)
}

// WorkerStatus implements GET /worker.
func (h *Handler) WorkerStatus(w http.ResponseWriter, r *http.Request) {
	partitions, err := h.Cfg.ParsedPartitions()
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}

	resp := map[string]interface{}{
		"workerId":   h.Cfg.WorkerID,
		"partitions": partitions,
		"running":    h.runnerDone != nil,
	}
	if h.Queue != nil {
		depth, err := h.Queue.Depth(r.Context(), partitions)
		if err == nil {
			resp["queueDepth"] = depth
		}
	}
	respond.WriteJSON(w, http.StatusOK, resp)
}
