package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/visiondispatch/core/internal/config"
	"github.com/visiondispatch/core/internal/dispatcher"
	"github.com/visiondispatch/core/internal/health"
	"github.com/visiondispatch/core/internal/model"
	"github.com/visiondispatch/core/internal/partition"
	"github.com/visiondispatch/core/internal/shardstore"
)

type fakeHealthChecker struct {
	name    string
	healthy bool
}

func (f *fakeHealthChecker) Name() string                                     { return f.name }
func (f *fakeHealthChecker) IsHealthy() bool                                  { return f.healthy }
func (f *fakeHealthChecker) Start(ctx context.Context, interval time.Duration) {}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	pt, err := partition.New(4, 2)
	if err != nil {
		t.Fatalf("partition.New: %v", err)
	}
	store := shardstore.New(pt, 0)
	describe := func(ctx context.Context, task model.Task) (string, error) {
		return "a description of " + task.Filename, nil
	}
	d, err := dispatcher.New(pt, store, 2, describe, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("dispatcher.New: %v", err)
	}
	return &Handler{
		Dispatcher: d,
		Cfg:        &config.Config{WorkerID: "w1", NumPartitions: 4, ReplicationFactor: 2},
		Checks:     map[string]health.HealthChecker{},
		Log:        zerolog.Nop(),
	}
}

func multipartBatch(t *testing.T, images map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for name, data := range images {
		part, err := w.CreateFormFile("images", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return body, w.FormDataContentType()
}

func TestHealth_AllHealthyReturns200(t *testing.T) {
	h := newTestHandler(t)
	h.Checks["queue"] = &fakeHealthChecker{name: "queue", healthy: true}
	h.Checks["s3"] = &fakeHealthChecker{name: "s3", healthy: true}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "UP" || !resp.Checks["queue"] || !resp.Checks["s3"] {
		t.Fatalf("unexpected health response: %+v", resp)
	}
}

func TestHealth_OneUnhealthyReturns503(t *testing.T) {
	h := newTestHandler(t)
	h.Checks["queue"] = &fakeHealthChecker{name: "queue", healthy: true}
	h.Checks["s3"] = &fakeHealthChecker{name: "s3", healthy: false}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestProcess_StreamsResultsForEachImage(t *testing.T) {
	h := newTestHandler(t)
	body, contentType := multipartBatch(t, map[string][]byte{
		"cat.jpg": []byte("fake cat bytes"),
		"dog.jpg": []byte("fake dog bytes"),
	})

	req := httptest.NewRequest(http.MethodPost, "/process", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Process(rec, req)

	out := rec.Body.String()
	if !strings.Contains(out, `"type":"complete"`) {
		t.Fatalf("expected a complete event in stream, got: %s", out)
	}
	if strings.Count(out, `"status":"completed"`) != 2 {
		t.Fatalf("expected 2 completed results, got: %s", out)
	}
}

func TestProcess_EmptyBatchCompletesWithNoResults(t *testing.T) {
	h := newTestHandler(t)
	body, contentType := multipartBatch(t, map[string][]byte{})

	req := httptest.NewRequest(http.MethodPost, "/process", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Process(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty batch, got %d", rec.Code)
	}
	out := rec.Body.String()
	if !strings.Contains(out, `"total":0`) {
		t.Fatalf("expected a zero-total stats event, got: %s", out)
	}
	if !strings.Contains(out, `"type":"complete"`) {
		t.Fatalf("expected a complete event, got: %s", out)
	}
	if strings.Contains(out, `"type":"result"`) {
		t.Fatalf("expected no result events for an empty batch, got: %s", out)
	}
}

func TestIngest_ChunksAndReportsProgress(t *testing.T) {
	h := newTestHandler(t)
	images := map[string][]byte{
		"a.jpg": []byte("a"),
		"b.jpg": []byte("b"),
		"c.jpg": []byte("c"),
	}
	fullBody := &bytes.Buffer{}
	mw := multipart.NewWriter(fullBody)
	for name, data := range images {
		part, err := mw.CreateFormFile("images", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.WriteField("datasetName", "test-dataset"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := mw.WriteField("batchSize", "2"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/ingest", fullBody)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	h.Ingest(rec, req)

	out := rec.Body.String()
	if !strings.Contains(out, `"type":"progress"`) {
		t.Fatalf("expected progress events, got: %s", out)
	}
	if !strings.Contains(out, `"totalIngested":3`) {
		t.Fatalf("expected final totalIngested of 3, got: %s", out)
	}
}
