package objectstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/visiondispatch/core/internal/model"
)

func TestNew_EmptyEndpointDisablesClient(t *testing.T) {
	c, err := New(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Enabled() {
		t.Fatalf("expected disabled client for empty endpoint")
	}
}

func TestDisabledClient_OperationsReturnErrStorageUnavailable(t *testing.T) {
	c, _ := New(Config{})
	ctx := context.Background()

	if err := c.PutObject(ctx, ImagesBucket, "k", []byte("x"), "image/jpeg", nil); !errors.Is(err, model.ErrStorageUnavailable) {
		t.Fatalf("PutObject: expected ErrStorageUnavailable, got %v", err)
	}
	if _, err := c.GetObject(ctx, ImagesBucket, "k"); !errors.Is(err, model.ErrStorageUnavailable) {
		t.Fatalf("GetObject: expected ErrStorageUnavailable, got %v", err)
	}
	if _, err := c.ListObjects(ctx, ImagesBucket, "partition-0/"); !errors.Is(err, model.ErrStorageUnavailable) {
		t.Fatalf("ListObjects: expected ErrStorageUnavailable, got %v", err)
	}
	if _, err := c.BucketExists(ctx, ImagesBucket); !errors.Is(err, model.ErrStorageUnavailable) {
		t.Fatalf("BucketExists: expected ErrStorageUnavailable, got %v", err)
	}
}

func TestImageKey_Layout(t *testing.T) {
	key := ImageKey(3, "cat.jpg", 1700000000000, ".jpg")
	if !strings.HasPrefix(key, "partition-3/") {
		t.Fatalf("expected key to start with partition-3/, got %s", key)
	}
	if !strings.HasSuffix(key, "-1700000000000.jpg") {
		t.Fatalf("expected key to end with epoch and extension, got %s", key)
	}
}

func TestImageKey_DeterministicForSameFilename(t *testing.T) {
	k1 := ImageKey(0, "same.png", 1, ".png")
	k2 := ImageKey(0, "same.png", 1, ".png")
	if k1 != k2 {
		t.Fatalf("expected identical keys for identical inputs, got %s vs %s", k1, k2)
	}
}

func TestResultKey_Layout(t *testing.T) {
	if got := ResultKey("abc-123"); got != "results/abc-123.json" {
		t.Fatalf("unexpected result key: %s", got)
	}
}
