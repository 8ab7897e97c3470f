package queue

import (
	"testing"
	"time"

	"github.com/visiondispatch/core/internal/model"
)

func TestBackoffDelay_NormalPriorityDoublesEachAttempt(t *testing.T) {
	d0 := backoffDelay(model.PriorityNormal, 0)
	d1 := backoffDelay(model.PriorityNormal, 1)
	d2 := backoffDelay(model.PriorityNormal, 2)

	if d0 != 2*time.Second {
		t.Fatalf("expected 2s at attempt 0, got %v", d0)
	}
	if d1 != 4*time.Second {
		t.Fatalf("expected 4s at attempt 1, got %v", d1)
	}
	if d2 != 8*time.Second {
		t.Fatalf("expected 8s at attempt 2, got %v", d2)
	}
}

func TestBackoffDelay_HighPriorityUsesSmallerBase(t *testing.T) {
	d0 := backoffDelay(model.PriorityHigh, 0)
	if d0 != time.Second {
		t.Fatalf("expected 1s at attempt 0 for high priority, got %v", d0)
	}
}
