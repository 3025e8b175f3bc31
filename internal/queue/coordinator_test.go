package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mumuon/geovision-runner/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPollOnceAcksOnSuccess(t *testing.T) {
	client := NewMemoryClient()
	client.PushImage(model.ImageRequest{JobID: "job-1"}, 1)

	c := NewCoordinator(client, time.Second, func(ctx context.Context, msg *Message) error {
		return nil
	}, func(ctx context.Context, msg *Message) error {
		return nil
	}, testLogger())

	if err := c.pollOnce(context.Background(), KindImage); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if client.AckedCount() != 1 {
		t.Errorf("AckedCount = %d, want 1", client.AckedCount())
	}
}

func TestPollOnceLeavesMessageOnTransientFailure(t *testing.T) {
	client := NewMemoryClient()
	client.PushRegion(model.RegionRequest{RegionID: "r0"}, 1)

	c := NewCoordinator(client, time.Second, nil, func(ctx context.Context, msg *Message) error {
		return &TransientError{Err: fmt.Errorf("ledger unavailable")}
	}, testLogger())

	if err := c.pollOnce(context.Background(), KindRegion); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if client.AckedCount() != 0 {
		t.Errorf("expected transient failure to leave message unacked, AckedCount = %d", client.AckedCount())
	}
}

func TestPollOnceAcksOnPermanentFailure(t *testing.T) {
	client := NewMemoryClient()
	client.PushImage(model.ImageRequest{JobID: "job-1"}, 1)

	c := NewCoordinator(client, time.Second, func(ctx context.Context, msg *Message) error {
		return errors.New("validation failed")
	}, nil, testLogger())

	if err := c.pollOnce(context.Background(), KindImage); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if client.AckedCount() != 1 {
		t.Errorf("expected permanent failure to still ack the message, AckedCount = %d", client.AckedCount())
	}
}

func TestPollOnceDeadLettersAfterMaxReceiveCount(t *testing.T) {
	client := NewMemoryClient()
	client.PushRegion(model.RegionRequest{RegionID: "r0"}, MaxReceiveCount+1)

	called := false
	c := NewCoordinator(client, time.Second, nil, func(ctx context.Context, msg *Message) error {
		called = true
		return nil
	}, testLogger())

	if err := c.pollOnce(context.Background(), KindRegion); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if called {
		t.Error("handler should not run once receive count exceeds the max")
	}
	if client.DeadLetteredCount() != 1 {
		t.Errorf("DeadLetteredCount = %d, want 1", client.DeadLetteredCount())
	}
}

func TestPollOnceRunsDeadLetterHandlerBeforeRemovingMessage(t *testing.T) {
	client := NewMemoryClient()
	client.PushRegion(model.RegionRequest{RegionID: "r0"}, MaxReceiveCount+1)

	var markedRegionID string
	c := NewCoordinator(client, time.Second, nil, func(ctx context.Context, msg *Message) error {
		t.Fatal("handler should not run once receive count exceeds the max")
		return nil
	}, testLogger())
	c.OnDeadLetter = func(ctx context.Context, msg *Message) error {
		markedRegionID = msg.Region.RegionID
		return nil
	}

	if err := c.pollOnce(context.Background(), KindRegion); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if markedRegionID != "r0" {
		t.Errorf("expected dead-letter handler to run with region r0, got %q", markedRegionID)
	}
	if client.DeadLetteredCount() != 1 {
		t.Errorf("DeadLetteredCount = %d, want 1", client.DeadLetteredCount())
	}
}

func TestPollOnceDeadLettersEvenWhenHandlerFails(t *testing.T) {
	client := NewMemoryClient()
	client.PushImage(model.ImageRequest{JobID: "job-1"}, MaxReceiveCount+1)

	c := NewCoordinator(client, time.Second, nil, nil, testLogger())
	c.OnDeadLetter = func(ctx context.Context, msg *Message) error {
		return errors.New("ledger unavailable")
	}

	if err := c.pollOnce(context.Background(), KindImage); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if client.DeadLetteredCount() != 1 {
		t.Errorf("expected dead-letter to proceed despite handler failure, DeadLetteredCount = %d", client.DeadLetteredCount())
	}
}

func TestBuildCycleInterleavesWeights(t *testing.T) {
	c := &Coordinator{Weights: Weights{Image: 1, Region: 3}}
	cycle := c.buildCycle()
	imageCount, regionCount := 0, 0
	for _, k := range cycle {
		switch k {
		case KindImage:
			imageCount++
		case KindRegion:
			regionCount++
		}
	}
	if imageCount != 1 || regionCount != 3 {
		t.Fatalf("cycle = %v, want 1 image and 3 region entries", cycle)
	}
}
