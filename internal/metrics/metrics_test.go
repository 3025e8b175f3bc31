package metrics

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestRegistryAccumulatesPerKey(t *testing.T) {
	r := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	key := Key{Operation: OpModelInvocation, ModelName: "ship-detector", InputFormat: "GTIFF"}

	r.RecordInvocation(key, 100*time.Millisecond)
	r.RecordInvocation(key, 200*time.Millisecond)
	r.RecordThrottle(key)
	r.RecordThrottle(key)
	r.RecordThrottle(key)
	r.RecordRetry(key)
	r.RecordError(key)

	snap := r.Snapshot(key)
	if snap.Invocations != 2 {
		t.Errorf("Invocations = %d, want 2", snap.Invocations)
	}
	if snap.Throttles != 3 {
		t.Errorf("Throttles = %d, want 3", snap.Throttles)
	}
	if snap.Retries != 1 {
		t.Errorf("Retries = %d, want 1", snap.Retries)
	}
	if snap.Errors != 1 {
		t.Errorf("Errors = %d, want 1", snap.Errors)
	}
	if snap.Duration != 300*time.Millisecond {
		t.Errorf("Duration = %v, want 300ms", snap.Duration)
	}
}

func TestRegistryKeysAreIndependent(t *testing.T) {
	r := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	a := Key{Operation: OpTileProcessing, ModelName: "m1", InputFormat: "JPEG"}
	b := Key{Operation: OpTileProcessing, ModelName: "m2", InputFormat: "JPEG"}

	r.RecordError(a)
	if r.Snapshot(b).Errors != 0 {
		t.Error("expected distinct keys to have independent counters")
	}
}
