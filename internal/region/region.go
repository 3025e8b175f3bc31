// Package region implements the region workflow from spec §4.F: the
// state machine a worker runs for one RegionRequest —
// CLAIMED -> TILING -> DISPATCHING -> AGGREGATING -> {DONE, ERROR}.
//
// Visibility-timeout heartbeating while DISPATCHING is owned by the
// work-queue coordinator (internal/queue.Coordinator), which extends
// the message's visibility for the whole duration of Process per spec
// §4.F's heartbeat rule; this package focuses on the state machine
// itself, grounded on the teacher's service.go phase-sequencing and
// nil-tolerant-optional-collaborator style.
package region

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mumuon/geovision-runner/internal/endpoint"
	"github.com/mumuon/geovision-runner/internal/ledger"
	"github.com/mumuon/geovision-runner/internal/lift"
	"github.com/mumuon/geovision-runner/internal/metrics"
	"github.com/mumuon/geovision-runner/internal/model"
	"github.com/mumuon/geovision-runner/internal/nms"
	"github.com/mumuon/geovision-runner/internal/queue"
	"github.com/mumuon/geovision-runner/internal/sensormodel"
	"github.com/mumuon/geovision-runner/internal/sink"
	"github.com/mumuon/geovision-runner/internal/tiling"
)

// ErrorRateThreshold is the default fraction of a region's tiles that
// may fail before the region itself is marked ERROR (spec §4.E).
const ErrorRateThreshold = 0.10

// DefaultPoolSize is the default bounded worker-pool size per region
// for concurrent endpoint dispatch (spec §4.E).
const DefaultPoolSize = 4

// Workflow runs the region state machine. One Workflow is shared
// across every region a worker process handles; per-call state lives
// in the arguments to Process, not on the struct, so Workflow itself
// is safe for concurrent use across regions.
type Workflow struct {
	Ledger         ledger.Ledger
	Endpoint       *endpoint.Client
	Metrics        *metrics.Registry
	Sinks          *sink.Registry
	Logger         *slog.Logger
	PoolSize       int
	NMSOptions     nms.Options
	ErrorThreshold float64
}

// New returns a Workflow with spec §4.E/§4.D defaults filled in.
func New(l ledger.Ledger, ep *endpoint.Client, m *metrics.Registry, sinks *sink.Registry, logger *slog.Logger) *Workflow {
	return &Workflow{
		Ledger:         l,
		Endpoint:       ep,
		Metrics:        m,
		Sinks:          sinks,
		Logger:         logger,
		PoolSize:       DefaultPoolSize,
		NMSOptions:     nms.DefaultOptions(),
		ErrorThreshold: ErrorRateThreshold,
	}
}

// tileResult is one completed tile's outcome, fed into the aggregate
// phase as tiles finish in arbitrary order (spec §5: "ordering of
// responses does not matter").
type tileResult struct {
	features []*model.Feature
	outcome  endpoint.Kind
}

// Process runs one region end to end: claim, tile, dispatch,
// aggregate, persist, and — if this call observes the job's last
// outstanding region — finalize. workerID identifies the caller for
// RegionRecord.WorkerID; m is the image's sensor model, shared
// read-only across every region of the job (spec §5).
func (w *Workflow) Process(ctx context.Context, req model.RegionRequest, source TileSource, m sensormodel.Model, workerID string) error {
	logger := w.Logger.With("job_id", req.JobID, "region_id", req.RegionID, "worker_id", workerID)

	claimed, err := w.claim(ctx, req, workerID)
	if err != nil {
		return err
	}
	if !claimed {
		logger.Info("region already claimed or done, skipping")
		return nil
	}

	it, err := tiling.NewIterator(req.Bounds, req.TileSize, req.TileOverlap, req.TileFormat, req.TileCompression)
	if err != nil {
		return w.failRegion(ctx, req, logger, fmt.Errorf("build tile iterator: %w", err))
	}

	features, tileErrors, tileTotal := w.dispatch(ctx, req, it, source, m, logger)

	errorRate := 0.0
	if tileTotal > 0 {
		errorRate = float64(tileErrors) / float64(tileTotal)
	}

	distilled := nms.Run(req.Distillation, features, w.NMSOptions)

	if err := sink.WriteRegionBatch(ctx, w.Sinks, req.JobID, req.Outputs, distilled); err != nil {
		logger.Error("failed writing region output to sinks", "error", err)
		return &queue.TransientError{Err: err}
	}

	regionStatus := model.RegionStatusDone
	if errorRate > w.ErrorThreshold {
		regionStatus = model.RegionStatusError
	}

	if _, err := w.Ledger.UpdateRegionIf(ctx, req.JobID, req.RegionID,
		func(cur model.RegionRecord) bool { return cur.Status == model.RegionStatusClaimed },
		func(cur model.RegionRecord) model.RegionRecord {
			cur.Status = regionStatus
			cur.FeatureCount = len(distilled)
			return cur
		}); err != nil {
		return fmt.Errorf("persist region %s result: %w", req.RegionID, err)
	}

	return w.finalizeJobIfLastRegion(ctx, req.JobID, regionStatus, distilled, logger)
}

// claim attempts the conditional-put from spec §4.F step 1. Returns
// (true, nil) if this call now owns the region; (false, nil) if it's
// already DONE or owned by another worker (both idempotent no-ops).
func (w *Workflow) claim(ctx context.Context, req model.RegionRequest, workerID string) (bool, error) {
	err := w.Ledger.CreateRegionIfAbsent(ctx, model.RegionRecord{
		JobID: req.JobID, RegionID: req.RegionID, Status: model.RegionStatusClaimed, WorkerID: workerID, AttemptCount: 1,
	})
	if err == nil {
		return true, nil
	}
	if err != ledger.ErrAlreadyExists {
		return false, fmt.Errorf("claim region %s: %w", req.RegionID, err)
	}

	if _, getErr := w.Ledger.GetRegion(ctx, req.JobID, req.RegionID); getErr != nil {
		return false, fmt.Errorf("claim region %s: inspect existing: %w", req.RegionID, getErr)
	}
	// DONE/ERROR are terminal: skip. CLAIMED by a live worker: also
	// skip here — visibility-timeout expiry is what lets another
	// worker legitimately re-attempt, handled by the queue
	// coordinator redelivering the message, not by this check racing
	// a live owner.
	return false, nil
}

// dispatch runs tiles through the bounded worker pool and the feature
// lifter, returning the buffered (not yet deduplicated) feature set,
// the count of tiles that did not succeed (read failures, permanent or
// oversize failures, and transient failures that ran out of retries),
// and the total tile count.
func (w *Workflow) dispatch(ctx context.Context, req model.RegionRequest, it *tiling.Iterator, source TileSource, m sensormodel.Model, logger *slog.Logger) ([]*model.Feature, int, int) {
	poolSize := w.PoolSize
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}

	tilesCh := make(chan model.TileDescriptor)
	resultsCh := make(chan tileResult)

	var wg sync.WaitGroup
	for i := 0; i < poolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tile := range tilesCh {
				resultsCh <- w.processTile(ctx, req, tile, source, m, logger)
			}
		}()
	}

	go func() {
		defer close(tilesCh)
		for {
			tile, ok := it.Next()
			if !ok {
				return
			}
			select {
			case tilesCh <- tile:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	var (
		features   []*model.Feature
		tileErrors int
		tileTotal  int
	)
	for res := range resultsCh {
		tileTotal++
		if res.outcome != endpoint.KindSuccess {
			tileErrors++
			continue
		}
		features = append(features, res.features...)
	}
	return features, tileErrors, tileTotal
}

func (w *Workflow) processTile(ctx context.Context, req model.RegionRequest, tile model.TileDescriptor, source TileSource, m sensormodel.Model, logger *slog.Logger) tileResult {
	metricsKey := metrics.Key{Operation: metrics.OpTileProcessing, ModelName: req.ImageProcessor.Name, InputFormat: string(req.TileFormat)}
	start := time.Now()

	data, contentType, err := source.ReadTile(ctx, tile)
	if err != nil {
		logger.Error("failed reading tile bytes", "tile_ulx", tile.ULx, "tile_uly", tile.ULy, "error", err)
		w.Metrics.RecordError(metricsKey)
		return tileResult{outcome: endpoint.KindPermanent}
	}

	res := w.Endpoint.Invoke(ctx, req.ImageProcessor.URL, data, contentType)
	w.Metrics.RecordInvocation(metricsKey, time.Since(start))
	for i := 0; i < res.Throttles; i++ {
		w.Metrics.RecordThrottle(metricsKey)
	}
	for i := 0; i < res.Retries; i++ {
		w.Metrics.RecordRetry(metricsKey)
	}
	if res.Kind != endpoint.KindSuccess {
		logger.Warn("tile invocation failed permanently", "tile_ulx", tile.ULx, "tile_uly", tile.ULy, "kind", res.Kind, "error", res.Err)
		w.Metrics.RecordError(metricsKey)
		return tileResult{outcome: res.Kind}
	}

	lifter := lift.New(req.JobID, req.ImageURL, nil)
	lifted := make([]*model.Feature, 0, len(res.Features))
	for _, f := range res.Features {
		lifted = append(lifted, lifter.Lift(m, tile.ULx, tile.ULy, f))
	}
	return tileResult{features: lifted, outcome: endpoint.KindSuccess}
}

func (w *Workflow) failRegion(ctx context.Context, req model.RegionRequest, logger *slog.Logger, cause error) error {
	logger.Error("region workflow failed before dispatch", "error", cause)
	if _, err := w.Ledger.UpdateRegionIf(ctx, req.JobID, req.RegionID,
		func(cur model.RegionRecord) bool { return cur.Status == model.RegionStatusClaimed },
		func(cur model.RegionRecord) model.RegionRecord { cur.Status = model.RegionStatusError; return cur }); err != nil {
		logger.Error("failed marking region ERROR", "error", err)
	}
	if finalizeErr := w.finalizeJobIfLastRegion(ctx, req.JobID, model.RegionStatusError, nil, logger); finalizeErr != nil {
		logger.Error("failed finalizing job after region failure", "error", finalizeErr)
	}
	return cause
}

// maxFinalizeAttempts bounds the retry loop in finalizeJobIfLastRegion.
// Each attempt costs one GetJob + one conditional UPDATE; this many
// concurrent regions finishing in lockstep is far beyond any real
// region_count, so hitting the bound means something else is wrong.
const maxFinalizeAttempts = 20

// finalizeJobIfLastRegion implements spec §4.F step 5's last clause:
// whichever worker's region completion makes
// region_success+region_error==region_count performs the one terminal
// job transition, appends this region's distilled features into the
// job's accumulated output, and — for the terminal transition — flushes
// the combined document to every object-store sink (spec §4.F step 6,
// §6 "one GeoJSON document per job").
//
// UpdateJobIf's ErrPredicateFailed covers two cases that look
// identical from the caller's side: the job is already terminal
// (someone else finalized it, nothing to do), or this call simply lost
// the CAS race against another region completing concurrently (the
// normal case under spec §5's concurrent region processing). Losing
// the race must not lose the increment, so on ErrPredicateFailed this
// re-reads the job and only stops when it observes a terminal status;
// otherwise it retries the same conditional update against fresh
// state.
func (w *Workflow) finalizeJobIfLastRegion(ctx context.Context, jobID string, regionStatus model.RegionStatus, features []*model.Feature, logger *slog.Logger) error {
	mutation := func(cur model.JobRecord) model.JobRecord {
		if regionStatus == model.RegionStatusDone {
			cur.RegionSuccess++
		} else {
			cur.RegionError++
		}
		if len(features) > 0 {
			cur.Features = append(cur.Features, features...)
		}
		if cur.RegionSuccess+cur.RegionError == cur.RegionCount {
			cur.EndTime = time.Now()
			switch {
			case cur.RegionSuccess == cur.RegionCount:
				cur.Status = model.JobStatusSuccess
			case cur.RegionSuccess > 0:
				cur.Status = model.JobStatusPartial
			default:
				cur.Status = model.JobStatusFailed
			}
		}
		return cur
	}

	var updated model.JobRecord
	for attempt := 0; ; attempt++ {
		var err error
		updated, err = w.Ledger.UpdateJobIf(ctx, jobID,
			func(cur model.JobRecord) bool { return !cur.Status.IsTerminal() },
			mutation)
		if err == nil {
			break
		}
		if err != ledger.ErrPredicateFailed {
			return fmt.Errorf("update job %s region counters: %w", jobID, err)
		}

		cur, getErr := w.Ledger.GetJob(ctx, jobID)
		if getErr != nil {
			return fmt.Errorf("update job %s region counters: re-read after predicate failure: %w", jobID, getErr)
		}
		if cur.Status.IsTerminal() {
			// genuinely finalized already, not a lost race: stop.
			logger.Info("job already terminal when finalizing region", "job_id", jobID, "status", cur.Status)
			return nil
		}
		if attempt >= maxFinalizeAttempts {
			return fmt.Errorf("update job %s region counters: exceeded %d attempts under contention", jobID, maxFinalizeAttempts)
		}
		// lost the CAS race against a concurrent region completion;
		// retry against fresh state.
	}

	if updated.Status.IsTerminal() {
		logger.Info("job completed",
			"job_id", updated.JobID,
			"status", updated.Status,
			"region_success", updated.RegionSuccess,
			"region_count", updated.RegionCount,
			"region_error", updated.RegionError,
			"start_time", updated.StartTime,
			"end_time", updated.EndTime,
		)
		if err := sink.WriteJobDocument(ctx, w.Sinks, jobID, updated.Request.Outputs, updated.Features); err != nil {
			logger.Error("failed writing final job document to sinks", "error", err)
			return &queue.TransientError{Err: err}
		}
	}
	return nil
}
