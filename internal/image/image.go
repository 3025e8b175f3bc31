// Package image implements the image workflow from spec §4.G:
// validate an incoming ImageRequest, create its JobRecord, open the
// image, partition it into regions, process region 0 locally, and
// enqueue the rest for any worker to pick up.
package image

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mumuon/geovision-runner/internal/decoder"
	"github.com/mumuon/geovision-runner/internal/imagestore"
	"github.com/mumuon/geovision-runner/internal/ledger"
	"github.com/mumuon/geovision-runner/internal/model"
	"github.com/mumuon/geovision-runner/internal/queue"
	"github.com/mumuon/geovision-runner/internal/region"
)

// DefaultRegionSize is spec §4.G step 4's default region side length
// in pixels, overridable per ImageRequest.
const DefaultRegionSize = 8192

// Workflow runs the image state machine. One Workflow is shared across
// every image a worker process dequeues.
type Workflow struct {
	Ledger    ledger.Ledger
	Store     imagestore.Source
	Decoder   decoder.Decoder
	Queue     queue.Client
	Region    *region.Workflow
	TileCodec region.TileSourceFactory
	Logger    *slog.Logger
	Now       func() time.Time
}

// New returns a Workflow wiring the image-level collaborators.
// tileSourceFactory builds the TileSource a region needs to read its
// tile bytes from the opened image; production wiring supplies a
// RasterCropper-backed factory, tests a fixed stub.
func New(l ledger.Ledger, store imagestore.Source, dec decoder.Decoder, q queue.Client, regionWorkflow *region.Workflow, tileSourceFactory region.TileSourceFactory, logger *slog.Logger) *Workflow {
	return &Workflow{
		Ledger:    l,
		Store:     store,
		Decoder:   dec,
		Queue:     q,
		Region:    regionWorkflow,
		TileCodec: tileSourceFactory,
		Logger:    logger,
		Now:       time.Now,
	}
}

// Process runs one ImageRequest end to end through step 5; it does not
// wait for peer regions (step 6), matching spec §4.G's explicit
// non-blocking contract.
func (w *Workflow) Process(ctx context.Context, req *model.ImageRequest, workerID string) error {
	logger := w.Logger.With("job_id", req.JobID, "worker_id", workerID)

	if err := req.Validate(); err != nil {
		return w.failValidation(ctx, req, logger, err)
	}

	primaryURL, err := req.PrimaryImageURL()
	if err != nil {
		return w.failValidation(ctx, req, logger, err)
	}

	created, err := w.createJob(ctx, req)
	if err != nil {
		return &queue.TransientError{Err: fmt.Errorf("create job %s: %w", req.JobID, err)}
	}
	if !created {
		logger.Info("job already exists, skipping duplicate image message")
		return nil
	}

	meta, sensorModel, err := w.Decoder.Open(ctx, w.Store, primaryURL)
	if err != nil {
		if queue.IsTransient(err) {
			return err
		}
		logger.Error("failed opening image", "error", err)
		return w.failOpen(ctx, req, logger, err)
	}

	regionSize := req.RegionSize
	if regionSize <= 0 {
		regionSize = DefaultRegionSize
	}
	regions := PlanRegions(meta.Width, meta.Height, regionSize)

	if _, err := w.Ledger.UpdateJobIf(ctx, req.JobID,
		func(cur model.JobRecord) bool { return cur.Status == model.JobStatusInProgress },
		func(cur model.JobRecord) model.JobRecord { cur.RegionCount = len(regions); return cur }); err != nil {
		return &queue.TransientError{Err: fmt.Errorf("record region count for job %s: %w", req.JobID, err)}
	}

	for i, bounds := range regions {
		regionReq := w.buildRegionRequest(req, primaryURL, i, bounds)
		if i == 0 {
			source := w.TileCodec(meta, sensorModel)
			if err := w.Region.Process(ctx, regionReq, source, sensorModel, workerID); err != nil {
				return &queue.TransientError{Err: fmt.Errorf("process region 0 of job %s: %w", req.JobID, err)}
			}
			continue
		}
		if err := w.Queue.EnqueueRegion(ctx, regionReq); err != nil {
			return &queue.TransientError{Err: fmt.Errorf("enqueue region %d of job %s: %w", i, req.JobID, err)}
		}
	}

	return nil
}

// createJob performs spec §4.G step 2 by conditionally creating the
// JobRecord directly in IN_PROGRESS. Returns (false, nil) if a
// JobRecord for this JobID already exists, terminal or not — the
// idempotent duplicate-message no-op.
func (w *Workflow) createJob(ctx context.Context, req *model.ImageRequest) (bool, error) {
	err := w.Ledger.CreateJobIfAbsent(ctx, model.JobRecord{
		JobID:     req.JobID,
		Status:    model.JobStatusInProgress,
		StartTime: w.Now(),
		Request:   *req,
	})
	if err == nil {
		return true, nil
	}
	if err != ledger.ErrAlreadyExists {
		return false, err
	}

	existing, getErr := w.Ledger.GetJob(ctx, req.JobID)
	if getErr != nil {
		return false, fmt.Errorf("inspect existing job: %w", getErr)
	}
	if existing.Status.IsTerminal() {
		return false, nil
	}
	// Non-terminal and already created: another worker owns this
	// image's in-progress work; nothing further to do here.
	return false, nil
}

func (w *Workflow) buildRegionRequest(req *model.ImageRequest, imageURL string, index int, bounds model.PixelRect) model.RegionRequest {
	return model.RegionRequest{
		JobID:           req.JobID,
		RegionID:        fmt.Sprintf("region-%d", index),
		ImageURL:        imageURL,
		Bounds:          bounds,
		TileSize:        req.TileSize,
		TileOverlap:     req.TileOverlap,
		TileFormat:      req.TileFormat,
		TileCompression: req.TileCompression,
		ImageProcessor:  req.ImageProcessor,
		Outputs:         req.Outputs,
		Distillation:    req.Distillation,
	}
}

// failValidation marks the job FAILED for a bad request (spec §4.G's
// "failure during steps 1-4" clause, Open Question 2's validation
// branch) and returns nil so the coordinator acks the message.
func (w *Workflow) failValidation(ctx context.Context, req *model.ImageRequest, logger *slog.Logger, cause error) error {
	logger.Error("image request failed validation", "error", cause)
	w.markFailed(ctx, req, cause)
	return nil
}

// failOpen marks the job FAILED for a decode error. Process returns
// Open errors that are a queue.TransientError for redelivery instead
// of calling this; every other Open error is treated as permanent, per
// Open Question 2's decision recorded in DESIGN.md. decoder.Raster
// wraps none of its errors as transient, so its read failures end up
// here too.
func (w *Workflow) failOpen(ctx context.Context, req *model.ImageRequest, logger *slog.Logger, cause error) error {
	w.markFailed(ctx, req, cause)
	return nil
}

// markFailed writes a terminal FAILED JobRecord for req, whether or
// not step 2 already created one: validation failures (step 1) happen
// before any record exists, while decode failures (step 3) happen
// after.
func (w *Workflow) markFailed(ctx context.Context, req *model.ImageRequest, cause error) {
	now := w.Now()
	err := w.Ledger.CreateJobIfAbsent(ctx, model.JobRecord{
		JobID:     req.JobID,
		Status:    model.JobStatusFailed,
		StartTime: now,
		EndTime:   now,
		Request:   *req,
	})
	if err == nil {
		return
	}
	if err != ledger.ErrAlreadyExists {
		w.Logger.Error("failed marking job FAILED", "job_id", req.JobID, "cause", cause, "error", err)
		return
	}

	if _, err := w.Ledger.UpdateJobIf(ctx, req.JobID,
		func(cur model.JobRecord) bool { return !cur.Status.IsTerminal() },
		func(cur model.JobRecord) model.JobRecord {
			cur.Status = model.JobStatusFailed
			cur.EndTime = now
			return cur
		}); err != nil && err != ledger.ErrPredicateFailed {
		w.Logger.Error("failed marking job FAILED", "job_id", req.JobID, "cause", cause, "error", err)
	}
}

// PlanRegions partitions a width x height image into row-major
// rectangles of side at most regionSize, per spec §4.G step 4. Edge
// regions are clipped, mirroring the tile producer's own edge-clipping
// rule (§4.B).
func PlanRegions(width, height, regionSize int) []model.PixelRect {
	if regionSize <= 0 {
		regionSize = DefaultRegionSize
	}
	var regions []model.PixelRect
	for y := 0; y < height; y += regionSize {
		h := regionSize
		if y+h > height {
			h = height - y
		}
		for x := 0; x < width; x += regionSize {
			w := regionSize
			if x+w > width {
				w = width - x
			}
			regions = append(regions, model.PixelRect{ULx: x, ULy: y, Width: w, Height: h})
		}
	}
	return regions
}
