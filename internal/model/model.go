// Package model holds the wire and ledger data types shared by every
// workflow: requests dequeued from the work queue, tile descriptors,
// lifted detections, and the job/region ledger records.
package model

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// TileFormat is the pixel encoding requested for tiles dispatched to
// the inference endpoint.
type TileFormat string

const (
	TileFormatNITF  TileFormat = "NITF"
	TileFormatJPEG  TileFormat = "JPEG"
	TileFormatPNG   TileFormat = "PNG"
	TileFormatGTIFF TileFormat = "GTIFF"
)

// TileCompression is the compression applied within a TileFormat.
type TileCompression string

const (
	CompressionNone TileCompression = "NONE"
	CompressionJPEG TileCompression = "JPEG"
	CompressionJ2K  TileCompression = "J2K"
	CompressionLZW  TileCompression = "LZW"
)

// validFormatCompression is the table from the external interfaces
// section: any pair not listed here is rejected at validation.
var validFormatCompression = map[TileFormat]map[TileCompression]bool{
	TileFormatNITF:  {CompressionNone: true, CompressionJPEG: true, CompressionJ2K: true},
	TileFormatGTIFF: {CompressionNone: true, CompressionJPEG: true, CompressionLZW: true},
	TileFormatPNG:   {CompressionNone: true},
	TileFormatJPEG:  {CompressionNone: true},
}

// ValidFormatCompression reports whether the given format/compression
// pair is one of the eight accepted combinations.
func ValidFormatCompression(format TileFormat, compression TileCompression) bool {
	compressions, ok := validFormatCompression[format]
	if !ok {
		return false
	}
	return compressions[compression]
}

// DistillationMode selects which cross-tile dedup strategy the region
// workflow runs after aggregating a region's features.
type DistillationMode string

const (
	DistillationNone     DistillationMode = "NONE"
	DistillationNMS      DistillationMode = "NMS"
	DistillationSoftNMS  DistillationMode = "SOFT-NMS"
)

// OutputSinkType names a destination a job's features are written to.
type OutputSinkType string

const (
	SinkTypeS3      OutputSinkType = "S3"
	SinkTypeKinesis OutputSinkType = "Kinesis"
)

// OutputSink describes one destination from the ImageRequest's
// outputs[] list. Target is sink-specific: bucket/key for S3,
// stream name for Kinesis.
type OutputSink struct {
	Type   OutputSinkType `json:"type"`
	Target string         `json:"target"`
}

// ModelEndpoint identifies the remote inference endpoint a tile is
// dispatched to.
type ModelEndpoint struct {
	Name string `json:"name"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

// ImageRequest is the immutable request dequeued from the image
// queue. It is the root of a job: exactly one JobRecord is created
// per ImageRequest.JobID.
type ImageRequest struct {
	JobName          string           `json:"jobName"`
	JobID            string           `json:"jobId"`
	ImageURLs        []string         `json:"imageUrls"`
	Outputs          []OutputSink     `json:"outputs"`
	ImageProcessor   ModelEndpoint    `json:"imageProcessor"`
	TileSize         int              `json:"imageProcessorTileSize"`
	TileOverlap      int              `json:"imageProcessorTileOverlap"`
	TileFormat       TileFormat       `json:"imageProcessorTileFormat"`
	TileCompression  TileCompression  `json:"imageProcessorTileCompression"`
	RegionSize       int              `json:"regionSize,omitempty"`
	Distillation     DistillationMode `json:"featureDistillation,omitempty"`
}

// PrimaryImageURL returns the first image URI, which spec §3 names
// the primary image for a multi-URL request.
func (r *ImageRequest) PrimaryImageURL() (string, error) {
	if len(r.ImageURLs) == 0 {
		return "", fmt.Errorf("image request %s: no image urls", r.JobID)
	}
	return r.ImageURLs[0], nil
}

// Validate checks the fields spec §4.G step 1 and §6 require before a
// job is created: required fields present, tile parameters within
// bounds, and a known format/compression combination.
func (r *ImageRequest) Validate() error {
	if r.JobID == "" {
		return fmt.Errorf("missing jobId")
	}
	if len(r.ImageURLs) == 0 {
		return fmt.Errorf("job %s: missing imageUrls", r.JobID)
	}
	if r.TileSize <= 0 || r.TileSize > 16384 {
		return fmt.Errorf("job %s: tile size %d out of range (1..16384)", r.JobID, r.TileSize)
	}
	if r.TileOverlap < 0 || r.TileOverlap >= r.TileSize {
		return fmt.Errorf("job %s: tile overlap %d must be >= 0 and < tile size %d", r.JobID, r.TileOverlap, r.TileSize)
	}
	if !ValidFormatCompression(r.TileFormat, r.TileCompression) {
		return fmt.Errorf("job %s: invalid format/compression combination %s/%s", r.JobID, r.TileFormat, r.TileCompression)
	}
	switch r.Distillation {
	case "", DistillationNone, DistillationNMS, DistillationSoftNMS:
	default:
		return fmt.Errorf("job %s: unknown feature distillation mode %q", r.JobID, r.Distillation)
	}
	return nil
}

// PixelRect is an axis-aligned rectangle in full-image pixel space,
// origin at the upper-left corner.
type PixelRect struct {
	ULx, ULy      int
	Width, Height int
}

// RegionRequest is the self-contained unit of work any worker can
// pick up and process independently of the worker that created it.
type RegionRequest struct {
	JobID           string          `json:"jobId"`
	RegionID        string          `json:"regionId"`
	ImageURL        string          `json:"imageUrl"`
	Bounds          PixelRect       `json:"bounds"`
	TileSize        int             `json:"tileSize"`
	TileOverlap     int             `json:"tileOverlap"`
	TileFormat      TileFormat      `json:"tileFormat"`
	TileCompression TileCompression `json:"tileCompression"`
	ImageProcessor  ModelEndpoint   `json:"imageProcessor"`
	Outputs         []OutputSink    `json:"outputs"`
	Distillation    DistillationMode `json:"featureDistillation"`
}

// TileDescriptor names one sub-rectangle of a region to be sent as a
// single inference request. Width/Height may be smaller than the
// nominal tile size at region edges.
type TileDescriptor struct {
	ULx, ULy      int
	Width, Height int
	Format        TileFormat
	Compression   TileCompression
}

// Rect returns the tile's full-image pixel rectangle.
func (t TileDescriptor) Rect() PixelRect {
	return PixelRect{ULx: t.ULx, ULy: t.ULy, Width: t.Width, Height: t.Height}
}

// FeatureClass is one scored class label attached to a detection.
type FeatureClass struct {
	IRI      string   `json:"iri"`
	Score    float64  `json:"score"`
	RawScore *float64 `json:"rawScore,omitempty"`
}

// SourceMetadata records provenance of the source image a detection
// was found in.
type SourceMetadata struct {
	ImageURI   string    `json:"imageUri"`
	Format     string    `json:"format,omitempty"`
	Category   string    `json:"category,omitempty"`
	SourceID   string    `json:"sourceId,omitempty"`
	SourceTime time.Time `json:"sourceTime,omitempty"`
}

// InferenceMetadata records provenance of the inference run that
// produced a detection.
type InferenceMetadata struct {
	JobID     string    `json:"jobId"`
	Timestamp time.Time `json:"timestamp"`
	LiftError string    `json:"liftError,omitempty"`
}

// FeatureProperties is the fixed property schema spec §3 names for a
// Feature, replacing the source system's duck-typed blob.
type FeatureProperties struct {
	ImageGeometry     orb.Geometry       `json:"-"`
	ImageBBox         *orb.Bound         `json:"-"`
	FeatureClasses    []FeatureClass     `json:"featureClasses"`
	SourceMetadata    []SourceMetadata   `json:"sourceMetadata,omitempty"`
	InferenceMetadata InferenceMetadata  `json:"inferenceMetadata"`
}

// Feature is one detection, geometry and bbox in world coordinates
// once lifted, plus its pixel coordinates carried in Properties
// (tile-frame as the endpoint returns them, full-image frame once
// lifted).
type Feature struct {
	ID         string
	Geometry   orb.Geometry
	BBox       *orb.Bound
	Properties FeatureProperties
}

// DominantClass returns the highest-scoring FeatureClass, the class
// the NMS engine groups by. Returns the zero value if there are none.
func (f *Feature) DominantClass() FeatureClass {
	var best FeatureClass
	first := true
	for _, c := range f.Properties.FeatureClasses {
		if first || c.Score > best.Score {
			best = c
			first = false
		}
	}
	return best
}

// JobStatus is the terminal/non-terminal state of an ImageRequest's
// JobRecord. Transitions form a DAG with no regressions:
// NEW -> IN_PROGRESS -> {SUCCESS, PARTIAL, FAILED}.
type JobStatus string

const (
	JobStatusNew        JobStatus = "NEW"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusSuccess    JobStatus = "SUCCESS"
	JobStatusPartial    JobStatus = "PARTIAL"
	JobStatusFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether status is one of the job-ending states.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusPartial, JobStatusFailed:
		return true
	default:
		return false
	}
}

// JobRecord is the ledger's per-image job row, keyed by JobID.
// Features accumulates every completed region's distilled feature set
// as each region finishes (spec §4.F step 5 "append resulting
// features to the job's output"), so the worker that performs the
// terminal transition can flush the complete set as the one GeoJSON
// document spec §6 names, rather than each region overwriting it.
type JobRecord struct {
	JobID         string
	Status        JobStatus
	RegionCount   int
	RegionSuccess int
	RegionError   int
	StartTime     time.Time
	EndTime       time.Time
	Request       ImageRequest
	Features      []*Feature
	Version       int64 // optimistic-concurrency token for UpdateIf predicates
}

// RegionStatus is the state of one RegionRecord.
type RegionStatus string

const (
	RegionStatusClaimed RegionStatus = "CLAIMED"
	RegionStatusDone    RegionStatus = "DONE"
	RegionStatusError   RegionStatus = "ERROR"
)

// RegionRecord is the ledger's per-region row, keyed by (JobID,
// RegionID). Created by conditional-put to prevent double processing.
type RegionRecord struct {
	JobID        string
	RegionID     string
	Status       RegionStatus
	WorkerID     string
	AttemptCount int
	FeatureCount int
	Version      int64
}
