// Package sink implements the output destinations named in spec §6:
// an object-store sink writing one GeoJSON FeatureCollection document
// per job, and a streaming-bus sink writing batches of Features.
package sink

import (
	"context"

	"github.com/mumuon/geovision-runner/internal/model"
)

// Sink is the narrow contract the region/image workflows write
// completed features to. Each OutputSink entry in an ImageRequest
// resolves to one concrete Sink via the Registry.
type Sink interface {
	// WriteJobDocument writes the full set of features for a
	// completed job as one document (object-store sink semantics).
	WriteJobDocument(ctx context.Context, jobID string, features []*model.Feature) error
	// WriteFeatureBatch streams a batch of features as they become
	// available, independent of job completion (streaming-bus sink
	// semantics).
	WriteFeatureBatch(ctx context.Context, jobID string, features []*model.Feature) error
}

// Registry resolves an OutputSink descriptor to a concrete Sink.
type Registry struct {
	s3      *S3Sink
	kinesis *KinesisSink
}

// NewRegistry wires the two concrete sinks this system supports.
// Either may be nil if that sink type is not configured for this
// deployment.
func NewRegistry(s3Sink *S3Sink, kinesisSink *KinesisSink) *Registry {
	return &Registry{s3: s3Sink, kinesis: kinesisSink}
}

// Resolve returns the concrete Sink for one OutputSink descriptor.
func (r *Registry) Resolve(out model.OutputSink) (Sink, bool) {
	switch out.Type {
	case model.SinkTypeS3:
		if r.s3 == nil {
			return nil, false
		}
		return r.s3, true
	case model.SinkTypeKinesis:
		if r.kinesis == nil {
			return nil, false
		}
		return r.kinesis, true
	default:
		return nil, false
	}
}

// WriteRegionBatch streams one region's just-completed features to
// every streaming-bus output sink immediately, independent of job
// completion (spec §6 "streamed to bus sink as batches of Features").
// Object-store outputs are skipped here: spec §6 writes those as one
// document per job, not one per region, so they are written once at
// job finalization via WriteJobDocument instead.
func WriteRegionBatch(ctx context.Context, registry *Registry, jobID string, outputs []model.OutputSink, features []*model.Feature) error {
	for _, out := range outputs {
		if out.Type != model.SinkTypeKinesis {
			continue
		}
		s, ok := registry.Resolve(out)
		if !ok {
			continue
		}
		if err := s.WriteFeatureBatch(ctx, jobID, features); err != nil {
			return err
		}
	}
	return nil
}

// WriteJobDocument writes a job's complete, accumulated feature set
// to every object-store output sink, once, at job finalization (spec
// §6 "one GeoJSON document per job", §4.F step 6 "final sink
// flushes").
func WriteJobDocument(ctx context.Context, registry *Registry, jobID string, outputs []model.OutputSink, features []*model.Feature) error {
	for _, out := range outputs {
		if out.Type != model.SinkTypeS3 {
			continue
		}
		s, ok := registry.Resolve(out)
		if !ok {
			continue
		}
		if err := s.WriteJobDocument(ctx, jobID, features); err != nil {
			return err
		}
	}
	return nil
}
