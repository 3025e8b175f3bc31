// Package lift implements the feature lifter (spec §4.C): translating
// a tile-frame detection into full-image pixel space and then into
// geographic coordinates via a sensor model, attaching provenance.
//
// This generalizes the type-switch-over-orb-geometry-kinds pattern
// the teacher uses to decode tile-local MVT coordinates into lat/lng,
// narrowed to the four geometry kinds spec §9 names.
package lift

import (
	"time"

	"github.com/paulmach/orb"

	"github.com/mumuon/geovision-runner/internal/model"
	"github.com/mumuon/geovision-runner/internal/sensormodel"
)

// Lifter turns tile-frame features into job-level features.
type Lifter struct {
	JobID      string
	ImageURI   string
	SourceMeta []model.SourceMetadata
	Now        func() time.Time
}

// New returns a Lifter for one job/image, sharing SourceMeta and a
// clock across every tile it lifts.
func New(jobID, imageURI string, sourceMeta []model.SourceMetadata) *Lifter {
	return &Lifter{JobID: jobID, ImageURI: imageURI, SourceMeta: sourceMeta, Now: time.Now}
}

// Lift translates f (in tile-local pixel coordinates, origin at the
// tile's own upper-left) into full-image pixel space by (+ulx, +uly),
// then into world coordinates via m, and stamps provenance. A failed
// world lift is non-fatal: the feature is returned with nil geometry
// and an error tag, per spec §4.C's error policy and §4.A's contract.
func (l *Lifter) Lift(m sensormodel.Model, ulx, uly int, f *model.Feature) *model.Feature {
	out := &model.Feature{
		ID: f.ID,
		Properties: model.FeatureProperties{
			FeatureClasses: f.Properties.FeatureClasses,
			SourceMetadata: append(append([]model.SourceMetadata{}, f.Properties.SourceMetadata...), l.SourceMeta...),
			InferenceMetadata: model.InferenceMetadata{
				JobID:     l.JobID,
				Timestamp: l.now(),
			},
		},
	}

	fullImageGeom := translateGeometry(f.Properties.ImageGeometry, ulx, uly)
	out.Properties.ImageGeometry = fullImageGeom

	fullImageBBox := f.Properties.ImageBBox
	if fullImageBBox == nil && fullImageGeom != nil {
		b := fullImageGeom.Bound()
		fullImageBBox = &b
	} else if fullImageBBox != nil {
		translated := translateBound(*fullImageBBox, ulx, uly)
		fullImageBBox = &translated
	}
	out.Properties.ImageBBox = fullImageBBox

	if fullImageGeom != nil {
		worldGeom, err := sensormodel.LiftGeometry(m, fullImageGeom)
		if err != nil {
			out.Properties.InferenceMetadata.LiftError = err.Error()
		} else {
			out.Geometry = worldGeom
			if worldGeom != nil {
				b := worldGeom.Bound()
				out.BBox = &b
			}
		}
	}

	return out
}

func (l *Lifter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// translateGeometry shifts every coordinate of g by (+dx, +dy),
// supporting the same four kinds sensormodel.LiftGeometry does.
func translateGeometry(g orb.Geometry, dx, dy int) orb.Geometry {
	fx, fy := float64(dx), float64(dy)
	switch geom := g.(type) {
	case orb.Point:
		return orb.Point{geom[0] + fx, geom[1] + fy}
	case orb.LineString:
		out := make(orb.LineString, len(geom))
		for i, p := range geom {
			out[i] = orb.Point{p[0] + fx, p[1] + fy}
		}
		return out
	case orb.Polygon:
		return translatePolygon(geom, fx, fy)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(geom))
		for i, poly := range geom {
			out[i] = translatePolygon(poly, fx, fy)
		}
		return out
	default:
		return nil
	}
}

func translatePolygon(poly orb.Polygon, dx, dy float64) orb.Polygon {
	out := make(orb.Polygon, len(poly))
	for i, ring := range poly {
		r := make(orb.Ring, len(ring))
		for j, p := range ring {
			r[j] = orb.Point{p[0] + dx, p[1] + dy}
		}
		out[i] = r
	}
	return out
}

func translateBound(b orb.Bound, dx, dy int) orb.Bound {
	fx, fy := float64(dx), float64(dy)
	return orb.Bound{
		Min: orb.Point{b.Min[0] + fx, b.Min[1] + fy},
		Max: orb.Point{b.Max[0] + fx, b.Max[1] + fy},
	}
}
