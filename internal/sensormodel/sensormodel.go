// Package sensormodel adapts external photogrammetry/image metadata
// into the narrow pixel<->world contract the feature lifter needs.
// The real model library is an out-of-scope external collaborator
// (spec §1); this package defines its interface plus two
// implementations usable without one: a degenerate model for images
// with no usable geolocation, and an affine model for tests and for
// any decoder that only exposes a ground-control-point transform.
package sensormodel

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Model maps full-image pixel coordinates to geographic coordinates.
// Implementations must be safe for concurrent use: a SensorModel is
// constructed once per image and shared across every region/tile
// worker that processes it (spec §5, "sensor model is per-image
// immutable after construction").
type Model interface {
	// PixelToWorld converts one full-image pixel coordinate into
	// (lon, lat). Implementations that cannot place a geometry
	// geolocated return an error; callers treat that as a per-feature
	// lift failure, not a fatal one (spec §4.A).
	PixelToWorld(x, y float64) (lon, lat float64, err error)
}

// Degenerate is returned when the image has no usable geolocation
// metadata. Every PixelToWorld call fails, which the lifter turns
// into a null geometry with an error tag rather than aborting the
// region (spec §4.A).
type Degenerate struct{}

func (Degenerate) PixelToWorld(x, y float64) (float64, float64, error) {
	return 0, 0, fmt.Errorf("no sensor model available for this image")
}

// Affine implements a six-parameter affine transform:
//
//	lon = OriginLon + x*PixelWidth  + y*RotX
//	lat = OriginLat + x*RotY        + y*PixelHeight
//
// This is the common "world file" / GCP-derived transform shape and
// is sufficient for orthorectified imagery and for tests; it stands
// in for whatever the real photogrammetry collaborator would supply.
type Affine struct {
	OriginLon, OriginLat       float64
	PixelWidth, PixelHeight    float64
	RotX, RotY                 float64
}

func (a Affine) PixelToWorld(x, y float64) (float64, float64, error) {
	lon := a.OriginLon + x*a.PixelWidth + y*a.RotX
	lat := a.OriginLat + x*a.RotY + y*a.PixelHeight
	return lon, lat, nil
}

// LiftGeometry applies m to every coordinate of g, returning a new
// geometry of the same kind. Supports the four kinds spec §9 names:
// Point, LineString, Polygon, MultiPolygon.
func LiftGeometry(m Model, g orb.Geometry) (orb.Geometry, error) {
	switch geom := g.(type) {
	case orb.Point:
		return liftPoint(m, geom)
	case orb.LineString:
		return liftLineString(m, geom)
	case orb.Polygon:
		return liftPolygon(m, geom)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, 0, len(geom))
		for _, poly := range geom {
			lifted, err := liftPolygon(m, poly)
			if err != nil {
				return nil, err
			}
			out = append(out, lifted)
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported geometry kind %T", g)
	}
}

func liftPoint(m Model, p orb.Point) (orb.Point, error) {
	lon, lat, err := m.PixelToWorld(p[0], p[1])
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{lon, lat}, nil
}

func liftLineString(m Model, ls orb.LineString) (orb.LineString, error) {
	out := make(orb.LineString, len(ls))
	for i, p := range ls {
		lifted, err := liftPoint(m, p)
		if err != nil {
			return nil, err
		}
		out[i] = lifted
	}
	return out, nil
}

func liftRing(m Model, r orb.Ring) (orb.Ring, error) {
	out := make(orb.Ring, len(r))
	for i, p := range r {
		lifted, err := liftPoint(m, p)
		if err != nil {
			return nil, err
		}
		out[i] = lifted
	}
	return out, nil
}

func liftPolygon(m Model, poly orb.Polygon) (orb.Polygon, error) {
	out := make(orb.Polygon, 0, len(poly))
	for _, ring := range poly {
		lifted, err := liftRing(m, ring)
		if err != nil {
			return nil, err
		}
		out = append(out, lifted)
	}
	return out, nil
}
