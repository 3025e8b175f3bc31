package sensormodel

import (
	"testing"

	"github.com/paulmach/orb"
)

func TestAffinePixelToWorld(t *testing.T) {
	a := Affine{OriginLon: -100, OriginLat: 40, PixelWidth: 0.001, PixelHeight: -0.001}
	lon, lat, err := a.PixelToWorld(10, 10)
	if err != nil {
		t.Fatalf("PixelToWorld: %v", err)
	}
	if lon != -99.99 || lat != 39.99 {
		t.Errorf("PixelToWorld(10,10) = (%v, %v), want (-99.99, 39.99)", lon, lat)
	}
}

func TestDegenerateAlwaysErrors(t *testing.T) {
	var d Degenerate
	if _, _, err := d.PixelToWorld(0, 0); err == nil {
		t.Fatal("expected Degenerate.PixelToWorld to always error")
	}
}

func TestLiftGeometryPoint(t *testing.T) {
	a := Affine{OriginLon: 0, OriginLat: 0, PixelWidth: 1, PixelHeight: 1}
	got, err := LiftGeometry(a, orb.Point{5, 5})
	if err != nil {
		t.Fatalf("LiftGeometry: %v", err)
	}
	p, ok := got.(orb.Point)
	if !ok || p != (orb.Point{5, 5}) {
		t.Errorf("LiftGeometry(Point) = %v, want {5 5}", got)
	}
}

func TestLiftGeometryPolygon(t *testing.T) {
	a := Affine{PixelWidth: 2, PixelHeight: 2}
	poly := orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}
	got, err := LiftGeometry(a, poly)
	if err != nil {
		t.Fatalf("LiftGeometry: %v", err)
	}
	lifted, ok := got.(orb.Polygon)
	if !ok || len(lifted[0]) != 4 {
		t.Fatalf("LiftGeometry(Polygon) = %v", got)
	}
	if lifted[0][1] != (orb.Point{2, 0}) {
		t.Errorf("lifted[0][1] = %v, want {2 0}", lifted[0][1])
	}
}

func TestLiftGeometryPropagatesError(t *testing.T) {
	_, err := LiftGeometry(Degenerate{}, orb.Point{1, 1})
	if err == nil {
		t.Fatal("expected error to propagate from Degenerate model")
	}
}

func TestLiftGeometryNil(t *testing.T) {
	got, err := LiftGeometry(Degenerate{}, nil)
	if err != nil || got != nil {
		t.Errorf("LiftGeometry(nil) = (%v, %v), want (nil, nil)", got, err)
	}
}
