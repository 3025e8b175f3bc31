package model

import (
	"testing"

	"github.com/paulmach/orb"
)

func TestFeatureCollectionRoundTrip(t *testing.T) {
	bbox := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}
	f := &Feature{
		ID:       "feat-1",
		Geometry: orb.Point{5, 5},
		BBox:     &bbox,
		Properties: FeatureProperties{
			ImageGeometry:  orb.Point{100, 200},
			FeatureClasses: []FeatureClass{{IRI: "ship", Score: 0.9}},
		},
	}

	data, err := FeatureCollectionJSON([]*Feature{f})
	if err != nil {
		t.Fatalf("FeatureCollectionJSON: %v", err)
	}

	features, err := FeaturesFromGeoJSON(data)
	if err != nil {
		t.Fatalf("FeaturesFromGeoJSON: %v", err)
	}
	if len(features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(features))
	}
	got := features[0]
	if len(got.Properties.FeatureClasses) != 1 || got.Properties.FeatureClasses[0].IRI != "ship" {
		t.Errorf("featureClasses not round-tripped: %+v", got.Properties.FeatureClasses)
	}
	if got.Properties.ImageBBox == nil {
		t.Fatal("expected imageBBox derived from imageGeometry bounds")
	}
}

func TestFeatureFromGeoJSONMigratesDeprecatedFields(t *testing.T) {
	body := []byte(`{
		"type": "FeatureCollection",
		"features": [{
			"type": "Feature",
			"geometry": {"type": "Point", "coordinates": [1, 2]},
			"properties": {
				"feature_types": [{"iri": "truck", "score": 0.7}],
				"bounds_imcoords": [0, 0, 5, 5]
			}
		}]
	}`)

	features, err := FeaturesFromGeoJSON(body)
	if err != nil {
		t.Fatalf("FeaturesFromGeoJSON: %v", err)
	}
	if len(features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(features))
	}
	f := features[0]
	if len(f.Properties.FeatureClasses) != 1 || f.Properties.FeatureClasses[0].IRI != "truck" {
		t.Errorf("expected feature_types migrated to featureClasses, got %+v", f.Properties.FeatureClasses)
	}
	if f.Properties.ImageBBox == nil || f.Properties.ImageBBox.Max[0] != 5 {
		t.Errorf("expected bounds_imcoords migrated to imageBBox, got %+v", f.Properties.ImageBBox)
	}
}
