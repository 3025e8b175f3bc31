package model

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// deprecated property keys the endpoint contract still accepts and
// silently migrates (spec §4.C step 4, §6).
const (
	legacyBoundsKey  = "bounds_imcoords"
	legacyClassesKey = "feature_types"
)

// ToGeoJSONFeature renders f as an *geojson.Feature, ready to append
// to a geojson.FeatureCollection for a sink document or an endpoint
// request body.
func (f *Feature) ToGeoJSONFeature() *geojson.Feature {
	var geom orb.Geometry = f.Geometry
	if geom == nil {
		geom = orb.Point{}
	}
	gf := geojson.NewFeature(geom)
	if f.ID != "" {
		gf.ID = f.ID
	}
	if f.BBox != nil {
		gf.BBox = geojson.NewBBox(*f.BBox)
	}

	props := map[string]interface{}{
		"featureClasses":    f.Properties.FeatureClasses,
		"inferenceMetadata": f.Properties.InferenceMetadata,
	}
	if len(f.Properties.SourceMetadata) > 0 {
		props["sourceMetadata"] = f.Properties.SourceMetadata
	}
	if f.Properties.ImageGeometry != nil {
		props["imageGeometry"] = geojson.NewGeometry(f.Properties.ImageGeometry)
	}
	if f.Properties.ImageBBox != nil {
		props["imageBBox"] = boundToArray(*f.Properties.ImageBBox)
	}
	gf.Properties = props
	return gf
}

// FeatureCollectionJSON marshals a slice of Features as a GeoJSON
// FeatureCollection document, the format the object-store sink writes
// one of per job.
func FeatureCollectionJSON(features []*Feature) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		fc.Append(f.ToGeoJSONFeature())
	}
	return fc.MarshalJSON()
}

// FeatureFromGeoJSON parses one endpoint-response GeoJSON Feature into
// the fixed schema, migrating deprecated property names per spec
// §4.C step 4 and §6.
func FeatureFromGeoJSON(gf *geojson.Feature) (*Feature, error) {
	f := &Feature{
		Geometry: gf.Geometry,
	}
	if gf.ID != nil {
		f.ID = fmt.Sprint(gf.ID)
	}
	if len(gf.BBox) > 0 {
		b := gf.BBox.Bound()
		f.BBox = &b
	}

	raw, err := json.Marshal(gf.Properties)
	if err != nil {
		return nil, fmt.Errorf("marshal properties for re-decode: %w", err)
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}

	if classesRaw, ok := firstPresent(generic, "featureClasses", legacyClassesKey); ok {
		if err := json.Unmarshal(classesRaw, &f.Properties.FeatureClasses); err != nil {
			return nil, fmt.Errorf("decode featureClasses: %w", err)
		}
	}
	if metaRaw, ok := generic["sourceMetadata"]; ok {
		if err := json.Unmarshal(metaRaw, &f.Properties.SourceMetadata); err != nil {
			return nil, fmt.Errorf("decode sourceMetadata: %w", err)
		}
	}
	if infRaw, ok := generic["inferenceMetadata"]; ok {
		if err := json.Unmarshal(infRaw, &f.Properties.InferenceMetadata); err != nil {
			return nil, fmt.Errorf("decode inferenceMetadata: %w", err)
		}
	}
	if geomRaw, ok := generic["imageGeometry"]; ok {
		g, err := geojson.UnmarshalGeometry(geomRaw)
		if err != nil {
			return nil, fmt.Errorf("decode imageGeometry: %w", err)
		}
		f.Properties.ImageGeometry = g.Geometry()
	}
	if bboxRaw, ok := firstPresent(generic, "imageBBox", legacyBoundsKey); ok {
		var coords [4]float64
		if err := json.Unmarshal(bboxRaw, &coords); err != nil {
			return nil, fmt.Errorf("decode imageBBox: %w", err)
		}
		b := orb.Bound{Min: orb.Point{coords[0], coords[1]}, Max: orb.Point{coords[2], coords[3]}}
		f.Properties.ImageBBox = &b
	}

	// Open Question 3: a missing imageBBox is derivable from
	// imageGeometry's bounds; leave absent otherwise.
	if f.Properties.ImageBBox == nil && f.Properties.ImageGeometry != nil {
		b := f.Properties.ImageGeometry.Bound()
		f.Properties.ImageBBox = &b
	}

	return f, nil
}

// FeaturesFromGeoJSON parses an endpoint response body's GeoJSON
// FeatureCollection into the fixed Feature schema.
func FeaturesFromGeoJSON(body []byte) ([]*Feature, error) {
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("unmarshal feature collection: %w", err)
	}
	out := make([]*Feature, 0, len(fc.Features))
	for _, gf := range fc.Features {
		f, err := FeatureFromGeoJSON(gf)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func firstPresent(m map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func boundToArray(b orb.Bound) [4]float64 {
	return [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
}
