package nms

import (
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mumuon/geovision-runner/internal/model"
)

func shipFeature(id string, minX, minY, maxX, maxY, score float64) *model.Feature {
	b := orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
	return &model.Feature{
		ID: id,
		Properties: model.FeatureProperties{
			ImageBBox:      &b,
			FeatureClasses: []model.FeatureClass{{IRI: "ship", Score: score}},
		},
	}
}

func TestRunNoneReturnsInputUnchanged(t *testing.T) {
	in := []*model.Feature{shipFeature("a", 0, 0, 10, 10, 0.9)}
	out := Run(model.DistillationNone, in, DefaultOptions())
	if len(out) != 1 || out[0] != in[0] {
		t.Fatalf("DistillationNone should pass through input unchanged")
	}
}

// End-to-end scenario 5: two overlapping tiles return a Point feature
// at the same full-image pixel with identical class/score; NMS drops
// the second (IoU=1.0).
func TestRunNMSDedupOverlappingFeature(t *testing.T) {
	in := []*model.Feature{
		shipFeature("a", 5000, 5000, 5010, 5010, 0.9),
		shipFeature("b", 5000, 5000, 5010, 5010, 0.9),
	}
	out := Run(model.DistillationNMS, in, DefaultOptions())
	if len(out) != 1 {
		t.Fatalf("expected 1 surviving feature, got %d", len(out))
	}
}

func TestRunNMSIsSubsetOfInput(t *testing.T) {
	in := []*model.Feature{
		shipFeature("a", 0, 0, 10, 10, 0.9),
		shipFeature("b", 100, 100, 110, 110, 0.8), // no overlap, survives
		shipFeature("c", 1, 1, 11, 11, 0.7),       // heavy overlap with a, suppressed
	}
	out := Run(model.DistillationNMS, in, DefaultOptions())
	if len(out) > len(in) {
		t.Fatalf("NMS output must be a subset of input by cardinality")
	}
	ids := map[string]bool{}
	for _, f := range out {
		ids[f.ID] = true
	}
	if !ids["a"] || !ids["b"] {
		t.Errorf("expected non-overlapping top-scoring features to survive, got %v", ids)
	}
	if ids["c"] {
		t.Errorf("expected heavily-overlapping lower-score feature to be suppressed")
	}
}

// End-to-end scenario 6: Soft-NMS decays instead of dropping; both
// features survive, with rawScore preserved on the decayed one.
func TestRunSoftNMSPreservesCardinalityAndRawScore(t *testing.T) {
	in := []*model.Feature{
		shipFeature("a", 5000, 5000, 5010, 5010, 0.9),
		shipFeature("b", 5000, 5000, 5010, 5010, 0.9),
	}
	out := Run(model.DistillationSoftNMS, in, DefaultOptions())
	if len(out) != 2 {
		t.Fatalf("Soft-NMS must preserve cardinality, got %d features", len(out))
	}

	var top, decayed *model.Feature
	for _, f := range out {
		if f.Properties.FeatureClasses[0].RawScore == nil {
			top = f
		} else {
			decayed = f
		}
	}
	if top == nil || decayed == nil {
		t.Fatalf("expected exactly one decayed and one untouched feature, got %+v", out)
	}
	if math.Abs(top.Properties.FeatureClasses[0].Score-0.9) > 1e-9 {
		t.Errorf("top feature score = %v, want ~0.9", top.Properties.FeatureClasses[0].Score)
	}
	wantDecayed := 0.9 * math.Exp(-1.0/0.5)
	if math.Abs(decayed.Properties.FeatureClasses[0].Score-wantDecayed) > 1e-6 {
		t.Errorf("decayed score = %v, want ~%v", decayed.Properties.FeatureClasses[0].Score, wantDecayed)
	}
	if *decayed.Properties.FeatureClasses[0].RawScore != 0.9 {
		t.Errorf("rawScore = %v, want 0.9", *decayed.Properties.FeatureClasses[0].RawScore)
	}
}

func TestIoUOfIdenticalBoxesIsOne(t *testing.T) {
	b := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}
	if got := iou(b, b); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("iou(identical) = %v, want 1.0", got)
	}
}

func TestIoUOfDisjointBoxesIsZero(t *testing.T) {
	a := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}
	b := orb.Bound{Min: orb.Point{100, 100}, Max: orb.Point{110, 110}}
	if got := iou(a, b); got != 0 {
		t.Errorf("iou(disjoint) = %v, want 0", got)
	}
}

func TestIoUOfDisjointDegenerateBoxesIsZero(t *testing.T) {
	a := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{0, 0}}
	b := orb.Bound{Min: orb.Point{10, 10}, Max: orb.Point{10, 10}}
	if got := iou(a, b); got != 0 {
		t.Errorf("iou(disjoint degenerate) = %v, want 0", got)
	}
}

func pointFeature(id string, x, y, score float64) *model.Feature {
	return &model.Feature{
		ID: id,
		Properties: model.FeatureProperties{
			ImageGeometry:  orb.Point{x, y},
			FeatureClasses: []model.FeatureClass{{IRI: "ship", Score: score}},
		},
	}
}

// End-to-end scenario 5 with literal Point geometry, the case spec §8
// actually names: two tiles return coincident Point detections at the
// same full-image pixel. Their bboxOf bounds are zero-area, so the
// standard intersection/union formula alone would report IoU=0; NMS
// must still treat the coincident points as a full match and drop one.
func TestRunNMSDedupCoincidentPoints(t *testing.T) {
	in := []*model.Feature{
		pointFeature("a", 5000, 5000, 0.9),
		pointFeature("b", 5000, 5000, 0.9),
	}
	out := Run(model.DistillationNMS, in, DefaultOptions())
	if len(out) != 1 {
		t.Fatalf("expected 1 surviving feature for coincident points, got %d", len(out))
	}
}

// End-to-end scenario 6 with literal Point geometry: Soft-NMS decays
// the lower-ranked coincident point by a factor of exp(-1/sigma) ≈
// 0.135 (0.9 down to ≈ 0.122) rather than leaving it undecayed.
func TestRunSoftNMSDecaysCoincidentPoints(t *testing.T) {
	in := []*model.Feature{
		pointFeature("a", 5000, 5000, 0.9),
		pointFeature("b", 5000, 5000, 0.9),
	}
	out := Run(model.DistillationSoftNMS, in, DefaultOptions())
	if len(out) != 2 {
		t.Fatalf("Soft-NMS must preserve cardinality, got %d features", len(out))
	}

	var decayed *model.Feature
	for _, f := range out {
		if f.Properties.FeatureClasses[0].RawScore != nil {
			decayed = f
		}
	}
	if decayed == nil {
		t.Fatalf("expected exactly one decayed coincident point, got %+v", out)
	}
	wantDecayed := 0.9 * math.Exp(-1.0/0.5)
	if math.Abs(decayed.Properties.FeatureClasses[0].Score-wantDecayed) > 1e-6 {
		t.Errorf("decayed score = %v, want ~%v (~0.122)", decayed.Properties.FeatureClasses[0].Score, wantDecayed)
	}
}
