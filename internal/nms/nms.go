// Package nms implements the non-maximal-suppression engine from spec
// §4.D: deduplicating detections that straddle tile boundaries by
// grouping on dominant class and suppressing (NMS) or decaying
// (Soft-NMS) overlapping lower-score candidates.
package nms

import (
	"math"
	"sort"

	"github.com/paulmach/orb"

	"github.com/mumuon/geovision-runner/internal/model"
)

// Options tunes the thresholds spec §4.D gives defaults for; Open
// Question 1 decided to keep those defaults but make them
// configurable rather than hard-coded.
type Options struct {
	// IoUThreshold is the NMS suppression cutoff (default 0.5).
	IoUThreshold float64
	// Sigma is the Soft-NMS decay bandwidth (default 0.5).
	Sigma float64
	// ScoreFloor drops Soft-NMS candidates whose decayed score falls
	// below this value (default 0.001).
	ScoreFloor float64
}

// DefaultOptions returns spec §4.D's literal defaults.
func DefaultOptions() Options {
	return Options{IoUThreshold: 0.5, Sigma: 0.5, ScoreFloor: 0.001}
}

// indexed pairs a feature with its original insertion position, the
// last tie-break spec §4.D names ("arbitrary but deterministic by
// feature-insertion order").
type indexed struct {
	feature *model.Feature
	index   int
	score   float64
	raw     float64
}

// Run applies mode to features and returns the deduplicated set. NONE
// returns the input unchanged; NMS drops suppressed candidates;
// SOFT-NMS decays overlapping scores and drops any that fall below
// opts.ScoreFloor, preserving the original score as RawScore.
func Run(mode model.DistillationMode, features []*model.Feature, opts Options) []*model.Feature {
	if mode == model.DistillationNone || mode == "" {
		return features
	}

	groups := groupByDominantClass(features)

	var result []*model.Feature
	classNames := make([]string, 0, len(groups))
	for class := range groups {
		classNames = append(classNames, class)
	}
	sort.Strings(classNames) // deterministic processing order across classes

	for _, class := range classNames {
		switch mode {
		case model.DistillationNMS:
			result = append(result, runNMS(groups[class], opts)...)
		case model.DistillationSoftNMS:
			result = append(result, runSoftNMS(groups[class], opts)...)
		default:
			result = append(result, toFeatures(groups[class])...)
		}
	}
	return result
}

func groupByDominantClass(features []*model.Feature) map[string][]indexed {
	groups := make(map[string][]indexed)
	for i, f := range features {
		dc := f.DominantClass()
		groups[dc.IRI] = append(groups[dc.IRI], indexed{feature: f, index: i, score: dc.Score, raw: dc.Score})
	}
	return groups
}

func toFeatures(items []indexed) []*model.Feature {
	out := make([]*model.Feature, len(items))
	for i, it := range items {
		out[i] = it.feature
	}
	return out
}

// sortDescending orders by score descending, then by the tie-break
// spec §4.D names: lower imageBBox min-x, then min-y, then insertion
// order.
func sortDescending(items []indexed) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		bi, bj := bboxOf(items[i].feature), bboxOf(items[j].feature)
		if bi.Min[0] != bj.Min[0] {
			return bi.Min[0] < bj.Min[0]
		}
		if bi.Min[1] != bj.Min[1] {
			return bi.Min[1] < bj.Min[1]
		}
		return items[i].index < items[j].index
	})
}

func runNMS(items []indexed, opts Options) []*model.Feature {
	sortDescending(items)

	kept := make([]indexed, 0, len(items))
	suppressed := make([]bool, len(items))
	for i := range items {
		if suppressed[i] {
			continue
		}
		kept = append(kept, items[i])
		for j := i + 1; j < len(items); j++ {
			if suppressed[j] {
				continue
			}
			if iou(bboxOf(items[i].feature), bboxOf(items[j].feature)) > opts.IoUThreshold {
				suppressed[j] = true
			}
		}
	}
	return toFeatures(kept)
}

func runSoftNMS(items []indexed, opts Options) []*model.Feature {
	sortDescending(items)
	remaining := append([]indexed{}, items...)

	var kept []indexed
	for len(remaining) > 0 {
		sortDescending(remaining)
		top := remaining[0]
		kept = append(kept, top)
		rest := remaining[1:]

		var survivors []indexed
		for _, cand := range rest {
			overlap := iou(bboxOf(top.feature), bboxOf(cand.feature))
			decayed := cand.score * math.Exp(-(overlap*overlap)/opts.Sigma)
			cand.score = decayed
			if decayed >= opts.ScoreFloor {
				survivors = append(survivors, cand)
			}
		}
		remaining = survivors
	}

	out := make([]*model.Feature, 0, len(kept))
	for _, it := range kept {
		f := it.feature
		if it.raw != it.score {
			applyDecay(f, it.raw, it.score)
		}
		out = append(out, f)
	}
	return out
}

// applyDecay rewrites f's dominant-class entry with the decayed score
// and stashes the original under RawScore, per spec §4.D/§8's
// "rawScore fields equal the input's original score" invariant.
func applyDecay(f *model.Feature, raw, decayed float64) {
	for i, c := range f.Properties.FeatureClasses {
		if c.Score == raw {
			r := raw
			f.Properties.FeatureClasses[i].Score = decayed
			f.Properties.FeatureClasses[i].RawScore = &r
			return
		}
	}
}

// bboxOf returns the feature's imageBBox, computing it from
// imageGeometry's axis-aligned bounds if absent, per spec §4.D.
func bboxOf(f *model.Feature) orb.Bound {
	if f.Properties.ImageBBox != nil {
		return *f.Properties.ImageBBox
	}
	if f.Properties.ImageGeometry != nil {
		return f.Properties.ImageGeometry.Bound()
	}
	return orb.Bound{}
}

// iou computes intersection-over-union of two axis-aligned rectangles.
func iou(a, b orb.Bound) float64 {
	ix0 := math.Max(a.Min[0], b.Min[0])
	iy0 := math.Max(a.Min[1], b.Min[1])
	ix1 := math.Min(a.Max[0], b.Max[0])
	iy1 := math.Min(a.Max[1], b.Max[1])

	iw := math.Max(0, ix1-ix0)
	ih := math.Max(0, iy1-iy0)
	intersection := iw * ih
	if intersection == 0 {
		// Degenerate (zero-width/height) bounds, e.g. Point geometry,
		// never produce a positive intersection area under the
		// standard formula. Two boxes occupying the exact same
		// location are still a complete match, not a non-overlap.
		if a.Min == b.Min && a.Max == b.Max {
			return 1
		}
		return 0
	}

	areaA := (a.Max[0] - a.Min[0]) * (a.Max[1] - a.Min[1])
	areaB := (b.Max[0] - b.Min[0]) * (b.Max[1] - b.Min[1])
	union := areaA + areaB - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}
