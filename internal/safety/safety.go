// Package safety implements the acceptance validators that gate every
// generative result. All checks are pure functions over raster buffers and
// masks: they never mutate their inputs and have no side effects.
package safety

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/stillframe/memorialtube/internal/generate"
	"github.com/stillframe/memorialtube/internal/imaging"
)

// Result is the outcome of one safety check.
type Result struct {
	Passed bool
	Reason string
}

func pass() Result { return Result{Passed: true} }

func fail(format string, args ...any) Result {
	return Result{Passed: false, Reason: fmt.Sprintf(format, args...)}
}

// ProtectedRegionOptions tunes CheckProtectedRegionUnchanged.
type ProtectedRegionOptions struct {
	// DiffThreshold is the max-channel absolute difference above which a
	// pixel counts as changed.
	DiffThreshold int
	// MaxChangedRatio is the highest tolerated changed/total ratio.
	// Zero demands bit-level stability at the threshold.
	MaxChangedRatio float64
}

// DefaultProtectedRegionOptions returns the production thresholds.
func DefaultProtectedRegionOptions() ProtectedRegionOptions {
	return ProtectedRegionOptions{DiffThreshold: 8, MaxChangedRatio: 0.001}
}

// CheckProtectedRegionUnchanged verifies that the candidate did not visibly
// alter the protected region of the base image. An empty protected mask is
// a misconfiguration and fails, never passes.
func CheckProtectedRegionUnchanged(base, candidate *imaging.Image, protected *imaging.Mask, opts ProtectedRegionOptions) Result {
	if !base.SameSize(candidate) {
		return fail("base and candidate size mismatch: base=%dx%d candidate=%dx%d", base.W, base.H, candidate.W, candidate.H)
	}
	if !protected.MatchesImage(base) {
		return fail("protected mask size mismatch: mask=%dx%d image=%dx%d", protected.W, protected.H, base.W, base.H)
	}

	changed, total := 0, 0
	for y := 0; y < base.H; y++ {
		for x := 0; x < base.W; x++ {
			if !protected.Active(x, y) {
				continue
			}
			total++
			if maxChannelDiff(base, candidate, x, y) > opts.DiffThreshold {
				changed++
			}
		}
	}
	if total == 0 {
		return fail("protected mask is empty")
	}

	ratio := float64(changed) / float64(total)
	if ratio > opts.MaxChangedRatio {
		return fail("protected region changed too much: ratio=%.6f, threshold=%.6f", ratio, opts.MaxChangedRatio)
	}
	return pass()
}

func maxChannelDiff(a, b *imaging.Image, x, y int) int {
	i := a.Offset(x, y)
	d := 0
	for c := 0; c < 3; c++ {
		v := int(a.Pix[i+c]) - int(b.Pix[i+c])
		if v < 0 {
			v = -v
		}
		if v > d {
			d = v
		}
	}
	return d
}

// CheckNoNewAnimals fails when any detection bounding box overlaps the
// generation mask. With an unavailable detector, strict mode and a
// non-empty generation mask, it fails defensively rather than silently
// passing.
func CheckNoNewAnimals(ctx context.Context, candidate *imaging.Image, generation *imaging.Mask, det generate.Detector, strict bool) Result {
	if !generation.MatchesImage(candidate) {
		return fail("generation mask size mismatch: mask=%dx%d image=%dx%d", generation.W, generation.H, candidate.W, candidate.H)
	}

	if !det.Available() {
		if strict && generation.CountActive() > 0 {
			return fail("animal detector unavailable in strict mode")
		}
		return pass()
	}

	detections, err := det.Detect(ctx, candidate)
	if err != nil {
		return fail("animal detection failed: %v", err)
	}
	for _, d := range detections {
		x1 := clampInt(d.X1, 0, candidate.W-1)
		y1 := clampInt(d.Y1, 0, candidate.H-1)
		x2 := clampInt(d.X2, 0, candidate.W)
		y2 := clampInt(d.Y2, 0, candidate.H)
		if x2 <= x1 || y2 <= y1 {
			continue
		}
		for y := y1; y < y2; y++ {
			for x := x1; x < x2; x++ {
				if generation.Active(x, y) {
					return fail("new animal detected in generated region: %s(%.2f)", d.Label, d.Confidence)
				}
			}
		}
	}
	return pass()
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// BoundaryOptions tunes CheckBoundaryContinuity.
type BoundaryOptions struct {
	MaxMeanDiff  float64
	MaxP95Diff   float64
	MinPairCount int
}

// DefaultBoundaryOptions returns the production thresholds.
func DefaultBoundaryOptions() BoundaryOptions {
	return BoundaryOptions{MaxMeanDiff: 34.0, MaxP95Diff: 86.0, MinPairCount: 120}
}

// CheckBoundaryContinuity measures pixel-adjacency discontinuity across the
// protected/generation seam. Generation only happens left/right, so only
// horizontal neighbor pairs are sampled. Seams with fewer than MinPairCount
// sampled pairs are exempt: not enough signal.
func CheckBoundaryContinuity(candidate *imaging.Image, protected, generation *imaging.Mask, opts BoundaryOptions) Result {
	if !protected.MatchesImage(candidate) {
		return fail("protected mask size mismatch")
	}
	if !generation.MatchesImage(candidate) {
		return fail("generation mask size mismatch")
	}
	if candidate.H == 0 || candidate.W < 2 {
		return pass()
	}
	if generation.CountActive() == 0 {
		return pass()
	}

	var diffs []float64
	for y := 0; y < candidate.H; y++ {
		for x := 0; x < candidate.W-1; x++ {
			genLeft := generation.Active(x, y) && protected.Active(x+1, y)
			genRight := protected.Active(x, y) && generation.Active(x+1, y)
			if !genLeft && !genRight {
				continue
			}
			d := 0
			i := candidate.Offset(x, y)
			j := candidate.Offset(x+1, y)
			for c := 0; c < 3; c++ {
				v := int(candidate.Pix[i+c]) - int(candidate.Pix[j+c])
				if v < 0 {
					v = -v
				}
				if v > d {
					d = v
				}
			}
			diffs = append(diffs, float64(d))
		}
	}
	if len(diffs) < opts.MinPairCount {
		return pass()
	}

	mean := meanOf(diffs)
	p95 := percentile(diffs, 95.0)
	if mean > opts.MaxMeanDiff || p95 > opts.MaxP95Diff {
		return fail("generation boundary mismatch: mean_diff=%.4f, p95_diff=%.4f, pairs=%d, limit_mean=%.4f, limit_p95=%.4f",
			mean, p95, len(diffs), opts.MaxMeanDiff, opts.MaxP95Diff)
	}
	return pass()
}

func meanOf(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// percentile computes the q-th percentile with linear interpolation between
// the closest ranks.
func percentile(vals []float64, q float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q / 100.0 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
