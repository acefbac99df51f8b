package safety

import (
	"fmt"
	"math"

	"github.com/stillframe/memorialtube/internal/imaging"
)

// NaturalnessOptions tunes CheckGeneratedRegionNaturalness.
type NaturalnessOptions struct {
	// RefBandWidth is the width, in columns, of the protected reference band
	// sampled next to each generated side.
	RefBandWidth int
	// MinPixelsPerSide is the minimum sampled pixel count required in both
	// the generated and reference regions before the side is judged.
	MinPixelsPerSide int

	MaxMeanDeltaNorm    float64
	MaxStdDeltaNorm     float64
	MaxGradRatio        float64
	MaxEdgeDensityRatio float64
	// EdgeThreshold is the gradient magnitude above which a pixel counts
	// toward edge density.
	EdgeThreshold float64
}

// DefaultNaturalnessOptions returns the production thresholds.
func DefaultNaturalnessOptions() NaturalnessOptions {
	return NaturalnessOptions{
		RefBandWidth:        72,
		MinPixelsPerSide:    1800,
		MaxMeanDeltaNorm:    0.26,
		MaxStdDeltaNorm:     0.36,
		MaxGradRatio:        3.0,
		MaxEdgeDensityRatio: 3.5,
		EdgeThreshold:       26.0,
	}
}

type regionStats struct {
	mean        [3]float64
	std         [3]float64
	gradMean    float64
	edgeDensity float64
	count       int
}

// CheckGeneratedRegionNaturalness compares color and texture statistics of
// each generated band against an adjacent protected reference band of
// similar size. Sides with too few sampled pixels are exempt.
func CheckGeneratedRegionNaturalness(candidate *imaging.Image, protected, generation *imaging.Mask, opts NaturalnessOptions) Result {
	if !protected.MatchesImage(candidate) {
		return fail("protected mask size mismatch")
	}
	if !generation.MatchesImage(candidate) {
		return fail("generation mask size mismatch")
	}
	if candidate.H == 0 || candidate.W == 0 {
		return pass()
	}
	if generation.CountActive() == 0 || protected.CountActive() == 0 {
		return pass()
	}

	gray := grayOf(candidate)
	grad := gradMagnitude(gray, candidate.W, candidate.H)

	leftBoundary, rightBoundary, ok := protectedColumnExtent(protected)
	if !ok {
		return pass()
	}

	var sideFailures []string

	if leftBoundary > 0 {
		gen := collectStats(candidate, grad, opts.EdgeThreshold, func(x, y int) bool {
			return generation.Active(x, y) && x < leftBoundary
		})
		refEnd := min(candidate.W, leftBoundary+opts.RefBandWidth)
		ref := collectStats(candidate, grad, opts.EdgeThreshold, func(x, y int) bool {
			return protected.Active(x, y) && x >= leftBoundary && x < refEnd
		})
		if reason := judgeSide("left", gen, ref, opts); reason != "" {
			sideFailures = append(sideFailures, reason)
		}
	}

	if rightBoundary < candidate.W {
		gen := collectStats(candidate, grad, opts.EdgeThreshold, func(x, y int) bool {
			return generation.Active(x, y) && x >= rightBoundary
		})
		refStart := max(0, rightBoundary-opts.RefBandWidth)
		ref := collectStats(candidate, grad, opts.EdgeThreshold, func(x, y int) bool {
			return protected.Active(x, y) && x >= refStart && x < rightBoundary
		})
		if reason := judgeSide("right", gen, ref, opts); reason != "" {
			sideFailures = append(sideFailures, reason)
		}
	}

	if len(sideFailures) > 0 {
		reason := "generated region unnatural: " + sideFailures[0]
		for _, s := range sideFailures[1:] {
			reason += ", " + s
		}
		return Result{Passed: false, Reason: reason}
	}
	return pass()
}

// protectedColumnExtent returns [left, right) column bounds of the protected
// mask, or ok=false when the mask has no active columns.
func protectedColumnExtent(protected *imaging.Mask) (left, right int, ok bool) {
	left, right = -1, -1
	for x := 0; x < protected.W; x++ {
		active := false
		for y := 0; y < protected.H; y++ {
			if protected.Active(x, y) {
				active = true
				break
			}
		}
		if active {
			if left < 0 {
				left = x
			}
			right = x + 1
		}
	}
	return left, right, left >= 0
}

func collectStats(im *imaging.Image, grad []float64, edgeThreshold float64, include func(x, y int) bool) regionStats {
	var st regionStats
	var sum, sumSq [3]float64
	var gradSum float64
	edges := 0

	for y := 0; y < im.H; y++ {
		for x := 0; x < im.W; x++ {
			if !include(x, y) {
				continue
			}
			i := im.Offset(x, y)
			for c := 0; c < 3; c++ {
				v := float64(im.Pix[i+c])
				sum[c] += v
				sumSq[c] += v * v
			}
			g := grad[y*im.W+x]
			gradSum += g
			if g >= edgeThreshold {
				edges++
			}
			st.count++
		}
	}
	if st.count == 0 {
		return st
	}
	n := float64(st.count)
	for c := 0; c < 3; c++ {
		st.mean[c] = sum[c] / n
		variance := sumSq[c]/n - st.mean[c]*st.mean[c]
		if variance < 0 {
			variance = 0
		}
		st.std[c] = math.Sqrt(variance)
	}
	st.gradMean = gradSum / n
	st.edgeDensity = float64(edges) / n
	return st
}

// judgeSide returns a failure description for the side, or "" when the side
// passes or lacks enough samples to judge.
func judgeSide(side string, gen, ref regionStats, opts NaturalnessOptions) string {
	if gen.count < opts.MinPixelsPerSide || ref.count < opts.MinPixelsPerSide {
		return ""
	}

	meanDelta := vecNorm(gen.mean, ref.mean) / 255.0
	stdDelta := vecNorm(gen.std, ref.std) / 255.0
	gradRatio := symmetricRatio(gen.gradMean, ref.gradMean)
	edgeRatio := symmetricRatio(gen.edgeDensity, ref.edgeDensity)

	if meanDelta > opts.MaxMeanDeltaNorm ||
		stdDelta > opts.MaxStdDeltaNorm ||
		gradRatio > opts.MaxGradRatio ||
		edgeRatio > opts.MaxEdgeDensityRatio {
		return fmt.Sprintf("%s(mean=%.4f,std=%.4f,grad=%.4f,edge=%.4f)",
			side, meanDelta, stdDelta, gradRatio, edgeRatio)
	}
	return ""
}

func vecNorm(a, b [3]float64) float64 {
	d0 := a[0] - b[0]
	d1 := a[1] - b[1]
	d2 := a[2] - b[2]
	return math.Sqrt(d0*d0 + d1*d1 + d2*d2)
}

// symmetricRatio returns max(a/b, b/a) with a small epsilon guard.
func symmetricRatio(a, b float64) float64 {
	const eps = 1e-4
	return math.Max(a/(b+eps), b/(a+eps))
}

// grayOf converts to BT.601 luma.
func grayOf(im *imaging.Image) []float64 {
	out := make([]float64, im.W*im.H)
	for p, i := 0, 0; p < len(out); p, i = p+1, i+3 {
		out[p] = 0.299*float64(im.Pix[i]) + 0.587*float64(im.Pix[i+1]) + 0.114*float64(im.Pix[i+2])
	}
	return out
}

// gradMagnitude computes the central-difference gradient magnitude of a
// luma plane. Border pixels keep a zero partial along the clipped axis.
func gradMagnitude(gray []float64, w, h int) []float64 {
	out := make([]float64, len(gray))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var gx, gy float64
			if x > 0 && x < w-1 {
				gx = gray[y*w+x+1] - gray[y*w+x-1]
			}
			if y > 0 && y < h-1 {
				gy = gray[(y+1)*w+x] - gray[(y-1)*w+x]
			}
			out[y*w+x] = math.Hypot(gx, gy)
		}
	}
	return out
}
