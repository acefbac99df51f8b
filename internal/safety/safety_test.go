package safety

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillframe/memorialtube/internal/generate"
	"github.com/stillframe/memorialtube/internal/imaging"
)

func uniform(w, h int, v uint8) *imaging.Image {
	im := imaging.New(w, h)
	for i := range im.Pix {
		im.Pix[i] = v
	}
	return im
}

func fullMask(w, h int) *imaging.Mask {
	m := imaging.NewMask(w, h)
	m.SetRect(0, 0, w, h)
	return m
}

// stubDetector is a canned Detector for validator tests.
type stubDetector struct {
	available  bool
	detections []generate.Detection
	err        error
}

func (d stubDetector) Name() string    { return "stub" }
func (d stubDetector) Available() bool { return d.available }
func (d stubDetector) Detect(context.Context, *imaging.Image) ([]generate.Detection, error) {
	return d.detections, d.err
}

func TestProtectedRegionIdenticalPasses(t *testing.T) {
	base := uniform(20, 20, 100)
	res := CheckProtectedRegionUnchanged(base, base.Clone(), fullMask(20, 20), DefaultProtectedRegionOptions())
	assert.True(t, res.Passed)
}

func TestProtectedRegionEmptyMaskFails(t *testing.T) {
	base := uniform(20, 20, 100)
	res := CheckProtectedRegionUnchanged(base, base.Clone(), imaging.NewMask(20, 20), DefaultProtectedRegionOptions())
	require.False(t, res.Passed)
	assert.Contains(t, res.Reason, "protected mask is empty")
}

func TestProtectedRegionSmallNoiseTolerated(t *testing.T) {
	base := uniform(20, 20, 100)
	candidate := base.Clone()
	// Below the per-pixel threshold: not counted as changed.
	for i := range candidate.Pix {
		candidate.Pix[i] += 5
	}
	res := CheckProtectedRegionUnchanged(base, candidate, fullMask(20, 20), DefaultProtectedRegionOptions())
	assert.True(t, res.Passed)
}

func TestProtectedRegionVisibleChangeFails(t *testing.T) {
	base := uniform(20, 20, 100)
	candidate := base.Clone()
	for x := 0; x < 10; x++ {
		candidate.Pix[candidate.Offset(x, 10)] = 250
	}
	res := CheckProtectedRegionUnchanged(base, candidate, fullMask(20, 20), DefaultProtectedRegionOptions())
	require.False(t, res.Passed)
	assert.Contains(t, res.Reason, "protected region changed too much")
}

func TestProtectedRegionSizeMismatchFails(t *testing.T) {
	res := CheckProtectedRegionUnchanged(uniform(20, 20, 0), uniform(10, 10, 0), fullMask(20, 20), DefaultProtectedRegionOptions())
	require.False(t, res.Passed)
	assert.Contains(t, res.Reason, "size mismatch")
}

func TestNoNewAnimalsDetectorUnavailable(t *testing.T) {
	im := uniform(20, 20, 0)
	gen := imaging.NewMask(20, 20)
	gen.SetRect(0, 0, 5, 20)

	// Strict mode with a live generation zone fails defensively.
	res := CheckNoNewAnimals(context.Background(), im, gen, stubDetector{}, true)
	require.False(t, res.Passed)
	assert.Contains(t, res.Reason, "unavailable in strict mode")

	// Non-strict mode passes through.
	res = CheckNoNewAnimals(context.Background(), im, gen, stubDetector{}, false)
	assert.True(t, res.Passed)

	// Strict mode with no generation zone has nothing to defend.
	res = CheckNoNewAnimals(context.Background(), im, imaging.NewMask(20, 20), stubDetector{}, true)
	assert.True(t, res.Passed)
}

func TestNoNewAnimalsOverlapFails(t *testing.T) {
	im := uniform(20, 20, 0)
	gen := imaging.NewMask(20, 20)
	gen.SetRect(0, 0, 5, 20)

	det := stubDetector{available: true, detections: []generate.Detection{
		{Label: "cat", Confidence: 0.9, X1: 2, Y1: 2, X2: 8, Y2: 8},
	}}
	res := CheckNoNewAnimals(context.Background(), im, gen, det, true)
	require.False(t, res.Passed)
	assert.Contains(t, res.Reason, "cat")
}

func TestNoNewAnimalsOutsideGenerationZonePasses(t *testing.T) {
	im := uniform(20, 20, 0)
	gen := imaging.NewMask(20, 20)
	gen.SetRect(0, 0, 5, 20)

	det := stubDetector{available: true, detections: []generate.Detection{
		{Label: "dog", Confidence: 0.8, X1: 10, Y1: 2, X2: 18, Y2: 8},
	}}
	res := CheckNoNewAnimals(context.Background(), im, gen, det, true)
	assert.True(t, res.Passed)
}

func TestNoNewAnimalsDetectErrorFails(t *testing.T) {
	im := uniform(20, 20, 0)
	res := CheckNoNewAnimals(context.Background(), im, imaging.NewMask(20, 20),
		stubDetector{available: true, err: errors.New("inference timeout")}, true)
	require.False(t, res.Passed)
	assert.Contains(t, res.Reason, "inference timeout")
}

// seamImage builds a canvas whose left band [0, split) holds leftVal and the
// rest rightVal, with matching generation/protected masks split at the seam.
func seamImage(w, h, split int, leftVal, rightVal uint8) (*imaging.Image, *imaging.Mask, *imaging.Mask) {
	im := imaging.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := rightVal
			if x < split {
				v = leftVal
			}
			i := im.Offset(x, y)
			im.Pix[i], im.Pix[i+1], im.Pix[i+2] = v, v, v
		}
	}
	generation := imaging.NewMask(w, h)
	generation.SetRect(0, 0, split, h)
	protected := imaging.NewMask(w, h)
	protected.SetRect(split, 0, w, h)
	return im, protected, generation
}

func TestBoundaryContinuitySmoothSeamPasses(t *testing.T) {
	im, protected, generation := seamImage(100, 200, 30, 120, 130)
	res := CheckBoundaryContinuity(im, protected, generation, DefaultBoundaryOptions())
	assert.True(t, res.Passed)
}

func TestBoundaryContinuityHardSeamFails(t *testing.T) {
	im, protected, generation := seamImage(100, 200, 30, 10, 240)
	res := CheckBoundaryContinuity(im, protected, generation, DefaultBoundaryOptions())
	require.False(t, res.Passed)
	assert.Contains(t, res.Reason, "generation boundary mismatch")
}

func TestBoundaryContinuityTooFewPairsExempt(t *testing.T) {
	// 200 rows yield 200 seam pairs; demand more and the check abstains.
	im, protected, generation := seamImage(100, 200, 30, 10, 240)
	opts := DefaultBoundaryOptions()
	opts.MinPairCount = 500
	res := CheckBoundaryContinuity(im, protected, generation, opts)
	assert.True(t, res.Passed)
}

func TestBoundaryContinuityNoGenerationZonePasses(t *testing.T) {
	im := uniform(100, 200, 50)
	res := CheckBoundaryContinuity(im, fullMask(100, 200), imaging.NewMask(100, 200), DefaultBoundaryOptions())
	assert.True(t, res.Passed)
}

func TestPercentile(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.InDelta(t, 9.55, percentile(vals, 95), 1e-9)
	assert.InDelta(t, 5.5, percentile(vals, 50), 1e-9)
	assert.InDelta(t, 10, percentile(vals, 100), 1e-9)
	assert.InDelta(t, 3, percentile([]float64{3}, 95), 1e-9)
}
