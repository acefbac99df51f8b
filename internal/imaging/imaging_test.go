package imaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uniform returns a w×h image filled with one RGB value.
func uniform(w, h int, r, g, b uint8) *Image {
	im := New(w, h)
	for i := 0; i < len(im.Pix); i += 3 {
		im.Pix[i] = r
		im.Pix[i+1] = g
		im.Pix[i+2] = b
	}
	return im
}

func TestCloneIsIndependent(t *testing.T) {
	a := uniform(4, 4, 10, 20, 30)
	b := a.Clone()
	b.Pix[0] = 99

	assert.Equal(t, uint8(10), a.Pix[0])
	assert.False(t, a.Equal(b))
}

func TestFitResizeWideSource(t *testing.T) {
	// 3200x900 source into 1600x900: scale 0.5, full-height, full-width.
	src := uniform(3200, 900, 128, 128, 128)
	resized, p := FitResize(src, 1600, 900)

	assert.Equal(t, 1600, resized.W)
	assert.Equal(t, 450, resized.H)
	assert.Equal(t, Placement{X: 0, Y: 225, Width: 1600, Height: 450}, p)
}

func TestFitResizeTallSource(t *testing.T) {
	// Portrait source: height binds, horizontal padding on both sides.
	src := uniform(600, 900, 128, 128, 128)
	resized, p := FitResize(src, 1600, 900)

	assert.Equal(t, 600, resized.W)
	assert.Equal(t, 900, resized.H)
	assert.Equal(t, Placement{X: 500, Y: 0, Width: 600, Height: 900}, p)
	assert.Equal(t, 1600, p.X+p.Width+500)
}

func TestMasksDisjointAndSidesOnly(t *testing.T) {
	p := Placement{X: 500, Y: 0, Width: 600, Height: 900}
	protected, generation := Masks(1600, 900, p)

	require.Equal(t, 600*900, protected.CountActive())
	require.Equal(t, 1000*900, generation.CountActive())

	for y := 0; y < 900; y += 37 {
		for x := 0; x < 1600; x += 13 {
			assert.False(t, protected.Active(x, y) && generation.Active(x, y),
				"masks overlap at (%d,%d)", x, y)
		}
	}
}

func TestMasksVerticalPaddingNotGenerated(t *testing.T) {
	// Wide photo: padding is above and below only, so nothing is generated.
	p := Placement{X: 0, Y: 225, Width: 1600, Height: 450}
	protected, generation := Masks(1600, 900, p)

	assert.Equal(t, 1600*450, protected.CountActive())
	assert.Equal(t, 0, generation.CountActive())
}

func TestBlendEndpoints(t *testing.T) {
	a := uniform(8, 8, 0, 0, 0)
	b := uniform(8, 8, 200, 100, 50)

	assert.True(t, Blend(a, b, 0).Equal(a))
	assert.True(t, Blend(a, b, 1).Equal(b))

	mid := Blend(a, b, 0.5)
	assert.Equal(t, uint8(100), mid.Pix[0])
	assert.Equal(t, uint8(50), mid.Pix[1])
	assert.Equal(t, uint8(25), mid.Pix[2])
}

func TestRestoreRegion(t *testing.T) {
	base := uniform(10, 10, 50, 50, 50)
	corrupted := uniform(10, 10, 200, 200, 200)
	p := Placement{X: 2, Y: 3, Width: 4, Height: 5}

	restored := RestoreRegion(corrupted, base, p)

	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			inside := x >= p.X && x < p.X+p.Width && y >= p.Y && y < p.Y+p.Height
			want := uint8(200)
			if inside {
				want = 50
			}
			assert.Equal(t, want, restored.Pix[restored.Offset(x, y)], "pixel (%d,%d)", x, y)
		}
	}
	// Inputs untouched.
	assert.Equal(t, uint8(200), corrupted.Pix[corrupted.Offset(3, 4)])
}

func TestComposeCenter(t *testing.T) {
	bg := uniform(10, 10, 1, 1, 1)
	fg := uniform(4, 4, 250, 250, 250)
	out := ComposeCenter(bg, fg, Placement{X: 3, Y: 3, Width: 4, Height: 4})

	assert.Equal(t, uint8(1), out.Pix[out.Offset(0, 0)])
	assert.Equal(t, uint8(250), out.Pix[out.Offset(3, 3)])
	assert.Equal(t, uint8(250), out.Pix[out.Offset(6, 6)])
	assert.Equal(t, uint8(1), out.Pix[out.Offset(7, 7)])
}

func TestEdgeBlendNarrowPlacementNoop(t *testing.T) {
	comp := uniform(10, 10, 100, 100, 100)
	bg := uniform(10, 10, 0, 0, 0)
	out := EdgeBlend(comp, bg, Placement{X: 4, Y: 0, Width: 3, Height: 10}, 2)
	assert.True(t, out.Equal(comp))
}

func TestEdgeBlendSeamLeansOnBackground(t *testing.T) {
	comp := uniform(40, 10, 200, 200, 200)
	bg := uniform(40, 10, 0, 0, 0)
	p := Placement{X: 10, Y: 0, Width: 20, Height: 10}

	out := EdgeBlend(comp, bg, p, 4)

	seam := out.Pix[out.Offset(p.X, 5)]
	inner := out.Pix[out.Offset(p.X+3, 5)]
	assert.Less(t, seam, inner)
	// Center column untouched.
	assert.Equal(t, uint8(200), out.Pix[out.Offset(20, 5)])
}

func TestRampBlendTowardBaseSeamMatchesBase(t *testing.T) {
	candidate := uniform(40, 10, 255, 255, 255)
	base := uniform(40, 10, 0, 0, 0)
	p := Placement{X: 10, Y: 0, Width: 20, Height: 10}

	out := RampBlendTowardBase(candidate, base, p)

	// Seam-adjacent generated columns carry full base weight.
	assert.Equal(t, uint8(0), out.Pix[out.Offset(p.X-1, 5)])
	assert.Equal(t, uint8(0), out.Pix[out.Offset(p.X+p.Width, 5)])
	// Outer edges keep most of the candidate.
	assert.Greater(t, out.Pix[out.Offset(0, 5)], uint8(127))
	assert.Greater(t, out.Pix[out.Offset(39, 5)], uint8(127))
	// Placement itself untouched.
	assert.Equal(t, uint8(255), out.Pix[out.Offset(20, 5)])
}

func TestReflectBackgroundMirrorsEdges(t *testing.T) {
	resized := New(4, 2)
	for x := 0; x < 4; x++ {
		v := uint8(10 * (x + 1))
		for y := 0; y < 2; y++ {
			i := resized.Offset(x, y)
			resized.Pix[i], resized.Pix[i+1], resized.Pix[i+2] = v, v, v
		}
	}
	p := Placement{X: 2, Y: 0, Width: 4, Height: 2}
	out := ReflectBackground(resized, 8, 2, p)

	// Left padding mirrors the first photo columns outward.
	assert.Equal(t, uint8(10), out.Pix[out.Offset(1, 0)])
	assert.Equal(t, uint8(20), out.Pix[out.Offset(0, 0)])
	// Right padding mirrors the last photo columns.
	assert.Equal(t, uint8(40), out.Pix[out.Offset(6, 0)])
	assert.Equal(t, uint8(30), out.Pix[out.Offset(7, 0)])
}

func TestBlurPreservesUniformImage(t *testing.T) {
	im := uniform(16, 16, 77, 77, 77)
	out := Blur(im, 3)
	assert.True(t, out.Equal(im))
}

func TestResizeIdentity(t *testing.T) {
	im := uniform(8, 6, 9, 9, 9)
	out := Resize(im, 8, 6)
	assert.True(t, out.Equal(im))
	assert.NotSame(t, im, out)
}
