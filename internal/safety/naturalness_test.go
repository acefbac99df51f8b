package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillframe/memorialtube/internal/imaging"
)

// bandedCanvas builds a canvas with distinct generated side bands and the
// matching masks for a centered placement.
func bandedCanvas(w, h, placeX, placeW int, genVal, photoVal uint8) (*imaging.Image, *imaging.Mask, *imaging.Mask) {
	im := imaging.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := genVal
			if x >= placeX && x < placeX+placeW {
				v = photoVal
			}
			i := im.Offset(x, y)
			im.Pix[i], im.Pix[i+1], im.Pix[i+2] = v, v, v
		}
	}
	protected, generation := imaging.Masks(w, h, imaging.Placement{X: placeX, Y: 0, Width: placeW, Height: h})
	return im, protected, generation
}

func TestNaturalnessMatchingStatisticsPass(t *testing.T) {
	im, protected, generation := bandedCanvas(400, 300, 100, 200, 128, 128)
	res := CheckGeneratedRegionNaturalness(im, protected, generation, DefaultNaturalnessOptions())
	assert.True(t, res.Passed)
}

func TestNaturalnessMeanShiftFails(t *testing.T) {
	im, protected, generation := bandedCanvas(400, 300, 100, 200, 0, 200)
	res := CheckGeneratedRegionNaturalness(im, protected, generation, DefaultNaturalnessOptions())
	require.False(t, res.Passed)
	assert.Contains(t, res.Reason, "generated region unnatural")
	assert.Contains(t, res.Reason, "left(")
	assert.Contains(t, res.Reason, "right(")
}

func TestNaturalnessSmallBandsExempt(t *testing.T) {
	// 20 columns x 40 rows per band is far below the minimum sample count.
	im, protected, generation := bandedCanvas(100, 40, 20, 60, 0, 200)
	res := CheckGeneratedRegionNaturalness(im, protected, generation, DefaultNaturalnessOptions())
	assert.True(t, res.Passed)
}

func TestNaturalnessTextureMismatchFails(t *testing.T) {
	im, protected, generation := bandedCanvas(400, 300, 100, 200, 128, 128)
	// Checkerboard the left generated band: gradients and edges explode
	// while the reference band stays flat.
	for y := 0; y < 300; y++ {
		for x := 0; x < 100; x++ {
			if (x/2+y/2)%2 == 0 {
				i := im.Offset(x, y)
				im.Pix[i], im.Pix[i+1], im.Pix[i+2] = 255, 255, 255
			}
		}
	}
	res := CheckGeneratedRegionNaturalness(im, protected, generation, DefaultNaturalnessOptions())
	require.False(t, res.Passed)
	assert.Contains(t, res.Reason, "left(")
}

func TestNaturalnessNoGenerationZonePasses(t *testing.T) {
	im, protected, _ := bandedCanvas(400, 300, 0, 400, 0, 128)
	res := CheckGeneratedRegionNaturalness(im, protected, imaging.NewMask(400, 300), DefaultNaturalnessOptions())
	assert.True(t, res.Passed)
}
