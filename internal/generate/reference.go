package generate

import (
	"context"

	"github.com/stillframe/memorialtube/internal/imaging"
)

// Compile-time interface checks.
var (
	_ Outpainter     = (*MirrorOutpainter)(nil)
	_ Detector       = (*NullDetector)(nil)
	_ FrameGenerator = (*IdentityFrameGenerator)(nil)
)

// MirrorOutpainter is the deterministic, non-generative reference outpainter.
// It mirrors edge pixels into the generation zone row by row, using the
// nearest non-generated column on each side. It exists so the pipeline can
// be wired end-to-end without a model; its output is never shipped.
type MirrorOutpainter struct{}

func (MirrorOutpainter) Name() string     { return "mirror" }
func (MirrorOutpainter) Generative() bool { return false }

func (MirrorOutpainter) Outpaint(_ context.Context, base *imaging.Image, mask *imaging.Mask, _ OutpaintOptions) (*imaging.Image, error) {
	out := base.Clone()
	if mask.CountActive() == 0 {
		return out, nil
	}
	for y := 0; y < out.H; y++ {
		firstValid, lastValid := -1, -1
		for x := 0; x < out.W; x++ {
			if !mask.Active(x, y) {
				if firstValid < 0 {
					firstValid = x
				}
				lastValid = x
			}
		}
		if firstValid < 0 {
			continue // whole row is generation zone, nothing to copy from
		}
		for x := 0; x < firstValid; x++ {
			if mask.Active(x, y) {
				copyPixelFrom(out, x, y, firstValid)
			}
		}
		for x := lastValid + 1; x < out.W; x++ {
			if mask.Active(x, y) {
				copyPixelFrom(out, x, y, lastValid)
			}
		}
	}
	return out, nil
}

func copyPixelFrom(im *imaging.Image, x, y, srcX int) {
	d := im.Offset(x, y)
	s := im.Offset(srcX, y)
	im.Pix[d] = im.Pix[s]
	im.Pix[d+1] = im.Pix[s+1]
	im.Pix[d+2] = im.Pix[s+2]
}

// NullDetector is the reference detector: permanently unavailable, no hits.
type NullDetector struct{}

func (NullDetector) Name() string    { return "null" }
func (NullDetector) Available() bool { return false }

func (NullDetector) Detect(context.Context, *imaging.Image) ([]Detection, error) {
	return nil, nil
}

// IdentityFrameGenerator is the reference transition adapter. It reports
// unavailable and returns its input unchanged, which forces blend-only
// transitions through the classic path.
type IdentityFrameGenerator struct{}

func (IdentityFrameGenerator) Name() string    { return "identity" }
func (IdentityFrameGenerator) Available() bool { return false }

func (IdentityFrameGenerator) GenerateFrame(_ context.Context, base *imaging.Image, _, _ string) (*imaging.Image, error) {
	return base.Clone(), nil
}
