// Package generate defines the pluggable generation capabilities consumed by
// the canvas compositor and the transition generator: outpainting, animal
// detection and transition frame generation. Each capability is a small
// closed set of variants, a deterministic reference implementation and a
// remote model-backed one, resolved once per process through a Registry.
package generate

import (
	"context"

	"github.com/stillframe/memorialtube/internal/imaging"
)

// Detection is one object-detector hit in pixel coordinates.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
}

// OutpaintOptions tunes a single outpaint invocation.
type OutpaintOptions struct {
	Steps    int
	FastMode bool
}

// Outpainter synthesizes pixels inside the generation mask of a canvas.
type Outpainter interface {
	// Name identifies the adapter variant ("mirror", "remote", ...).
	Name() string

	// Generative reports whether the adapter fabricates new content. The
	// compositor runs the full validator chain only for generative adapters
	// and never ships the output of non-generative ones.
	Generative() bool

	// Outpaint returns a new image with the masked region filled in.
	// The base image is never mutated.
	Outpaint(ctx context.Context, base *imaging.Image, mask *imaging.Mask, opts OutpaintOptions) (*imaging.Image, error)
}

// Detector locates animals in a frame.
type Detector interface {
	Name() string

	// Available reports whether a real model backs this detector.
	Available() bool

	Detect(ctx context.Context, im *imaging.Image) ([]Detection, error)
}

// FrameGenerator stylizes a single transition frame seeded with a blend of
// the two canvases.
type FrameGenerator interface {
	Name() string

	// Available reports whether a real model backs this generator. When
	// false the transition generator skips generative attempts entirely.
	Available() bool

	GenerateFrame(ctx context.Context, base *imaging.Image, prompt, negativePrompt string) (*imaging.Image, error)
}
