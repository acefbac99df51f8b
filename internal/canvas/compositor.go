// Package canvas builds the fixed-size output frame for each source photo
// and runs the safety-gated outpaint retry loop around the generative
// capability. Failure never escapes the gate: when generation cannot be
// validated within the attempt budget, the deterministic safe composite is
// returned instead.
package canvas

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/stillframe/memorialtube/internal/config"
	"github.com/stillframe/memorialtube/internal/generate"
	"github.com/stillframe/memorialtube/internal/imaging"
	"github.com/stillframe/memorialtube/internal/safety"
)

// blurRadius is the background blur strength of the blurred-cover style.
const blurRadius = 22

// BuildResult is the outcome of one canvas build. The image is immutable
// once returned.
type BuildResult struct {
	Image           *imaging.Image
	Placement       imaging.Placement
	UsedOutpaint    bool
	AdapterName     string
	FallbackApplied bool
	FallbackReason  string
	SafetyPassed    bool
	SafetyMessage   string
}

// BuildOptions selects per-run behavior of the compositor.
type BuildOptions struct {
	// FastMode limits generation to one attempt with fewer inference steps
	// and ramp-blends the generated band toward the safe composite.
	FastMode bool
	// EnableAnimalDetection turns on the no-new-animals validator for
	// generative adapters.
	EnableAnimalDetection bool
}

// Compositor builds canvases. Safe for sequential reuse across runs.
type Compositor struct {
	cfg        config.Config
	outpainter generate.Outpainter
	detector   generate.Detector
	logger     *zap.Logger
}

// NewCompositor wires a compositor with its generation capabilities.
func NewCompositor(cfg config.Config, outpainter generate.Outpainter, detector generate.Detector, logger *zap.Logger) *Compositor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compositor{cfg: cfg, outpainter: outpainter, detector: detector, logger: logger}
}

// Build loads the photo and produces its canvas. Unreadable input is a hard
// error; safety failures degrade to the safe composite and never error.
func (c *Compositor) Build(ctx context.Context, photoPath string, opts BuildOptions) (*BuildResult, error) {
	source, err := imaging.Load(photoPath)
	if err != nil {
		return nil, err
	}
	return c.buildFromImage(ctx, source, opts)
}

// BuildFile builds the canvas and writes it as a JPEG artifact.
func (c *Compositor) BuildFile(ctx context.Context, photoPath, outputPath string, opts BuildOptions) (*BuildResult, error) {
	result, err := c.Build(ctx, photoPath, opts)
	if err != nil {
		return nil, err
	}
	if err := imaging.SaveJPEG(outputPath, result.Image, 0); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Compositor) buildFromImage(ctx context.Context, source *imaging.Image, opts BuildOptions) (*BuildResult, error) {
	targetW, targetH := c.cfg.TargetWidth, c.cfg.TargetHeight

	resized, placement := imaging.FitResize(source, targetW, targetH)
	safeComposite := c.composeSafe(source, resized, placement)
	adapterName := c.outpainter.Name()

	// Full-width placement leaves no generation zone: not a fallback.
	if placement.Width >= targetW {
		return &BuildResult{
			Image:         safeComposite,
			Placement:     placement,
			AdapterName:   adapterName,
			SafetyPassed:  true,
			SafetyMessage: "full-width placement, no generation zone",
		}, nil
	}

	// Policy short-circuit: content too narrow for trustworthy generation.
	if placement.Width < c.cfg.OutpaintMinWidthForGeneration {
		return &BuildResult{
			Image:           safeComposite,
			Placement:       placement,
			AdapterName:     adapterName,
			FallbackApplied: true,
			FallbackReason:  "outpaint skipped by width policy",
			SafetyPassed:    true,
			SafetyMessage:   "safe padding path",
		}, nil
	}

	protected, generation := imaging.Masks(targetW, targetH, placement)

	attempts := max(1, c.cfg.OutpaintMaxAttempts)
	if opts.FastMode {
		attempts = 1
	}
	steps := c.cfg.OutpaintSteps
	if opts.FastMode {
		steps = c.cfg.OutpaintFastSteps
	}

	lastReason := "unknown outpaint failure"
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("canvas: build canceled: %w", err)
		}

		candidate, err := c.outpainter.Outpaint(ctx, safeComposite, generation, generate.OutpaintOptions{
			Steps:    steps,
			FastMode: opts.FastMode,
		})
		if err != nil {
			lastReason = fmt.Sprintf("outpaint execution failed: %v", err)
			c.logger.Warn("outpaint attempt failed",
				zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		// Force-restore the protected rectangle regardless of what the
		// adapter returned. Independent of the validator below.
		candidate = imaging.RestoreRegion(candidate, safeComposite, placement)

		if opts.FastMode {
			candidate = imaging.RampBlendTowardBase(candidate, safeComposite, placement)
		}

		if reason, ok := c.validate(ctx, safeComposite, candidate, protected, generation, opts); !ok {
			lastReason = reason
			c.logger.Warn("outpaint candidate rejected",
				zap.Int("attempt", attempt), zap.String("reason", reason))
			continue
		}

		if !c.outpainter.Generative() {
			// Reference adapters exist for pipeline wiring only; their
			// output is never ship-worthy even when every check passed.
			return &BuildResult{
				Image:           safeComposite,
				Placement:       placement,
				AdapterName:     adapterName,
				FallbackApplied: true,
				FallbackReason:  fmt.Sprintf("%s adapter selected; forced safe background fallback", adapterName),
				SafetyPassed:    true,
				SafetyMessage:   "non-generative adapter output replaced by safe composite",
			}, nil
		}

		c.logger.Info("outpaint accepted",
			zap.Int("attempt", attempt), zap.String("adapter", adapterName))
		return &BuildResult{
			Image:         candidate,
			Placement:     placement,
			UsedOutpaint:  true,
			AdapterName:   adapterName,
			SafetyPassed:  true,
			SafetyMessage: "outpaint accepted",
		}, nil
	}

	return &BuildResult{
		Image:           safeComposite,
		Placement:       placement,
		AdapterName:     adapterName,
		FallbackApplied: true,
		FallbackReason:  lastReason,
		SafetyPassed:    false,
		SafetyMessage:   "outpaint attempts exhausted, fallback applied",
	}, nil
}

// composeSafe builds the non-generative safe composite: policy-selected
// background plus the centered photo, with an optional seam blend.
func (c *Compositor) composeSafe(source, resized *imaging.Image, p imaging.Placement) *imaging.Image {
	var background *imaging.Image
	if c.cfg.BackgroundStyle == "reflect" {
		background = imaging.ReflectBackground(resized, c.cfg.TargetWidth, c.cfg.TargetHeight, p)
	} else {
		background = imaging.CoverBackground(source, c.cfg.TargetWidth, c.cfg.TargetHeight, blurRadius)
	}
	composite := imaging.ComposeCenter(background, resized, p)
	if c.cfg.CanvasEdgeBlendPx > 0 && p.Width < c.cfg.TargetWidth {
		composite = imaging.EdgeBlend(composite, background, p, c.cfg.CanvasEdgeBlendPx)
	}
	return composite
}

// validate runs the acceptance chain in order, short-circuiting on the
// first failure. Non-generative adapters only face the protected-region
// check; generative ones face the full chain.
func (c *Compositor) validate(ctx context.Context, base, candidate *imaging.Image, protected, generation *imaging.Mask, opts BuildOptions) (string, bool) {
	res := safety.CheckProtectedRegionUnchanged(base, candidate, protected, safety.ProtectedRegionOptions{
		DiffThreshold:   c.cfg.Safety.DiffThreshold,
		MaxChangedRatio: c.cfg.Safety.MaxChangedRatio,
	})
	if !res.Passed {
		return res.Reason, false
	}

	if !c.outpainter.Generative() {
		return "", true
	}

	if opts.EnableAnimalDetection {
		res = safety.CheckNoNewAnimals(ctx, candidate, generation, c.detector, c.cfg.StrictSafetyChecks)
		if !res.Passed {
			return res.Reason, false
		}
	}

	res = safety.CheckBoundaryContinuity(candidate, protected, generation, safety.BoundaryOptions{
		MaxMeanDiff:  c.cfg.Safety.BoundaryMaxMeanDiff,
		MaxP95Diff:   c.cfg.Safety.BoundaryMaxP95Diff,
		MinPairCount: c.cfg.Safety.BoundaryMinPairCount,
	})
	if !res.Passed {
		return res.Reason, false
	}

	res = safety.CheckGeneratedRegionNaturalness(candidate, protected, generation, safety.NaturalnessOptions{
		RefBandWidth:        c.cfg.Safety.NaturalnessRefBandWidth,
		MinPixelsPerSide:    c.cfg.Safety.NaturalnessMinPixels,
		MaxMeanDeltaNorm:    c.cfg.Safety.NaturalnessMaxMeanDelta,
		MaxStdDeltaNorm:     c.cfg.Safety.NaturalnessMaxStdDelta,
		MaxGradRatio:        c.cfg.Safety.NaturalnessMaxGradRatio,
		MaxEdgeDensityRatio: c.cfg.Safety.NaturalnessMaxEdgeRatio,
		EdgeThreshold:       c.cfg.Safety.NaturalnessEdgeThreshold,
	})
	if !res.Passed {
		return res.Reason, false
	}

	return "", true
}
