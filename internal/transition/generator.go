// Package transition synthesizes the short clip between two consecutive
// canvases. Frames are cross-dissolved, optionally stylized by a generative
// capability, and accepted only after a frame-sampled safety gate; on
// exhaustion the clip degrades to a classical ffmpeg crossfade.
package transition

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/stillframe/memorialtube/internal/config"
	"github.com/stillframe/memorialtube/internal/generate"
	"github.com/stillframe/memorialtube/internal/imaging"
	"github.com/stillframe/memorialtube/internal/safety"
)

// Policy errors surfaced verbatim to the caller. Never retried.
var (
	ErrBadDuration   = errors.New("transition: duration must be 6 or 10 seconds")
	ErrMissingPrompt = errors.New("transition: prompt is required for generative transition")
)

// allowedDurations is the enumerated set of transition lengths.
var allowedDurations = map[int]bool{6: true, 10: true}

// BuildResult is the outcome of one transition build.
type BuildResult struct {
	OutputPath      string
	UsedGenerative  bool
	FallbackApplied bool
	FallbackReason  string
	SafetyPassed    bool
	SafetyMessage   string
}

// Request describes one transition build.
type Request struct {
	ImageA          string // canvas artifact of the earlier photo
	ImageB          string // canvas artifact of the later photo
	OutputPath      string
	DurationSeconds int
	Prompt          string
	NegativePrompt  string
}

// ClipEncoder is the slice of the external encoder the generator needs.
type ClipEncoder interface {
	EncodeFrames(ctx context.Context, frames []*imaging.Image, outputPath string) error
	Crossfade(ctx context.Context, imageA, imageB, outputPath string, durationSeconds int) error
}

// Generator builds transition clips. Safe for sequential reuse across runs.
type Generator struct {
	cfg      config.Config
	frameGen generate.FrameGenerator
	detector generate.Detector
	encoder  ClipEncoder
	logger   *zap.Logger
}

// NewGenerator wires a transition generator.
func NewGenerator(cfg config.Config, frameGen generate.FrameGenerator, detector generate.Detector, enc ClipEncoder, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{cfg: cfg, frameGen: frameGen, detector: detector, encoder: enc, logger: logger}
}

// Build produces the transition clip for one adjacent photo pair. Policy
// violations and encoder failures return errors; safety failures degrade to
// the classic crossfade and never error.
func (g *Generator) Build(ctx context.Context, req Request) (*BuildResult, error) {
	if !allowedDurations[req.DurationSeconds] {
		return nil, ErrBadDuration
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrMissingPrompt
	}

	frameA, err := g.loadCanvas(req.ImageA)
	if err != nil {
		return nil, err
	}
	frameB, err := g.loadCanvas(req.ImageB)
	if err != nil {
		return nil, err
	}

	// Reference adapters force the blend-free classic path outright.
	if !g.frameGen.Available() {
		if err := g.encoder.Crossfade(ctx, req.ImageA, req.ImageB, req.OutputPath, req.DurationSeconds); err != nil {
			return nil, err
		}
		return &BuildResult{
			OutputPath:      req.OutputPath,
			FallbackApplied: true,
			FallbackReason:  "generative adapter unavailable",
			SafetyPassed:    true,
			SafetyMessage:   "classic transition path",
		}, nil
	}

	totalFrames := max(2, req.DurationSeconds*g.cfg.TargetFPS)
	attempts := max(1, g.cfg.TransitionMaxAttempts)
	lastReason := "unknown generative transition failure"

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("transition: build canceled: %w", err)
		}

		frames, genErr := g.synthesizeFrames(ctx, frameA, frameB, totalFrames, req.Prompt, req.NegativePrompt)
		if genErr != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("transition: build canceled: %w", ctx.Err())
			}
			lastReason = genErr.Error()
			g.logger.Warn("transition generation attempt failed",
				zap.Int("attempt", attempt), zap.Error(genErr))
			continue
		}

		if ok, reason := g.validate(ctx, frames, frameA, frameB); !ok {
			lastReason = reason
			g.logger.Warn("transition candidate rejected",
				zap.Int("attempt", attempt), zap.String("reason", reason))
			continue
		}

		// Encoder failures are fatal here, not safety failures.
		if err := g.encoder.EncodeFrames(ctx, frames, req.OutputPath); err != nil {
			return nil, err
		}
		g.logger.Info("generative transition accepted",
			zap.Int("attempt", attempt), zap.Int("frames", len(frames)))
		return &BuildResult{
			OutputPath:     req.OutputPath,
			UsedGenerative: true,
			SafetyPassed:   true,
			SafetyMessage:  "generative transition accepted",
		}, nil
	}

	if err := g.encoder.Crossfade(ctx, req.ImageA, req.ImageB, req.OutputPath, req.DurationSeconds); err != nil {
		return nil, err
	}
	return &BuildResult{
		OutputPath:      req.OutputPath,
		FallbackApplied: true,
		FallbackReason:  lastReason,
		SafetyPassed:    false,
		SafetyMessage:   "generative attempts exhausted, classic fallback applied",
	}, nil
}

// loadCanvas loads an input image and normalizes it to the target canvas
// the same way the compositor composes its safe background.
func (g *Generator) loadCanvas(path string) (*imaging.Image, error) {
	src, err := imaging.Load(path)
	if err != nil {
		return nil, err
	}
	if src.W == g.cfg.TargetWidth && src.H == g.cfg.TargetHeight {
		return src, nil
	}
	resized, placement := imaging.FitResize(src, g.cfg.TargetWidth, g.cfg.TargetHeight)
	background := imaging.CoverBackground(src, g.cfg.TargetWidth, g.cfg.TargetHeight, 22)
	return imaging.ComposeCenter(background, resized, placement), nil
}

// synthesizeFrames builds the cross-dissolve sequence, routing every
// generation-step-th interior frame through the frame generator. The first
// and last frames are force-restored to the input canvases afterwards; that
// contract holds regardless of what the generator returned.
func (g *Generator) synthesizeFrames(ctx context.Context, frameA, frameB *imaging.Image, totalFrames int, prompt, negativePrompt string) ([]*imaging.Image, error) {
	genStep := max(1, g.cfg.TransitionGenerationStep)
	frames := make([]*imaging.Image, 0, totalFrames)

	for idx := 0; idx < totalFrames; idx++ {
		alpha := float64(idx) / float64(totalFrames-1)
		switch {
		case idx == 0:
			frames = append(frames, frameA.Clone())
		case idx == totalFrames-1:
			frames = append(frames, frameB.Clone())
		case idx%genStep != 0:
			// Keep runtime bounded: plain blend between generated keyframes.
			frames = append(frames, imaging.Blend(frameA, frameB, alpha))
		default:
			base := imaging.Blend(frameA, frameB, alpha)
			frame, err := g.frameGen.GenerateFrame(ctx, base, prompt, negativePrompt)
			if err != nil {
				return nil, fmt.Errorf("frame %d generation failed: %w", idx, err)
			}
			if !frame.SameSize(base) {
				frame = imaging.Resize(frame, base.W, base.H)
			}
			frames = append(frames, frame)
		}
	}

	frames[0] = frameA.Clone()
	frames[len(frames)-1] = frameB.Clone()
	return frames, nil
}

// validate runs the transition safety gate: exact endpoint equality plus a
// stride-sampled no-extra-animals sweep over interior frames.
func (g *Generator) validate(ctx context.Context, frames []*imaging.Image, frameA, frameB *imaging.Image) (bool, string) {
	if len(frames) == 0 {
		return false, "frames are empty"
	}

	fullMask := imaging.NewMask(frameA.W, frameA.H)
	fullMask.SetRect(0, 0, frameA.W, frameA.H)
	exact := safety.ProtectedRegionOptions{DiffThreshold: 0, MaxChangedRatio: 0}

	if res := safety.CheckProtectedRegionUnchanged(frameA, frames[0], fullMask, exact); !res.Passed {
		return false, "first frame mismatch: " + res.Reason
	}
	if res := safety.CheckProtectedRegionUnchanged(frameB, frames[len(frames)-1], fullMask, exact); !res.Passed {
		return false, "last frame mismatch: " + res.Reason
	}

	baseA, reason := g.animalCount(ctx, frameA)
	if reason != "" {
		return false, reason
	}
	baseB, reason := g.animalCount(ctx, frameB)
	if reason != "" {
		return false, reason
	}
	baseline := max(baseA, baseB)
	allowed := max(0, g.cfg.TransitionAllowedExtraAnimals)

	for _, idx := range sampleIndices(len(frames), g.cfg.TransitionSafetySampleStep) {
		count, reason := g.animalCount(ctx, frames[idx])
		if reason != "" {
			return false, reason
		}
		if count > baseline+allowed {
			return false, fmt.Sprintf("extra animal detected on frame %d: count=%d, baseline=%d, allowed=%d",
				idx, count, baseline, allowed)
		}
	}
	return true, ""
}

// animalCount returns the detection count for a frame, or a failure reason
// when the detector cannot be trusted.
func (g *Generator) animalCount(ctx context.Context, frame *imaging.Image) (int, string) {
	if !g.detector.Available() {
		if g.cfg.StrictSafetyChecks {
			return 0, "animal detector unavailable in strict mode"
		}
		return 0, ""
	}
	detections, err := g.detector.Detect(ctx, frame)
	if err != nil {
		return 0, fmt.Sprintf("animal detection failed: %v", err)
	}
	return len(detections), ""
}

// sampleIndices picks interior frame indices at the given stride, always
// including the last interior frame. Clips with two or fewer frames have no
// interior to sample.
func sampleIndices(totalFrames, step int) []int {
	if totalFrames <= 2 {
		return nil
	}
	step = max(1, step)
	seen := make(map[int]bool)
	var indices []int
	for i := 1; i < totalFrames-1; i += step {
		indices = append(indices, i)
		seen[i] = true
	}
	if last := totalFrames - 2; !seen[last] {
		indices = append(indices, last)
	}
	return indices
}
