// Package pipeline sequences the full memorial video build: canvases for
// every photo, transitions between adjacent photos, the terminal clip and
// the final render. The orchestrator owns sequencing, progress reporting,
// cooperative cancellation and aggregate bookkeeping; generation and safety
// logic live in the canvas and transition packages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stillframe/memorialtube/internal/canvas"
	"github.com/stillframe/memorialtube/internal/config"
	"github.com/stillframe/memorialtube/internal/transition"
)

// Stage identifies a pipeline stage, in execution order.
type Stage int

const (
	StagePrepare Stage = iota
	StageCanvas
	StageTransition
	StageLastClip
	StageRender
	StageCompleted
)

func (s Stage) String() string {
	names := [...]string{
		"prepare",
		"canvas",
		"transition",
		"last_clip",
		"render",
		"completed",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// Fixed progress sub-ranges per stage on the overall 0-100 scale. Item
// loops subdivide their range evenly, so percentages are deterministic and
// monotonically non-decreasing.
var stageRanges = map[Stage][2]int{
	StagePrepare:    {0, 2},
	StageCanvas:     {2, 40},
	StageTransition: {40, 75},
	StageLastClip:   {75, 85},
	StageRender:     {85, 99},
	StageCompleted:  {100, 100},
}

// Policy errors surfaced verbatim as hard run failures.
var (
	ErrNoImages      = errors.New("pipeline: image list must not be empty")
	ErrMissingPrompt = errors.New("pipeline: transition prompt is required")
)

// ProgressFunc receives stage progress. Implemented by the caller.
type ProgressFunc func(stage string, percent int, detail string)

// CancelCheck is polled at defined points; returning a non-nil error aborts
// the run. Implemented by the caller.
type CancelCheck func() error

// Request describes one full pipeline run.
type Request struct {
	ImagePaths      []string
	WorkingDir      string
	FinalOutputPath string

	TransitionDurationSeconds int
	TransitionPrompt          string
	TransitionNegativePrompt  string

	LastClipDurationSeconds int
	LastClipMotionStyle     string

	BGMPath   string
	BGMVolume float64

	FastMode              bool
	EnableAnimalDetection bool
}

// RunSummary is the orchestrator's terminal output.
type RunSummary struct {
	RunID           string
	FinalOutputPath string
	CanvasPaths     []string
	TransitionPaths []string
	LastClipPath    string

	FallbackCount           int
	CanvasFallbackCount     int
	TransitionFallbackCount int
	SafetyFailedCount       int
}

// CanvasBuilder is the slice of the canvas compositor the orchestrator uses.
type CanvasBuilder interface {
	BuildFile(ctx context.Context, photoPath, outputPath string, opts canvas.BuildOptions) (*canvas.BuildResult, error)
}

// TransitionBuilder is the slice of the transition generator the
// orchestrator uses.
type TransitionBuilder interface {
	Build(ctx context.Context, req transition.Request) (*transition.BuildResult, error)
}

// Renderer is the slice of the external encoder the orchestrator uses for
// the terminal clip and the final render.
type Renderer interface {
	LastClip(ctx context.Context, imagePath, outputPath string, durationSeconds int, motionStyle string) error
	Concat(ctx context.Context, clipPaths []string, outputPath, bgmPath string, bgmVolume float64) error
}

// Orchestrator runs pipelines. One run executes single-threaded; separate
// runs may execute concurrently in separate workers with no shared state.
type Orchestrator struct {
	cfg         config.Config
	canvases    CanvasBuilder
	transitions TransitionBuilder
	renderer    Renderer
	logger      *zap.Logger
}

// New wires an orchestrator.
func New(cfg config.Config, canvases CanvasBuilder, transitions TransitionBuilder, renderer Renderer, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:         cfg,
		canvases:    canvases,
		transitions: transitions,
		renderer:    renderer,
		logger:      logger,
	}
}

// Run executes the full pipeline for the request. Policy violations,
// cancellation and encoder failures are hard errors; safety failures
// inside the stages degrade to deterministic artifacts and are only
// reflected in the summary counters.
func (o *Orchestrator) Run(ctx context.Context, req Request, onProgress ProgressFunc, checkCancel CancelCheck) (*RunSummary, error) {
	if onProgress == nil {
		onProgress = func(string, int, string) {}
	}
	if checkCancel == nil {
		checkCancel = func() error { return nil }
	}

	if len(req.ImagePaths) == 0 {
		return nil, ErrNoImages
	}
	if strings.TrimSpace(req.TransitionPrompt) == "" {
		return nil, ErrMissingPrompt
	}
	for _, p := range req.ImagePaths {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("pipeline: input image not found: %s: %w", p, err)
		}
	}
	if req.LastClipDurationSeconds <= 0 {
		req.LastClipDurationSeconds = 6
	}
	if req.LastClipMotionStyle == "" {
		req.LastClipMotionStyle = "zoom_in"
	}

	summary := &RunSummary{
		RunID:           uuid.NewString(),
		FinalOutputPath: req.FinalOutputPath,
	}
	logger := o.logger.With(zap.String("run_id", summary.RunID))
	logger.Info("pipeline run starting",
		zap.Int("images", len(req.ImagePaths)),
		zap.String("output", req.FinalOutputPath))

	// prepare
	if err := o.poll(checkCancel); err != nil {
		return nil, err
	}
	onProgress(StagePrepare.String(), stageRanges[StagePrepare][0], "validating inputs")
	for _, sub := range []string{"canvas", "transitions", "last", "render"} {
		if err := os.MkdirAll(filepath.Join(req.WorkingDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("pipeline: prepare working dir: %w", err)
		}
	}
	onProgress(StagePrepare.String(), stageRanges[StagePrepare][1], "working directories ready")

	// canvas loop
	if err := o.runCanvasStage(ctx, req, summary, onProgress, checkCancel, logger); err != nil {
		return nil, err
	}

	// transition loop (only with at least two images)
	if err := o.runTransitionStage(ctx, req, summary, onProgress, checkCancel, logger); err != nil {
		return nil, err
	}

	// last clip
	if err := o.poll(checkCancel); err != nil {
		return nil, err
	}
	onProgress(StageLastClip.String(), stageRanges[StageLastClip][0], "building terminal clip")
	lastSource := summary.CanvasPaths[len(summary.CanvasPaths)-1]
	summary.LastClipPath = filepath.Join(req.WorkingDir, "last", "last_clip.mp4")
	if err := o.renderer.LastClip(ctx, lastSource, summary.LastClipPath, req.LastClipDurationSeconds, req.LastClipMotionStyle); err != nil {
		return nil, err
	}
	onProgress(StageLastClip.String(), stageRanges[StageLastClip][1], summary.LastClipPath)

	// final render
	if err := o.poll(checkCancel); err != nil {
		return nil, err
	}
	onProgress(StageRender.String(), stageRanges[StageRender][0], "concatenating clips")
	clips := append(append([]string{}, summary.TransitionPaths...), summary.LastClipPath)
	if err := o.renderer.Concat(ctx, clips, req.FinalOutputPath, req.BGMPath, req.BGMVolume); err != nil {
		return nil, err
	}
	onProgress(StageRender.String(), stageRanges[StageRender][1], req.FinalOutputPath)

	onProgress(StageCompleted.String(), 100, req.FinalOutputPath)
	logger.Info("pipeline run completed",
		zap.Int("fallbacks", summary.FallbackCount),
		zap.Int("safety_failures", summary.SafetyFailedCount))
	return summary, nil
}

func (o *Orchestrator) runCanvasStage(ctx context.Context, req Request, summary *RunSummary, onProgress ProgressFunc, checkCancel CancelCheck, logger *zap.Logger) error {
	lo, hi := stageRanges[StageCanvas][0], stageRanges[StageCanvas][1]
	total := len(req.ImagePaths)
	onProgress(StageCanvas.String(), lo, fmt.Sprintf("0/%d canvases", total))

	opts := canvas.BuildOptions{
		FastMode:              req.FastMode,
		EnableAnimalDetection: req.EnableAnimalDetection,
	}
	for i, photo := range req.ImagePaths {
		if err := o.poll(checkCancel); err != nil {
			return err
		}
		outPath := filepath.Join(req.WorkingDir, "canvas", fmt.Sprintf("canvas_%04d.jpg", i))
		result, err := o.canvases.BuildFile(ctx, photo, outPath, opts)
		if err != nil {
			return err
		}
		summary.CanvasPaths = append(summary.CanvasPaths, outPath)
		if result.FallbackApplied {
			summary.FallbackCount++
			summary.CanvasFallbackCount++
		}
		if !result.SafetyPassed {
			summary.SafetyFailedCount++
		}
		logger.Info("canvas built",
			zap.Int("index", i),
			zap.Bool("used_outpaint", result.UsedOutpaint),
			zap.Bool("fallback", result.FallbackApplied),
			zap.String("adapter", result.AdapterName))
		onProgress(StageCanvas.String(), subPercent(lo, hi, i+1, total), fmt.Sprintf("%d/%d canvases", i+1, total))
	}
	return nil
}

func (o *Orchestrator) runTransitionStage(ctx context.Context, req Request, summary *RunSummary, onProgress ProgressFunc, checkCancel CancelCheck, logger *zap.Logger) error {
	lo, hi := stageRanges[StageTransition][0], stageRanges[StageTransition][1]
	total := len(summary.CanvasPaths) - 1
	if total < 1 {
		onProgress(StageTransition.String(), hi, "skipped: single image")
		return nil
	}
	onProgress(StageTransition.String(), lo, fmt.Sprintf("0/%d transitions", total))

	for i := 0; i < total; i++ {
		if err := o.poll(checkCancel); err != nil {
			return err
		}
		outPath := filepath.Join(req.WorkingDir, "transitions", fmt.Sprintf("transition_%04d.mp4", i))
		result, err := o.transitions.Build(ctx, transition.Request{
			ImageA:          summary.CanvasPaths[i],
			ImageB:          summary.CanvasPaths[i+1],
			OutputPath:      outPath,
			DurationSeconds: req.TransitionDurationSeconds,
			Prompt:          req.TransitionPrompt,
			NegativePrompt:  req.TransitionNegativePrompt,
		})
		if err != nil {
			return err
		}
		summary.TransitionPaths = append(summary.TransitionPaths, result.OutputPath)
		if result.FallbackApplied {
			summary.FallbackCount++
			summary.TransitionFallbackCount++
		}
		if !result.SafetyPassed {
			summary.SafetyFailedCount++
		}
		logger.Info("transition built",
			zap.Int("index", i),
			zap.Bool("generative", result.UsedGenerative),
			zap.Bool("fallback", result.FallbackApplied))
		onProgress(StageTransition.String(), subPercent(lo, hi, i+1, total), fmt.Sprintf("%d/%d transitions", i+1, total))
	}
	return nil
}

// poll invokes the cancellation check; a non-nil result aborts the run and
// is never converted into a fallback.
func (o *Orchestrator) poll(checkCancel CancelCheck) error {
	if err := checkCancel(); err != nil {
		return fmt.Errorf("pipeline: run canceled: %w", err)
	}
	return nil
}

// subPercent maps item completion onto the [lo, hi] stage range.
func subPercent(lo, hi, done, total int) int {
	if total <= 0 {
		return hi
	}
	return lo + (hi-lo)*done/total
}
