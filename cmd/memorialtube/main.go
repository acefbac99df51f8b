package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/stillframe/memorialtube/internal/canvas"
	"github.com/stillframe/memorialtube/internal/config"
	"github.com/stillframe/memorialtube/internal/encoder"
	"github.com/stillframe/memorialtube/internal/generate"
	"github.com/stillframe/memorialtube/internal/pipeline"
	"github.com/stillframe/memorialtube/internal/transition"
)

// CLI flags parsed from command line.
type cliFlags struct {
	Images             string
	Output             string
	WorkDir            string
	ConfigDir          string
	TransitionDuration int
	Prompt             string
	NegativePrompt     string
	LastDuration       int
	LastMotion         string
	BGM                string
	BGMVolume          float64
	Fast               bool
	DetectAnimals      bool
	Verbose            bool
	Version            bool
}

// version is set by goreleaser at build time.
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var flags cliFlags

	fs := flag.NewFlagSet("memorialtube", flag.ContinueOnError)
	fs.StringVar(&flags.Images, "images", "", "comma-separated photo paths, in playback order")
	fs.StringVar(&flags.Output, "output", "memorial.mp4", "final video output path")
	fs.StringVar(&flags.WorkDir, "work-dir", "", "working directory for intermediate artifacts")
	fs.StringVar(&flags.ConfigDir, "config-dir", ".", "directory containing memorialtube.yml")
	fs.IntVar(&flags.TransitionDuration, "transition-duration", 6, "transition length in seconds (6 or 10)")
	fs.StringVar(&flags.Prompt, "prompt", "", "generation prompt for transitions")
	fs.StringVar(&flags.NegativePrompt, "negative-prompt", "", "negative prompt for transitions")
	fs.IntVar(&flags.LastDuration, "last-duration", 6, "terminal clip length in seconds")
	fs.StringVar(&flags.LastMotion, "last-motion", "zoom_in", "terminal clip motion: zoom_in, zoom_out or none")
	fs.StringVar(&flags.BGM, "bgm", "", "background music path (looped under the video)")
	fs.Float64Var(&flags.BGMVolume, "bgm-volume", 0.3, "background music volume multiplier")
	fs.BoolVar(&flags.Fast, "fast", false, "fast mode: single generation attempt, fewer steps")
	fs.BoolVar(&flags.DetectAnimals, "detect-animals", false, "enable the no-new-animals validator on canvases")
	fs.BoolVar(&flags.Verbose, "verbose", false, "enable verbose output")
	fs.BoolVar(&flags.Version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if flags.Version {
		fmt.Println(version)
		return nil
	}

	images := splitImages(flags.Images)
	if len(images) == 0 {
		return fmt.Errorf("at least one -images path is required")
	}

	cfg, err := config.Load(flags.ConfigDir)
	if err != nil {
		return err
	}

	logger, err := newLogger(flags.Verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	workDir := flags.WorkDir
	if workDir == "" {
		workDir, err = os.MkdirTemp("", "memorialtube_")
		if err != nil {
			return fmt.Errorf("create working dir: %w", err)
		}
		defer os.RemoveAll(workDir)
	}

	registry := generate.DefaultRegistry(cfg, logger)
	enc := encoder.New(cfg, logger)
	orchestrator := pipeline.New(
		cfg,
		canvas.NewCompositor(cfg, registry.Outpainter(), registry.Detector(), logger),
		transition.NewGenerator(cfg, registry.FrameGenerator(), registry.Detector(), enc, logger),
		enc,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reporter := pipeline.NewProgressReporter()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for event := range reporter.Subscribe() {
			fmt.Println(pipeline.FormatProgress(event))
		}
	}()

	summary, err := orchestrator.Run(ctx, pipeline.Request{
		ImagePaths:                images,
		WorkingDir:                workDir,
		FinalOutputPath:           flags.Output,
		TransitionDurationSeconds: flags.TransitionDuration,
		TransitionPrompt:          flags.Prompt,
		TransitionNegativePrompt:  flags.NegativePrompt,
		LastClipDurationSeconds:   flags.LastDuration,
		LastClipMotionStyle:       flags.LastMotion,
		BGMPath:                   flags.BGM,
		BGMVolume:                 flags.BGMVolume,
		FastMode:                  flags.Fast,
		EnableAnimalDetection:     flags.DetectAnimals,
	}, reporter.Emit, ctx.Err)

	reporter.Close()
	wg.Wait()
	if err != nil {
		return err
	}

	fmt.Printf("done: %s (run %s, %d fallbacks, %d safety failures)\n",
		summary.FinalOutputPath, summary.RunID, summary.FallbackCount, summary.SafetyFailedCount)
	return nil
}

func splitImages(list string) []string {
	var out []string
	for _, p := range strings.Split(list, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
