package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the process-wide, read-only settings for a pipeline run.
// Values not present in the config file keep their defaults.
type Config struct {
	// Canvas geometry and output format.
	TargetWidth       int    `yaml:"targetWidth,omitempty"`
	TargetHeight      int    `yaml:"targetHeight,omitempty"`
	TargetFPS         int    `yaml:"targetFps,omitempty"`
	OutputPixelFormat string `yaml:"outputPixelFormat,omitempty"`
	OutputVideoCodec  string `yaml:"outputVideoCodec,omitempty"`
	FFmpegPath        string `yaml:"ffmpegPath,omitempty"`

	// Safety policy.
	StrictSafetyChecks bool   `yaml:"strictSafetyChecks"`
	Safety             Safety `yaml:"safety,omitempty"`

	// Canvas composition policy.
	BackgroundStyle               string `yaml:"backgroundStyle,omitempty"` // blur | reflect
	CanvasEdgeBlendPx             int    `yaml:"canvasEdgeBlendPx,omitempty"`
	OutpaintMinWidthForGeneration int    `yaml:"outpaintMinWidthForGeneration,omitempty"`
	OutpaintMaxAttempts           int    `yaml:"outpaintMaxAttempts,omitempty"`

	// Outpaint capability.
	OutpaintProvider       string `yaml:"outpaintProvider,omitempty"` // auto | remote | mirror
	OutpaintEndpoint       string `yaml:"outpaintEndpoint,omitempty"`
	OutpaintPrompt         string `yaml:"outpaintPrompt,omitempty"`
	OutpaintNegativePrompt string `yaml:"outpaintNegativePrompt,omitempty"`
	OutpaintSteps          int    `yaml:"outpaintSteps,omitempty"`
	OutpaintFastSteps      int    `yaml:"outpaintFastSteps,omitempty"`

	// Animal detector capability.
	DetectorProvider   string  `yaml:"detectorProvider,omitempty"` // auto | remote | null
	DetectorEndpoint   string  `yaml:"detectorEndpoint,omitempty"`
	DetectorConfidence float64 `yaml:"detectorConfidence,omitempty"`

	// Transition generation.
	TransitionProvider            string `yaml:"transitionProvider,omitempty"` // auto | remote | classic
	TransitionEndpoint            string `yaml:"transitionEndpoint,omitempty"`
	TransitionMaxAttempts         int    `yaml:"transitionMaxAttempts,omitempty"`
	TransitionGenerationStep      int    `yaml:"transitionGenerationStep,omitempty"`
	TransitionSafetySampleStep    int    `yaml:"transitionSafetySampleStep,omitempty"`
	TransitionAllowedExtraAnimals int    `yaml:"transitionAllowedExtraAnimals,omitempty"`
}

// Safety groups the numeric thresholds of the safety validators.
type Safety struct {
	DiffThreshold            int     `yaml:"diffThreshold,omitempty"`
	MaxChangedRatio          float64 `yaml:"maxChangedRatio,omitempty"`
	BoundaryMaxMeanDiff      float64 `yaml:"boundaryMaxMeanDiff,omitempty"`
	BoundaryMaxP95Diff       float64 `yaml:"boundaryMaxP95Diff,omitempty"`
	BoundaryMinPairCount     int     `yaml:"boundaryMinPairCount,omitempty"`
	NaturalnessRefBandWidth  int     `yaml:"naturalnessRefBandWidth,omitempty"`
	NaturalnessMinPixels     int     `yaml:"naturalnessMinPixels,omitempty"`
	NaturalnessMaxMeanDelta  float64 `yaml:"naturalnessMaxMeanDelta,omitempty"`
	NaturalnessMaxStdDelta   float64 `yaml:"naturalnessMaxStdDelta,omitempty"`
	NaturalnessMaxGradRatio  float64 `yaml:"naturalnessMaxGradRatio,omitempty"`
	NaturalnessMaxEdgeRatio  float64 `yaml:"naturalnessMaxEdgeRatio,omitempty"`
	NaturalnessEdgeThreshold float64 `yaml:"naturalnessEdgeThreshold,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		TargetWidth:       1600,
		TargetHeight:      900,
		TargetFPS:         24,
		OutputPixelFormat: "yuv420p",
		OutputVideoCodec:  "libx264",
		FFmpegPath:        "ffmpeg",

		StrictSafetyChecks: true,
		Safety: Safety{
			DiffThreshold:            8,
			MaxChangedRatio:          0.001,
			BoundaryMaxMeanDiff:      34.0,
			BoundaryMaxP95Diff:       86.0,
			BoundaryMinPairCount:     120,
			NaturalnessRefBandWidth:  72,
			NaturalnessMinPixels:     1800,
			NaturalnessMaxMeanDelta:  0.26,
			NaturalnessMaxStdDelta:   0.36,
			NaturalnessMaxGradRatio:  3.0,
			NaturalnessMaxEdgeRatio:  3.5,
			NaturalnessEdgeThreshold: 26.0,
		},

		BackgroundStyle:               "blur",
		CanvasEdgeBlendPx:             12,
		OutpaintMinWidthForGeneration: 900,
		OutpaintMaxAttempts:           2,

		OutpaintProvider: "auto",
		OutpaintPrompt: "clean memorial photo background extension, natural, " +
			"soft light, seamless, no extra animals",
		OutpaintNegativePrompt: "extra animal, duplicate pet, distorted subject, text, watermark",
		OutpaintSteps:          30,
		OutpaintFastSteps:      12,

		DetectorProvider:   "auto",
		DetectorConfidence: 0.25,

		TransitionProvider:            "auto",
		TransitionMaxAttempts:         2,
		TransitionGenerationStep:      8,
		TransitionSafetySampleStep:    8,
		TransitionAllowedExtraAnimals: 0,
	}
}

// Load reads memorialtube.yml or memorialtube.yaml from the given directory
// and merges it over the defaults. A missing config file is not an error:
// the defaults are returned as-is.
func Load(dir string) (Config, error) {
	cfg := Default()
	for _, name := range []string{"memorialtube.yml", "memorialtube.yaml"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
		return cfg, nil
	}
	return cfg, nil
}
