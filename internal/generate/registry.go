package generate

import (
	"sync"

	"go.uber.org/zap"

	"github.com/stillframe/memorialtube/internal/config"
)

// Registry resolves and caches one adapter instance per capability.
// Construction is idempotent: the first call per capability builds the
// adapter from the provider policy, later calls reuse it. Adapters are
// read-only after construction and safe to share across sequential runs.
type Registry struct {
	cfg    config.Config
	logger *zap.Logger

	mu         sync.Mutex
	outpainter Outpainter
	detector   Detector
	frameGen   FrameGenerator
}

// NewRegistry creates an empty registry for the given configuration.
func NewRegistry(cfg config.Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{cfg: cfg, logger: logger}
}

// Outpainter resolves the active outpaint adapter.
// Policy: "mirror" forces the reference adapter; "remote" requires an
// endpoint; "auto" picks remote when an endpoint is configured, else mirror.
func (r *Registry) Outpainter() Outpainter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outpainter == nil {
		r.outpainter = r.buildOutpainter()
		r.logger.Info("outpaint adapter resolved",
			zap.String("provider", r.cfg.OutpaintProvider),
			zap.String("adapter", r.outpainter.Name()))
	}
	return r.outpainter
}

func (r *Registry) buildOutpainter() Outpainter {
	switch r.cfg.OutpaintProvider {
	case "mirror", "none":
		return MirrorOutpainter{}
	case "remote":
		return NewRemoteOutpainter(r.cfg.OutpaintEndpoint, r.cfg.OutpaintPrompt, r.cfg.OutpaintNegativePrompt, r.logger)
	default: // auto
		if r.cfg.OutpaintEndpoint != "" {
			return NewRemoteOutpainter(r.cfg.OutpaintEndpoint, r.cfg.OutpaintPrompt, r.cfg.OutpaintNegativePrompt, r.logger)
		}
		return MirrorOutpainter{}
	}
}

// Detector resolves the active animal detector.
func (r *Registry) Detector() Detector {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.detector == nil {
		r.detector = r.buildDetector()
		r.logger.Info("animal detector resolved",
			zap.String("provider", r.cfg.DetectorProvider),
			zap.String("adapter", r.detector.Name()))
	}
	return r.detector
}

func (r *Registry) buildDetector() Detector {
	switch r.cfg.DetectorProvider {
	case "null", "none":
		return NullDetector{}
	case "remote":
		return NewRemoteDetector(r.cfg.DetectorEndpoint, r.cfg.DetectorConfidence, r.logger)
	default: // auto
		if r.cfg.DetectorEndpoint != "" {
			return NewRemoteDetector(r.cfg.DetectorEndpoint, r.cfg.DetectorConfidence, r.logger)
		}
		return NullDetector{}
	}
}

// FrameGenerator resolves the active transition frame generator.
func (r *Registry) FrameGenerator() FrameGenerator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frameGen == nil {
		r.frameGen = r.buildFrameGenerator()
		r.logger.Info("transition frame generator resolved",
			zap.String("provider", r.cfg.TransitionProvider),
			zap.String("adapter", r.frameGen.Name()))
	}
	return r.frameGen
}

func (r *Registry) buildFrameGenerator() FrameGenerator {
	switch r.cfg.TransitionProvider {
	case "classic", "none":
		return IdentityFrameGenerator{}
	case "remote":
		return NewRemoteFrameGenerator(r.cfg.TransitionEndpoint, r.logger)
	default: // auto
		if r.cfg.TransitionEndpoint != "" {
			return NewRemoteFrameGenerator(r.cfg.TransitionEndpoint, r.logger)
		}
		return IdentityFrameGenerator{}
	}
}

// Reset drops all cached adapters so the next resolution reconstructs them.
// Intended for tests that swap provider policy mid-process.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outpainter = nil
	r.detector = nil
	r.frameGen = nil
}

// defaultRegistry is the process-wide registry used when callers do not
// construct their own.
var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// DefaultRegistry returns the process-wide registry, creating it on first
// use with the given configuration. Subsequent calls ignore cfg.
func DefaultRegistry(cfg config.Config, logger *zap.Logger) *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry(cfg, logger)
	}
	return defaultRegistry
}

// ResetDefaultRegistry clears the process-wide registry. Intended for tests.
func ResetDefaultRegistry() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = nil
}
