package transition

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillframe/memorialtube/internal/config"
	"github.com/stillframe/memorialtube/internal/generate"
	"github.com/stillframe/memorialtube/internal/imaging"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.TargetWidth = 160
	cfg.TargetHeight = 90
	cfg.StrictSafetyChecks = false
	return cfg
}

func uniform(w, h int, v uint8) *imaging.Image {
	im := imaging.New(w, h)
	for i := range im.Pix {
		im.Pix[i] = v
	}
	return im
}

// writeCanvas saves a canvas-sized PNG and returns its path.
func writeCanvas(t *testing.T, dir, name string, v uint8) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, imaging.SavePNG(path, uniform(160, 90, v)))
	return path
}

// stubEncoder records encode and crossfade calls instead of invoking ffmpeg.
type stubEncoder struct {
	frames         []*imaging.Image
	encodeCalls    int
	crossfadeCalls int
	encodeErr      error
}

func (s *stubEncoder) EncodeFrames(_ context.Context, frames []*imaging.Image, _ string) error {
	s.encodeCalls++
	s.frames = frames
	return s.encodeErr
}

func (s *stubEncoder) Crossfade(context.Context, string, string, string, int) error {
	s.crossfadeCalls++
	return nil
}

// stubFrameGen is an always-available frame generator echoing its input.
type stubFrameGen struct {
	err   error
	calls int
}

func (s *stubFrameGen) Name() string    { return "stub" }
func (s *stubFrameGen) Available() bool { return true }

func (s *stubFrameGen) GenerateFrame(_ context.Context, base *imaging.Image, _, _ string) (*imaging.Image, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return base.Clone(), nil
}

// interiorDetector reports a detection on every frame except the two input
// canvases, identified by their uniform fill values.
type interiorDetector struct {
	cleanValues map[uint8]bool
	calls       int
}

func (d *interiorDetector) Name() string    { return "interior" }
func (d *interiorDetector) Available() bool { return true }

func (d *interiorDetector) Detect(_ context.Context, im *imaging.Image) ([]generate.Detection, error) {
	d.calls++
	if d.cleanValues[im.Pix[0]] {
		return nil, nil
	}
	return []generate.Detection{
		{Label: "cat", Confidence: 0.9, X1: 0, Y1: 0, X2: 5, Y2: 5},
	}, nil
}

func TestBuildRejectsBadDuration(t *testing.T) {
	g := NewGenerator(testConfig(), &stubFrameGen{}, generate.NullDetector{}, &stubEncoder{}, nil)
	for _, d := range []int{0, 5, 7, 12} {
		_, err := g.Build(context.Background(), Request{DurationSeconds: d, Prompt: "p"})
		assert.ErrorIs(t, err, ErrBadDuration, "duration %d", d)
	}
}

func TestBuildRejectsBlankPrompt(t *testing.T) {
	g := NewGenerator(testConfig(), &stubFrameGen{}, generate.NullDetector{}, &stubEncoder{}, nil)
	_, err := g.Build(context.Background(), Request{DurationSeconds: 6, Prompt: "   "})
	assert.ErrorIs(t, err, ErrMissingPrompt)
}

func TestBuildClassicPathWhenAdapterUnavailable(t *testing.T) {
	dir := t.TempDir()
	enc := &stubEncoder{}
	g := NewGenerator(testConfig(), generate.IdentityFrameGenerator{}, generate.NullDetector{}, enc, nil)

	result, err := g.Build(context.Background(), Request{
		ImageA:          writeCanvas(t, dir, "a.png", 50),
		ImageB:          writeCanvas(t, dir, "b.png", 200),
		OutputPath:      filepath.Join(dir, "out.mp4"),
		DurationSeconds: 6,
		Prompt:          "gentle drift",
	})
	require.NoError(t, err)

	assert.True(t, result.FallbackApplied)
	assert.Equal(t, "generative adapter unavailable", result.FallbackReason)
	assert.True(t, result.SafetyPassed)
	assert.False(t, result.UsedGenerative)
	assert.Equal(t, 1, enc.crossfadeCalls)
	assert.Equal(t, 0, enc.encodeCalls)
}

func TestBuildGenerativeTransition(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	enc := &stubEncoder{}
	gen := &stubFrameGen{}
	g := NewGenerator(cfg, gen, generate.NullDetector{}, enc, nil)

	pathA := writeCanvas(t, dir, "a.png", 50)
	pathB := writeCanvas(t, dir, "b.png", 200)
	result, err := g.Build(context.Background(), Request{
		ImageA:          pathA,
		ImageB:          pathB,
		OutputPath:      filepath.Join(dir, "out.mp4"),
		DurationSeconds: 6,
		Prompt:          "gentle drift",
	})
	require.NoError(t, err)

	assert.True(t, result.UsedGenerative)
	assert.False(t, result.FallbackApplied)
	assert.True(t, result.SafetyPassed)
	assert.Equal(t, 1, enc.encodeCalls)
	assert.Greater(t, gen.calls, 0)

	require.Len(t, enc.frames, 6*cfg.TargetFPS)
	first, last := enc.frames[0], enc.frames[len(enc.frames)-1]
	a, err := imaging.Load(pathA)
	require.NoError(t, err)
	b, err := imaging.Load(pathB)
	require.NoError(t, err)
	assert.True(t, first.Equal(a), "first frame must be canvas A")
	assert.True(t, last.Equal(b), "last frame must be canvas B")
}

func TestBuildExtraAnimalFallsBack(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	enc := &stubEncoder{}
	// The input canvases are clean; every sampled interior frame reports
	// one extra animal.
	det := &interiorDetector{cleanValues: map[uint8]bool{50: true, 200: true}}
	g := NewGenerator(cfg, &stubFrameGen{}, det, enc, nil)

	result, err := g.Build(context.Background(), Request{
		ImageA:          writeCanvas(t, dir, "a.png", 50),
		ImageB:          writeCanvas(t, dir, "b.png", 200),
		OutputPath:      filepath.Join(dir, "out.mp4"),
		DurationSeconds: 6,
		Prompt:          "gentle drift",
	})
	require.NoError(t, err)

	assert.True(t, result.FallbackApplied)
	assert.False(t, result.SafetyPassed)
	assert.False(t, result.UsedGenerative)
	assert.Contains(t, result.FallbackReason, "extra animal detected")
	assert.Equal(t, 1, enc.crossfadeCalls)
	assert.Equal(t, 0, enc.encodeCalls)
}

func TestBuildStrictModeWithoutDetectorFallsBack(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.StrictSafetyChecks = true
	enc := &stubEncoder{}
	g := NewGenerator(cfg, &stubFrameGen{}, generate.NullDetector{}, enc, nil)

	result, err := g.Build(context.Background(), Request{
		ImageA:          writeCanvas(t, dir, "a.png", 50),
		ImageB:          writeCanvas(t, dir, "b.png", 200),
		OutputPath:      filepath.Join(dir, "out.mp4"),
		DurationSeconds: 6,
		Prompt:          "gentle drift",
	})
	require.NoError(t, err)

	assert.True(t, result.FallbackApplied)
	assert.False(t, result.SafetyPassed)
	assert.Contains(t, result.FallbackReason, "unavailable in strict mode")
	assert.Equal(t, 1, enc.crossfadeCalls)
}

func TestBuildGenerationErrorExhaustsAttempts(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	enc := &stubEncoder{}
	gen := &stubFrameGen{err: errors.New("inference service down")}
	g := NewGenerator(cfg, gen, generate.NullDetector{}, enc, nil)

	result, err := g.Build(context.Background(), Request{
		ImageA:          writeCanvas(t, dir, "a.png", 50),
		ImageB:          writeCanvas(t, dir, "b.png", 200),
		OutputPath:      filepath.Join(dir, "out.mp4"),
		DurationSeconds: 6,
		Prompt:          "gentle drift",
	})
	require.NoError(t, err)

	assert.True(t, result.FallbackApplied)
	assert.Contains(t, result.FallbackReason, "inference service down")
	assert.Equal(t, cfg.TransitionMaxAttempts, gen.calls)
	assert.Equal(t, 1, enc.crossfadeCalls)
}

func TestSampleIndices(t *testing.T) {
	assert.Nil(t, sampleIndices(2, 8))
	assert.Equal(t, []int{1}, sampleIndices(3, 8))

	// Stride sampling always includes the last interior frame.
	got := sampleIndices(144, 8)
	require.NotEmpty(t, got)
	assert.Equal(t, 1, got[0])
	assert.Equal(t, 142, got[len(got)-1])
	for _, idx := range got {
		assert.Greater(t, idx, 0)
		assert.Less(t, idx, 143)
	}
}
