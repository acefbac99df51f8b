package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 1600, cfg.TargetWidth)
	assert.Equal(t, 900, cfg.TargetHeight)
	assert.Equal(t, 24, cfg.TargetFPS)
	assert.Equal(t, "yuv420p", cfg.OutputPixelFormat)
	assert.True(t, cfg.StrictSafetyChecks)
	assert.Equal(t, "blur", cfg.BackgroundStyle)
	assert.Equal(t, 900, cfg.OutpaintMinWidthForGeneration)
	assert.Equal(t, 2, cfg.OutpaintMaxAttempts)
	assert.Equal(t, 8, cfg.Safety.DiffThreshold)
	assert.InDelta(t, 0.001, cfg.Safety.MaxChangedRatio, 1e-12)
	assert.InDelta(t, 34.0, cfg.Safety.BoundaryMaxMeanDiff, 1e-12)
	assert.Equal(t, 8, cfg.TransitionGenerationStep)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	data := `
targetWidth: 1280
targetHeight: 720
backgroundStyle: reflect
strictSafetyChecks: false
safety:
  diffThreshold: 12
outpaintEndpoint: http://localhost:9000/outpaint
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "memorialtube.yml"), []byte(data), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 1280, cfg.TargetWidth)
	assert.Equal(t, 720, cfg.TargetHeight)
	assert.Equal(t, "reflect", cfg.BackgroundStyle)
	assert.False(t, cfg.StrictSafetyChecks)
	assert.Equal(t, 12, cfg.Safety.DiffThreshold)
	assert.Equal(t, "http://localhost:9000/outpaint", cfg.OutpaintEndpoint)

	// Untouched keys keep their defaults.
	assert.Equal(t, 24, cfg.TargetFPS)
	assert.InDelta(t, 86.0, cfg.Safety.BoundaryMaxP95Diff, 1e-12)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "memorialtube.yml"), []byte("targetWidth: [oops"), 0o644))
	_, err := Load(dir)
	assert.Error(t, err)
}
