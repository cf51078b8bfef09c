package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rig.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
patch:
  gigaseal_R: 2.0e9
  seal_deadline: 120s
  Vramp_amplitude: -0.05
calibration:
  rounds: 4
  limits:
    2: {min: -100, max: 100}
rig:
  targets:
    - [10, 20, -5]
  cleaning_bath: [1000, 0, -200]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2e9, cfg.Patch.GigasealR)
	assert.Equal(t, 120*time.Second, cfg.Patch.SealDeadline)
	assert.Equal(t, -0.05, cfg.Patch.VrampAmplitude)
	assert.Equal(t, 4, cfg.Calibration.Rounds)
	assert.Equal(t, Limits{Min: -100, Max: 100}, cfg.Calibration.Limits[2])
	require.Len(t, cfg.Rig.Targets, 1)
	assert.Equal(t, 20.0, cfg.Rig.Targets[0].Vector().Y)
	require.NotNil(t, cfg.Rig.CleaningBath)
	assert.Nil(t, cfg.Rig.RinsingBath)

	// Untouched values keep their defaults.
	assert.Equal(t, 300e6, cfg.Patch.MaxCellR)
	assert.Equal(t, 15*time.Second, cfg.Patch.SealMinTime)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Patch, cfg.Patch)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "patch:\n  gigaseal: 1e9\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"seal min time past deadline", func(c *Config) { c.Patch.SealMinTime = 2 * c.Patch.SealDeadline }},
		{"min above max", func(c *Config) { c.Patch.MinR = c.Patch.MaxR }},
		{"cell resistance above gigaseal", func(c *Config) { c.Patch.MaxCellR = 2e9 }},
		{"ramp sign mismatch", func(c *Config) { c.Patch.PressureRampIncrement = 25 }},
		{"no approach steps", func(c *Config) { c.Patch.MaxDistance = 0 }},
		{"zero tolerance", func(c *Config) { c.Calibration.PositionTolerance = 0 }},
		{"inverted limits", func(c *Config) { c.Calibration.Limits = map[int]Limits{0: {Min: 1, Max: -1}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestStackOffsets(t *testing.T) {
	c := Default().Calibration
	assert.Equal(t, []float64{-5, -4, -3, -2, -1, 0, 1, 2, 3, 4, 5}, c.StackOffsets())

	c.StackRange, c.StackStep = 1, 0.5
	assert.Equal(t, []float64{-1, -0.5, 0, 0.5, 1}, c.StackOffsets())
}

func TestCalibrationOptions(t *testing.T) {
	c := Default().Calibration
	c.Limits = map[int]Limits{1: {Min: -5, Max: 5}}
	opts := c.Options("left", nil)
	assert.Equal(t, "left", opts.Name)
	assert.Equal(t, c.Rounds, opts.Rounds)
	assert.Len(t, opts.StackOffsets, 11)
	assert.True(t, opts.Limits[1].Contains(4))
	assert.False(t, opts.Limits[1].Contains(6))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Patch.Zap = true
	bath := Vec3{1, 2, 3}
	cfg.Rig.RinsingBath = &bath
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
