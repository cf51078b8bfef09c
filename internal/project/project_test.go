package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopatch/internal/calibration"
)

func TestNew(t *testing.T) {
	p := New("slice 3")
	assert.Equal(t, "slice 3", p.Name)
	assert.Equal(t, CurrentVersion, p.Version)
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, p.Created, p.Modified)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rig.patchproj")
	p := New("rig")
	p.Unit = &calibration.Snapshot{
		Matrix: [][]float64{{1, 0, 0.5}, {0, 1, 0}, {0.5, 0, -1}},
		Offset: [3]float64{-3, 4, 12.5},
	}
	p.Stage = &calibration.Snapshot{
		Matrix: [][]float64{{1, 0}, {0, 1}, {0, 0}},
	}
	p.CleaningBath = []float64{1000, 200, 300}
	p.RinsingBath = []float64{1500, 250, 350}
	p.Targets = []r3.Vector{{X: 1, Y: 2, Z: -30}}
	require.NoError(t, p.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Unit, got.Unit)
	assert.Equal(t, p.Stage, got.Stage)
	assert.Equal(t, p.CleaningBath, got.CleaningBath)
	assert.Equal(t, p.RinsingBath, got.RinsingBath)
	assert.Equal(t, p.Targets, got.Targets)
	assert.True(t, got.Modified.Equal(p.Modified))
}

func TestLoadUncalibrated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.patchproj")
	require.NoError(t, New("empty").Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, got.Unit)
	assert.Nil(t, got.Stage)
	assert.Nil(t, got.CleaningBath)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.patchproj"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.patchproj")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))
	_, err = Load(bad)
	assert.Error(t, err)

	future := filepath.Join(dir, "future.patchproj")
	require.NoError(t, os.WriteFile(future, []byte(`{"version": 99}`), 0644))
	_, err = Load(future)
	assert.ErrorContains(t, err, "newer")
}

func TestMosaicPath(t *testing.T) {
	dir := t.TempDir()
	projPath := filepath.Join(dir, "rig.patchproj")
	p := New("rig")
	assert.Empty(t, p.GetMosaicPath(projPath))

	p.SetMosaic(projPath, filepath.Join(dir, "images", "mosaic.tiff"))
	assert.Equal(t, filepath.Join("images", "mosaic.tiff"), p.MosaicPath)
	assert.Equal(t, filepath.Join(dir, "images", "mosaic.tiff"), p.GetMosaicPath(projPath))
}
