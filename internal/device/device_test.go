package device_test

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopatch/internal/device"
	"autopatch/internal/device/sim"
)

func newWorld(t *testing.T) *sim.World {
	t.Helper()
	cfg := sim.DefaultWorld()
	cfg.Width, cfg.Height = 40, 30
	w, err := sim.NewWorld(cfg, nil)
	require.NoError(t, err)
	return w
}

func TestStackRestoresFocus(t *testing.T) {
	w := newWorld(t)
	cam := sim.NewCamera(w)
	start := w.Microscope.Focus()

	calls := 0
	frames, err := device.Stack(context.Background(), cam, w.Microscope, []float64{start - 1, start, start + 1}, func(img *image.Gray) *image.Gray {
		calls++
		return img
	})
	require.NoError(t, err)
	assert.Len(t, frames, 3)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []float64{start - 1, start, start + 1, start}, w.Microscope.Moves())
	assert.Equal(t, start, w.Microscope.Focus())
}

func TestStackFailureStillRestores(t *testing.T) {
	w := newWorld(t)
	cam := sim.NewCamera(w)
	start := w.Microscope.Focus()

	w.Faults.FailAt(2)
	_, err := device.Stack(context.Background(), cam, w.Microscope, []float64{start + 1, start + 2, start + 3}, nil)
	require.ErrorIs(t, err, sim.ErrInjected)
	assert.Equal(t, start, w.Microscope.Focus())
}

func TestGoToFloor(t *testing.T) {
	mic := sim.NewMicroscope(3, nil)
	assert.ErrorIs(t, device.GoToFloor(context.Background(), mic), device.ErrNoFloor)

	mic.SetFloor(-40)
	require.NoError(t, device.GoToFloor(context.Background(), mic))
	assert.Equal(t, -40.0, mic.Focus())
}

func TestAllAxes(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, device.AllAxes(3))
	assert.Empty(t, device.AllAxes(0))
}
