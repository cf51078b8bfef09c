// Package device declares the capabilities the calibration engine and the
// patch controller need from the rig hardware.
//
// Implementations own their own synchronisation: the core never issues a
// second motion command on an axis before WaitUntilStill has returned, and it
// treats every read as an instantaneous snapshot.
package device

import (
	"context"
	"image"
)

// Manipulator is a multi-axis positioner (pipette manipulator or XY stage).
// Positions are in micrometers; axes are zero-based.
type Manipulator interface {
	// NumAxes returns the number of axes driven by the device.
	NumAxes() int

	// Position returns the current position of a single axis.
	Position(ctx context.Context, axis int) (float64, error)

	// PositionGroup returns the positions of several axes in one read.
	PositionGroup(ctx context.Context, axes []int) ([]float64, error)

	// AbsoluteMove starts a move of one axis to value.
	AbsoluteMove(ctx context.Context, value float64, axis int) error

	// RelativeMove starts a move of one axis by value.
	RelativeMove(ctx context.Context, value float64, axis int) error

	// AbsoluteMoveGroup starts a coordinated move of several axes.
	AbsoluteMoveGroup(ctx context.Context, values []float64, axes []int) error

	// WaitUntilStill blocks until the given axes (all axes when none are
	// given) have settled.
	WaitUntilStill(ctx context.Context, axes ...int) error

	// Stop halts an axis immediately.
	Stop(ctx context.Context, axis int) error
}

// Microscope is the single-axis focus drive.
type Microscope interface {
	Position(ctx context.Context) (float64, error)
	AbsoluteMove(ctx context.Context, z float64) error
	RelativeMove(ctx context.Context, dz float64) error
	WaitUntilStill(ctx context.Context) error
	Stop(ctx context.Context) error

	// UpDirection is +1 when increasing focus position moves the focal plane
	// up (away from the sample), -1 otherwise.
	UpDirection() float64

	// FloorZ returns the stored sample-plane depth, if one was set.
	FloorZ() (float64, bool)
}

// Camera captures single grayscale frames.
type Camera interface {
	Snap(ctx context.Context) (*image.Gray, error)
	Width() int
	Height() int
}

// Amplifier is the patch-clamp amplifier.
type Amplifier interface {
	StartPatch(ctx context.Context) error
	StopPatch(ctx context.Context) error

	// Resistance returns the current pipette resistance in ohms.
	Resistance(ctx context.Context) (float64, error)

	AutoPipetteOffset(ctx context.Context) error
	SetHolding(ctx context.Context, volts float64) error
	Zap(ctx context.Context) error
}

// PressureController drives the pipette pressure, in mbar.
type PressureController interface {
	SetPressure(ctx context.Context, value float64, port int) error

	// Ramp applies a linear pressure ramp from 0 to amplitude over duration
	// and returns the port to 0.
	Ramp(ctx context.Context, amplitude, durationSeconds float64, port int) error

	Measure(ctx context.Context, port int) (float64, error)
}

// AllAxes returns the axis indices 0..n-1.
func AllAxes(n int) []int {
	axes := make([]int, n)
	for i := range axes {
		axes[i] = i
	}
	return axes
}
