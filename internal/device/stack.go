package device

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// Preprocess transforms a captured frame before it is stored in a stack.
type Preprocess func(*image.Gray) *image.Gray

// Stack sweeps the microscope through the given absolute positions, capturing
// one frame at each, then returns the microscope to where it started.
//
// The microscope is returned to its starting position even when a capture
// fails; the capture error takes precedence.
func Stack(ctx context.Context, cam Camera, mic Microscope, positions []float64, pre Preprocess) (frames []*image.Gray, err error) {
	start, err := mic.Position(ctx)
	if err != nil {
		return nil, fmt.Errorf("stack: read start position: %w", err)
	}

	defer func() {
		restoreErr := mic.AbsoluteMove(ctx, start)
		if restoreErr == nil {
			restoreErr = mic.WaitUntilStill(ctx)
		}
		if err == nil && restoreErr != nil {
			err = fmt.Errorf("stack: restore microscope: %w", restoreErr)
		}
	}()

	frames = make([]*image.Gray, 0, len(positions))
	for _, z := range positions {
		if err := mic.AbsoluteMove(ctx, z); err != nil {
			return nil, fmt.Errorf("stack: move to %.2f: %w", z, err)
		}
		if err := mic.WaitUntilStill(ctx); err != nil {
			return nil, fmt.Errorf("stack: settle at %.2f: %w", z, err)
		}
		img, err := cam.Snap(ctx)
		if err != nil {
			return nil, fmt.Errorf("stack: snap at %.2f: %w", z, err)
		}
		if pre != nil {
			img = pre(img)
		}
		frames = append(frames, img)
	}
	return frames, nil
}

// ErrNoFloor is returned by GoToFloor when no sample-plane depth is stored.
var ErrNoFloor = errors.New("device: floor position not set")

// GoToFloor focuses the microscope on the stored sample plane.
func GoToFloor(ctx context.Context, mic Microscope) error {
	z, ok := mic.FloorZ()
	if !ok {
		return ErrNoFloor
	}
	if err := mic.AbsoluteMove(ctx, z); err != nil {
		return fmt.Errorf("go to floor: %w", err)
	}
	return mic.WaitUntilStill(ctx)
}
