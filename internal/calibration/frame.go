package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"autopatch/internal/device"
	"autopatch/pkg/geometry"
)

// axisFrame holds the parts shared by Stage and Unit: the axis device, the
// stage it is mounted on and the committed calibration.
type axisFrame struct {
	name  string
	dev   device.Manipulator
	stage Positioner
	opts  Options
	log   *zap.Logger

	m          *mat.Dense // 3×n
	minv       *mat.Dense // n×3
	r0         r3.Vector
	calibrated bool
}

func newAxisFrame(dev device.Manipulator, stage Positioner, opts Options) (axisFrame, error) {
	if err := validateChain(stage); err != nil {
		return axisFrame{}, err
	}
	if opts.Name == "" {
		opts.Name = "unit"
	}
	return axisFrame{
		name:  opts.Name,
		dev:   dev,
		stage: stage,
		opts:  opts,
		log:   opts.logger().With(zap.String("device", opts.Name)),
	}, nil
}

// Name returns the device name.
func (f *axisFrame) Name() string { return f.name }

// NumAxes returns the number of axes of the underlying device.
func (f *axisFrame) NumAxes() int { return f.dev.NumAxes() }

// Calibrated reports whether a calibration has been committed.
func (f *axisFrame) Calibrated() bool { return f.calibrated }

// Matrix returns a copy of M, or nil when not calibrated.
func (f *axisFrame) Matrix() *mat.Dense {
	if !f.calibrated {
		return nil
	}
	return mat.DenseCopyOf(f.m)
}

// Inverse returns a copy of Minv, or nil when not calibrated.
func (f *axisFrame) Inverse() *mat.Dense {
	if !f.calibrated {
		return nil
	}
	return mat.DenseCopyOf(f.minv)
}

// Offset returns r0.
func (f *axisFrame) Offset() r3.Vector { return f.r0 }

func (f *axisFrame) parent() Positioner { return f.stage }

func (f *axisFrame) localOffset(ctx context.Context) (r3.Vector, error) {
	if !f.calibrated {
		return r3.Vector{}, notCalibrated(f.name, "reference position")
	}
	u, err := f.Position(ctx)
	if err != nil {
		return r3.Vector{}, err
	}
	return geometry.Apply(f.m, u).Add(f.r0), nil
}

// Position reads all axes.
func (f *axisFrame) Position(ctx context.Context) (geometry.AxisVector, error) {
	vals, err := f.dev.PositionGroup(ctx, device.AllAxes(f.dev.NumAxes()))
	if err != nil {
		return nil, fmt.Errorf("%s: read position: %w", f.name, err)
	}
	return geometry.AxisVector(vals), nil
}

// AbsoluteMove starts a coordinated move of all axes to u.
func (f *axisFrame) AbsoluteMove(ctx context.Context, u geometry.AxisVector) error {
	if len(u) != f.dev.NumAxes() {
		return &Error{Unit: f.name, Op: "move", Msg: fmt.Sprintf("got %d axes, device has %d", len(u), f.dev.NumAxes()), Err: ErrAxisCount}
	}
	if err := f.dev.AbsoluteMoveGroup(ctx, u, device.AllAxes(len(u))); err != nil {
		return fmt.Errorf("%s: move: %w", f.name, err)
	}
	return nil
}

// RelativeMove moves each axis by the matching component of du. Zero
// components are skipped.
func (f *axisFrame) RelativeMove(ctx context.Context, du geometry.AxisVector) error {
	if len(du) != f.dev.NumAxes() {
		return &Error{Unit: f.name, Op: "relative move", Msg: fmt.Sprintf("got %d axes, device has %d", len(du), f.dev.NumAxes()), Err: ErrAxisCount}
	}
	for axis, d := range du {
		if d == 0 {
			continue
		}
		if err := f.dev.RelativeMove(ctx, d, axis); err != nil {
			return fmt.Errorf("%s: relative move axis %d: %w", f.name, axis, err)
		}
	}
	return nil
}

// WaitUntilStill blocks until every axis has settled.
func (f *axisFrame) WaitUntilStill(ctx context.Context) error {
	if err := f.dev.WaitUntilStill(ctx); err != nil {
		return fmt.Errorf("%s: wait: %w", f.name, err)
	}
	return nil
}

// ReferencePosition returns M·u + r0 plus the reference position of the stage
// chain below.
func (f *axisFrame) ReferencePosition(ctx context.Context) (r3.Vector, error) {
	return chainPosition(ctx, f)
}

// referenceMove moves to the axis position whose reference image is r.
func (f *axisFrame) referenceMove(ctx context.Context, r r3.Vector) error {
	if !f.calibrated {
		return notCalibrated(f.name, "reference move")
	}
	sr, err := f.stage.ReferencePosition(ctx)
	if err != nil {
		return err
	}
	u := geometry.ApplyInverse(f.minv, r.Sub(sr).Sub(f.r0))
	return f.AbsoluteMove(ctx, u)
}

// ReferenceRelativeMove moves by the axis displacement Minv·r.
func (f *axisFrame) ReferenceRelativeMove(ctx context.Context, r r3.Vector) error {
	if !f.calibrated {
		return notCalibrated(f.name, "reference relative move")
	}
	return f.RelativeMove(ctx, geometry.ApplyInverse(f.minv, r))
}

// commit installs a new calibration. On error the previous one is kept.
// Every axis must move the tip independently of the others, so m needs full
// column rank.
func (f *axisFrame) commit(m *mat.Dense, r0 r3.Vector) error {
	rank, err := geometry.Rank(m)
	if err != nil {
		return &Error{Unit: f.name, Op: "calibrate", Msg: err.Error(), Err: ErrDegenerate}
	}
	if _, n := m.Dims(); rank < n {
		return &Error{Unit: f.name, Op: "calibrate", Msg: fmt.Sprintf("matrix has rank %d, want %d", rank, n), Err: ErrDegenerate}
	}
	minv, err := geometry.PseudoInverse(m)
	if err != nil {
		return &Error{Unit: f.name, Op: "calibrate", Msg: err.Error(), Err: ErrDegenerate}
	}
	f.m = mat.DenseCopyOf(m)
	f.minv = minv
	f.r0 = r0
	f.calibrated = true
	return nil
}

// checkLimit reports whether target is allowed on axis.
func (f *axisFrame) checkLimit(axis int, target float64) bool {
	lim, ok := f.opts.Limits[axis]
	return !ok || lim.Contains(target)
}

// verifyAxis reads one axis back and compares it with want.
func (f *axisFrame) verifyAxis(ctx context.Context, axis int, want float64) error {
	got, err := f.dev.Position(ctx, axis)
	if err != nil {
		return fmt.Errorf("%s: read axis %d: %w", f.name, axis, err)
	}
	if math.Abs(got-want) > f.opts.PositionTolerance {
		return &Error{
			Unit: f.name, Op: "calibrate",
			Msg: fmt.Sprintf("axis %d at %.3f, expected %.3f", axis, got, want),
			Err: ErrMissedTarget,
		}
	}
	return nil
}

// restore runs a move-and-wait twice if needed. It is used to put devices
// back after a calibration attempt, so it ignores cancellation of ctx.
func restore(ctx context.Context, log *zap.Logger, what string, move func(context.Context) error) error {
	ctx = context.WithoutCancel(ctx)
	if err := move(ctx); err != nil {
		log.Warn("restore failed, retrying", zap.String("target", what), zap.Error(err))
		if err := move(ctx); err != nil {
			return fmt.Errorf("%s: restore position: %w", what, err)
		}
	}
	return nil
}

// restorePositioner returns p to axis position u.
func restorePositioner(ctx context.Context, log *zap.Logger, what string, p Positioner, u geometry.AxisVector) error {
	return restore(ctx, log, what, func(ctx context.Context) error {
		if err := p.AbsoluteMove(ctx, u); err != nil {
			return err
		}
		return p.WaitUntilStill(ctx)
	})
}

// restoreMicroscope returns the focus drive to z.
func restoreMicroscope(ctx context.Context, log *zap.Logger, mic device.Microscope, z float64) error {
	return restore(ctx, log, "microscope", func(ctx context.Context) error {
		if err := mic.AbsoluteMove(ctx, z); err != nil {
			return err
		}
		return mic.WaitUntilStill(ctx)
	})
}

// joinErrors returns err alone when there is no restore error.
func joinErrors(err, restoreErr error) error {
	if restoreErr == nil {
		return err
	}
	if err == nil {
		return restoreErr
	}
	return errors.Join(err, restoreErr)
}
