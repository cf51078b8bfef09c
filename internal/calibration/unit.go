package calibration

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"go.uber.org/zap"

	"autopatch/internal/device"
	"autopatch/internal/vision"
	"autopatch/pkg/geometry"
)

// Unit is an n-axis pipette manipulator mounted on a stage.
type Unit struct {
	axisFrame
	microscope device.Microscope
	camera     device.Camera
	matcher    vision.Matcher
}

// NewUnit mounts dev on stage. The stage chain must end at a FixedStage.
func NewUnit(dev device.Manipulator, stage Positioner, mic device.Microscope, cam device.Camera, m vision.Matcher, opts Options) (*Unit, error) {
	f, err := newAxisFrame(dev, stage, opts)
	if err != nil {
		return nil, err
	}
	if n := dev.NumAxes(); n < 1 || opts.PrimaryAxis < 0 || opts.PrimaryAxis >= n {
		return nil, &Error{Unit: f.name, Op: "mount", Msg: fmt.Sprintf("primary axis %d out of range for %d axes", opts.PrimaryAxis, n), Err: ErrAxisCount}
	}
	for _, a := range opts.Axes {
		if a < 0 || a >= dev.NumAxes() {
			return nil, &Error{Unit: f.name, Op: "mount", Msg: fmt.Sprintf("calibration axis %d out of range", a), Err: ErrAxisCount}
		}
	}
	return &Unit{axisFrame: f, microscope: mic, camera: cam, matcher: m}, nil
}

// Stage returns the positioner the unit is mounted on.
func (u *Unit) Stage() Positioner { return u.stage }

// ReferenceMove moves the pipette tip to reference position r.
func (u *Unit) ReferenceMove(ctx context.Context, r r3.Vector) error {
	return u.referenceMove(ctx, r)
}

// Recalibrate re-anchors the offset so that the current axis position maps
// to tip, keeping M. Use it after clicking on the tip in the image.
func (u *Unit) Recalibrate(ctx context.Context, tip r3.Vector) error {
	if !u.calibrated {
		return notCalibrated(u.name, "recalibrate")
	}
	pos, err := u.Position(ctx)
	if err != nil {
		return err
	}
	sr, err := u.stage.ReferencePosition(ctx)
	if err != nil {
		return err
	}
	u.r0 = tip.Sub(geometry.Apply(u.m, pos)).Sub(sr)
	u.log.Info("offset recalibrated", zap.Stringer("tip", tip), zap.Stringer("r0", u.r0))
	return nil
}

// SafeMove reaches r in two phases so the pipette never sweeps sideways
// through tissue: it first moves to the point on the line through r along
// the pipette axis that lies at the current depth, then along that axis to
// r, stopping withdraw micrometers short of it.
func (u *Unit) SafeMove(ctx context.Context, r r3.Vector, withdraw float64) error {
	if !u.calibrated {
		return notCalibrated(u.name, "safe move")
	}
	p := geometry.Column(u.m, u.opts.PrimaryAxis)
	if math.Abs(p.Z) < 1e-9 {
		return &Error{Unit: u.name, Op: "safe move", Msg: "pipette axis parallel to the focal plane", Err: ErrDegenerate}
	}
	cur, err := u.ReferencePosition(ctx)
	if err != nil {
		return err
	}
	alpha := (cur.Z - r.Z) / p.Z
	if err := u.ReferenceMove(ctx, r.Add(p.Mul(alpha))); err != nil {
		return err
	}
	if err := u.WaitUntilStill(ctx); err != nil {
		return err
	}
	return u.ReferenceMove(ctx, r.Sub(p.Mul(withdraw)))
}

// calibrationAxes returns the axes measured by Calibrate.
func (u *Unit) calibrationAxes() []int {
	if len(u.opts.Axes) > 0 {
		return u.opts.Axes
	}
	return device.AllAxes(u.dev.NumAxes())
}

func (u *Unit) verifyFocus(ctx context.Context, want float64, what string) error {
	got, err := u.microscope.Position(ctx)
	if err != nil {
		return fmt.Errorf("microscope: read position: %w", err)
	}
	if math.Abs(got-want) > u.opts.PositionTolerance {
		return &Error{
			Unit: u.name, Op: "calibrate",
			Msg: fmt.Sprintf("microscope %s: at %.3f, expected %.3f", what, got, want),
			Err: ErrMissedTarget,
		}
	}
	return nil
}
