package calibration

import (
	"context"
	"fmt"

	"github.com/golang/geo/r3"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"autopatch/internal/vision"
	"autopatch/pkg/geometry"
)

// Calibrate measures M and r0 for the unit. The stage it is mounted on is
// calibrated first when needed. A unit on a FixedStage only refocuses during
// probing; a unit on a moving stage also shifts the stage so the tip stays
// in view.
//
// On failure the previous calibration, if any, is kept. The unit, its stage
// and the microscope are returned to their starting positions on every path.
func (u *Unit) Calibrate(ctx context.Context) error {
	if !u.stage.Calibrated() {
		if err := u.stage.Calibrate(ctx); err != nil {
			return fmt.Errorf("%s: calibrate stage: %w", u.name, err)
		}
	}
	_, fixed := u.stage.(*FixedStage)
	return u.calibrate(ctx, !fixed)
}

// calibStart is what a calibration attempt needs to know about where it began.
type calibStart struct {
	u      geometry.AxisVector // Unit axes
	stageU geometry.AxisVector // Stage axes, coupled only
	stageR r3.Vector           // Stage reference position, coupled only
	z      float64             // Microscope
}

func (u *Unit) calibrate(ctx context.Context, coupled bool) error {
	log := u.log.With(zap.Bool("stage_coupled", coupled))

	var start calibStart
	var err error
	if start.z, err = u.microscope.Position(ctx); err != nil {
		return fmt.Errorf("microscope: read position: %w", err)
	}
	if start.u, err = u.Position(ctx); err != nil {
		return err
	}
	if coupled {
		if start.stageU, err = u.stage.Position(ctx); err != nil {
			return err
		}
		if start.stageR, err = u.stage.ReferencePosition(ctx); err != nil {
			return err
		}
	}

	log.Info("calibration started", zap.Float64s("start", start.u), zap.Float64("focus", start.z))
	m, err := u.measure(ctx, start, coupled, log)

	restoreErr := restorePositioner(ctx, log, u.name, u, start.u)
	if coupled {
		restoreErr = joinErrors(restoreErr, restorePositioner(ctx, log, "stage", u.stage, start.stageU))
	}
	restoreErr = joinErrors(restoreErr, restoreMicroscope(ctx, log, u.microscope, start.z))

	if err != nil || restoreErr != nil {
		err = joinErrors(err, restoreErr)
		log.Warn("calibration failed", zap.Error(err))
		return err
	}

	// The starting tip position becomes the reference origin. When the unit
	// is mounted on the stage, r0 also cancels the stage's reference position
	// at the start.
	r0 := geometry.Apply(m, start.u).Mul(-1)
	if coupled {
		r0 = r0.Sub(start.stageR)
	}
	if err := u.commit(m, r0); err != nil {
		return err
	}
	log.Info("calibration committed", zap.String("matrix", fmt.Sprintf("%.4g", mat.Formatted(u.m, mat.Squeeze()))))
	return nil
}

// measure finds each matrix column by doubling trial distances against a focus
// stack. It leaves devices wherever they are; the caller restores them.
func (u *Unit) measure(ctx context.Context, start calibStart, coupled bool, log *zap.Logger) (*mat.Dense, error) {
	frame, err := u.camera.Snap(ctx)
	if err != nil {
		return nil, fmt.Errorf("snap: %w", err)
	}
	card, err := u.matcher.PipetteCardinal(u.matcher.CropCenter(frame))
	if err != nil {
		return nil, fmt.Errorf("pipette orientation: %w", err)
	}
	log.Debug("pipette orientation", zap.Stringer("cardinal", card))

	stack, err := captureFocusStack(ctx, u.camera, u.microscope, u.matcher, start.z, u.opts.StackOffsets, card)
	if err != nil {
		return nil, err
	}
	if err := u.verifyFocus(ctx, start.z, "has not returned after the focus stack"); err != nil {
		return nil, err
	}

	frame, err = u.camera.Snap(ctx)
	if err != nil {
		return nil, fmt.Errorf("snap: %w", err)
	}
	base, err := u.matcher.Match(frame, stack.Center())
	if err != nil {
		return nil, fmt.Errorf("locate pipette: %w", err)
	}

	m := mat.NewDense(3, u.dev.NumAxes(), nil)
	var applied r3.Vector // stage compensation currently in effect
	for _, axis := range u.calibrationAxes() {
		if err := u.measureAxis(ctx, axis, m, stack, base, start, coupled, &applied, log); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (u *Unit) measureAxis(ctx context.Context, axis int, m *mat.Dense, stack *FocusStack, base vision.Match, start calibStart, coupled bool, applied *r3.Vector, log *zap.Logger) error {
	origin := start.u[axis]
	d := u.opts.InitialDistance
	px := u.opts.PixelSize

	for round := 0; round < u.opts.Rounds; round++ {
		target := origin + d
		if !u.checkLimit(axis, target) {
			if round == 0 {
				return &Error{
					Unit: u.name, Op: "calibrate",
					Msg: fmt.Sprintf("axis %d trial move to %.2f is outside its travel", axis, target),
					Err: ErrTravelLimit,
				}
			}
			log.Warn("trial distance limited by travel", zap.Int("axis", axis), zap.Float64("distance", d))
			break
		}

		if err := u.dev.AbsoluteMove(ctx, target, axis); err != nil {
			return fmt.Errorf("%s: move axis %d: %w", u.name, axis, err)
		}

		// The current column predicts where the tip went.
		estimate := geometry.Column(m, axis).Mul(d)
		focus := start.z + estimate.Z
		if err := u.microscope.AbsoluteMove(ctx, focus); err != nil {
			return fmt.Errorf("microscope: move: %w", err)
		}
		if err := u.microscope.WaitUntilStill(ctx); err != nil {
			return fmt.Errorf("microscope: wait: %w", err)
		}
		if err := u.dev.WaitUntilStill(ctx, axis); err != nil {
			return fmt.Errorf("%s: wait axis %d: %w", u.name, axis, err)
		}
		if err := u.verifyFocus(ctx, focus, "did not reach the predicted depth"); err != nil {
			return err
		}
		if err := u.verifyAxis(ctx, axis, target); err != nil {
			return err
		}

		prediction := r3.Vector{Z: estimate.Z}
		if coupled {
			// Shift the stage by the predicted horizontal displacement so the
			// tip stays in view.
			move := applied.Sub(estimate)
			move.Z = 0
			if err := u.stage.ReferenceRelativeMove(ctx, move); err != nil {
				return fmt.Errorf("compensate stage: %w", err)
			}
			if err := u.stage.WaitUntilStill(ctx); err != nil {
				return err
			}
			if err := u.verifyStage(ctx, start.stageR.Sub(r3.Vector{X: estimate.X, Y: estimate.Y})); err != nil {
				return err
			}
			*applied = estimate
			prediction = estimate
		}

		if err := sleep(ctx, u.opts.SettleDelay); err != nil {
			return err
		}
		img, err := u.camera.Snap(ctx)
		if err != nil {
			return fmt.Errorf("snap: %w", err)
		}
		mt, idx, err := stack.Locate(u.matcher, img)
		if err != nil {
			return fmt.Errorf("locate pipette: %w", err)
		}

		visual := r3.Vector{
			X: (mt.X - base.X) * px,
			Y: (mt.Y - base.Y) * px,
			Z: -stack.Offsets[idx],
		}
		col := visual.Add(prediction).Mul(1 / d)
		geometry.SetColumn(m, axis, col)
		log.Debug("trial round",
			zap.Int("axis", axis),
			zap.Int("round", round),
			zap.Float64("distance", d),
			zap.Int("stack_frame", idx),
			zap.Float64("score", mt.Score),
			zap.Stringer("column", col),
		)
		d *= 2
	}

	if err := u.dev.AbsoluteMove(ctx, origin, axis); err != nil {
		return fmt.Errorf("%s: return axis %d: %w", u.name, axis, err)
	}
	if err := u.dev.WaitUntilStill(ctx, axis); err != nil {
		return fmt.Errorf("%s: wait axis %d: %w", u.name, axis, err)
	}
	return u.verifyAxis(ctx, axis, origin)
}

// verifyStage checks the horizontal stage position after a compensating move.
func (u *Unit) verifyStage(ctx context.Context, want r3.Vector) error {
	got, err := u.stage.ReferencePosition(ctx)
	if err != nil {
		return err
	}
	dx, dy := got.X-want.X, got.Y-want.Y
	if dx*dx+dy*dy > u.opts.PositionTolerance*u.opts.PositionTolerance*2 {
		return &Error{
			Unit: u.name, Op: "calibrate",
			Msg: fmt.Sprintf("stage at %v, expected %v", got, want),
			Err: ErrMissedTarget,
		}
	}
	return nil
}
