package patch

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// CleanPipette dips the pipette in the cleaning bath for alternating suction
// and expulsion cycles, expels the detergent in the rinsing bath, and
// returns to where it started. Axes move one at a time, each move waiting
// for the previous one to settle.
func (a *AutoPatcher) CleanPipette(ctx context.Context) (err error) {
	clean, rinse := a.Baths()
	if clean == nil {
		return &Error{Op: "clean", Err: fmt.Errorf("cleaning %w", ErrBathNotSet)}
	}
	if rinse == nil {
		return &Error{Op: "clean", Err: fmt.Errorf("rinsing %w", ErrBathNotSet)}
	}
	if n := a.pipette.NumAxes(); n < 3 || len(clean) < 3 || len(rinse) < 3 {
		return &Error{Op: "clean", Err: fmt.Errorf("%w: pipette has %d, baths have %d and %d", ErrTooFewAxes, n, len(clean), len(rinse))}
	}

	defer func() { err = joinCleanup(err, a.restoreNear(ctx)) }()

	start, err := a.pipette.Position(ctx)
	if err != nil {
		return err
	}
	a.log.Info("cleaning pipette")
	h := a.cfg.BathApproachHeight

	// Into the cleaning bath, entering from above.
	if err := a.moveSequence(ctx, []axisTarget{
		{0, clean[0]}, {2, clean[2] - h}, {1, clean[1]}, {2, clean[2]},
	}); err != nil {
		return err
	}
	if err := a.pulse(ctx, a.cfg.CleaningPressure, a.cfg.FillTime); err != nil {
		return err
	}
	for i := 0; i < a.cfg.CleaningCycles; i++ {
		if err := a.pulse(ctx, a.cfg.CleaningPressure, a.cfg.SuckTime); err != nil {
			return err
		}
		if err := a.pulse(ctx, a.cfg.ExpelPressure, a.cfg.BlowTime); err != nil {
			return err
		}
	}

	// Rinse.
	if err := a.moveSequence(ctx, []axisTarget{
		{2, rinse[2] - h}, {1, rinse[1]}, {0, rinse[0]}, {2, rinse[2]},
	}); err != nil {
		return err
	}
	if err := a.pulse(ctx, a.cfg.ExpelPressure, a.cfg.RinseTime); err != nil {
		return err
	}

	// Back out, retracting first.
	if err := a.moveSequence(ctx, []axisTarget{
		{0, a.cfg.RetractPosition}, {1, start[1]}, {2, start[2]}, {0, start[0]},
	}); err != nil {
		return err
	}
	a.log.Info("pipette cleaned")
	return nil
}

type axisTarget struct {
	axis  int
	value float64
}

func (a *AutoPatcher) moveSequence(ctx context.Context, seq []axisTarget) error {
	for _, t := range seq {
		if err := a.moveAxis(ctx, t.axis, t.value); err != nil {
			return fmt.Errorf("move axis %d to %.1f: %w", t.axis, t.value, err)
		}
	}
	return nil
}

// pulse holds a pressure for d.
func (a *AutoPatcher) pulse(ctx context.Context, value float64, d time.Duration) error {
	if err := a.setPressure(ctx, nil, value); err != nil {
		return err
	}
	return a.sleep(ctx, d)
}

// MakeDroplets deposits droplet_quantity pressure droplets on a square grid
// of side droplet_area centered on the current position, scanning in a
// serpentine, then returns to the start.
func (a *AutoPatcher) MakeDroplets(ctx context.Context) (err error) {
	n := a.cfg.DropletQuantity
	if n <= 0 {
		return nil
	}
	if a.pipette.NumAxes() < 3 {
		return &Error{Op: "droplets", Err: fmt.Errorf("%w: pipette has %d", ErrTooFewAxes, a.pipette.NumAxes())}
	}
	defer func() { err = joinCleanup(err, a.restoreNear(ctx)) }()

	start, err := a.pipette.Position(ctx)
	if err != nil {
		return err
	}
	side := gridSide(n)
	spacing := 0.0
	if side > 1 {
		spacing = a.cfg.DropletArea / float64(side-1)
	}
	a.log.Info("making droplets", zap.Int("count", n), zap.Int("grid", side), zap.Float64("spacing", spacing))

	half := a.cfg.DropletArea / 2
	if err := a.stepAxis(ctx, 0, -half); err != nil {
		return err
	}
	if err := a.stepAxis(ctx, 1, -half); err != nil {
		return err
	}

	made, dir := 0, 1.0
	for row := 0; row < side && made < n; row++ {
		for col := 0; col < side && made < n; col++ {
			if col > 0 {
				if err := a.stepAxis(ctx, 1, dir*spacing); err != nil {
					return err
				}
			}
			if err := a.pulse(ctx, a.cfg.DropletPressure, a.cfg.DropletTime); err != nil {
				return err
			}
			if err := a.setPressure(ctx, nil, 0); err != nil {
				return err
			}
			made++
		}
		if made < n {
			if err := a.stepAxis(ctx, 0, spacing); err != nil {
				return err
			}
			dir = -dir
		}
	}

	return a.moveSequence(ctx, []axisTarget{{1, start[1]}, {2, start[2]}, {0, start[0]}})
}

// gridSide returns the smallest k with k² ≥ n.
func gridSide(n int) int {
	k := int(math.Ceil(math.Sqrt(float64(n))))
	for k*k < n {
		k++
	}
	return k
}
