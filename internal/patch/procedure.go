package patch

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"go.uber.org/zap"
)

// Patch runs the automatic patch-clamp procedure. When target is non-nil
// the pipette is first brought cell_distance above it with a safe move.
//
// Whatever happens, patch mode is stopped and the pressure returned to the
// resting level exactly once before Patch returns.
func (a *AutoPatcher) Patch(ctx context.Context, target *r3.Vector) error {
	a.aborted.Store(false)
	return a.patch(ctx, target, -1)
}

// patch runs one attempt. tracked is the Tracker index of the target, or -1
// when the target is not tracked.
func (a *AutoPatcher) patch(ctx context.Context, target *r3.Vector, tracked int) (err error) {
	s := newSession(a.clock.Now())
	a.mu.Lock()
	a.session = s
	a.mu.Unlock()
	log := a.log.With(zap.Stringer("session", s.ID))
	log.Info("patch started")

	defer func() {
		err = joinCleanup(err, a.teardown(ctx, s))
		a.mu.Lock()
		s.State = finalState(err)
		s.Ended = a.clock.Now()
		s.Err = err
		a.mu.Unlock()
		if err != nil {
			log.Warn("patch ended", zap.Stringer("state", s.State), zap.Error(err))
		} else {
			log.Info("patch done")
		}
	}()

	if err := a.amp.StartPatch(ctx); err != nil {
		return fmt.Errorf("start patch: %w", err)
	}
	if err := a.setPressure(ctx, s, a.cfg.PressureNear); err != nil {
		return err
	}

	var dest r3.Vector
	if target != nil {
		dest = a.aboveTarget(*target)
		if err := a.pipette.SafeMove(ctx, dest, 0); err != nil {
			return fmt.Errorf("move to target: %w", err)
		}
		if err := a.pipette.WaitUntilStill(ctx); err != nil {
			return err
		}
	}

	a.setState(s, BaselineCheck)
	r, err := a.baseline(ctx, s)
	if err != nil {
		return err
	}

	a.setState(s, Approach)
	log.Info("approaching the cell")
	sealed, err := a.approach(ctx, s, r, target, tracked)
	if err != nil {
		return err
	}
	if err := a.setPressure(ctx, s, 0); err != nil {
		return err
	}
	if !sealed {
		return &Error{Op: "approach", Err: ErrSealUnsuccessful}
	}
	if r, err := a.amp.Resistance(ctx); err == nil {
		log.Info("seal successful", zap.Float64("R_MOhm", r/1e6))
	}

	return a.breakIn(ctx, s)
}

// aboveTarget offsets target upwards by cell_distance.
func (a *AutoPatcher) aboveTarget(target r3.Vector) r3.Vector {
	return target.Add(r3.Vector{Z: a.mic.UpDirection() * a.cfg.CellDistance})
}

// baseline checks the open-tip resistance before any contact.
func (a *AutoPatcher) baseline(ctx context.Context, s *Session) (float64, error) {
	if err := a.amp.AutoPipetteOffset(ctx); err != nil {
		return 0, fmt.Errorf("pipette offset: %w", err)
	}
	if err := a.sleep(ctx, a.cfg.ResistanceSettle); err != nil {
		return 0, err
	}
	r, err := a.resistance(ctx, s)
	if err != nil {
		return 0, err
	}
	a.log.Debug("baseline resistance", zap.Float64("R_MOhm", r/1e6))
	switch {
	case r < a.cfg.MinR:
		return r, &Error{Op: "baseline", R: r, Err: ErrBrokenTip}
	case r > a.cfg.MaxR:
		return r, &Error{Op: "baseline", R: r, Err: ErrObstructed}
	}

	if err := a.amp.AutoPipetteOffset(ctx); err != nil {
		return 0, fmt.Errorf("pipette offset: %w", err)
	}
	if err := a.sleep(ctx, a.cfg.OffsetSettle); err != nil {
		return 0, err
	}
	return r, nil
}

// approach steps the pipette down until the resistance rise of a nearby cell
// is confirmed, then seals. It reports whether a gigaseal was formed; running
// out of steps is not an error here.
func (a *AutoPatcher) approach(ctx context.Context, s *Session, r float64, target *r3.Vector, tracked int) (bool, error) {
	var moved r3.Vector
	if target != nil {
		moved = *target
	}
	prev := r
	for step := 0; step < a.cfg.MaxDistance; step++ {
		if err := a.stepAxis(ctx, a.cfg.ApproachAxis, a.cfg.ApproachStep); err != nil {
			return false, fmt.Errorf("approach step %d: %w", step, err)
		}
		a.mu.Lock()
		s.Steps++
		a.mu.Unlock()
		if err := a.checkAbort(ctx); err != nil {
			return false, err
		}

		if tracked >= 0 {
			if drift, ok := a.tracker.Drift(tracked, moved); ok && drift > a.cfg.DriftThreshold {
				moved, _ = a.tracker.Target(tracked)
				a.log.Info("target moved, following", zap.Float64("drift_px", drift), zap.Stringer("target", moved))
				if err := a.pipette.SafeMove(ctx, a.aboveTarget(moved), 0); err != nil {
					return false, fmt.Errorf("follow target: %w", err)
				}
				if err := a.pipette.WaitUntilStill(ctx); err != nil {
					return false, err
				}
			}
		}

		if err := a.sleep(ctx, a.cfg.StepSettle); err != nil {
			return false, err
		}
		cur, err := a.resistance(ctx, s)
		if err != nil {
			return false, err
		}
		a.log.Debug("approach", zap.Int("step", step), zap.Float64("R_MOhm", cur/1e6))

		threshold := prev * (1 + a.cfg.CellRIncrease)
		if cur > threshold {
			near, err := a.confirmCell(ctx, s, threshold)
			if err != nil {
				return false, err
			}
			if near {
				return true, a.seal(ctx, s)
			}
			continue
		}
		prev = cur
	}
	return false, nil
}

// confirmCell releases the pressure and checks that the resistance is still
// above threshold after the confirmation wait. When it is not, the resting
// pressure is restored and the approach continues.
func (a *AutoPatcher) confirmCell(ctx context.Context, s *Session, threshold float64) (bool, error) {
	a.setState(s, SealConfirm)
	a.log.Info("resistance rise, releasing pressure")
	if err := a.setPressure(ctx, s, 0); err != nil {
		return false, err
	}
	if err := a.sleep(ctx, a.cfg.ConfirmWait); err != nil {
		return false, err
	}
	r, err := a.resistance(ctx, s)
	if err != nil {
		return false, err
	}
	if r > threshold {
		return true, nil
	}
	a.log.Info("rise not confirmed, continuing approach", zap.Float64("R_MOhm", r/1e6))
	if err := a.setPressure(ctx, s, a.cfg.PressureNear); err != nil {
		return false, err
	}
	a.setState(s, Approach)
	return false, nil
}

// seal applies suction and ramps the holding potential until the resistance
// passes gigaseal_R, no sooner than seal_min_time and no later than
// seal_deadline.
func (a *AutoPatcher) seal(ctx context.Context, s *Session) error {
	a.setState(s, Sealing)
	if err := a.setPressure(ctx, s, a.cfg.PressureSealing); err != nil {
		return err
	}
	t0 := a.clock.Now()
	a.mu.Lock()
	s.SealStart = t0
	a.mu.Unlock()

	a.setState(s, GigasealWait)
	r, err := a.resistance(ctx, s)
	if err != nil {
		return err
	}
	for r < a.cfg.GigasealR || a.clock.Now().Sub(t0) < a.cfg.SealMinTime {
		elapsed := a.clock.Now().Sub(t0)
		if elapsed < a.cfg.VrampDuration {
			v := a.cfg.VrampAmplitude * elapsed.Seconds() / a.cfg.VrampDuration.Seconds()
			if err := a.amp.SetHolding(ctx, v); err != nil {
				return fmt.Errorf("set holding: %w", err)
			}
		}
		if elapsed >= a.cfg.SealDeadline {
			return &Error{Op: "seal", R: r, Err: ErrSealUnsuccessful}
		}
		if err := a.checkAbort(ctx); err != nil {
			return err
		}
		if err := a.sleep(ctx, a.cfg.SealPollInterval); err != nil {
			return err
		}
		if r, err = a.resistance(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// BreakIn ruptures the membrane under a sealed pipette with suction ramps of
// increasing amplitude, optionally preceded by a zap, until the resistance
// drops below max_cell_R.
func (a *AutoPatcher) BreakIn(ctx context.Context) error {
	a.aborted.Store(false)
	s := newSession(a.clock.Now())
	a.mu.Lock()
	a.session = s
	a.mu.Unlock()
	err := a.breakIn(ctx, s)
	a.mu.Lock()
	s.State = finalState(err)
	s.Ended = a.clock.Now()
	s.Err = err
	a.mu.Unlock()
	return err
}

func (a *AutoPatcher) breakIn(ctx context.Context, s *Session) error {
	a.setState(s, BreakIn)
	a.log.Info("breaking in")
	r, err := a.resistance(ctx, s)
	if err != nil {
		return err
	}
	if r < a.cfg.GigasealR {
		return &Error{Op: "break-in", R: r, Err: ErrSealLost}
	}

	amplitude := 0.0
	for r > a.cfg.MaxCellR {
		amplitude += a.cfg.PressureRampIncrement
		if math.Abs(amplitude) > math.Abs(a.cfg.PressureRampMax) {
			return &Error{Op: "break-in", R: r, Err: ErrBreakInUnsuccessful}
		}
		a.mu.Lock()
		s.Trials++
		trial := s.Trials
		a.mu.Unlock()
		a.log.Debug("break-in trial", zap.Int("trial", trial), zap.Float64("ramp_mbar", amplitude))

		if a.cfg.Zap {
			if err := a.amp.Zap(ctx); err != nil {
				return fmt.Errorf("zap: %w", err)
			}
		}
		if err := a.pressure.Ramp(ctx, amplitude, a.cfg.PressureRampDuration.Seconds(), a.cfg.PressurePort); err != nil {
			return fmt.Errorf("pressure ramp: %w", err)
		}
		if err := a.sleep(ctx, a.cfg.BreakInWait); err != nil {
			return err
		}
		if err := a.checkAbort(ctx); err != nil {
			return err
		}
		if r, err = a.resistance(ctx, s); err != nil {
			return err
		}
	}
	a.log.Info("successful break-in", zap.Float64("R_MOhm", r/1e6))
	return nil
}

// teardown stops patch mode and restores the resting pressure. It runs
// once per attempt, after any failure, abort or cancellation.
func (a *AutoPatcher) teardown(ctx context.Context, s *Session) error {
	ctx = context.WithoutCancel(ctx)
	var stopErr error
	if err := a.amp.StopPatch(ctx); err != nil {
		stopErr = fmt.Errorf("stop patch: %w", err)
	}
	return joinCleanup(stopErr, a.setPressure(ctx, s, a.cfg.PressureNear))
}
