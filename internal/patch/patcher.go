// Package patch is the closed-loop patch-clamp controller. It drives a
// calibrated pipette onto a cell, forms a gigaseal and breaks in, using the
// pipette resistance as its only feedback, and cleans the pipette between
// attempts.
package patch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
	"go.uber.org/zap"

	"autopatch/internal/config"
	"autopatch/internal/device"
	"autopatch/pkg/geometry"
)

// Pipette is the calibrated manipulator carrying the pipette.
type Pipette interface {
	NumAxes() int
	Position(ctx context.Context) (geometry.AxisVector, error)
	AbsoluteMove(ctx context.Context, u geometry.AxisVector) error
	RelativeMove(ctx context.Context, du geometry.AxisVector) error
	WaitUntilStill(ctx context.Context) error
	SafeMove(ctx context.Context, r r3.Vector, withdraw float64) error
}

// Options configures an AutoPatcher.
type Options struct {
	Clock   Clock    // Nil means WallClock
	Logger  *zap.Logger
	Tracker *Tracker // Targets for SequentialPatching; nil means an empty tracker
}

// AutoPatcher runs patch procedures on one pipette. Procedures must not run
// concurrently on the same AutoPatcher; Abort and Session may be called from
// any goroutine.
type AutoPatcher struct {
	amp      device.Amplifier
	pressure device.PressureController
	pipette  Pipette
	mic      device.Microscope
	cfg      config.Patch
	clock    Clock
	log      *zap.Logger
	tracker  *Tracker

	aborted atomic.Bool

	mu           sync.Mutex
	session      *Session
	cleaningBath geometry.AxisVector
	rinsingBath  geometry.AxisVector
}

// NewAutoPatcher returns a controller for pipette.
func NewAutoPatcher(amp device.Amplifier, pressure device.PressureController, pipette Pipette, mic device.Microscope, cfg config.Patch, opts Options) *AutoPatcher {
	a := &AutoPatcher{
		amp:      amp,
		pressure: pressure,
		pipette:  pipette,
		mic:      mic,
		cfg:      cfg,
		clock:    opts.Clock,
		log:      opts.Logger,
		tracker:  opts.Tracker,
	}
	if a.clock == nil {
		a.clock = WallClock()
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	if a.tracker == nil {
		a.tracker = NewTracker(1)
	}
	a.log = a.log.Named("patch")
	return a
}

// Tracker returns the target list used by SequentialPatching.
func (a *AutoPatcher) Tracker() *Tracker { return a.tracker }

// Abort asks the running procedure to stop at its next check.
func (a *AutoPatcher) Abort() {
	a.aborted.Store(true)
	a.log.Info("abort requested")
}

// Session returns a copy of the current or most recent patch attempt.
func (a *AutoPatcher) Session() (Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return Session{}, false
	}
	return a.session.clone(), true
}

// SetCleaningBath stores the pipette axis position inside the cleaning bath.
func (a *AutoPatcher) SetCleaningBath(u geometry.AxisVector) {
	a.mu.Lock()
	a.cleaningBath = u.Clone()
	a.mu.Unlock()
}

// SetRinsingBath stores the pipette axis position inside the rinsing bath.
func (a *AutoPatcher) SetRinsingBath(u geometry.AxisVector) {
	a.mu.Lock()
	a.rinsingBath = u.Clone()
	a.mu.Unlock()
}

// Baths returns the stored bath positions, nil when unset.
func (a *AutoPatcher) Baths() (cleaning, rinsing geometry.AxisVector) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cleaningBath.Clone(), a.rinsingBath.Clone()
}

func (a *AutoPatcher) setState(s *Session, st State) {
	a.mu.Lock()
	s.State = st
	a.mu.Unlock()
	a.log.Debug("state", zap.Stringer("session", s.ID), zap.Stringer("state", st))
}

// checkAbort returns ErrAbortRequested once Abort has been called, or the
// context error.
func (a *AutoPatcher) checkAbort(ctx context.Context) error {
	if a.aborted.Load() {
		return ErrAbortRequested
	}
	return ctx.Err()
}

// resistance reads the amplifier and records the value in the session.
func (a *AutoPatcher) resistance(ctx context.Context, s *Session) (float64, error) {
	r, err := a.amp.Resistance(ctx)
	if err != nil {
		return 0, fmt.Errorf("read resistance: %w", err)
	}
	a.mu.Lock()
	s.Readings = append(s.Readings, Reading{At: a.clock.Now(), R: r})
	a.mu.Unlock()
	return r, nil
}

func (a *AutoPatcher) setPressure(ctx context.Context, s *Session, value float64) error {
	if err := a.pressure.SetPressure(ctx, value, a.cfg.PressurePort); err != nil {
		return fmt.Errorf("set pressure %.0f mbar: %w", value, err)
	}
	if s != nil {
		a.mu.Lock()
		s.Pressure = value
		a.mu.Unlock()
	}
	return nil
}

func (a *AutoPatcher) sleep(ctx context.Context, d time.Duration) error {
	return a.clock.Sleep(ctx, d)
}

// moveAxis moves one pipette axis to value and waits for it to settle.
func (a *AutoPatcher) moveAxis(ctx context.Context, axis int, value float64) error {
	u, err := a.pipette.Position(ctx)
	if err != nil {
		return err
	}
	u[axis] = value
	if err := a.pipette.AbsoluteMove(ctx, u); err != nil {
		return err
	}
	return a.pipette.WaitUntilStill(ctx)
}

// stepAxis moves one pipette axis by delta and waits for it to settle.
func (a *AutoPatcher) stepAxis(ctx context.Context, axis int, delta float64) error {
	du := make(geometry.AxisVector, a.pipette.NumAxes())
	du[axis] = delta
	if err := a.pipette.RelativeMove(ctx, du); err != nil {
		return err
	}
	return a.pipette.WaitUntilStill(ctx)
}

// restoreNear puts the pressure back to the resting level. It runs on every
// exit path, so it ignores cancellation of ctx.
func (a *AutoPatcher) restoreNear(ctx context.Context) error {
	return a.setPressure(context.WithoutCancel(ctx), nil, a.cfg.PressureNear)
}

// finalState maps a procedure result to the terminal session state.
func finalState(err error) State {
	switch {
	case err == nil:
		return Done
	case errors.Is(err, ErrAbortRequested), errors.Is(err, context.Canceled):
		return Aborted
	default:
		return Failed
	}
}
