package calibration

import (
	"errors"
	"fmt"
)

var (
	// ErrNotCalibrated is returned by reference-frame operations on a device
	// (or a device mounted on a stage) that has not been calibrated.
	ErrNotCalibrated = errors.New("calibration: device is not calibrated")
	// ErrMissedTarget indicates a verification read found a device away from
	// the position it was sent to.
	ErrMissedTarget = errors.New("calibration: device did not reach target position")
	// ErrTravelLimit indicates a trial move would leave the configured travel.
	ErrTravelLimit = errors.New("calibration: trial move exceeds axis travel")
	// ErrStageCycle indicates a stage chain that does not end at a fixed stage.
	ErrStageCycle = errors.New("calibration: stage chain does not terminate at a fixed stage")
	// ErrDegenerate indicates geometry that cannot be used, such as a pipette
	// axis parallel to the focal plane.
	ErrDegenerate = errors.New("calibration: degenerate geometry")
	// ErrAxisCount indicates a vector or device with the wrong number of axes.
	ErrAxisCount = errors.New("calibration: wrong number of axes")
)

// Error is a CalibrationError: a geometry precondition that was not met.
type Error struct {
	Unit string // Device name
	Op   string // Operation, e.g. "calibrate", "reference move"
	Msg  string // Human-readable detail (optional)
	Err  error  // One of the sentinels above
}

func (e *Error) Error() string {
	detail := e.Msg
	if detail == "" && e.Err != nil {
		detail = e.Err.Error()
	}
	if e.Unit == "" {
		return fmt.Sprintf("calibration: %s: %s", e.Op, detail)
	}
	return fmt.Sprintf("calibration: %s %s: %s", e.Unit, e.Op, detail)
}

func (e *Error) Unwrap() error { return e.Err }

func notCalibrated(unit, op string) error {
	return &Error{Unit: unit, Op: op, Err: ErrNotCalibrated}
}
