package patch

import (
	"errors"
	"fmt"
)

var (
	ErrBrokenTip           = errors.New("resistance is too low (broken tip?)")
	ErrObstructed          = errors.New("resistance is too high (obstructed?)")
	ErrSealUnsuccessful    = errors.New("seal unsuccessful")
	ErrSealLost            = errors.New("seal lost")
	ErrBreakInUnsuccessful = errors.New("break-in unsuccessful")
	ErrBathNotSet          = errors.New("bath position has not been set")
	ErrTooFewAxes          = errors.New("pipette needs three axes")

	// ErrAbortRequested is returned when Abort was called during a procedure.
	ErrAbortRequested = errors.New("patch: abort requested")
)

// Error is an AutopatchError: the procedure ran but the pipette or cell did
// not behave as required. The attempt is over; the rig is usable.
type Error struct {
	Op  string  // Procedure step, e.g. "baseline", "seal"
	R   float64 // Last resistance reading (Ω), 0 if none
	Err error
}

func (e *Error) Error() string {
	if e.R > 0 {
		return fmt.Sprintf("patch: %s: %v (R = %.1f MΩ)", e.Op, e.Err, e.R/1e6)
	}
	return fmt.Sprintf("patch: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// joinCleanup combines a procedure error with a cleanup error.
func joinCleanup(err, cleanupErr error) error {
	switch {
	case cleanupErr == nil:
		return err
	case err == nil:
		return cleanupErr
	default:
		return errors.Join(err, cleanupErr)
	}
}
