package patch

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result is the outcome of one target of SequentialPatching.
type Result struct {
	Index   int
	Target  r3.Vector
	Session uuid.UUID
	Err     error // nil on success; an *Error when the cell could not be patched
}

// SequentialPatching patches every target in the tracker, cleaning the
// pipette after each attempt. While approaching, a target that the tracker
// reports moved by more than drift_threshold pixels is followed with a new
// safe move.
//
// A failed attempt (an *Error) is recorded and the next target is tried.
// Abort, cancellation and any other error stop the run; the results so far
// are returned with that error.
func (a *AutoPatcher) SequentialPatching(ctx context.Context) ([]Result, error) {
	clean, rinse := a.Baths()
	if clean == nil || rinse == nil {
		return nil, &Error{Op: "sequential patching", Err: ErrBathNotSet}
	}
	if n := a.pipette.NumAxes(); n < 3 {
		return nil, &Error{Op: "sequential patching", Err: fmt.Errorf("%w: pipette has %d", ErrTooFewAxes, n)}
	}
	a.aborted.Store(false)

	var results []Result
	for i := 0; i < a.tracker.Len(); i++ {
		if err := a.checkAbort(ctx); err != nil {
			return results, err
		}
		target, ok := a.tracker.Target(i)
		if !ok {
			break
		}
		a.log.Info("patching target", zap.Int("index", i), zap.Stringer("target", target))

		err := a.patch(ctx, &target, i)
		res := Result{Index: i, Target: target, Err: err}
		if s, ok := a.Session(); ok {
			res.Session = s.ID
		}
		results = append(results, res)

		var patchErr *Error
		if err != nil && !errors.As(err, &patchErr) {
			return results, err
		}
		if err := a.CleanPipette(ctx); err != nil {
			return results, err
		}
	}
	return results, nil
}
