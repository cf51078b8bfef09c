package calibration

import (
	"context"
	"fmt"

	"github.com/golang/geo/r3"

	"autopatch/pkg/geometry"
)

// maxChainDepth bounds stage chains. Real rigs have one or two links.
const maxChainDepth = 16

// Positioner is any device that has a place in the reference frame: a
// FixedStage, a Stage or a Unit. The set of variants is closed.
type Positioner interface {
	Position(ctx context.Context) (geometry.AxisVector, error)
	AbsoluteMove(ctx context.Context, u geometry.AxisVector) error
	RelativeMove(ctx context.Context, du geometry.AxisVector) error
	WaitUntilStill(ctx context.Context) error

	ReferencePosition(ctx context.Context) (r3.Vector, error)
	ReferenceMove(ctx context.Context, r r3.Vector) error
	ReferenceRelativeMove(ctx context.Context, r r3.Vector) error

	Calibrated() bool
	Calibrate(ctx context.Context) error

	chainLink
}

// chainLink is one link of a stage chain.
type chainLink interface {
	// parent returns the stage this link is mounted on, nil for a fixed stage.
	parent() Positioner
	// localOffset returns this link's own contribution M·u + r0.
	localOffset(ctx context.Context) (r3.Vector, error)
}

// chainPosition sums the offsets of l and every stage below it.
func chainPosition(ctx context.Context, l chainLink) (r3.Vector, error) {
	var sum r3.Vector
	depth := 0
	for link := l; link != nil; depth++ {
		if depth > maxChainDepth {
			return r3.Vector{}, &Error{Op: "reference position", Err: ErrStageCycle}
		}
		off, err := link.localOffset(ctx)
		if err != nil {
			return r3.Vector{}, err
		}
		sum = sum.Add(off)
		p := link.parent()
		if p == nil {
			break
		}
		link = p
	}
	return sum, nil
}

// validateChain checks that following parents from p reaches a FixedStage
// without revisiting a link.
func validateChain(p Positioner) error {
	if p == nil {
		return &Error{Op: "mount", Msg: "no stage given", Err: ErrStageCycle}
	}
	seen := make(map[Positioner]bool)
	for link := p; ; link = link.parent() {
		if link == nil {
			return &Error{Op: "mount", Msg: "chain ends without a fixed stage", Err: ErrStageCycle}
		}
		if seen[link] {
			return &Error{Op: "mount", Msg: "stage chain contains a cycle", Err: ErrStageCycle}
		}
		if len(seen) >= maxChainDepth {
			return &Error{Op: "mount", Msg: fmt.Sprintf("stage chain deeper than %d", maxChainDepth), Err: ErrStageCycle}
		}
		seen[link] = true
		if _, ok := link.(*FixedStage); ok {
			return nil
		}
	}
}
