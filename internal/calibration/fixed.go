package calibration

import (
	"context"

	"github.com/golang/geo/r3"

	"autopatch/pkg/geometry"
)

// FixedStage is a platform that cannot move. It terminates every stage chain.
type FixedStage struct {
	r r3.Vector
}

// NewFixedStage returns a fixed stage at reference position r.
func NewFixedStage(r r3.Vector) *FixedStage {
	return &FixedStage{r: r}
}

func (s *FixedStage) Position(context.Context) (geometry.AxisVector, error) {
	return geometry.AxisVector{}, nil
}

func (s *FixedStage) AbsoluteMove(context.Context, geometry.AxisVector) error { return nil }
func (s *FixedStage) RelativeMove(context.Context, geometry.AxisVector) error { return nil }
func (s *FixedStage) WaitUntilStill(context.Context) error { return nil }
func (s *FixedStage) ReferenceMove(context.Context, r3.Vector) error { return nil }
func (s *FixedStage) ReferenceRelativeMove(context.Context, r3.Vector) error { return nil }
func (s *FixedStage) Calibrated() bool { return true }
func (s *FixedStage) Calibrate(context.Context) error { return nil }
func (s *FixedStage) parent() Positioner { return nil }
func (s *FixedStage) localOffset(context.Context) (r3.Vector, error) { return s.r, nil }

// ReferencePosition returns the constant position of the stage.
func (s *FixedStage) ReferencePosition(context.Context) (r3.Vector, error) {
	return s.r, nil
}
