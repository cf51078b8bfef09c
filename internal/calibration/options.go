package calibration

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AxisLimits is the allowed travel of one axis, in micrometers.
type AxisLimits struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the limits.
func (l AxisLimits) Contains(v float64) bool {
	return v >= l.Min && v <= l.Max
}

// Options configures calibration and reference-frame motion.
type Options struct {
	Name              string             // Device name used in logs and errors
	PositionTolerance float64            // Allowed verification error (µm)
	StackOffsets      []float64          // Focus stack offsets around the start depth (µm)
	InitialDistance   float64            // First trial distance (µm)
	Rounds            int                // Trial rounds per axis; distance doubles each round
	StageTestDistance float64            // Direct-measurement distance for stages (µm)
	PixelSize         float64            // Image-plane microns per camera pixel
	PrimaryAxis       int                // Axis along the pipette, used by SafeMove
	Axes              []int              // Axes to calibrate; nil means all
	Limits            map[int]AxisLimits // Optional travel limits per axis
	SettleDelay       time.Duration      // Pause after motion before a frame is captured
	Logger            *zap.Logger
}

// DefaultOptions returns default calibration options.
func DefaultOptions() Options {
	return Options{
		PositionTolerance: 0.2,
		StackOffsets:      symmetricOffsets(5, 1),
		InitialDistance:   2,
		Rounds:            5, // 2, 4, 8, 16, 32 µm
		StageTestDistance: 50,
		PixelSize:         1,
		PrimaryAxis:       0,
		SettleDelay:       100 * time.Millisecond,
	}
}

// symmetricOffsets returns -half, -half+step, ..., +half.
func symmetricOffsets(half, step float64) []float64 {
	var out []float64
	for v := -half; v <= half+1e-9; v += step {
		out = append(out, v)
	}
	return out
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// sleep pauses for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
