package calibration

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/golang/geo/r3"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"autopatch/internal/device"
	imgpkg "autopatch/internal/image"
	"autopatch/internal/vision"
	"autopatch/pkg/geometry"
)

// Stage is a motorized horizontal XY stage. It moves the sample and every
// unit mounted on it.
type Stage struct {
	axisFrame
	camera  device.Camera
	matcher vision.Matcher
}

// NewStage mounts a two-axis device on parent.
func NewStage(dev device.Manipulator, parent Positioner, cam device.Camera, m vision.Matcher, opts Options) (*Stage, error) {
	if opts.Name == "" {
		opts.Name = "stage"
	}
	f, err := newAxisFrame(dev, parent, opts)
	if err != nil {
		return nil, err
	}
	if n := dev.NumAxes(); n != 2 {
		return nil, &Error{Unit: f.name, Op: "mount", Msg: fmt.Sprintf("stage has %d axes, want 2", n), Err: ErrAxisCount}
	}
	return &Stage{axisFrame: f, camera: cam, matcher: m}, nil
}

// ReferenceMove moves the stage to the horizontal position of r; r.Z is
// ignored.
func (s *Stage) ReferenceMove(ctx context.Context, r r3.Vector) error {
	r.Z = 0
	return s.referenceMove(ctx, r)
}

// Calibrate measures the stage by moving each axis a fixed distance and
// locating a center template of the starting frame in the new one. The
// parent is calibrated first when needed, and the stage is returned to its
// starting position on every path.
func (s *Stage) Calibrate(ctx context.Context) error {
	if !s.stage.Calibrated() {
		if err := s.stage.Calibrate(ctx); err != nil {
			return fmt.Errorf("%s: calibrate parent: %w", s.name, err)
		}
	}
	start, err := s.Position(ctx)
	if err != nil {
		return err
	}
	parentRef, err := s.stage.ReferencePosition(ctx)
	if err != nil {
		return err
	}

	s.log.Info("calibration started", zap.Float64s("start", start))
	m, err := s.measure(ctx, start)
	if err = joinErrors(err, restorePositioner(ctx, s.log, s.name, s, start)); err != nil {
		s.log.Warn("calibration failed", zap.Error(err))
		return err
	}

	// The start position maps onto the parent's reference position.
	r0 := geometry.Apply(m, start).Mul(-1).Sub(parentRef)
	if err := s.commit(m, r0); err != nil {
		return err
	}
	s.log.Info("calibration committed", zap.String("matrix", fmt.Sprintf("%.4g", mat.Formatted(s.m, mat.Squeeze()))))
	return nil
}

func (s *Stage) measure(ctx context.Context, start geometry.AxisVector) (*mat.Dense, error) {
	frame, err := s.camera.Snap(ctx)
	if err != nil {
		return nil, fmt.Errorf("snap: %w", err)
	}
	tmpl := s.matcher.CropCenter(frame)
	prev, err := s.matcher.Match(frame, tmpl)
	if err != nil {
		return nil, fmt.Errorf("locate template: %w", err)
	}

	d := s.opts.StageTestDistance
	px := s.opts.PixelSize
	m := mat.NewDense(3, 2, nil)
	pos := start.Clone()
	for axis := 0; axis < 2; axis++ {
		pos[axis] += d
		if !s.checkLimit(axis, pos[axis]) {
			return nil, &Error{
				Unit: s.name, Op: "calibrate",
				Msg: fmt.Sprintf("axis %d test move to %.2f is outside its travel", axis, pos[axis]),
				Err: ErrTravelLimit,
			}
		}
		if err := s.dev.RelativeMove(ctx, d, axis); err != nil {
			return nil, fmt.Errorf("%s: move axis %d: %w", s.name, axis, err)
		}
		if err := s.dev.WaitUntilStill(ctx, axis); err != nil {
			return nil, fmt.Errorf("%s: wait axis %d: %w", s.name, axis, err)
		}
		if err := s.verifyAxis(ctx, axis, pos[axis]); err != nil {
			return nil, err
		}
		if err := sleep(ctx, s.opts.SettleDelay); err != nil {
			return nil, err
		}

		img, err := s.camera.Snap(ctx)
		if err != nil {
			return nil, fmt.Errorf("snap: %w", err)
		}
		mt, err := s.matcher.Match(img, tmpl)
		if err != nil {
			return nil, fmt.Errorf("locate template: %w", err)
		}
		col := r3.Vector{X: (mt.X - prev.X) * px / d, Y: (mt.Y - prev.Y) * px / d}
		geometry.SetColumn(m, axis, col)
		s.log.Debug("stage axis measured", zap.Int("axis", axis), zap.Stringer("column", col))
		prev = mt
	}
	return m, nil
}

// CenterOn moves the stage so that the sample point currently at image pixel
// (x, y) comes to the center of the frame.
func (s *Stage) CenterOn(ctx context.Context, p geometry.Point2D) error {
	center := geometry.NewPoint2D(float64(s.camera.Width())/2, float64(s.camera.Height())/2)
	d := center.Sub(p).Scale(s.opts.PixelSize)
	move := r3.Vector{X: d.X, Y: d.Y}
	if err := s.ReferenceRelativeMove(ctx, move); err != nil {
		return err
	}
	return s.WaitUntilStill(ctx)
}

// Mosaic scans the sample in a serpentine pattern and assembles a
// width×height pixel image whose top-left corner is the current field of
// view. The stage returns to its starting position afterwards.
func (s *Stage) Mosaic(ctx context.Context, width, height int) (out *image.Gray, err error) {
	if !s.calibrated {
		return nil, notCalibrated(s.name, "mosaic")
	}
	dx, dy := s.camera.Width(), s.camera.Height()
	if dx <= 0 || dy <= 0 || width <= 0 || height <= 0 {
		return nil, &Error{Unit: s.name, Op: "mosaic", Msg: "empty frame or mosaic size", Err: ErrDegenerate}
	}
	nx := int(math.Ceil(float64(width) / float64(dx)))
	ny := int(math.Ceil(float64(height) / float64(dy)))

	start, err := s.Position(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = joinErrors(err, restorePositioner(ctx, s.log, s.name, s, start))
		if err != nil {
			out = nil
		}
	}()

	canvas := imgpkg.NewComposite(width, height, imgpkg.BlendNormal)
	capture := func(col, row int) error {
		if err := sleep(ctx, s.opts.SettleDelay); err != nil {
			return err
		}
		img, err := s.camera.Snap(ctx)
		if err != nil {
			return fmt.Errorf("snap tile %d,%d: %w", col, row, err)
		}
		canvas.Place(img, col*dx, row*dy)
		return nil
	}
	step := func(move r3.Vector) error {
		if err := s.ReferenceRelativeMove(ctx, move); err != nil {
			return err
		}
		return s.WaitUntilStill(ctx)
	}

	px := s.opts.PixelSize
	col, dir := 0, 1
	for row := 0; row < ny; row++ {
		if err := capture(col, row); err != nil {
			return nil, err
		}
		for i := 1; i < nx; i++ {
			// Shift the sample left to bring the next tile into view.
			if err := step(r3.Vector{X: -float64(dir*dx) * px}); err != nil {
				return nil, err
			}
			col += dir
			if err := capture(col, row); err != nil {
				return nil, err
			}
		}
		if row < ny-1 {
			if err := step(r3.Vector{Y: -float64(dy) * px}); err != nil {
				return nil, err
			}
			dir = -dir
		}
	}
	s.log.Info("mosaic done", zap.Int("tiles_x", nx), zap.Int("tiles_y", ny))
	return canvas.Render(), nil
}
