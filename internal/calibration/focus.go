package calibration

import (
	"context"
	"fmt"
	"image"
	"math"

	"autopatch/internal/device"
	"autopatch/internal/vision"
)

// FocusStack is a set of pipette templates captured at known depth offsets
// from the starting focal plane.
type FocusStack struct {
	Frames  []*image.Gray
	Offsets []float64 // Focus offset of each frame (µm)
}

// Center returns the frame captured closest to the starting focal plane.
func (s *FocusStack) Center() *image.Gray {
	best := 0
	for i, o := range s.Offsets {
		if math.Abs(o) < math.Abs(s.Offsets[best]) {
			best = i
		}
	}
	return s.Frames[best]
}

// Locate matches every frame of the stack against img and returns the best
// match and the index of the frame that produced it.
func (s *FocusStack) Locate(m vision.Matcher, img *image.Gray) (vision.Match, int, error) {
	best := vision.Match{Score: math.Inf(-1)}
	idx := -1
	for i, tmpl := range s.Frames {
		mt, err := m.Match(img, tmpl)
		if err != nil {
			return vision.Match{}, -1, fmt.Errorf("match stack frame %d: %w", i, err)
		}
		if mt.Score > best.Score {
			best, idx = mt, i
		}
	}
	if idx < 0 {
		return vision.Match{}, -1, vision.ErrEmptyImage
	}
	return best, idx, nil
}

// captureFocusStack records a template at each offset around z0. Frames are
// center-cropped, then cropped towards the pipette shaft.
func captureFocusStack(ctx context.Context, cam device.Camera, mic device.Microscope, m vision.Matcher, z0 float64, offsets []float64, c vision.Cardinal) (*FocusStack, error) {
	positions := make([]float64, len(offsets))
	for i, o := range offsets {
		positions[i] = z0 + o
	}
	frames, err := device.Stack(ctx, cam, mic, positions, func(img *image.Gray) *image.Gray {
		return m.CropCardinal(m.CropCenter(img), c)
	})
	if err != nil {
		return nil, err
	}
	return &FocusStack{Frames: frames, Offsets: append([]float64(nil), offsets...)}, nil
}
