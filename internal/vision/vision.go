// Package vision defines the Vision Matcher capability used by calibration:
// template location, pipette orientation and the deterministic crops that
// keep templates and search images consistent.
package vision

import (
	"errors"
	"image"
)

// ErrEmptyImage is returned when a matcher is given an empty image or template.
var ErrEmptyImage = errors.New("vision: empty image")

// ErrTemplateTooLarge is returned when the template does not fit in the image.
var ErrTemplateTooLarge = errors.New("vision: template larger than image")

// Match is the best location of a template in an image.
type Match struct {
	X, Y  float64 // Top-left corner of the best match, in image pixels
	Score float64 // Similarity score, higher is better
}

// Matcher locates templates and the pipette in camera frames.
type Matcher interface {
	// Match returns the best location of template within img.
	Match(img, template *image.Gray) (Match, error)

	// PipetteCardinal returns the compass direction from which the pipette
	// shaft enters the given (usually center-cropped) frame.
	PipetteCardinal(img *image.Gray) (Cardinal, error)

	// CropCenter returns the central region of img.
	CropCenter(img *image.Gray) *image.Gray

	// CropCardinal returns the part of img on the side of the given direction.
	CropCardinal(img *image.Gray, c Cardinal) *image.Gray
}
