package vision

import (
	"image"

	"golang.org/x/image/draw"
)

// CenterFraction is the linear size of the center crop relative to the frame.
const CenterFraction = 0.5

// CenterRect returns the central rectangle of b covering CenterFraction of
// its width and height.
func CenterRect(b image.Rectangle) image.Rectangle {
	w := int(float64(b.Dx()) * CenterFraction)
	h := int(float64(b.Dy()) * CenterFraction)
	x0 := b.Min.X + (b.Dx()-w)/2
	y0 := b.Min.Y + (b.Dy()-h)/2
	return image.Rect(x0, y0, x0+w, y0+h)
}

// CardinalRect returns the half (N, E, S, W) or quadrant (NE, SE, SW, NW) of
// b on the side of c. That is where the pipette shaft lies, so the crop keeps
// the shaft and drops the empty side of the tip.
func CardinalRect(b image.Rectangle, c Cardinal) image.Rectangle {
	midX := b.Min.X + b.Dx()/2
	midY := b.Min.Y + b.Dy()/2
	r := b
	dx, dy := c.Offsets()
	switch dx {
	case 1:
		r.Min.X = midX
	case -1:
		r.Max.X = midX
	}
	switch dy {
	case 1:
		r.Min.Y = midY
	case -1:
		r.Max.Y = midY
	}
	return r
}

// Crop copies the region r of img into a new image whose bounds start at the
// origin. The copy never aliases img.
func Crop(img *image.Gray, r image.Rectangle) *image.Gray {
	r = r.Intersect(img.Bounds())
	out := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(out, image.Point{}, img, r, draw.Src, nil)
	return out
}

// Cropper implements the crop half of Matcher with CenterRect and
// CardinalRect. Matchers embed it.
type Cropper struct{}

// CropCenter returns the center crop of img.
func (Cropper) CropCenter(img *image.Gray) *image.Gray {
	return Crop(img, CenterRect(img.Bounds()))
}

// CropCardinal returns the crop of img on the side of c.
func (Cropper) CropCardinal(img *image.Gray, c Cardinal) *image.Gray {
	return Crop(img, CardinalRect(img.Bounds(), c))
}
