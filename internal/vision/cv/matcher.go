// Package cv implements vision.Matcher with OpenCV through gocv.
package cv

import (
	"errors"
	"fmt"
	"image"
	"math"

	"autopatch/internal/vision"

	"gocv.io/x/gocv"
)

// ErrNoPipette is returned when no dark structure touches the frame border.
var ErrNoPipette = errors.New("cv: no pipette shaft found at frame border")

// Options configures the OpenCV matcher.
type Options struct {
	BlurKernel  int     // Gaussian kernel size before orientation thresholding (odd)
	BorderRatio float64 // Width of the border strips, as a fraction of the frame size
	MinCoverage float64 // Minimum dark fraction of a strip for it to count as shaft
}

// DefaultOptions returns the matcher defaults.
func DefaultOptions() Options {
	return Options{
		BlurKernel:  5,
		BorderRatio: 0.05,
		MinCoverage: 0.02,
	}
}

// Matcher locates templates with normalised cross-correlation
// (TM_CCOEFF_NORMED) and refines the peak to sub-pixel precision.
type Matcher struct {
	vision.Cropper
	opts Options
}

// New creates a Matcher.
func New(opts Options) *Matcher {
	return &Matcher{opts: opts}
}

// Match returns the best location of template within img.
func (m *Matcher) Match(img, template *image.Gray) (vision.Match, error) {
	if img == nil || template == nil || img.Bounds().Empty() || template.Bounds().Empty() {
		return vision.Match{}, vision.ErrEmptyImage
	}
	if template.Bounds().Dx() > img.Bounds().Dx() || template.Bounds().Dy() > img.Bounds().Dy() {
		return vision.Match{}, vision.ErrTemplateTooLarge
	}

	src, err := toMat(img)
	if err != nil {
		return vision.Match{}, fmt.Errorf("cv: image to mat: %w", err)
	}
	defer src.Close()

	tmpl, err := toMat(template)
	if err != nil {
		return vision.Match{}, fmt.Errorf("cv: template to mat: %w", err)
	}
	defer tmpl.Close()

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	gocv.MatchTemplate(src, tmpl, &result, gocv.TmCcoeffNormed, mask)
	_, maxVal, _, maxLoc := gocv.MinMaxLoc(result)

	x := float64(maxLoc.X) + peakOffset(result, maxLoc, 1, 0)
	y := float64(maxLoc.Y) + peakOffset(result, maxLoc, 0, 1)
	return vision.Match{X: x, Y: y, Score: float64(maxVal)}, nil
}

// peakOffset fits a parabola through the correlation peak and its two
// neighbours along (dx, dy) and returns the sub-pixel offset of the vertex.
func peakOffset(result gocv.Mat, p image.Point, dx, dy int) float64 {
	x0, y0 := p.X-dx, p.Y-dy
	x1, y1 := p.X+dx, p.Y+dy
	if x0 < 0 || y0 < 0 || x1 >= result.Cols() || y1 >= result.Rows() {
		return 0
	}
	l := float64(result.GetFloatAt(y0, x0))
	c := float64(result.GetFloatAt(p.Y, p.X))
	r := float64(result.GetFloatAt(y1, x1))
	den := l - 2*c + r
	if math.Abs(den) < 1e-12 {
		return 0
	}
	off := 0.5 * (l - r) / den
	if math.Abs(off) > 1 {
		return 0
	}
	return off
}

// PipetteCardinal thresholds img (Otsu, dark foreground) and looks at how
// much of each border strip is covered by the dark shaft. The coverage-
// weighted sum of edge normals gives the shaft direction.
func (m *Matcher) PipetteCardinal(img *image.Gray) (vision.Cardinal, error) {
	if img == nil || img.Bounds().Empty() {
		return 0, vision.ErrEmptyImage
	}
	src, err := toMat(img)
	if err != nil {
		return 0, fmt.Errorf("cv: image to mat: %w", err)
	}
	defer src.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	k := m.opts.BlurKernel
	if k < 1 {
		k = 1
	}
	gocv.GaussianBlur(src, &blurred, image.Pt(k, k), 0, 0, gocv.BorderDefault)

	dark := gocv.NewMat()
	defer dark.Close()
	gocv.Threshold(blurred, &dark, 0, 255, gocv.ThresholdBinaryInv+gocv.ThresholdOtsu)

	w, h := dark.Cols(), dark.Rows()
	bw := max(1, int(float64(w)*m.opts.BorderRatio))
	bh := max(1, int(float64(h)*m.opts.BorderRatio))

	top := coverage(dark, image.Rect(0, 0, w, bh))
	bottom := coverage(dark, image.Rect(0, h-bh, w, h))
	left := coverage(dark, image.Rect(0, 0, bw, h))
	right := coverage(dark, image.Rect(w-bw, 0, w, h))

	if max(top, bottom, left, right) < m.opts.MinCoverage {
		return 0, ErrNoPipette
	}
	return cardinalFromVector(right-left, bottom-top), nil
}

// coverage returns the fraction of non-zero pixels of mask inside r.
func coverage(mask gocv.Mat, r image.Rectangle) float64 {
	region := mask.Region(r)
	defer region.Close()
	area := r.Dx() * r.Dy()
	if area == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(region)) / float64(area)
}

// cardinalFromVector quantises the direction (vx, vy), y pointing down, into
// one of eight 45° sectors.
func cardinalFromVector(vx, vy float64) vision.Cardinal {
	sector := int(math.Round(math.Atan2(vy, vx) / (math.Pi / 4)))
	switch sector {
	case 0:
		return vision.East
	case 1:
		return vision.SouthEast
	case 2:
		return vision.South
	case 3:
		return vision.SouthWest
	case -1:
		return vision.NorthEast
	case -2:
		return vision.North
	case -3:
		return vision.NorthWest
	default:
		return vision.West
	}
}

// toMat wraps a grayscale image in a Mat. Images with padding or a non-zero
// origin are compacted first.
func toMat(img *image.Gray) (gocv.Mat, error) {
	b := img.Bounds()
	if img.Stride != b.Dx() || b.Min != (image.Point{}) {
		img = vision.Crop(img, b)
	}
	return gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC1, img.Pix)
}
