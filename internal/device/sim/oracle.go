package sim

import (
	"errors"
	"image"

	"autopatch/internal/vision"
)

// ErrUnknownFrame is returned by the oracle for images the camera never
// produced.
var ErrUnknownFrame = errors.New("sim: image was not captured by the simulated camera")

// Oracle is a vision.Matcher that answers from the camera's record of each
// frame instead of from pixels. Crops made through the oracle keep that
// record, so matching is exact to within the focus-stack spacing.
type Oracle struct {
	cam *Camera
}

// NewOracle returns a matcher for frames captured by cam.
func NewOracle(cam *Camera) *Oracle {
	return &Oracle{cam: cam}
}

func (o *Oracle) CropCenter(img *image.Gray) *image.Gray {
	return o.crop(img, vision.CenterRect(img.Bounds()), false)
}

func (o *Oracle) CropCardinal(img *image.Gray, c vision.Cardinal) *image.Gray {
	return o.crop(img, vision.CardinalRect(img.Bounds(), c), true)
}

func (o *Oracle) crop(img *image.Gray, r image.Rectangle, pipette bool) *image.Gray {
	out := vision.Crop(img, r)
	if info, ok := o.cam.lookup(img); ok {
		r = r.Intersect(img.Bounds())
		info.originX += r.Min.X - img.Bounds().Min.X
		info.originY += r.Min.Y - img.Bounds().Min.Y
		info.pipette = info.pipette || pipette
		o.cam.register(out, info)
	}
	return out
}

// Match returns where template lies in img. Pipette templates score by how
// close their focus depth is to that of img.
func (o *Oracle) Match(img, template *image.Gray) (vision.Match, error) {
	if img == nil || template == nil || img.Bounds().Empty() || template.Bounds().Empty() {
		return vision.Match{}, vision.ErrEmptyImage
	}
	fi, ok := o.cam.lookup(img)
	if !ok {
		return vision.Match{}, ErrUnknownFrame
	}
	ft, ok := o.cam.lookup(template)
	if !ok {
		return vision.Match{}, ErrUnknownFrame
	}

	if ft.pipette {
		dz := fi.depth - ft.depth
		return vision.Match{
			X:     (fi.tipX - float64(fi.originX)) - (ft.tipX - float64(ft.originX)),
			Y:     (fi.tipY - float64(fi.originY)) - (ft.tipY - float64(ft.originY)),
			Score: 1 / (1 + dz*dz),
		}, nil
	}
	return vision.Match{
		X:     float64(ft.originX) + fi.sceneX - ft.sceneX - float64(fi.originX),
		Y:     float64(ft.originY) + fi.sceneY - ft.sceneY - float64(fi.originY),
		Score: 1,
	}, nil
}

// PipetteCardinal returns the side the pipette enters from.
func (o *Oracle) PipetteCardinal(img *image.Gray) (vision.Cardinal, error) {
	if _, ok := o.cam.lookup(img); !ok {
		return 0, ErrUnknownFrame
	}
	return o.cam.world.cfg.Cardinal, nil
}
