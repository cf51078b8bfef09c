package sim

import (
	"context"
	"image"
	"math"
	"sync"
)

// frameInfo is what the camera knew when it captured a frame, carried along
// through crops so the oracle can answer matches exactly.
type frameInfo struct {
	tipX, tipY float64 // Tip pixel in full-frame coordinates
	depth      float64 // Tip depth relative to the focal plane
	sceneX     float64 // Sample displacement in pixels
	sceneY     float64
	originX    int // Full-frame position of this image's top-left pixel
	originY    int
	pipette    bool // Image was cropped towards the pipette shaft
}

// Camera renders the sample texture and the pipette for the current world
// state.
type Camera struct {
	world *World

	mu       sync.Mutex
	registry map[*image.Gray]frameInfo
	snaps    int
}

// NewCamera returns a camera looking at w.
func NewCamera(w *World) *Camera {
	return &Camera{world: w, registry: make(map[*image.Gray]frameInfo)}
}

func (c *Camera) Width() int  { return c.world.cfg.Width }
func (c *Camera) Height() int { return c.world.cfg.Height }

// Snaps returns the number of frames captured.
func (c *Camera) Snaps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snaps
}

func (c *Camera) Snap(ctx context.Context) (*image.Gray, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.world.Faults.tick(); err != nil {
		return nil, err
	}
	w := c.world
	px := w.cfg.PixelSize
	scene := w.SceneOffset()
	tipX, tipY := w.TipPixel()
	info := frameInfo{
		tipX:   tipX,
		tipY:   tipY,
		depth:  w.Tip().Z - w.Microscope.Focus(),
		sceneX: scene.X / px,
		sceneY: scene.Y / px,
	}

	img := image.NewGray(image.Rect(0, 0, w.cfg.Width, w.cfg.Height))
	dx, dy := w.cfg.Cardinal.Offsets()
	norm := math.Hypot(float64(dx), float64(dy))
	ux, uy := float64(dx)/norm, float64(dy)/norm
	// The pipette fades as it leaves the focal plane.
	contrast := 1 / (1 + info.depth*info.depth/25)

	for y := 0; y < w.cfg.Height; y++ {
		for x := 0; x < w.cfg.Width; x++ {
			v := SampleIntensity(float64(x)-info.sceneX, float64(y)-info.sceneY)
			rx, ry := float64(x)-tipX, float64(y)-tipY
			along := rx*ux + ry*uy
			if along >= 0 {
				across := math.Abs(rx*uy - ry*ux)
				if across <= 2+0.15*along {
					v = v*(1-contrast) + 20*contrast
				}
			}
			img.Pix[y*img.Stride+x] = uint8(v)
		}
	}

	c.mu.Lock()
	c.registry[img] = info
	c.snaps++
	c.mu.Unlock()
	return img, nil
}

// SampleIntensity is the brightness of the sample at scene pixel (x, y): a
// smooth, non-repeating pattern in [60, 220].
func SampleIntensity(x, y float64) float64 {
	v := 140 +
		40*math.Sin(x*0.11)*math.Cos(y*0.07) +
		25*math.Sin((x+2*y)*0.05) +
		15*math.Cos((x*x+y*y)*0.0007)
	return math.Max(60, math.Min(220, v))
}

func (c *Camera) lookup(img *image.Gray) (frameInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.registry[img]
	return info, ok
}

func (c *Camera) register(img *image.Gray, info frameInfo) {
	c.mu.Lock()
	c.registry[img] = info
	c.mu.Unlock()
}
