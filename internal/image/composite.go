package image

import (
	"image"
	"image/color"
)

// BlendMode specifies how overlapping tiles are combined.
type BlendMode int

const (
	BlendNormal     BlendMode = iota // Later tiles replace earlier ones
	BlendAverage                     // Overlaps are averaged
	BlendMax                         // Brightest pixel wins
	BlendDifference                  // Absolute difference, for checking registration
)

func (m BlendMode) String() string {
	switch m {
	case BlendNormal:
		return "Normal"
	case BlendAverage:
		return "Average"
	case BlendMax:
		return "Max"
	case BlendDifference:
		return "Difference"
	default:
		return "Unknown"
	}
}

// Composite assembles grayscale tiles into a single image.
type Composite struct {
	Width     int
	Height    int
	Mode      BlendMode
	BackColor color.Gray
	Tiles     []Tile
}

// Tile is one frame placed at an offset in the composite.
type Tile struct {
	Image   *image.Gray
	OffsetX int
	OffsetY int
}

// NewComposite creates a new Composite with the specified dimensions.
func NewComposite(width, height int, mode BlendMode) *Composite {
	return &Composite{
		Width:  width,
		Height: height,
		Mode:   mode,
	}
}

// Place adds a tile with its top-left corner at (x, y). Parts outside the
// composite are clipped at render time.
func (c *Composite) Place(img *image.Gray, x, y int) {
	c.Tiles = append(c.Tiles, Tile{Image: img, OffsetX: x, OffsetY: y})
}

// Render produces the final composited image.
func (c *Composite) Render() *image.Gray {
	result := image.NewGray(image.Rect(0, 0, c.Width, c.Height))
	sum := make([]float64, c.Width*c.Height)
	count := make([]int, c.Width*c.Height)

	for i := range result.Pix {
		result.Pix[i] = c.BackColor.Y
	}
	for _, t := range c.Tiles {
		if t.Image == nil {
			continue
		}
		c.compositeTile(result, sum, count, t)
	}
	if c.Mode == BlendAverage {
		for i, n := range count {
			if n > 0 {
				result.Pix[i] = uint8(sum[i]/float64(n) + 0.5)
			}
		}
	}
	return result
}

// compositeTile blends a single tile onto the result.
func (c *Composite) compositeTile(dst *image.Gray, sum []float64, count []int, t Tile) {
	src := t.Image
	b := src.Bounds()

	for y := b.Min.Y; y < b.Max.Y; y++ {
		dstY := y - b.Min.Y + t.OffsetY
		if dstY < 0 || dstY >= c.Height {
			continue
		}
		for x := b.Min.X; x < b.Max.X; x++ {
			dstX := x - b.Min.X + t.OffsetX
			if dstX < 0 || dstX >= c.Width {
				continue
			}
			i := dstY*c.Width + dstX
			s := src.GrayAt(x, y).Y
			first := count[i] == 0
			count[i]++
			sum[i] += float64(s)
			dst.Pix[i] = blend(dst.Pix[i], s, c.Mode, first)
		}
	}
}

// blend combines a destination and a source pixel.
func blend(d, s uint8, mode BlendMode, first bool) uint8 {
	if first {
		return s
	}
	switch mode {
	case BlendMax:
		return max(d, s)
	case BlendDifference:
		if d > s {
			return d - s
		}
		return s - d
	default:
		return s
	}
}
