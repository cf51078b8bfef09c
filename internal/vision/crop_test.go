package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCenterRect(t *testing.T) {
	r := CenterRect(image.Rect(0, 0, 640, 480))
	assert.Equal(t, image.Rect(160, 120, 480, 360), r)

	// Offset bounds keep the crop inside the source.
	r = CenterRect(image.Rect(100, 50, 200, 150))
	assert.Equal(t, image.Rect(125, 75, 175, 125), r)
}

func TestCardinalRect(t *testing.T) {
	b := image.Rect(0, 0, 100, 80)
	cases := []struct {
		c    Cardinal
		want image.Rectangle
	}{
		{North, image.Rect(0, 0, 100, 40)},
		{South, image.Rect(0, 40, 100, 80)},
		{East, image.Rect(50, 0, 100, 80)},
		{West, image.Rect(0, 0, 50, 80)},
		{NorthEast, image.Rect(50, 0, 100, 40)},
		{SouthWest, image.Rect(0, 40, 50, 80)},
	}
	for _, tc := range cases {
		t.Run(tc.c.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, CardinalRect(b, tc.c))
		})
	}
}

func TestCropCopies(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 8, 8))
	src.SetGray(5, 6, color.Gray{Y: 200})

	out := Crop(src, image.Rect(4, 4, 8, 8))
	require.Equal(t, image.Rect(0, 0, 4, 4), out.Bounds())
	assert.Equal(t, uint8(200), out.GrayAt(1, 2).Y)

	out.SetGray(1, 2, color.Gray{Y: 1})
	assert.Equal(t, uint8(200), src.GrayAt(5, 6).Y, "crop must not alias its source")
}

func TestCardinalParse(t *testing.T) {
	for c := North; c <= NorthWest; c++ {
		got, err := ParseCardinal(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)

		dx, dy := c.Offsets()
		assert.Equal(t, c, FromOffsets(dx*7, dy*3))
	}
	_, err := ParseCardinal("up")
	assert.Error(t, err)
}
