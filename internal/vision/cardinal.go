package vision

import "fmt"

// Cardinal is one of the eight compass directions in image coordinates
// (north is the top edge of the frame).
type Cardinal int

const (
	North Cardinal = iota
	NorthEast
	East
	SouthEast
	South
	SouthWest
	West
	NorthWest
)

var cardinalNames = [...]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

func (c Cardinal) String() string {
	if c < North || c > NorthWest {
		return fmt.Sprintf("Cardinal(%d)", int(c))
	}
	return cardinalNames[c]
}

// ParseCardinal parses a compass label such as "NE".
func ParseCardinal(s string) (Cardinal, error) {
	for i, name := range cardinalNames {
		if name == s {
			return Cardinal(i), nil
		}
	}
	return 0, fmt.Errorf("vision: unknown cardinal %q", s)
}

// Offsets returns the unit step (dx, dy) pointing towards c, with y growing
// downwards.
func (c Cardinal) Offsets() (dx, dy int) {
	switch c {
	case North:
		return 0, -1
	case NorthEast:
		return 1, -1
	case East:
		return 1, 0
	case SouthEast:
		return 1, 1
	case South:
		return 0, 1
	case SouthWest:
		return -1, 1
	case West:
		return -1, 0
	case NorthWest:
		return -1, -1
	}
	return 0, 0
}

// FromOffsets returns the cardinal closest to the direction (dx, dy). Only
// the signs of dx and dy are used; (0, 0) yields North.
func FromOffsets(dx, dy int) Cardinal {
	sx, sy := sign(dx), sign(dy)
	for c := North; c <= NorthWest; c++ {
		cx, cy := c.Offsets()
		if cx == sx && cy == sy {
			return c
		}
	}
	return North
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
