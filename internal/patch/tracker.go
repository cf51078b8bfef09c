package patch

import (
	"sync"

	"github.com/golang/geo/r3"

	"autopatch/pkg/geometry"
)

// Tracker holds the list of patch targets. An image-processing loop may move
// targets while the controller reads them; both go through the tracker.
type Tracker struct {
	mu        sync.Mutex
	targets   []r3.Vector
	pixelSize float64
}

// NewTracker returns an empty tracker. pixelSize converts reference-frame
// distances to image pixels.
func NewTracker(pixelSize float64) *Tracker {
	if pixelSize <= 0 {
		pixelSize = 1
	}
	return &Tracker{pixelSize: pixelSize}
}

// Set replaces the target list.
func (t *Tracker) Set(targets []r3.Vector) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets = append([]r3.Vector(nil), targets...)
}

// Update moves target i. It reports false if there is no such target.
func (t *Tracker) Update(i int, p r3.Vector) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.targets) {
		return false
	}
	t.targets[i] = p
	return true
}

// Target returns target i.
func (t *Tracker) Target(i int) (r3.Vector, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.targets) {
		return r3.Vector{}, false
	}
	return t.targets[i], true
}

// Targets returns a copy of the target list.
func (t *Tracker) Targets() []r3.Vector {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]r3.Vector(nil), t.targets...)
}

// Len returns the number of targets.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.targets)
}

// Drift returns the horizontal distance in pixels between target i and p.
func (t *Tracker) Drift(i int, p r3.Vector) (float64, bool) {
	cur, ok := t.Target(i)
	if !ok {
		return 0, false
	}
	scale := 1 / t.pixelSize
	a := geometry.NewPoint2D(cur.X, cur.Y).Scale(scale)
	b := geometry.NewPoint2D(p.X, p.Y).Scale(scale)
	return a.Distance(b), true
}
