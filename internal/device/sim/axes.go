package sim

import (
	"context"
	"fmt"
	"sync"
)

// Move is one entry of an axis move log.
type Move struct {
	Axis int
	From float64
	To   float64
}

// Axes is an n-axis manipulator whose moves complete instantly.
type Axes struct {
	mu     sync.Mutex
	name   string
	pos    []float64
	moves  []Move
	faults *Faults

	// Miss is added to every commanded target, to simulate a positioner that
	// stops short.
	Miss float64
}

// NewAxes returns a device with n axes at the given start position (zero
// when start is nil).
func NewAxes(name string, n int, start []float64, faults *Faults) *Axes {
	pos := make([]float64, n)
	copy(pos, start)
	return &Axes{name: name, pos: pos, faults: faults}
}

func (a *Axes) NumAxes() int { return len(a.pos) }

// Snapshot returns the true axis positions without counting an operation.
func (a *Axes) Snapshot() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.pos...)
}

// Moves returns the move log.
func (a *Axes) Moves() []Move {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Move(nil), a.moves...)
}

// ClearMoves empties the move log.
func (a *Axes) ClearMoves() {
	a.mu.Lock()
	a.moves = nil
	a.mu.Unlock()
}

func (a *Axes) check(axis int) error {
	if axis < 0 || axis >= len(a.pos) {
		return fmt.Errorf("sim: %s has no axis %d", a.name, axis)
	}
	return nil
}

func (a *Axes) Position(ctx context.Context, axis int) (float64, error) {
	if err := a.check(axis); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos[axis], nil
}

func (a *Axes) PositionGroup(ctx context.Context, axes []int) ([]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float64, len(axes))
	for i, axis := range axes {
		if axis < 0 || axis >= len(a.pos) {
			return nil, fmt.Errorf("sim: %s has no axis %d", a.name, axis)
		}
		out[i] = a.pos[axis]
	}
	return out, nil
}

func (a *Axes) move(axis int, to float64) {
	a.moves = append(a.moves, Move{Axis: axis, From: a.pos[axis], To: to})
	a.pos[axis] = to
}

func (a *Axes) AbsoluteMove(ctx context.Context, value float64, axis int) error {
	if err := a.check(axis); err != nil {
		return err
	}
	if err := a.faults.tick(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.move(axis, value+a.Miss)
	return nil
}

func (a *Axes) RelativeMove(ctx context.Context, value float64, axis int) error {
	if err := a.check(axis); err != nil {
		return err
	}
	if err := a.faults.tick(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.move(axis, a.pos[axis]+value+a.Miss)
	return nil
}

func (a *Axes) AbsoluteMoveGroup(ctx context.Context, values []float64, axes []int) error {
	if len(values) != len(axes) {
		return fmt.Errorf("sim: %s: %d values for %d axes", a.name, len(values), len(axes))
	}
	for _, axis := range axes {
		if err := a.check(axis); err != nil {
			return err
		}
	}
	if err := a.faults.tick(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, axis := range axes {
		a.move(axis, values[i]+a.Miss)
	}
	return nil
}

func (a *Axes) WaitUntilStill(ctx context.Context, axes ...int) error {
	return ctx.Err()
}

func (a *Axes) Stop(ctx context.Context, axis int) error {
	return a.check(axis)
}
