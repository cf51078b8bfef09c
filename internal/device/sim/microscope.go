package sim

import (
	"context"
	"sync"
)

// Microscope is a focus drive whose moves complete instantly.
type Microscope struct {
	mu     sync.Mutex
	z      float64
	up     float64
	floor  *float64
	moves  []float64
	faults *Faults
}

// NewMicroscope returns a focus drive at z with up direction +1.
func NewMicroscope(z float64, faults *Faults) *Microscope {
	return &Microscope{z: z, up: 1, faults: faults}
}

// SetUpDirection sets the sign convention of the focus axis.
func (m *Microscope) SetUpDirection(up float64) {
	m.mu.Lock()
	m.up = up
	m.mu.Unlock()
}

// SetFloor stores the sample-plane depth.
func (m *Microscope) SetFloor(z float64) {
	m.mu.Lock()
	m.floor = &z
	m.mu.Unlock()
}

// Focus returns the true focal position without counting an operation.
func (m *Microscope) Focus() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.z
}

// Moves returns every commanded focus target.
func (m *Microscope) Moves() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.moves...)
}

func (m *Microscope) Position(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.z, nil
}

func (m *Microscope) AbsoluteMove(ctx context.Context, z float64) error {
	if err := m.faults.tick(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.z = z
	m.moves = append(m.moves, z)
	return nil
}

func (m *Microscope) RelativeMove(ctx context.Context, dz float64) error {
	if err := m.faults.tick(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.z += dz
	m.moves = append(m.moves, m.z)
	return nil
}

func (m *Microscope) WaitUntilStill(ctx context.Context) error { return ctx.Err() }

func (m *Microscope) Stop(ctx context.Context) error { return nil }

func (m *Microscope) UpDirection() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.up
}

func (m *Microscope) FloorZ() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.floor == nil {
		return 0, false
	}
	return *m.floor, true
}
