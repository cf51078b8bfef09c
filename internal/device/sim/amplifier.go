package sim

import (
	"context"
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"go.uber.org/zap"
)

// PressureEvent is one command received by the simulated pressure controller.
type PressureEvent struct {
	Ramp     bool
	Value    float64 // Pressure, or ramp amplitude
	Duration float64 // Ramp duration in seconds
	Port     int
}

// Pressure records commands and tracks the current pressure per port.
type Pressure struct {
	mu      sync.Mutex
	current map[int]float64
	events  []PressureEvent
	onRamp  func(amplitude float64)
	faults  *Faults
}

// NewPressure returns a pressure controller at 0 mbar on every port.
func NewPressure(faults *Faults) *Pressure {
	return &Pressure{current: make(map[int]float64), faults: faults}
}

func (p *Pressure) SetPressure(ctx context.Context, value float64, port int) error {
	if err := p.faults.tick(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current[port] = value
	p.events = append(p.events, PressureEvent{Value: value, Port: port})
	return nil
}

func (p *Pressure) Ramp(ctx context.Context, amplitude, durationSeconds float64, port int) error {
	if err := p.faults.tick(); err != nil {
		return err
	}
	p.mu.Lock()
	p.current[port] = 0
	p.events = append(p.events, PressureEvent{Ramp: true, Value: amplitude, Duration: durationSeconds, Port: port})
	hook := p.onRamp
	p.mu.Unlock()
	if hook != nil {
		hook(amplitude)
	}
	return nil
}

func (p *Pressure) Measure(ctx context.Context, port int) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current[port], nil
}

// Current returns the pressure on port 0.
func (p *Pressure) Current() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current[0]
}

// Events returns every command received.
func (p *Pressure) Events() []PressureEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PressureEvent(nil), p.events...)
}

type cellState int

const (
	cellFree cellState = iota
	cellSealed
	cellWhole
)

// Amplifier models pipette resistance against a set of cells: the open tip
// reads PipetteR, touching a cell raises it, suction while touching forms a
// gigaseal, and a strong enough suction ramp or a zap breaks in.
type Amplifier struct {
	PipetteR        float64 // Open-tip resistance (Ω)
	ContactDistance float64 // Tip-to-cell distance that counts as touching (µm)
	ContactRise     float64 // Relative resistance increase on contact
	SealR           float64 // Resistance once sealed
	WholeCellR      float64 // Access resistance after break-in
	BreakInPressure float64 // Suction ramp amplitude magnitude that ruptures the membrane

	mu       sync.Mutex
	world    *World
	pressure *Pressure
	cells    []r3.Vector
	state    cellState
	patching bool
	holding  float64
	zaps     int
	log      *zap.Logger
}

// NewAmplifier returns an amplifier reading the tip of w against cells at the
// given world positions. Pressure ramps sent to p reach the cell model.
func NewAmplifier(w *World, p *Pressure, cells []r3.Vector) *Amplifier {
	a := &Amplifier{
		PipetteR:        6e6,
		ContactDistance: 2,
		ContactRise:     0.4,
		SealR:           2e9,
		WholeCellR:      150e6,
		BreakInPressure: 70,
		world:           w,
		pressure:        p,
		cells:           append([]r3.Vector(nil), cells...),
		log:             w.log,
	}
	p.mu.Lock()
	p.onRamp = a.ramped
	p.mu.Unlock()
	return a
}

func (a *Amplifier) StartPatch(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.patching = true
	return nil
}

func (a *Amplifier) StopPatch(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.patching = false
	return nil
}

// Resistance advances the cell model and returns the current reading.
func (a *Amplifier) Resistance(ctx context.Context) (float64, error) {
	suction := a.pressure.Current() < 0
	tip := a.world.Tip()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != cellFree && !a.within(tip, 5*a.ContactDistance) {
		// Pulled away from the cell, e.g. for cleaning.
		a.state = cellFree
	}
	switch a.state {
	case cellSealed:
		return a.SealR, nil
	case cellWhole:
		return a.WholeCellR, nil
	}
	if a.touching(tip) {
		if suction && a.patching {
			a.state = cellSealed
			a.log.Debug("gigaseal formed")
			return a.SealR, nil
		}
		return a.PipetteR * (1 + a.ContactRise), nil
	}
	return a.PipetteR, nil
}

func (a *Amplifier) touching(tip r3.Vector) bool {
	return a.within(tip, a.ContactDistance)
}

func (a *Amplifier) within(tip r3.Vector, d float64) bool {
	for _, c := range a.cells {
		if tip.Sub(c).Norm() <= d {
			return true
		}
	}
	return false
}

func (a *Amplifier) ramped(amplitude float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == cellSealed && math.Abs(amplitude) >= a.BreakInPressure && amplitude < 0 {
		a.state = cellWhole
		a.log.Debug("membrane ruptured", zap.Float64("ramp", amplitude))
	}
}

func (a *Amplifier) AutoPipetteOffset(ctx context.Context) error { return nil }

func (a *Amplifier) SetHolding(ctx context.Context, volts float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.holding = volts
	return nil
}

// Holding returns the last holding potential set.
func (a *Amplifier) Holding() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.holding
}

func (a *Amplifier) Zap(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.zaps++
	if a.state == cellSealed {
		a.state = cellWhole
	}
	return nil
}

// Zaps returns the number of zap pulses delivered.
func (a *Amplifier) Zaps() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.zaps
}
