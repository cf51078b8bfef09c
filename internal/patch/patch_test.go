package patch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopatch/internal/config"
	"autopatch/internal/device/sim"
	"autopatch/pkg/geometry"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept += d
	return nil
}

// scriptAmp returns resistances from a script function.
type scriptAmp struct {
	resist   func() float64
	pressure *sim.Pressure

	starts, stops, offsets, zaps int
	eventsAtStop             int
	holding                  []float64
}

func (a *scriptAmp) StartPatch(context.Context) error { a.starts++; return nil }

func (a *scriptAmp) StopPatch(context.Context) error {
	a.stops++
	a.eventsAtStop = len(a.pressure.Events())
	return nil
}

func (a *scriptAmp) Resistance(context.Context) (float64, error) { return a.resist(), nil }
func (a *scriptAmp) AutoPipetteOffset(context.Context) error    { a.offsets++; return nil }
func (a *scriptAmp) Zap(context.Context) error                  { a.zaps++; return nil }

func (a *scriptAmp) SetHolding(_ context.Context, v float64) error {
	a.holding = append(a.holding, v)
	return nil
}

// fakePipette records motion commands.
type fakePipette struct {
	pos       geometry.AxisVector
	calls     []string
	safeMoves []r3.Vector
	absMoves  []axisTarget
	relMoves  []axisTarget
	steps     int
	onStep    func(n int)
}

func newFakePipette(start ...float64) *fakePipette {
	if len(start) == 0 {
		start = []float64{0, 0, 0}
	}
	return &fakePipette{pos: geometry.AxisVector(start).Clone()}
}

func (p *fakePipette) NumAxes() int { return len(p.pos) }

func (p *fakePipette) Position(context.Context) (geometry.AxisVector, error) {
	return p.pos.Clone(), nil
}

func (p *fakePipette) AbsoluteMove(_ context.Context, u geometry.AxisVector) error {
	p.calls = append(p.calls, "move")
	for i := range u {
		if u[i] != p.pos[i] {
			p.absMoves = append(p.absMoves, axisTarget{i, u[i]})
		}
	}
	p.pos = u.Clone()
	return nil
}

func (p *fakePipette) RelativeMove(_ context.Context, du geometry.AxisVector) error {
	p.calls = append(p.calls, "step")
	for i, d := range du {
		if d != 0 {
			p.relMoves = append(p.relMoves, axisTarget{i, d})
		}
	}
	p.pos = p.pos.Add(du)
	p.steps++
	if p.onStep != nil {
		p.onStep(p.steps)
	}
	return nil
}

func (p *fakePipette) WaitUntilStill(context.Context) error {
	p.calls = append(p.calls, "wait")
	return nil
}

func (p *fakePipette) SafeMove(_ context.Context, r r3.Vector, _ float64) error {
	p.calls = append(p.calls, "safe")
	p.safeMoves = append(p.safeMoves, r)
	return nil
}

type harness struct {
	ap       *AutoPatcher
	amp      *scriptAmp
	pressure *sim.Pressure
	pipette  *fakePipette
	clock    *fakeClock
	cfg      config.Patch
}

func newHarness(t *testing.T, mutate func(*config.Patch)) *harness {
	t.Helper()
	cfg := config.Default().Patch
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		pressure: sim.NewPressure(nil),
		pipette:  newFakePipette(),
		clock:    newFakeClock(),
		cfg:      cfg,
	}
	h.amp = &scriptAmp{pressure: h.pressure, resist: func() float64 { return 5e6 }}
	h.ap = NewAutoPatcher(h.amp, h.pressure, h.pipette, sim.NewMicroscope(0, nil), cfg, Options{Clock: h.clock})
	return h
}

func (h *harness) ramps() []float64 {
	var out []float64
	for _, e := range h.pressure.Events() {
		if e.Ramp {
			out = append(out, e.Value)
		}
	}
	return out
}

func (h *harness) pressures() []float64 {
	var out []float64
	for _, e := range h.pressure.Events() {
		if !e.Ramp {
			out = append(out, e.Value)
		}
	}
	return out
}

// assertTornDownOnce checks that patch mode was stopped once and the resting
// pressure set as the very last command.
func (h *harness) assertTornDownOnce(t *testing.T) {
	t.Helper()
	events := h.pressure.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, 1, h.amp.starts)
	assert.Equal(t, 1, h.amp.stops)
	assert.Equal(t, len(events)-1, h.amp.eventsAtStop, "stop comes right before the final pressure reset")
	last := events[len(events)-1]
	assert.False(t, last.Ramp)
	assert.Equal(t, h.cfg.PressureNear, last.Value)
}

func TestPatchWithoutCellExhaustsApproach(t *testing.T) {
	h := newHarness(t, nil)
	target := r3.Vector{X: 12, Y: -4, Z: -30}

	err := h.ap.Patch(context.Background(), &target)
	require.ErrorIs(t, err, ErrSealUnsuccessful)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "approach", pe.Op)

	assert.Equal(t, []r3.Vector{{X: 12, Y: -4, Z: -20}}, h.pipette.safeMoves)
	assert.Equal(t, h.cfg.MaxDistance, h.pipette.steps)
	for _, m := range h.pipette.relMoves {
		assert.Equal(t, axisTarget{h.cfg.ApproachAxis, h.cfg.ApproachStep}, m)
	}
	assert.Empty(t, h.ramps(), "no break-in")
	assert.Equal(t, []float64{20, 0, 20}, h.pressures())
	h.assertTornDownOnce(t)

	s, ok := h.ap.Session()
	require.True(t, ok)
	assert.Equal(t, Failed, s.State)
	assert.Equal(t, h.cfg.MaxDistance, s.Steps)
	assert.Len(t, s.Readings, h.cfg.MaxDistance+1)
}

func TestPatchSuccess(t *testing.T) {
	h := newHarness(t, nil)
	var sealStart time.Time
	h.amp.resist = func() float64 {
		switch {
		case len(h.ramps()) >= 2:
			return 200e6
		case !sealStart.IsZero() && h.clock.Now().Sub(sealStart) >= 3*time.Second:
			return 2e9
		case h.pipette.steps >= 5:
			if sealStart.IsZero() && h.pressure.Current() == h.cfg.PressureSealing {
				sealStart = h.clock.Now()
			}
			return 7e6
		default:
			return 5e6
		}
	}

	require.NoError(t, h.ap.Patch(context.Background(), nil))
	assert.Empty(t, h.pipette.safeMoves)
	assert.Equal(t, 5, h.pipette.steps)
	assert.Equal(t, []float64{-25, -50}, h.ramps())
	assert.Equal(t, []float64{20, 0, -20, 0, 20}, h.pressures())
	h.assertTornDownOnce(t)

	// The seal was held for at least the minimum time with the holding
	// potential ramping towards Vramp_amplitude.
	require.NotEmpty(t, h.amp.holding)
	assert.Equal(t, 0.0, h.amp.holding[0])
	for i := 1; i < len(h.amp.holding); i++ {
		assert.Less(t, h.amp.holding[i], h.amp.holding[i-1])
	}
	assert.InDelta(t, h.cfg.VrampAmplitude, h.amp.holding[len(h.amp.holding)-1], 0.001)

	s, ok := h.ap.Session()
	require.True(t, ok)
	assert.Equal(t, Done, s.State)
	assert.Equal(t, 2, s.Trials)
	assert.NoError(t, s.Err)
	assert.GreaterOrEqual(t, s.Ended.Sub(s.SealStart), h.cfg.SealMinTime)
}

func TestPatchSealDeadline(t *testing.T) {
	h := newHarness(t, nil)
	h.amp.resist = func() float64 {
		if h.pipette.steps >= 3 {
			return 7e6
		}
		return 5e6
	}

	err := h.ap.Patch(context.Background(), nil)
	require.ErrorIs(t, err, ErrSealUnsuccessful)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "seal", pe.Op)
	assert.Empty(t, h.ramps())
	h.assertTornDownOnce(t)

	s, _ := h.ap.Session()
	assert.GreaterOrEqual(t, h.clock.Now().Sub(s.SealStart), h.cfg.SealDeadline)
	assert.Less(t, h.clock.Now().Sub(s.SealStart), h.cfg.SealDeadline+time.Second)
}

func TestPatchBaselineBounds(t *testing.T) {
	tests := []struct {
		name string
		r    float64
		want error
	}{
		{"broken tip", 1e6, ErrBrokenTip},
		{"obstructed", 30e6, ErrObstructed},
		{"at min_R", 2e6, ErrSealUnsuccessful},
		{"at max_R", 25e6, ErrSealUnsuccessful},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.amp.resist = func() float64 { return tt.r }
			err := h.ap.Patch(context.Background(), nil)
			require.ErrorIs(t, err, tt.want)
			if tt.want != ErrSealUnsuccessful {
				assert.Zero(t, h.pipette.steps, "no approach after a bad baseline")
				assert.Equal(t, 1, h.amp.offsets)
			}
			h.assertTornDownOnce(t)
		})
	}
}

func TestPatchUnconfirmedRiseContinues(t *testing.T) {
	h := newHarness(t, nil)
	spiked := false
	h.amp.resist = func() float64 {
		if h.pipette.steps == 3 && !spiked {
			spiked = true
			return 7e6
		}
		return 5e6
	}

	err := h.ap.Patch(context.Background(), nil)
	require.ErrorIs(t, err, ErrSealUnsuccessful)
	assert.Equal(t, h.cfg.MaxDistance, h.pipette.steps)
	assert.Equal(t, []float64{20, 0, 20, 0, 20}, h.pressures())
	assert.Empty(t, h.amp.holding)
	h.assertTornDownOnce(t)
}

func TestPatchAbort(t *testing.T) {
	h := newHarness(t, nil)
	h.amp.resist = func() float64 {
		if h.pipette.steps == 4 {
			h.ap.Abort()
		}
		return 5e6
	}

	err := h.ap.Patch(context.Background(), nil)
	require.ErrorIs(t, err, ErrAbortRequested)
	assert.Equal(t, 5, h.pipette.steps)
	h.assertTornDownOnce(t)
	s, _ := h.ap.Session()
	assert.Equal(t, Aborted, s.State)

	// A new attempt clears the flag.
	h.amp.resist = func() float64 { return 5e6 }
	assert.ErrorIs(t, h.ap.Patch(context.Background(), nil), ErrSealUnsuccessful)
}

func TestPatchCancelledWhileSealing(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.amp.resist = func() float64 {
		if h.pressure.Current() == h.cfg.PressureSealing {
			cancel()
		}
		if h.pipette.steps >= 2 {
			return 7e6
		}
		return 5e6
	}

	err := h.ap.Patch(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
	h.assertTornDownOnce(t)
	s, _ := h.ap.Session()
	assert.Equal(t, Aborted, s.State)
}

func TestBreakIn(t *testing.T) {
	full := []float64{-25, -50, -75, -100, -125, -150, -175, -200, -225, -250, -275, -300}

	t.Run("never ruptures", func(t *testing.T) {
		h := newHarness(t, nil)
		h.amp.resist = func() float64 { return 2e9 }
		err := h.ap.BreakIn(context.Background())
		require.ErrorIs(t, err, ErrBreakInUnsuccessful)
		assert.Equal(t, full, h.ramps())
		assert.Zero(t, h.amp.stops)
	})

	t.Run("ruptures on the last allowed ramp", func(t *testing.T) {
		h := newHarness(t, nil)
		h.amp.resist = func() float64 {
			if len(h.ramps()) >= len(full) {
				return 250e6
			}
			return 2e9
		}
		require.NoError(t, h.ap.BreakIn(context.Background()))
		assert.Equal(t, full, h.ramps())
	})

	t.Run("seal lost", func(t *testing.T) {
		h := newHarness(t, nil)
		h.amp.resist = func() float64 { return 500e6 }
		err := h.ap.BreakIn(context.Background())
		require.ErrorIs(t, err, ErrSealLost)
		assert.Empty(t, h.ramps())
	})

	t.Run("zap before each ramp", func(t *testing.T) {
		h := newHarness(t, func(c *config.Patch) { c.Zap = true })
		h.amp.resist = func() float64 {
			if len(h.ramps()) >= 3 {
				return 100e6
			}
			return 2e9
		}
		require.NoError(t, h.ap.BreakIn(context.Background()))
		assert.Equal(t, 3, h.amp.zaps)
		s, _ := h.ap.Session()
		assert.Equal(t, Done, s.State)
		assert.Equal(t, 3, s.Trials)
	})
}

func TestCleanPipette(t *testing.T) {
	h := newHarness(t, nil)
	h.pipette = newFakePipette(10, 20, 30)
	h.ap.pipette = h.pipette

	clean, rinse := h.ap.Baths()
	assert.Nil(t, clean)
	assert.Nil(t, rinse)
	err := h.ap.CleanPipette(context.Background())
	require.ErrorIs(t, err, ErrBathNotSet)
	assert.Empty(t, h.pipette.calls)

	h.ap.SetCleaningBath(geometry.AxisVector{1000, 200, 300})
	h.ap.SetRinsingBath(geometry.AxisVector{1500, 250, 350})
	require.NoError(t, h.ap.CleanPipette(context.Background()))

	assert.Equal(t, []axisTarget{
		{0, 1000}, {2, -4700}, {1, 200}, {2, 300},
		{2, -4650}, {1, 250}, {0, 1500}, {2, 350},
		{0, 0}, {1, 20}, {2, 30}, {0, 10},
	}, h.pipette.absMoves)
	for i := 0; i < len(h.pipette.calls); i += 2 {
		assert.Equal(t, []string{"move", "wait"}, h.pipette.calls[i:i+2])
	}
	assert.Equal(t, geometry.AxisVector{10, 20, 30}, h.pipette.pos)

	assert.Equal(t, []float64{-600, -600, 1000, -600, 1000, -600, 1000, -600, 1000, 1000, 20}, h.pressures())
	assert.Equal(t, 11*time.Second, h.clock.slept)
}

func TestSequentialPatchingFollowsDrift(t *testing.T) {
	h := newHarness(t, nil)
	h.ap.SetCleaningBath(geometry.AxisVector{1000, 0, 0})
	h.ap.SetRinsingBath(geometry.AxisVector{2000, 0, 0})

	t0 := r3.Vector{X: 0, Y: 0, Z: -10}
	t1 := r3.Vector{X: 50, Y: 0, Z: -10}
	h.ap.Tracker().Set([]r3.Vector{t0, t1})
	h.pipette.onStep = func(n int) {
		switch n {
		case 3:
			h.ap.Tracker().Update(0, r3.Vector{X: 10, Z: -10})
		case 6:
			h.ap.Tracker().Update(0, r3.Vector{X: 13, Z: -10}) // 3 px: ignored
		}
	}

	results, err := h.ap.SequentialPatching(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for i, res := range results {
		assert.Equal(t, i, res.Index)
		assert.ErrorIs(t, res.Err, ErrSealUnsuccessful)
		assert.NotZero(t, res.Session)
	}
	assert.NotEqual(t, results[0].Session, results[1].Session)

	assert.Equal(t, []r3.Vector{
		{X: 0, Z: 0},
		{X: 10, Z: 0},
		{X: 50, Z: 0},
	}, h.pipette.safeMoves)
	assert.Equal(t, 2, h.amp.stops)
	moves := 0
	for _, c := range h.pipette.calls {
		if c == "move" {
			moves++
		}
	}
	assert.Equal(t, 2*12, moves, "cleaned after each target")
}

func TestSequentialPatchingStopsOnAbort(t *testing.T) {
	h := newHarness(t, nil)
	h.ap.SetCleaningBath(geometry.AxisVector{1000, 0, 0})
	h.ap.SetRinsingBath(geometry.AxisVector{2000, 0, 0})
	h.ap.Tracker().Set([]r3.Vector{{Z: -10}, {X: 50, Z: -10}})
	h.pipette.onStep = func(n int) {
		if n == 2 {
			h.ap.Abort()
		}
	}

	results, err := h.ap.SequentialPatching(context.Background())
	require.ErrorIs(t, err, ErrAbortRequested)
	require.Len(t, results, 1)
	assert.Empty(t, h.pipette.absMoves, "no cleaning after an abort")
}

func TestSequentialPatchingNeedsBaths(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.ap.SequentialPatching(context.Background())
	assert.ErrorIs(t, err, ErrBathNotSet)
	assert.Empty(t, h.pipette.calls)

	h.ap.SetCleaningBath(geometry.AxisVector{1000, 200, 300})
	_, err = h.ap.SequentialPatching(context.Background())
	assert.ErrorIs(t, err, ErrBathNotSet, "rinsing bath still unset")
	assert.Empty(t, h.pipette.calls)
}

func TestCleaningNeedsThreeAxes(t *testing.T) {
	h := newHarness(t, func(c *config.Patch) { c.DropletQuantity = 4 })
	h.pipette = newFakePipette(0, 0)
	h.ap.pipette = h.pipette
	h.ap.SetCleaningBath(geometry.AxisVector{1000, 200})
	h.ap.SetRinsingBath(geometry.AxisVector{1500, 250})

	for name, run := range map[string]func(context.Context) error{
		"clean":    h.ap.CleanPipette,
		"droplets": h.ap.MakeDroplets,
	} {
		err := run(context.Background())
		require.ErrorIs(t, err, ErrTooFewAxes, name)
		var pErr *Error
		require.ErrorAs(t, err, &pErr, name)
		assert.Equal(t, name, pErr.Op)
	}
	h.ap.Tracker().Set([]r3.Vector{{X: 10}})
	_, err := h.ap.SequentialPatching(context.Background())
	require.ErrorIs(t, err, ErrTooFewAxes)
	assert.Empty(t, h.pipette.calls)
	assert.Zero(t, h.amp.starts)
}

func TestMakeDroplets(t *testing.T) {
	h := newHarness(t, func(c *config.Patch) { c.DropletQuantity = 4 })
	require.NoError(t, h.ap.MakeDroplets(context.Background()))

	assert.Equal(t, []axisTarget{
		{0, -1000}, {1, -1000}, {1, 2000}, {0, 2000}, {1, -2000},
	}, h.pipette.relMoves)
	assert.Equal(t, []float64{200, 0, 200, 0, 200, 0, 200, 0, 20}, h.pressures())
	assert.Equal(t, geometry.AxisVector{0, 0, 0}, h.pipette.pos)
}

func TestGridSide(t *testing.T) {
	for n, want := range map[int]int{1: 1, 2: 2, 4: 2, 5: 3, 9: 3, 10: 4} {
		assert.Equal(t, want, gridSide(n), "n=%d", n)
	}
}

func TestTracker(t *testing.T) {
	tr := NewTracker(0.5)
	tr.Set([]r3.Vector{{X: 1}, {X: 2}})
	assert.Equal(t, 2, tr.Len())
	assert.Equal(t, []r3.Vector{{X: 1}, {X: 2}}, tr.Targets())
	assert.True(t, tr.Update(1, r3.Vector{X: 5, Y: 4}))
	assert.False(t, tr.Update(2, r3.Vector{}))

	p, ok := tr.Target(1)
	require.True(t, ok)
	assert.Equal(t, r3.Vector{X: 5, Y: 4}, p)
	_, ok = tr.Target(-1)
	assert.False(t, ok)

	d, ok := tr.Drift(1, r3.Vector{X: 2, Y: 0, Z: 100})
	require.True(t, ok)
	assert.InDelta(t, 10, d, 1e-9, "5 µm at 0.5 µm/px")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "GigasealWait", GigasealWait.String())
	assert.Equal(t, "Unknown", State(42).String())
	assert.True(t, Aborted.Terminal())
	assert.False(t, Sealing.Terminal())
}
