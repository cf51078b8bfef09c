// Package config holds the rig's named thresholds, durations and positions.
// A Config is filled from defaults, optionally overlaid with a YAML file, and
// treated as read-only afterwards.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang/geo/r3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"autopatch/internal/calibration"
)

// Config is the complete configuration.
type Config struct {
	Calibration Calibration `yaml:"calibration"`
	Patch       Patch       `yaml:"patch"`
	Rig         Rig         `yaml:"rig"`
}

// Vec3 is a reference-frame position written as [x, y, z].
type Vec3 [3]float64

// Vector converts v to an r3.Vector.
func (v Vec3) Vector() r3.Vector { return r3.Vector{X: v[0], Y: v[1], Z: v[2]} }

// Limits is the travel of one axis.
type Limits struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Calibration configures the calibration engine.
type Calibration struct {
	PositionTolerance float64        `yaml:"position_tolerance"`  // µm
	StackRange        float64        `yaml:"stack_range"`         // Focus stack spans ±StackRange µm
	StackStep         float64        `yaml:"stack_step"`          // µm between stack frames
	InitialDistance   float64        `yaml:"initial_distance"`    // First trial distance (µm)
	Rounds            int            `yaml:"rounds"`              // Trial move doublings per axis
	StageTestDistance float64        `yaml:"stage_test_distance"` // µm
	PixelSize         float64        `yaml:"pixel_size"`          // µm per pixel
	PrimaryAxis       int            `yaml:"primary_axis"`
	Settle            time.Duration  `yaml:"settle"`
	Limits            map[int]Limits `yaml:"limits,omitempty"`
}

// Patch configures the patch controller. Keys follow the names used on the
// rig's parameter sheets.
type Patch struct {
	MinR          float64 `yaml:"min_R"`           // Below: broken tip (Ω)
	MaxR          float64 `yaml:"max_R"`           // Above: obstructed tip (Ω)
	MaxCellR      float64 `yaml:"max_cell_R"`      // Break-in succeeds below this (Ω)
	GigasealR     float64 `yaml:"gigaseal_R"`      // Seal threshold (Ω)
	CellRIncrease float64 `yaml:"cell_R_increase"` // Relative rise that signals a cell
	CellDistance  float64 `yaml:"cell_distance"`   // Start height above the target (µm)
	MaxDistance   int     `yaml:"max_distance"`    // Approach steps
	ApproachAxis  int     `yaml:"approach_axis"`
	ApproachStep  float64 `yaml:"approach_step"` // µm per approach step

	PressureNear          float64       `yaml:"pressure_near"`    // mbar
	PressureSealing       float64       `yaml:"pressure_sealing"` // mbar
	PressureRampIncrement float64       `yaml:"pressure_ramp_increment"`
	PressureRampMax       float64       `yaml:"pressure_ramp_max"`
	PressureRampDuration  time.Duration `yaml:"pressure_ramp_duration"`
	PressurePort          int           `yaml:"pressure_port"`

	SealMinTime      time.Duration `yaml:"seal_min_time"`
	SealDeadline     time.Duration `yaml:"seal_deadline"`
	SealPollInterval time.Duration `yaml:"seal_poll_interval"`
	VrampDuration    time.Duration `yaml:"Vramp_duration"`
	VrampAmplitude   float64       `yaml:"Vramp_amplitude"` // V
	ResistanceSettle time.Duration `yaml:"resistance_settle"`
	OffsetSettle     time.Duration `yaml:"offset_settle"`
	StepSettle       time.Duration `yaml:"step_settle"`
	ConfirmWait      time.Duration `yaml:"confirm_wait"`
	BreakInWait      time.Duration `yaml:"break_in_wait"`
	Zap              bool          `yaml:"zap"`

	CleaningPressure   float64       `yaml:"cleaning_pressure"`
	ExpelPressure      float64       `yaml:"expel_pressure"`
	CleaningCycles     int           `yaml:"cleaning_cycles"`
	FillTime           time.Duration `yaml:"fill_time"`
	SuckTime           time.Duration `yaml:"suck_time"`
	BlowTime           time.Duration `yaml:"blow_time"`
	RinseTime          time.Duration `yaml:"rinse_time"`
	BathApproachHeight float64       `yaml:"bath_approach_height"` // µm above a bath on the way in
	RetractPosition    float64       `yaml:"retract_position"`     // Axis 0 position when leaving the rinse bath

	DropletQuantity int           `yaml:"droplet_quantity"`
	DropletPressure float64       `yaml:"droplet_pressure"`
	DropletTime     time.Duration `yaml:"droplet_time"`
	DropletArea     float64       `yaml:"droplet_area"` // Side of the droplet grid (µm)

	DriftThreshold float64 `yaml:"drift_threshold"` // Tracked-target drift that triggers a re-move (px)
}

// Rig describes the simulated rig and the work list.
type Rig struct {
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	Cells        []Vec3 `yaml:"cells,omitempty"`   // Simulated cell positions (world frame)
	Targets      []Vec3 `yaml:"targets,omitempty"` // Patch targets (reference frame)
	CleaningBath *Vec3  `yaml:"cleaning_bath,omitempty"`
	RinsingBath  *Vec3  `yaml:"rinsing_bath,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Calibration: Calibration{
			PositionTolerance: 0.2,
			StackRange:        5,
			StackStep:         1,
			InitialDistance:   2,
			Rounds:            5,
			StageTestDistance: 50,
			PixelSize:         1,
			PrimaryAxis:       0,
			Settle:            100 * time.Millisecond,
		},
		Patch: Patch{
			MinR:          2e6,
			MaxR:          25e6,
			MaxCellR:      300e6,
			GigasealR:     1e9,
			CellRIncrease: 0.15,
			CellDistance:  10,
			MaxDistance:   20,
			ApproachAxis:  2,
			ApproachStep:  1,

			PressureNear:          20,
			PressureSealing:       -20,
			PressureRampIncrement: -25,
			PressureRampMax:       -300,
			PressureRampDuration:  1150 * time.Millisecond,

			SealMinTime:      15 * time.Second,
			SealDeadline:     90 * time.Second,
			SealPollInterval: 100 * time.Millisecond,
			VrampDuration:    10 * time.Second,
			VrampAmplitude:   -0.07,
			ResistanceSettle: 4 * time.Second,
			OffsetSettle:     2 * time.Second,
			StepSettle:       time.Second,
			ConfirmWait:      10 * time.Second,
			BreakInWait:      1300 * time.Millisecond,

			CleaningPressure:   -600,
			ExpelPressure:      1000,
			CleaningCycles:     4,
			FillTime:           time.Second,
			SuckTime:           625 * time.Millisecond,
			BlowTime:           375 * time.Millisecond,
			RinseTime:          6 * time.Second,
			BathApproachHeight: 5000,
			RetractPosition:    0,

			DropletQuantity: 10,
			DropletPressure: 200,
			DropletTime:     time.Second,
			DropletArea:     2000,

			DriftThreshold: 5,
		},
		Rig: Rig{
			Width:  320,
			Height: 240,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects values the procedures cannot run with.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("config: "+format, args...))
	}

	cal := c.Calibration
	if cal.PositionTolerance <= 0 {
		bad("position_tolerance must be positive")
	}
	if cal.StackStep <= 0 || cal.StackRange < 0 {
		bad("stack_step must be positive and stack_range non-negative")
	}
	if cal.InitialDistance <= 0 || cal.Rounds < 1 {
		bad("initial_distance must be positive and rounds at least 1")
	}
	if cal.PixelSize <= 0 || cal.StageTestDistance <= 0 {
		bad("pixel_size and stage_test_distance must be positive")
	}
	for axis, l := range cal.Limits {
		if l.Min > l.Max {
			bad("limits for axis %d: min %.2f > max %.2f", axis, l.Min, l.Max)
		}
	}

	p := c.Patch
	if p.MinR <= 0 || p.MinR >= p.MaxR {
		bad("need 0 < min_R < max_R")
	}
	if p.MaxCellR >= p.GigasealR {
		bad("max_cell_R must be below gigaseal_R")
	}
	if p.CellRIncrease <= 0 {
		bad("cell_R_increase must be positive")
	}
	if p.MaxDistance < 1 || p.ApproachStep <= 0 {
		bad("max_distance must be at least 1 and approach_step positive")
	}
	if p.SealMinTime > p.SealDeadline {
		bad("seal_min_time %v exceeds seal_deadline %v", p.SealMinTime, p.SealDeadline)
	}
	if p.SealPollInterval <= 0 {
		bad("seal_poll_interval must be positive")
	}
	if p.PressureRampIncrement == 0 || (p.PressureRampIncrement < 0) != (p.PressureRampMax < 0) {
		bad("pressure_ramp_increment must be non-zero with the sign of pressure_ramp_max")
	}
	if p.CleaningCycles < 0 || p.DropletQuantity < 0 {
		bad("cleaning_cycles and droplet_quantity must not be negative")
	}
	if p.DriftThreshold <= 0 {
		bad("drift_threshold must be positive")
	}

	if c.Rig.Width <= 0 || c.Rig.Height <= 0 {
		bad("rig width and height must be positive")
	}
	return errors.Join(errs...)
}

// StackOffsets returns the focus stack offsets -StackRange..+StackRange.
func (c Calibration) StackOffsets() []float64 {
	var out []float64
	for v := -c.StackRange; v <= c.StackRange+c.StackStep*1e-6; v += c.StackStep {
		out = append(out, v)
	}
	return out
}

// Options converts the calibration settings for a named device.
func (c Calibration) Options(name string, log *zap.Logger) calibration.Options {
	opts := calibration.DefaultOptions()
	opts.Name = name
	opts.Logger = log
	opts.PositionTolerance = c.PositionTolerance
	opts.StackOffsets = c.StackOffsets()
	opts.InitialDistance = c.InitialDistance
	opts.Rounds = c.Rounds
	opts.StageTestDistance = c.StageTestDistance
	opts.PixelSize = c.PixelSize
	opts.PrimaryAxis = c.PrimaryAxis
	opts.SettleDelay = c.Settle
	if len(c.Limits) > 0 {
		opts.Limits = make(map[int]calibration.AxisLimits, len(c.Limits))
		for axis, l := range c.Limits {
			opts.Limits[axis] = calibration.AxisLimits{Min: l.Min, Max: l.Max}
		}
	}
	return opts
}
