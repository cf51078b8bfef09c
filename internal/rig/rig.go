// Package rig assembles the devices, the calibrated positioners and the patch
// controller of one setup, and persists their state in project files.
package rig

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/geo/r3"
	"go.uber.org/zap"

	"autopatch/internal/calibration"
	"autopatch/internal/config"
	"autopatch/internal/device"
	"autopatch/internal/device/sim"
	imgpkg "autopatch/internal/image"
	"autopatch/internal/patch"
	"autopatch/internal/project"
	"autopatch/internal/vision"
	"autopatch/pkg/geometry"
)

// Options selects optional collaborators of a rig.
type Options struct {
	Matcher vision.Matcher // Nil means the simulated camera's oracle
	Clock   patch.Clock    // Nil means the wall clock
}

// Rig holds the assembled setup.
type Rig struct {
	mu sync.RWMutex

	Config     config.Config
	World      *sim.World // Nil on hardware
	Camera     device.Camera
	Microscope device.Microscope
	Matcher    vision.Matcher
	Stage      *calibration.Stage
	Unit       *calibration.Unit
	Amplifier  device.Amplifier
	Pressure   device.PressureController
	Patcher    *patch.AutoPatcher

	projectPath string
	project     *project.File
	modified    bool
	log         *zap.Logger

	listeners map[EventType][]EventListener
}

// NewSimulated builds a rig on simulated hardware described by cfg.Rig.
// Simulated cells are placed at cfg.Rig.Cells; targets and bath positions
// from cfg.Rig are loaded into the patch controller.
func NewSimulated(cfg config.Config, log *zap.Logger, opts Options) (*Rig, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	wc := sim.DefaultWorld()
	wc.Width, wc.Height = cfg.Rig.Width, cfg.Rig.Height
	wc.PixelSize = cfg.Calibration.PixelSize
	world, err := sim.NewWorld(wc, log)
	if err != nil {
		return nil, fmt.Errorf("rig: %w", err)
	}
	cam := sim.NewCamera(world)
	matcher := opts.Matcher
	if matcher == nil {
		matcher = sim.NewOracle(cam)
	}

	stage, err := calibration.NewStage(world.Stage, calibration.NewFixedStage(r3.Vector{}), cam, matcher,
		cfg.Calibration.Options("stage", log))
	if err != nil {
		return nil, fmt.Errorf("rig: %w", err)
	}
	unit, err := calibration.NewUnit(world.Unit, stage, world.Microscope, cam, matcher,
		cfg.Calibration.Options("unit", log))
	if err != nil {
		return nil, fmt.Errorf("rig: %w", err)
	}

	cells := make([]r3.Vector, len(cfg.Rig.Cells))
	for i, c := range cfg.Rig.Cells {
		cells[i] = c.Vector()
	}
	pressure := sim.NewPressure(world.Faults)
	amp := sim.NewAmplifier(world, pressure, cells)

	tracker := patch.NewTracker(cfg.Calibration.PixelSize)
	patcher := patch.NewAutoPatcher(amp, pressure, unit, world.Microscope, cfg.Patch, patch.Options{
		Clock:   opts.Clock,
		Logger:  log,
		Tracker: tracker,
	})

	r := &Rig{
		Config:     cfg,
		World:      world,
		Camera:     cam,
		Microscope: world.Microscope,
		Matcher:    matcher,
		Stage:      stage,
		Unit:       unit,
		Amplifier:  amp,
		Pressure:   pressure,
		Patcher:    patcher,
		log:        log.Named("rig"),
		listeners:  make(map[EventType][]EventListener),
	}

	targets := make([]r3.Vector, len(cfg.Rig.Targets))
	for i, t := range cfg.Rig.Targets {
		targets[i] = t.Vector()
	}
	tracker.Set(targets)
	if b := cfg.Rig.CleaningBath; b != nil {
		patcher.SetCleaningBath(geometry.AxisVector(b[:]))
	}
	if b := cfg.Rig.RinsingBath; b != nil {
		patcher.SetRinsingBath(geometry.AxisVector(b[:]))
	}
	return r, nil
}

// Calibrate calibrates the stage, then the manipulator mounted on it.
func (r *Rig) Calibrate(ctx context.Context) error {
	if err := r.Stage.Calibrate(ctx); err != nil {
		return err
	}
	r.Emit(EventCalibrated, r.Stage.Name())
	if err := r.Unit.Calibrate(ctx); err != nil {
		return err
	}
	r.Emit(EventCalibrated, r.Unit.Name())
	r.SetModified(true)
	return nil
}

// SetTargets replaces the patch targets.
func (r *Rig) SetTargets(targets []r3.Vector) {
	r.Patcher.Tracker().Set(targets)
	r.Emit(EventTargetsChanged, r.Patcher.Tracker().Targets())
	r.SetModified(true)
}

// PatchAll patches every target in turn. See patch.AutoPatcher.SequentialPatching.
func (r *Rig) PatchAll(ctx context.Context) ([]patch.Result, error) {
	results, err := r.Patcher.SequentialPatching(ctx)
	for _, res := range results {
		r.Emit(EventPatchFinished, res)
	}
	return results, err
}

// Mosaic scans width×height pixels of sample with the stage and writes the
// image to path.
func (r *Rig) Mosaic(ctx context.Context, width, height int, path string) error {
	img, err := r.Stage.Mosaic(ctx, width, height)
	if err != nil {
		return err
	}
	if err := imgpkg.Save(path, img); err != nil {
		return err
	}
	r.mu.Lock()
	if r.project != nil && r.projectPath != "" {
		r.project.SetMosaic(r.projectPath, path)
	}
	r.mu.Unlock()
	return nil
}

// ProjectPath returns the path of the last loaded or saved project.
func (r *Rig) ProjectPath() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.projectPath
}

// LoadProject restores calibrations, baths and targets from a project file.
func (r *Rig) LoadProject(path string) error {
	proj, err := project.Load(path)
	if err != nil {
		return err
	}

	if proj.Stage != nil {
		if err := r.Stage.Restore(*proj.Stage); err != nil {
			return fmt.Errorf("rig: restore stage: %w", err)
		}
	}
	if proj.Unit != nil {
		if err := r.Unit.Restore(*proj.Unit); err != nil {
			return fmt.Errorf("rig: restore unit: %w", err)
		}
	}
	if proj.CleaningBath != nil {
		r.Patcher.SetCleaningBath(proj.CleaningBath)
	}
	if proj.RinsingBath != nil {
		r.Patcher.SetRinsingBath(proj.RinsingBath)
	}
	r.Patcher.Tracker().Set(proj.Targets)

	r.mu.Lock()
	r.project = proj
	r.projectPath = path
	r.modified = false
	r.mu.Unlock()

	r.log.Info("project loaded", zap.String("path", path), zap.Stringer("id", proj.ID))
	r.Emit(EventProjectLoaded, path)
	return nil
}

// SaveProject saves the current calibrations, baths and targets.
func (r *Rig) SaveProject(path string) error {
	r.mu.RLock()
	proj := r.project
	r.mu.RUnlock()
	if proj == nil {
		proj = project.New(r.Stage.Name() + "+" + r.Unit.Name())
	}

	proj.Stage, proj.Unit = nil, nil
	if r.Stage.Calibrated() {
		s, err := r.Stage.Snapshot()
		if err != nil {
			return err
		}
		proj.Stage = &s
	}
	if r.Unit.Calibrated() {
		s, err := r.Unit.Snapshot()
		if err != nil {
			return err
		}
		proj.Unit = &s
	}
	clean, rinse := r.Patcher.Baths()
	proj.CleaningBath, proj.RinsingBath = clean, rinse
	proj.Targets = r.Patcher.Tracker().Targets()

	if err := proj.Save(path); err != nil {
		return err
	}

	r.mu.Lock()
	r.project = proj
	r.projectPath = path
	r.modified = false
	r.mu.Unlock()

	r.log.Info("project saved", zap.String("path", path))
	r.Emit(EventProjectSaved, path)
	return nil
}
