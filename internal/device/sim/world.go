package sim

import (
	"fmt"

	"github.com/golang/geo/r3"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"autopatch/internal/vision"
	"autopatch/pkg/geometry"
)

// WorldConfig describes the true geometry of a simulated rig.
type WorldConfig struct {
	UnitMatrix  [][]float64 // 3 rows; true axis-to-world map of the manipulator
	StageMatrix [][]float64 // 3×2, nil for a fixed stage
	UnitStart   []float64
	StageStart  []float64
	TipOrigin   r3.Vector // Tip position when all axes are at zero
	PixelSize   float64   // Microns per pixel
	Width       int
	Height      int
	Cardinal    vision.Cardinal // Side the pipette shaft enters from
}

// DefaultWorld is a three-axis manipulator tilted 45° in x-z on a
// motorized stage.
func DefaultWorld() WorldConfig {
	return WorldConfig{
		UnitMatrix: [][]float64{
			{1, 0, 0.5},
			{0, 1, 0},
			{0.5, 0, -1},
		},
		StageMatrix: [][]float64{
			{1, 0},
			{0, 1},
			{0, 0},
		},
		PixelSize: 1,
		Width:     320,
		Height:    240,
		Cardinal:  vision.East,
	}
}

// World holds the simulated devices and the ground truth relating them.
type World struct {
	Faults     *Faults
	Unit       *Axes
	Stage      *Axes // nil for a fixed stage
	Microscope *Microscope

	unitM  *mat.Dense
	stageM *mat.Dense
	cfg    WorldConfig
	log    *zap.Logger
}

// NewWorld builds the devices of cfg. The microscope starts focused on the
// pipette tip.
func NewWorld(cfg WorldConfig, log *zap.Logger) (*World, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PixelSize <= 0 {
		cfg.PixelSize = 1
	}
	unitM, err := denseRows(cfg.UnitMatrix)
	if err != nil {
		return nil, fmt.Errorf("sim: unit matrix: %w", err)
	}
	_, n := unitM.Dims()

	w := &World{Faults: &Faults{}, unitM: unitM, cfg: cfg, log: log.Named("sim")}
	w.Unit = NewAxes("unit", n, cfg.UnitStart, w.Faults)
	if cfg.StageMatrix != nil {
		if w.stageM, err = denseRows(cfg.StageMatrix); err != nil {
			return nil, fmt.Errorf("sim: stage matrix: %w", err)
		}
		if _, c := w.stageM.Dims(); c != 2 {
			return nil, fmt.Errorf("sim: stage matrix has %d columns, want 2", c)
		}
		w.Stage = NewAxes("stage", 2, cfg.StageStart, w.Faults)
	}
	w.Microscope = NewMicroscope(w.Tip().Z, w.Faults)
	return w, nil
}

func denseRows(rows [][]float64) (*mat.Dense, error) {
	if len(rows) != 3 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("need 3 non-empty rows, got %d", len(rows))
	}
	n := len(rows[0])
	data := make([]float64, 0, 3*n)
	for _, r := range rows {
		if len(r) != n {
			return nil, fmt.Errorf("ragged matrix")
		}
		data = append(data, r...)
	}
	return mat.NewDense(3, n, data), nil
}

// Config returns the world configuration.
func (w *World) Config() WorldConfig { return w.cfg }

// UnitMatrix returns a copy of the true manipulator matrix.
func (w *World) UnitMatrix() *mat.Dense { return mat.DenseCopyOf(w.unitM) }

// StageMatrix returns a copy of the true stage matrix, nil for a fixed stage.
func (w *World) StageMatrix() *mat.Dense {
	if w.stageM == nil {
		return nil
	}
	return mat.DenseCopyOf(w.stageM)
}

// SceneOffset returns how far the stage has carried the sample.
func (w *World) SceneOffset() r3.Vector {
	if w.Stage == nil {
		return r3.Vector{}
	}
	return geometry.Apply(w.stageM, w.Stage.Snapshot())
}

// Tip returns the true world position of the pipette tip.
func (w *World) Tip() r3.Vector {
	return geometry.Apply(w.unitM, w.Unit.Snapshot()).Add(w.SceneOffset()).Add(w.cfg.TipOrigin)
}

// TipPixel returns the image position of the tip. World x, y = 0 is the
// center of the frame.
func (w *World) TipPixel() (x, y float64) {
	tip := w.Tip()
	return float64(w.cfg.Width)/2 + tip.X/w.cfg.PixelSize, float64(w.cfg.Height)/2 + tip.Y/w.cfg.PixelSize
}
