package calibration

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Snapshot is a serializable copy of a committed calibration.
type Snapshot struct {
	Matrix [][]float64 `json:"matrix"` // 3 rows of n columns
	Offset [3]float64  `json:"offset"`
}

// Snapshot returns the committed calibration.
func (f *axisFrame) Snapshot() (Snapshot, error) {
	if !f.calibrated {
		return Snapshot{}, notCalibrated(f.name, "snapshot")
	}
	_, n := f.m.Dims()
	rows := make([][]float64, 3)
	for i := range rows {
		rows[i] = make([]float64, n)
		mat.Row(rows[i], i, f.m)
	}
	return Snapshot{Matrix: rows, Offset: [3]float64{f.r0.X, f.r0.Y, f.r0.Z}}, nil
}

// Restore installs a previously saved calibration.
func (f *axisFrame) Restore(s Snapshot) error {
	n := f.dev.NumAxes()
	if len(s.Matrix) != 3 {
		return &Error{Unit: f.name, Op: "restore", Msg: fmt.Sprintf("matrix has %d rows, want 3", len(s.Matrix)), Err: ErrAxisCount}
	}
	data := make([]float64, 0, 3*n)
	for i, row := range s.Matrix {
		if len(row) != n {
			return &Error{Unit: f.name, Op: "restore", Msg: fmt.Sprintf("row %d has %d columns, want %d", i, len(row), n), Err: ErrAxisCount}
		}
		data = append(data, row...)
	}
	return f.commit(mat.NewDense(3, n, data), r3.Vector{X: s.Offset[0], Y: s.Offset[1], Z: s.Offset[2]})
}
