package geometry

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// AxisVector is a position or displacement in manipulator axis space, one
// component per axis, in micrometers.
type AxisVector []float64

// Clone returns an independent copy of u. A nil vector stays nil.
func (u AxisVector) Clone() AxisVector {
	if u == nil {
		return nil
	}
	out := make(AxisVector, len(u))
	copy(out, u)
	return out
}

// Add returns u + v. Both vectors must have the same length.
func (u AxisVector) Add(v AxisVector) AxisVector {
	out := u.Clone()
	for i := range out {
		out[i] += v[i]
	}
	return out
}

// Sub returns u - v. Both vectors must have the same length.
func (u AxisVector) Sub(v AxisVector) AxisVector {
	out := u.Clone()
	for i := range out {
		out[i] -= v[i]
	}
	return out
}

// MaxAbsDiff returns the largest per-axis distance between u and v.
func (u AxisVector) MaxAbsDiff(v AxisVector) float64 {
	var worst float64
	for i := range u {
		if d := math.Abs(u[i] - v[i]); d > worst {
			worst = d
		}
	}
	return worst
}

// Dense returns u as a gonum column vector.
func (u AxisVector) Dense() *mat.VecDense {
	return mat.NewVecDense(len(u), u.Clone())
}

// AxisVectorFrom copies a gonum vector into an AxisVector.
func AxisVectorFrom(v mat.Vector) AxisVector {
	out := make(AxisVector, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

// RefDense returns r as a 3-element gonum column vector.
func RefDense(r r3.Vector) *mat.VecDense {
	return mat.NewVecDense(3, []float64{r.X, r.Y, r.Z})
}

// RefFrom converts a 3-element gonum vector to a reference vector.
func RefFrom(v mat.Vector) r3.Vector {
	return r3.Vector{X: v.AtVec(0), Y: v.AtVec(1), Z: v.AtVec(2)}
}

// Column returns column j of a 3-row matrix as a reference vector.
func Column(m mat.Matrix, j int) r3.Vector {
	return r3.Vector{X: m.At(0, j), Y: m.At(1, j), Z: m.At(2, j)}
}

// SetColumn writes r into column j of a 3-row matrix.
func SetColumn(m *mat.Dense, j int, r r3.Vector) {
	m.Set(0, j, r.X)
	m.Set(1, j, r.Y)
	m.Set(2, j, r.Z)
}
