package geometry

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestPseudoInverse_SquareInvertible(t *testing.T) {
	m := mat.NewDense(3, 3, []float64{
		1.2, 0.1, -0.3,
		-0.2, 0.9, 0.05,
		0.5, 0.0, 1.0,
	})
	inv, err := PseudoInverse(m)
	require.NoError(t, err)

	r, c := inv.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 3, c)

	var prod mat.Dense
	prod.Mul(inv, m)
	eye := mat.NewDiagDense(3, []float64{1, 1, 1})
	assert.True(t, EqualApprox(&prod, eye, 1e-9), "Minv·M = %v", mat.Formatted(&prod))
}

func TestPseudoInverse_TwoAxis(t *testing.T) {
	// A horizontal stage: two axes, no depth component.
	m := mat.NewDense(3, 2, []float64{
		0.98, 0.12,
		-0.1, 1.03,
		0, 0,
	})
	inv, err := PseudoInverse(m)
	require.NoError(t, err)

	r, c := inv.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, c)

	var mm, mmm mat.Dense
	mm.Mul(m, inv)
	mmm.Mul(&mm, m)
	assert.True(t, EqualApprox(&mmm, m, 1e-9), "M·Minv·M = %v", mat.Formatted(&mmm))

	// The depth coordinate of a target must not influence the axis solution.
	a := ApplyInverse(inv, r3.Vector{X: 10, Y: -4, Z: 0})
	b := ApplyInverse(inv, r3.Vector{X: 10, Y: -4, Z: 250})
	assert.InDeltaSlice(t, a, b, 1e-9)
}

func TestPseudoInverse_Zero(t *testing.T) {
	inv, err := PseudoInverse(mat.NewDense(3, 2, nil))
	require.NoError(t, err)
	assert.True(t, EqualApprox(inv, mat.NewDense(2, 3, nil), 0))
}

func TestApplyRoundTrip(t *testing.T) {
	m := mat.NewDense(3, 3, []float64{
		1, 0.2, 0,
		0, 1, 0.3,
		0.5, 0, -1,
	})
	inv, err := PseudoInverse(m)
	require.NoError(t, err)

	u := AxisVector{12.5, -3, 40}
	back := ApplyInverse(inv, Apply(m, u))
	assert.InDeltaSlice(t, []float64(u), []float64(back), 1e-9)
}

func TestAxisVector(t *testing.T) {
	u := AxisVector{1, 2, 3}
	v := AxisVector{0.5, 2, 4}

	assert.Equal(t, AxisVector{1.5, 4, 7}, u.Add(v))
	assert.Equal(t, AxisVector{0.5, 0, -1}, u.Sub(v))
	assert.InDelta(t, 1.0, u.MaxAbsDiff(v), 1e-12)

	c := u.Clone()
	c[0] = 99
	assert.Equal(t, 1.0, u[0], "Clone must not alias")

	var unset AxisVector
	assert.Nil(t, unset.Clone())
	assert.NotNil(t, AxisVector{}.Clone())
}

func TestColumn(t *testing.T) {
	m := mat.NewDense(3, 2, nil)
	SetColumn(m, 1, r3.Vector{X: 1, Y: 2, Z: 3})
	assert.Equal(t, r3.Vector{X: 1, Y: 2, Z: 3}, Column(m, 1))
	assert.Equal(t, r3.Vector{}, Column(m, 0))
}

func TestRank(t *testing.T) {
	tests := []struct {
		name string
		m    *mat.Dense
		want int
	}{
		{"identity", mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}), 3},
		{"stage", mat.NewDense(3, 2, []float64{1, 0, 0, 1, 0, 0}), 2},
		{"collinear axes", mat.NewDense(3, 3, []float64{1, 2, 0, 0, 0, 0, 0, 0, 1}), 2},
		{"zero", mat.NewDense(3, 2, nil), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Rank(tt.m)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPoint2D(t *testing.T) {
	p := NewPoint2D(40, 30)
	q := NewPoint2D(10, -10)
	assert.Equal(t, Point2D{X: 30, Y: 40}, p.Sub(q))
	assert.Equal(t, Point2D{X: 15, Y: 20}, p.Sub(q).Scale(0.5))
	assert.InDelta(t, 50, p.Distance(q), 1e-12)
}
