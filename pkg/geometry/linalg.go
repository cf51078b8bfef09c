package geometry

import (
	"errors"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// ErrFactorization is returned when the singular value decomposition fails.
var ErrFactorization = errors.New("geometry: singular value decomposition failed")

// rankTolerance is the cutoff below which singular values count as zero:
// max(r, c)·σmax·ε.
func rankTolerance(r, c int, values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return float64(max(r, c)) * values[0] * 2.220446049250313e-16
}

// Rank returns the numerical rank of m.
func Rank(m mat.Matrix) (int, error) {
	r, c := m.Dims()
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDNone); !ok {
		return 0, ErrFactorization
	}
	values := svd.Values(nil)
	tol := rankTolerance(r, c, values)
	rank := 0
	for _, s := range values {
		if s > tol && s > 0 {
			rank++
		}
	}
	return rank, nil
}

// PseudoInverse returns the Moore–Penrose pseudo-inverse of m.
//
// Singular values below the numerical rank cutoff are treated as zero. An
// all-zero matrix yields an all-zero inverse of transposed shape.
func PseudoInverse(m mat.Matrix) (*mat.Dense, error) {
	r, c := m.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDThin); !ok {
		return nil, ErrFactorization
	}

	values := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	tol := rankTolerance(r, c, values)
	inv := make([]float64, len(values))
	for i, s := range values {
		if s > tol && s > 0 {
			inv[i] = 1 / s
		}
	}

	// pinv = V · diag(1/σ) · Uᵀ
	var vs mat.Dense
	vs.Mul(&v, mat.NewDiagDense(len(inv), inv))
	out := mat.NewDense(c, r, nil)
	out.Mul(&vs, u.T())
	return out, nil
}

// Apply returns m·u for a 3×n matrix m.
func Apply(m mat.Matrix, u AxisVector) r3.Vector {
	var out mat.VecDense
	out.MulVec(m, u.Dense())
	return RefFrom(&out)
}

// ApplyInverse returns minv·r for an n×3 matrix minv.
func ApplyInverse(minv mat.Matrix, r r3.Vector) AxisVector {
	var out mat.VecDense
	out.MulVec(minv, RefDense(r))
	return AxisVectorFrom(&out)
}

// EqualApprox reports whether a and b have the same shape and all entries
// agree within tol.
func EqualApprox(a, b mat.Matrix, tol float64) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return false
	}
	for i := 0; i < ar; i++ {
		for j := 0; j < ac; j++ {
			if math.Abs(a.At(i, j)-b.At(i, j)) > tol {
				return false
			}
		}
	}
	return true
}
