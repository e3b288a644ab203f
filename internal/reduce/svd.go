package reduce

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Defaults for the randomized SVD sketch.
const (
	DefaultOversample = 10
	DefaultPowerIters = 2
)

// RandomizedSVD computes an approximate rank-r thin SVD of a using a seeded
// Gaussian sketch with subspace power iterations (Halko, Martinsson & Tropp
// 2011). When the sketch width reaches the smaller matrix dimension it falls
// back to an exact thin SVD, so small inputs are handled exactly.
func RandomizedSVD(a *mat.Dense, rank, oversample, powerIters int, seed int64) (u *mat.Dense, s []float64, v *mat.Dense, err error) {
	n, p := a.Dims()
	if rank < 1 {
		return nil, nil, nil, fmt.Errorf("reduce: rank %d must be positive", rank)
	}
	minDim := n
	if p < minDim {
		minDim = p
	}
	if rank > minDim {
		return nil, nil, nil, fmt.Errorf("reduce: rank %d exceeds min dimension %d", rank, minDim)
	}
	if oversample < 0 {
		oversample = DefaultOversample
	}
	sketch := rank + oversample

	if sketch >= minDim {
		return exactThinSVD(a, rank)
	}

	rng := rand.New(rand.NewSource(seed))
	omega := mat.NewDense(p, sketch, nil)
	for i := 0; i < p; i++ {
		for j := 0; j < sketch; j++ {
			omega.Set(i, j, rng.NormFloat64())
		}
	}

	// Y = A*Omega, refined by power iterations Y <- A*(A^T*Y).
	var y mat.Dense
	y.Mul(a, omega)
	for it := 0; it < powerIters; it++ {
		var z mat.Dense
		z.Mul(a.T(), &y)
		y.Mul(a, &z)
	}

	// Orthonormal basis Q for the range of Y via its thin SVD.
	var basis mat.SVD
	if ok := basis.Factorize(&y, mat.SVDThinU); !ok {
		return nil, nil, nil, fmt.Errorf("reduce: sketch SVD failed to converge")
	}
	var q mat.Dense
	basis.UTo(&q)

	// Project: B = Q^T * A, then exact SVD of the small panel.
	var b mat.Dense
	b.Mul(q.T(), a)
	var small mat.SVD
	if ok := small.Factorize(&b, mat.SVDThin); !ok {
		return nil, nil, nil, fmt.Errorf("reduce: panel SVD failed to converge")
	}
	var ub, vb mat.Dense
	small.UTo(&ub)
	small.VTo(&vb)
	vals := small.Values(nil)

	var uFull mat.Dense
	uFull.Mul(&q, &ub)

	u = mat.NewDense(n, rank, nil)
	u.Copy(uFull.Slice(0, n, 0, rank))
	v = mat.NewDense(p, rank, nil)
	v.Copy(vb.Slice(0, p, 0, rank))
	s = append([]float64(nil), vals[:rank]...)
	return u, s, v, nil
}

func exactThinSVD(a *mat.Dense, rank int) (u *mat.Dense, s []float64, v *mat.Dense, err error) {
	n, p := a.Dims()
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, nil, nil, fmt.Errorf("reduce: SVD failed to converge")
	}
	var uf, vf mat.Dense
	svd.UTo(&uf)
	svd.VTo(&vf)
	vals := svd.Values(nil)

	u = mat.NewDense(n, rank, nil)
	u.Copy(uf.Slice(0, n, 0, rank))
	v = mat.NewDense(p, rank, nil)
	v.Copy(vf.Slice(0, p, 0, rank))
	s = append([]float64(nil), vals[:rank]...)
	return u, s, v, nil
}
