package cluster

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/singlecell.report/internal/scexp"
)

// Defaults for mini-batch k-means.
const (
	// DefaultBatchSize is the mini-batch size per update step.
	DefaultBatchSize = 500
	// DefaultMaxIter bounds the number of mini-batch update steps.
	DefaultMaxIter = 100
)

// MiniBatchKMeans is a seeded mini-batch k-means clusterer (Sculley 2010):
// each step assigns one random batch to the nearest centroids and moves every
// touched centroid by a per-centroid decaying learning rate. Reproducible for
// a fixed seed.
type MiniBatchKMeans struct {
	K         int
	BatchSize int
	MaxIter   int
	Seed      int64
}

// Result holds a clustering outcome: one label per point drawn from a
// K-symbol alphabet, the centroids, and the within-cluster sum of squares of
// the final full assignment.
type Result struct {
	K         int
	Labels    []int
	Centroids [][]float64
	WCSS      float64
}

// FitCells clusters the cell columns of a counts matrix.
func (m MiniBatchKMeans) FitCells(counts *scexp.CSC) (*Result, error) {
	return m.fit(newSparseCols(counts))
}

// FitRows clusters the rows of a dense matrix, typically an embedding.
func (m MiniBatchKMeans) FitRows(x *mat.Dense) (*Result, error) {
	return m.fit(newDenseRows(x))
}

func (m MiniBatchKMeans) fit(ps pointSet) (*Result, error) {
	n := ps.Len()
	if m.K < 1 {
		return nil, fmt.Errorf("cluster: k must be positive, got %d", m.K)
	}
	if n < m.K {
		return nil, fmt.Errorf("cluster: %d points cannot form %d clusters", n, m.K)
	}
	batch := m.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	if batch > n {
		batch = n
	}
	maxIter := m.MaxIter
	if maxIter <= 0 {
		maxIter = DefaultMaxIter
	}

	rng := rand.New(rand.NewSource(m.Seed))
	centroids := m.initPlusPlus(ps, rng)

	counts := make([]float64, m.K)
	cnorm := make([]float64, m.K)
	batchIdx := make([]int, batch)
	batchAssign := make([]int, batch)

	for iter := 0; iter < maxIter; iter++ {
		for b := range batchIdx {
			batchIdx[b] = rng.Intn(n)
		}
		updateNorms(centroids, cnorm)
		for b, i := range batchIdx {
			batchAssign[b] = nearest(ps, i, centroids, cnorm)
		}
		for b, i := range batchIdx {
			c := batchAssign[b]
			counts[c]++
			eta := 1 / counts[c]
			scale(centroids[c], 1-eta)
			ps.AccumInto(i, eta, centroids[c])
		}
	}

	// Final full assignment and WCSS.
	updateNorms(centroids, cnorm)
	labels := make([]int, n)
	var wcss float64
	for i := 0; i < n; i++ {
		c := nearest(ps, i, centroids, cnorm)
		labels[i] = c
		d := ps.SqNorm(i) - 2*ps.Dot(i, centroids[c]) + cnorm[c]
		if d > 0 {
			wcss += d
		}
	}

	return &Result{K: m.K, Labels: labels, Centroids: centroids, WCSS: wcss}, nil
}

// initPlusPlus seeds centroids with the k-means++ scheme: first centre
// uniform, subsequent centres sampled proportionally to squared distance from
// the nearest chosen centre.
func (m MiniBatchKMeans) initPlusPlus(ps pointSet, rng *rand.Rand) [][]float64 {
	n := ps.Len()
	dim := ps.Dim()
	centroids := make([][]float64, 0, m.K)

	first := make([]float64, dim)
	ps.AccumInto(rng.Intn(n), 1, first)
	centroids = append(centroids, first)

	d2 := make([]float64, n)
	for i := range d2 {
		d2[i] = math.Inf(1)
	}
	for len(centroids) < m.K {
		last := centroids[len(centroids)-1]
		var lnorm float64
		for _, v := range last {
			lnorm += v * v
		}
		var total float64
		for i := 0; i < n; i++ {
			d := ps.SqNorm(i) - 2*ps.Dot(i, last) + lnorm
			if d < 0 {
				d = 0
			}
			if d < d2[i] {
				d2[i] = d
			}
			total += d2[i]
		}
		next := rng.Intn(n)
		if total > 0 {
			r := rng.Float64() * total
			var cum float64
			for i := 0; i < n; i++ {
				cum += d2[i]
				if cum >= r {
					next = i
					break
				}
			}
		}
		c := make([]float64, dim)
		ps.AccumInto(next, 1, c)
		centroids = append(centroids, c)
	}
	return centroids
}

func updateNorms(centroids [][]float64, cnorm []float64) {
	for c, cent := range centroids {
		var s float64
		for _, v := range cent {
			s += v * v
		}
		cnorm[c] = s
	}
}

func nearest(ps pointSet, i int, centroids [][]float64, cnorm []float64) int {
	best := 0
	bestD := math.Inf(1)
	for c, cent := range centroids {
		d := cnorm[c] - 2*ps.Dot(i, cent)
		if d < bestD {
			bestD = d
			best = c
		}
	}
	return best
}

func scale(v []float64, s float64) {
	for i := range v {
		v[i] *= s
	}
}

// ElbowPoint is one entry of a model-selection sweep.
type ElbowPoint struct {
	K    int
	WCSS float64
}

// Sweep runs mini-batch k-means for every k in [kmin, kmax] over the rows of
// x, recording the within-cluster sum of squares for elbow inspection. Each k
// derives its own deterministic seed from the base seed.
func Sweep(x *mat.Dense, kmin, kmax, batchSize int, seed int64) ([]ElbowPoint, error) {
	if kmin < 1 || kmax < kmin {
		return nil, fmt.Errorf("cluster: invalid sweep range [%d,%d]", kmin, kmax)
	}
	out := make([]ElbowPoint, 0, kmax-kmin+1)
	for k := kmin; k <= kmax; k++ {
		km := MiniBatchKMeans{K: k, BatchSize: batchSize, Seed: seed + int64(k)}
		res, err := km.FitRows(x)
		if err != nil {
			return nil, fmt.Errorf("cluster: sweep k=%d: %w", k, err)
		}
		out = append(out, ElbowPoint{K: k, WCSS: res.WCSS})
	}
	return out, nil
}
