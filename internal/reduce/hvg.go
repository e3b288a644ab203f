// Package reduce projects the expression matrix onto low-dimensional
// embeddings: linear PCA over log-normalised counts, generalised PCA over
// binomial deviance residuals, and a negative-binomial latent factor model.
// Each reducer restricts itself to a top-variance gene subset, writes its
// embedding under its own name and is independent of the others.
package reduce

import (
	"fmt"
	"sort"

	"github.com/banshee-data/singlecell.report/internal/scexp"
)

// Defaults shared by the PCA-style reducers.
const (
	DefaultNTopGenes   = 1000
	DefaultNComponents = 50
)

// TopGenesByVariance returns the indices of the n genes with the largest
// variance in the given sparse layer, zeros included in the moments. Ties
// break by gene index.
func TopGenesByVariance(layer *scexp.CSC, n int) ([]int, error) {
	nGenes, nCells := layer.Dims()
	if nCells < 2 {
		return nil, fmt.Errorf("reduce: need at least 2 cells, have %d", nCells)
	}
	sum := make([]float64, nGenes)
	sumsq := make([]float64, nGenes)
	layer.Scan(func(g, _ int, v float64) {
		sum[g] += v
		sumsq[g] += v * v
	})
	vars := make([]float64, nGenes)
	fc := float64(nCells)
	for g := range vars {
		mean := sum[g] / fc
		vars[g] = (sumsq[g] - fc*mean*mean) / (fc - 1)
	}
	return topIndices(vars, n), nil
}

// TopGenesByScore returns the indices of the n genes with the largest score.
func TopGenesByScore(score []float64, n int) []int {
	return topIndices(score, n)
}

func topIndices(score []float64, n int) []int {
	if n > len(score) {
		n = len(score)
	}
	idx := make([]int, len(score))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		if score[idx[a]] != score[idx[b]] {
			return score[idx[a]] > score[idx[b]]
		}
		return idx[a] < idx[b]
	})
	top := append([]int(nil), idx[:n]...)
	sort.Ints(top)
	return top
}
