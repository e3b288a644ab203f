// Package normalize computes per-cell size factors and normalised expression
// layers, plus the binomial deviance statistics used by the count-model
// reducer.
//
// Size-factor estimation is pooling-based: cells are stratified by a
// preliminary clustering, factors are estimated against pooled cluster
// pseudo-cells (median-of-ratios between pseudo-cells, library-size ratios
// within a cluster), and the final factors are centred so their geometric
// mean is one.
package normalize

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/singlecell.report/internal/scexp"
)

// DefaultMinMean is the minimum mean expression for a gene to participate in
// size-factor estimation.
const DefaultMinMean = 0.1

// AssayLogCounts is the layer name written by LogNormCounts.
const AssayLogCounts = "logcounts"

// ColSizeFactor is the cell-frame column written by the pipeline after
// PooledSizeFactors.
const ColSizeFactor = "sizefactor"

// PooledSizeFactors estimates one positive scaling factor per cell. labels
// is a preliminary clustering with k levels used as pooling strata; minMean
// excludes weakly expressed genes from estimation.
func PooledSizeFactors(counts *scexp.CSC, labels []int, k int, minMean float64) ([]float64, error) {
	nGenes, nCells := counts.Dims()
	if len(labels) != nCells {
		return nil, fmt.Errorf("normalize: %d labels for %d cells: %w", len(labels), nCells, scexp.ErrDimMismatch)
	}
	if k < 1 {
		return nil, fmt.Errorf("normalize: cluster count %d must be positive", k)
	}
	libSize := counts.ColSums()
	for j, s := range libSize {
		if s <= 0 {
			return nil, fmt.Errorf("normalize: cell %d has zero total count", j)
		}
	}

	// Genes eligible for estimation.
	rowSums := counts.RowSums()
	usable := make([]bool, nGenes)
	for g, s := range rowSums {
		usable[g] = s/float64(nCells) >= minMean
	}

	// Pooled pseudo-cell per cluster: mean count per gene across the
	// cluster's cells.
	clusterSize := make([]int, k)
	for j, c := range labels {
		if c < 0 || c >= k {
			return nil, fmt.Errorf("normalize: label %d at cell %d outside [0,%d)", c, j, k)
		}
		clusterSize[c]++
	}
	pseudo := make([][]float64, k)
	for c := range pseudo {
		pseudo[c] = make([]float64, nGenes)
	}
	counts.Scan(func(g, j int, v float64) {
		pseudo[labels[j]][g] += v
	})
	for c := range pseudo {
		if clusterSize[c] == 0 {
			continue
		}
		for g := range pseudo[c] {
			pseudo[c][g] /= float64(clusterSize[c])
		}
	}

	// Reference pseudo-cell: mean of the non-empty cluster pseudo-cells.
	ref := make([]float64, nGenes)
	nonEmpty := 0
	for c := range pseudo {
		if clusterSize[c] == 0 {
			continue
		}
		nonEmpty++
		for g, v := range pseudo[c] {
			ref[g] += v
		}
	}
	for g := range ref {
		ref[g] /= float64(nonEmpty)
	}

	// Cluster scaling factor: median of pseudo-cell ratios over usable genes.
	clusterFactor := make([]float64, k)
	var ratios []float64
	for c := range pseudo {
		clusterFactor[c] = 1
		if clusterSize[c] == 0 {
			continue
		}
		ratios = ratios[:0]
		for g := 0; g < nGenes; g++ {
			if usable[g] && ref[g] > 0 && pseudo[c][g] > 0 {
				ratios = append(ratios, pseudo[c][g]/ref[g])
			}
		}
		if len(ratios) > 0 {
			clusterFactor[c] = median(ratios)
		}
	}

	// Within-cluster mean library size.
	meanLib := make([]float64, k)
	for j, c := range labels {
		meanLib[c] += libSize[j]
	}
	for c := range meanLib {
		if clusterSize[c] > 0 {
			meanLib[c] /= float64(clusterSize[c])
		}
	}

	sf := make([]float64, nCells)
	for j, c := range labels {
		sf[j] = libSize[j] / meanLib[c] * clusterFactor[c]
	}
	centreGeometric(sf)
	return sf, nil
}

// centreGeometric rescales factors so their geometric mean is one.
func centreGeometric(f []float64) {
	var meanLog float64
	for _, v := range f {
		meanLog += math.Log(v)
	}
	meanLog = math.Exp(meanLog / float64(len(f)))
	for i := range f {
		f[i] /= meanLog
	}
}

func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// LogNormCounts attaches the "logcounts" layer: log2(count/sf + 1) with the
// same sparsity pattern as the counts (zeros stay zero).
func LogNormCounts(exp *scexp.Experiment, sf []float64) error {
	if len(sf) != exp.NCells() {
		return fmt.Errorf("normalize: %d factors for %d cells: %w", len(sf), exp.NCells(), scexp.ErrDimMismatch)
	}
	for j, v := range sf {
		if v <= 0 {
			return fmt.Errorf("normalize: non-positive size factor %v at cell %d", v, j)
		}
	}
	layer := exp.Counts().Transform(func(_, j int, v float64) float64 {
		return math.Log2(v/sf[j] + 1)
	})
	return exp.SetAssay(AssayLogCounts, layer)
}
