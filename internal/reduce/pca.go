package reduce

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/singlecell.report/internal/normalize"
	"github.com/banshee-data/singlecell.report/internal/scexp"
)

// Embedding names written by the reducers.
const (
	NamePCA       = "PCA"
	NameGLMPCA    = "GLMPCA"
	NameNBFactors = "NBFactors"
)

// PCAConfig controls the linear and generalised PCA reducers.
type PCAConfig struct {
	NTopGenes   int
	NComponents int
	Oversample  int
	PowerIters  int
	Seed        int64
}

// DefaultPCAConfig returns the standard recipe: 1000 top genes, 50
// components, randomized solver.
func DefaultPCAConfig() PCAConfig {
	return PCAConfig{
		NTopGenes:   DefaultNTopGenes,
		NComponents: DefaultNComponents,
		Oversample:  DefaultOversample,
		PowerIters:  DefaultPowerIters,
	}
}

// PCA computes a linear embedding of the scaled, centred log-normalised
// values restricted to the top-variance gene subset, and stores it as "PCA".
func PCA(exp *scexp.Experiment, cfg PCAConfig) error {
	layer := exp.Assay(normalize.AssayLogCounts)
	if layer == nil {
		return fmt.Errorf("reduce: %q layer not computed", normalize.AssayLogCounts)
	}
	genes, err := TopGenesByVariance(layer, cfg.NTopGenes)
	if err != nil {
		return err
	}
	x := densify(layer, genes)
	centreScaleColumns(x, true)

	scores, err := scoreMatrix(x, cfg)
	if err != nil {
		return err
	}
	return exp.SetReducedDim(NamePCA, scores)
}

// GLMPCA computes the generalised-PCA embedding: binomial deviance residuals
// of the raw counts over the top-deviance gene subset, centred, then the same
// randomized solver, stored as "GLMPCA".
func GLMPCA(exp *scexp.Experiment, cfg PCAConfig) error {
	dev := normalize.GeneDeviance(exp.Counts())
	genes := TopGenesByScore(dev, cfg.NTopGenes)
	resid, err := normalize.DevianceResiduals(exp.Counts(), genes)
	if err != nil {
		return err
	}
	centreScaleColumns(resid, false)

	scores, err := scoreMatrix(resid, cfg)
	if err != nil {
		return err
	}
	return exp.SetReducedDim(NameGLMPCA, scores)
}

// scoreMatrix runs the randomized SVD and returns per-cell scores U*S.
func scoreMatrix(x *mat.Dense, cfg PCAConfig) (*mat.Dense, error) {
	n, p := x.Dims()
	rank := cfg.NComponents
	if m := min(n, p); rank > m {
		rank = m
	}
	u, s, _, err := RandomizedSVD(x, rank, cfg.Oversample, cfg.PowerIters, cfg.Seed)
	if err != nil {
		return nil, err
	}
	scores := mat.NewDense(n, rank, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < rank; j++ {
			scores.Set(i, j, u.At(i, j)*s[j])
		}
	}
	return scores, nil
}

// densify extracts the selected gene rows of a sparse layer into a dense
// cells-by-genes matrix.
func densify(layer *scexp.CSC, genes []int) *mat.Dense {
	nGenes, nCells := layer.Dims()
	col := make([]int, nGenes)
	for i := range col {
		col[i] = -1
	}
	for c, g := range genes {
		col[g] = c
	}
	x := mat.NewDense(nCells, len(genes), nil)
	for j := 0; j < nCells; j++ {
		layer.ScanColumn(j, func(g int, v float64) {
			if c := col[g]; c >= 0 {
				x.Set(j, c, v)
			}
		})
	}
	return x
}

// centreScaleColumns centres each column at zero mean and, when scale is
// set, rescales to unit variance. Constant columns are left centred.
func centreScaleColumns(x *mat.Dense, scale bool) {
	n, p := x.Dims()
	if n < 2 {
		return
	}
	for c := 0; c < p; c++ {
		var sum float64
		for r := 0; r < n; r++ {
			sum += x.At(r, c)
		}
		mean := sum / float64(n)
		var sq float64
		for r := 0; r < n; r++ {
			d := x.At(r, c) - mean
			x.Set(r, c, d)
			sq += d * d
		}
		if !scale {
			continue
		}
		sd := math.Sqrt(sq / float64(n-1))
		if sd <= 0 {
			continue
		}
		for r := 0; r < n; r++ {
			x.Set(r, c, x.At(r, c)/sd)
		}
	}
}
