package reduce

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/singlecell.report/internal/scexp"
)

// Defaults for the negative-binomial factor model.
const (
	DefaultNFactors       = 2
	DefaultNBMaxIter      = 10
	DefaultNBGeneSample   = 300  // genes used per cell-step regression
	DefaultNBCellSample   = 1000 // cells used for dispersion estimation
	nbRidge               = 1e-4
	nbMinDispersion       = 1e-8
	nbNewtonStepsPerBlock = 2
)

// NBFactorsConfig controls the latent factor model. GeneSample and
// CellSample cap the subsets used during parameter estimation, trading
// accuracy for speed on large matrices.
type NBFactorsConfig struct {
	NTopGenes  int
	NFactors   int
	MaxIter    int
	GeneSample int
	CellSample int
	Seed       int64
}

// DefaultNBFactorsConfig returns the demo settings: 1000 dispersion-ranked
// genes, 2 latent factors.
func DefaultNBFactorsConfig() NBFactorsConfig {
	return NBFactorsConfig{
		NTopGenes:  DefaultNTopGenes,
		NFactors:   DefaultNFactors,
		MaxIter:    DefaultNBMaxIter,
		GeneSample: DefaultNBGeneSample,
		CellSample: DefaultNBCellSample,
	}
}

// NBFactors fits a low-rank negative-binomial factor model to the raw counts
// of the top-dispersion gene subset: log mu_ij = offset_i + beta_g +
// w_i . alpha_g, fitted by alternating ridge-regularised IRLS over gene and
// cell blocks. The per-cell factor matrix (cells x NFactors) is stored as
// "NBFactors".
func NBFactors(exp *scexp.Experiment, cfg NBFactorsConfig) error {
	counts := exp.Counts()
	nGenes, nCells := counts.Dims()
	if cfg.NFactors < 1 {
		return fmt.Errorf("reduce: factor count %d must be positive", cfg.NFactors)
	}
	if nCells < cfg.NFactors+1 {
		return fmt.Errorf("reduce: %d cells cannot support %d factors", nCells, cfg.NFactors)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	// Rank genes by moments dispersion of depth-normalised counts, estimated
	// on a cell subsample.
	libSize := counts.ColSums()
	var meanLib float64
	for _, s := range libSize {
		meanLib += s
	}
	meanLib /= float64(nCells)
	disp, err := momentsDispersion(counts, libSize, meanLib, cfg.CellSample, rng)
	if err != nil {
		return err
	}
	nTop := cfg.NTopGenes
	if nTop > nGenes {
		nTop = nGenes
	}
	genes := TopGenesByScore(disp, nTop)

	// Dense count panel over the selected genes.
	y := densify(counts, genes)
	phi := make([]float64, len(genes))
	for c, g := range genes {
		phi[c] = math.Max(disp[g], nbMinDispersion)
	}
	offset := make([]float64, nCells)
	for j, s := range libSize {
		if s <= 0 {
			return fmt.Errorf("reduce: cell %d has zero total count", j)
		}
		offset[j] = math.Log(s / meanLib)
	}

	// Initialise cell factors from a sketch of log1p normalised counts.
	w, err := initFactors(y, offset, cfg.NFactors, cfg.Seed)
	if err != nil {
		return err
	}

	k := cfg.NFactors
	beta := make([]float64, len(genes))       // gene intercepts
	alpha := mat.NewDense(len(genes), k, nil) // gene loadings

	geneSample := cfg.GeneSample
	if geneSample <= 0 || geneSample > len(genes) {
		geneSample = len(genes)
	}
	maxIter := cfg.MaxIter
	if maxIter <= 0 {
		maxIter = DefaultNBMaxIter
	}

	for iter := 0; iter < maxIter; iter++ {
		fitGeneBlock(y, w, offset, phi, beta, alpha)
		sample := rng.Perm(len(genes))[:geneSample]
		fitCellBlock(y, w, offset, phi, beta, alpha, sample)
	}

	out := mat.NewDense(nCells, k, nil)
	out.Copy(w)
	return exp.SetReducedDim(NameNBFactors, out)
}

// momentsDispersion estimates per-gene NB dispersion (var-mean)/mean^2 on
// depth-normalised counts over a cell subsample.
func momentsDispersion(counts *scexp.CSC, libSize []float64, meanLib float64, cellSample int, rng *rand.Rand) ([]float64, error) {
	nGenes, nCells := counts.Dims()
	if nCells == 0 {
		return nil, fmt.Errorf("reduce: no cells")
	}
	use := make([]bool, nCells)
	nUse := nCells
	if cellSample > 0 && cellSample < nCells {
		nUse = cellSample
		for _, j := range rng.Perm(nCells)[:cellSample] {
			use[j] = true
		}
	} else {
		for j := range use {
			use[j] = true
		}
	}

	sum := make([]float64, nGenes)
	sumsq := make([]float64, nGenes)
	counts.Scan(func(g, j int, v float64) {
		if !use[j] {
			return
		}
		norm := v * meanLib / libSize[j]
		sum[g] += norm
		sumsq[g] += norm * norm
	})
	disp := make([]float64, nGenes)
	fn := float64(nUse)
	for g := range disp {
		mean := sum[g] / fn
		if mean <= 0 {
			continue
		}
		variance := (sumsq[g] - fn*mean*mean) / (fn - 1)
		d := (variance - mean) / (mean * mean)
		if d > 0 {
			disp[g] = d
		}
	}
	return disp, nil
}

// initFactors seeds the cell factors with a randomized sketch of the log1p
// depth-adjusted panel.
func initFactors(y *mat.Dense, offset []float64, k int, seed int64) (*mat.Dense, error) {
	n, p := y.Dims()
	z := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		adj := math.Exp(-offset[i])
		for j := 0; j < p; j++ {
			z.Set(i, j, math.Log1p(y.At(i, j)*adj))
		}
	}
	centreScaleColumns(z, false)
	u, s, _, err := RandomizedSVD(z, k, DefaultOversample, DefaultPowerIters, seed)
	if err != nil {
		return nil, err
	}
	w := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			w.Set(i, j, u.At(i, j)*s[j]/math.Sqrt(float64(n)))
		}
	}
	return w, nil
}

// fitGeneBlock updates every gene's intercept and loadings by Newton steps
// on the NB log likelihood with the cell factors held fixed.
func fitGeneBlock(y, w *mat.Dense, offset, phi, beta []float64, alpha *mat.Dense) {
	n, p := y.Dims()
	_, k := w.Dims()
	d := k + 1 // intercept plus loadings

	xtwx := mat.NewDense(d, d, nil)
	xtwz := mat.NewVecDense(d, nil)
	xi := make([]float64, d)

	for g := 0; g < p; g++ {
		coef := make([]float64, d)
		coef[0] = beta[g]
		for j := 0; j < k; j++ {
			coef[j+1] = alpha.At(g, j)
		}
		for step := 0; step < nbNewtonStepsPerBlock; step++ {
			zeroDense(xtwx)
			zeroVec(xtwz)
			for i := 0; i < n; i++ {
				xi[0] = 1
				copy(xi[1:], w.RawRowView(i))
				eta := offset[i] + dotSlices(coef, xi)
				mu := clampExp(eta)
				wt := mu / (1 + phi[g]*mu)
				z := eta - offset[i] + (y.At(i, g)-mu)/mu
				accumNormal(xtwx, xtwz, xi, wt, z)
			}
			if !solveRidge(xtwx, xtwz, coef) {
				break
			}
		}
		beta[g] = coef[0]
		for j := 0; j < k; j++ {
			alpha.Set(g, j, coef[j+1])
		}
	}
}

// fitCellBlock updates every cell's factors by Newton steps with the gene
// parameters held fixed, over a gene subsample.
func fitCellBlock(y, w *mat.Dense, offset, phi, beta []float64, alpha *mat.Dense, sample []int) {
	n, _ := y.Dims()
	_, k := w.Dims()

	xtwx := mat.NewDense(k, k, nil)
	xtwz := mat.NewVecDense(k, nil)
	xg := make([]float64, k)

	for i := 0; i < n; i++ {
		coef := append([]float64(nil), w.RawRowView(i)...)
		for step := 0; step < nbNewtonStepsPerBlock; step++ {
			zeroDense(xtwx)
			zeroVec(xtwz)
			for _, g := range sample {
				copy(xg, alpha.RawRowView(g))
				eta := offset[i] + beta[g] + dotSlices(coef, xg)
				mu := clampExp(eta)
				wt := mu / (1 + phi[g]*mu)
				z := eta - offset[i] - beta[g] + (y.At(i, g)-mu)/mu
				accumNormal(xtwx, xtwz, xg, wt, z)
			}
			if !solveRidge(xtwx, xtwz, coef) {
				break
			}
		}
		for j := 0; j < k; j++ {
			w.Set(i, j, coef[j])
		}
	}
}

// accumNormal adds one weighted observation to the normal equations.
func accumNormal(xtwx *mat.Dense, xtwz *mat.VecDense, x []float64, wt, z float64) {
	for a := range x {
		for b := range x {
			xtwx.Set(a, b, xtwx.At(a, b)+wt*x[a]*x[b])
		}
		xtwz.SetVec(a, xtwz.AtVec(a)+wt*x[a]*z)
	}
}

// solveRidge solves (X'WX + ridge*I) c = X'Wz in place of coef, reporting
// whether the system was solvable.
func solveRidge(xtwx *mat.Dense, xtwz *mat.VecDense, coef []float64) bool {
	d := len(coef)
	a := mat.NewDense(d, d, nil)
	a.Copy(xtwx)
	for i := 0; i < d; i++ {
		a.Set(i, i, a.At(i, i)+nbRidge)
	}
	var sol mat.VecDense
	if err := sol.SolveVec(a, xtwz); err != nil {
		return false
	}
	for i := range coef {
		coef[i] = sol.AtVec(i)
	}
	return true
}

func clampExp(eta float64) float64 {
	if eta > 30 {
		eta = 30
	}
	if eta < -30 {
		eta = -30
	}
	return math.Exp(eta)
}

func dotSlices(a, b []float64) float64 {
	var s float64
	for i, v := range a {
		s += v * b[i]
	}
	return s
}

func zeroDense(m *mat.Dense) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, 0)
		}
	}
}

func zeroVec(v *mat.VecDense) {
	for i := 0; i < v.Len(); i++ {
		v.SetVec(i, 0)
	}
}
