package normalize

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/singlecell.report/internal/scexp"
)

// GeneDeviance returns the per-gene binomial deviance of the raw counts
// under a constant-rate null model (Townes et al. 2019): genes whose
// expression departs most from a constant fraction of each cell's total are
// the most informative. Computed in one sparse pass; the all-zero-cell
// contribution has a closed form.
func GeneDeviance(counts *scexp.CSC) []float64 {
	nGenes, _ := counts.Dims()
	colSums := counts.ColSums()
	rowSums := counts.RowSums()
	var total float64
	for _, s := range colSums {
		total += s
	}

	pi := make([]float64, nGenes)
	for g, s := range rowSums {
		if total > 0 {
			pi[g] = s / total
		}
	}

	dev := make([]float64, nGenes)
	sumN := make([]float64, nGenes) // sum of cell totals over cells with y>0
	counts.Scan(func(g, j int, y float64) {
		n := colSums[j]
		mu := n * pi[g]
		dev[g] += devianceTerm(y, n, mu)
		sumN[g] += n
	})
	for g := range dev {
		if pi[g] <= 0 || pi[g] >= 1 {
			dev[g] = 0
			continue
		}
		// Cells where this gene is zero contribute n_j*log(1/(1-pi)) each.
		dev[g] = 2 * (dev[g] + (total-sumN[g])*math.Log(1/(1-pi[g])))
	}
	return dev
}

// devianceTerm is the unscaled binomial deviance contribution of one
// observation: y*log(y/mu) + (n-y)*log((n-y)/(n-mu)).
func devianceTerm(y, n, mu float64) float64 {
	var t float64
	if y > 0 && mu > 0 {
		t += y * math.Log(y/mu)
	}
	if rem := n - y; rem > 0 && n-mu > 0 {
		t += rem * math.Log(rem/(n-mu))
	}
	return t
}

// DevianceResiduals computes the dense cells-by-len(genes) matrix of
// binomial deviance residuals for the selected gene rows:
// sign(y-mu) * sqrt(2*devianceTerm). Zero counts yield a negative residual
// depending only on the cell total and the gene rate.
func DevianceResiduals(counts *scexp.CSC, genes []int) (*mat.Dense, error) {
	nGenes, nCells := counts.Dims()
	colSums := counts.ColSums()
	rowSums := counts.RowSums()
	var total float64
	for _, s := range colSums {
		total += s
	}
	if total <= 0 {
		return nil, fmt.Errorf("normalize: all-zero counts matrix")
	}

	outCol := make(map[int]int, len(genes))
	pi := make([]float64, len(genes))
	for c, g := range genes {
		if g < 0 || g >= nGenes {
			return nil, fmt.Errorf("normalize: gene index %d outside [0,%d)", g, nGenes)
		}
		if _, dup := outCol[g]; dup {
			return nil, fmt.Errorf("normalize: duplicate gene index %d", g)
		}
		outCol[g] = c
		pi[c] = rowSums[g] / total
	}

	res := mat.NewDense(nCells, len(genes), nil)
	// Fill the zero-count default for every (cell, gene) pair, then overwrite
	// the stored nonzeros.
	for j := 0; j < nCells; j++ {
		n := colSums[j]
		row := res.RawRowView(j)
		for c := range genes {
			if pi[c] <= 0 || pi[c] >= 1 {
				row[c] = 0
				continue
			}
			row[c] = -math.Sqrt(2 * n * math.Log(1/(1-pi[c])))
		}
	}
	counts.Scan(func(g, j int, y float64) {
		c, ok := outCol[g]
		if !ok {
			return
		}
		n := colSums[j]
		mu := n * pi[c]
		d := 2 * devianceTerm(y, n, mu)
		if d < 0 {
			d = 0
		}
		r := math.Sqrt(d)
		if y < mu {
			r = -r
		}
		res.Set(j, c, r)
	})
	return res, nil
}
