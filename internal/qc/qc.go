// Package qc computes per-cell quality-control metrics and applies the cell
// and gene exclusion rules. All rules are deterministic for fixed thresholds;
// filtering only fails on malformed input.
package qc

import (
	"fmt"
	"regexp"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/singlecell.report/internal/scexp"
)

// Column names appended to the cell frame by Metrics.
const (
	ColSum      = "sum"
	ColDetected = "detected"
)

// Default thresholds for the exclusion rules.
const (
	// DefaultMADMultiplier is the outlier sensitivity for the mitochondrial
	// percentage rule, in scaled median absolute deviations above the median.
	DefaultMADMultiplier = 3.0
	// DefaultMinDetected is the floor on detected genes per cell.
	DefaultMinDetected = 1000
	// DefaultMaxSum is the ceiling on total counts per cell.
	DefaultMaxSum = 45000.0
	// DefaultGeneMinCount is the count at which a gene is considered detected
	// in a cell for the gene filter.
	DefaultGeneMinCount = 1.0
	// DefaultGeneMinFraction is the minimum fraction of cells a gene must be
	// detected in to survive the gene filter.
	DefaultGeneMinFraction = 0.05
)

// DefaultMitoPattern matches mitochondrial gene symbols.
var DefaultMitoPattern = regexp.MustCompile(`^MT-`)

// madScale makes the MAD a consistent estimator of the standard deviation
// under normality.
const madScale = 1.4826

// SubsetPercentColumn returns the cell-frame column name holding the percent
// of counts assigned to a named gene subset.
func SubsetPercentColumn(name string) string {
	return fmt.Sprintf("subsets_%s_percent", name)
}

// Metrics appends per-cell QC columns to the cell frame: total counts,
// detected genes, and for each named subset the percentage of counts coming
// from genes whose symbol matches the subset pattern.
func Metrics(exp *scexp.Experiment, subsets map[string]*regexp.Regexp) error {
	symbols := exp.RowData().Strings("symbol")
	if symbols == nil {
		return fmt.Errorf("qc: experiment has no symbol column")
	}

	counts := exp.Counts()
	nCells := exp.NCells()

	sums := counts.ColSums()
	detected := make([]int, nCells)
	for j := 0; j < nCells; j++ {
		detected[j] = counts.ColNNZ(j)
	}
	if err := exp.ColData().SetFloats(ColSum, sums); err != nil {
		return err
	}
	if err := exp.ColData().SetInts(ColDetected, detected); err != nil {
		return err
	}

	for name, pattern := range subsets {
		inSubset := make([]bool, exp.NGenes())
		for i, sym := range symbols {
			inSubset[i] = pattern.MatchString(sym)
		}
		pct := make([]float64, nCells)
		for j := 0; j < nCells; j++ {
			var sub float64
			counts.ScanColumn(j, func(row int, v float64) {
				if inSubset[row] {
					sub += v
				}
			})
			if sums[j] > 0 {
				pct[j] = 100 * sub / sums[j]
			}
		}
		if err := exp.ColData().SetFloats(SubsetPercentColumn(name), pct); err != nil {
			return err
		}
	}
	return nil
}

// IsHighOutlierMAD flags values lying more than nmads scaled median absolute
// deviations above the median. Only the high side is flagged.
func IsHighOutlierMAD(values []float64, nmads float64) []bool {
	med, mad := medianMAD(values)
	cut := med + nmads*madScale*mad
	out := make([]bool, len(values))
	for i, v := range values {
		out[i] = v > cut
	}
	return out
}

func medianMAD(values []float64) (med, mad float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	med = stat.Quantile(0.5, stat.Empirical, sorted, nil)

	dev := make([]float64, len(values))
	for i, v := range values {
		if v >= med {
			dev[i] = v - med
		} else {
			dev[i] = med - v
		}
	}
	sort.Float64s(dev)
	mad = stat.Quantile(0.5, stat.Empirical, dev, nil)
	return med, mad
}

// CellFilter holds the cell exclusion thresholds.
type CellFilter struct {
	MADMultiplier float64 // mito percent high-outlier sensitivity
	MinDetected   int     // detected-gene floor
	MaxSum        float64 // total-count ceiling
	SubsetName    string  // subset whose percent column drives the outlier rule
}

// DefaultCellFilter returns the standard thresholds with the mitochondrial
// subset driving the outlier rule.
func DefaultCellFilter() CellFilter {
	return CellFilter{
		MADMultiplier: DefaultMADMultiplier,
		MinDetected:   DefaultMinDetected,
		MaxSum:        DefaultMaxSum,
		SubsetName:    "Mito",
	}
}

// FilterCells drops cells failing any exclusion rule and returns the number
// removed. Metrics must have been computed first.
func FilterCells(exp *scexp.Experiment, f CellFilter) (removed int, err error) {
	sums := exp.ColData().Floats(ColSum)
	detected := exp.ColData().Ints(ColDetected)
	pct := exp.ColData().Floats(SubsetPercentColumn(f.SubsetName))
	if sums == nil || detected == nil || pct == nil {
		return 0, fmt.Errorf("qc: metrics not computed (run Metrics first)")
	}

	outlier := IsHighOutlierMAD(pct, f.MADMultiplier)
	keep := make([]bool, exp.NCells())
	for j := range keep {
		keep[j] = !outlier[j] && detected[j] >= f.MinDetected && sums[j] <= f.MaxSum
		if !keep[j] {
			removed++
		}
	}
	if err := exp.SubsetCells(keep); err != nil {
		return 0, err
	}
	return removed, nil
}

// FilterGenes drops genes detected (count >= minCount) in fewer than
// minFraction of cells and returns the number removed.
func FilterGenes(exp *scexp.Experiment, minCount, minFraction float64) (removed int, err error) {
	nCells := exp.NCells()
	if nCells == 0 {
		return 0, fmt.Errorf("qc: no cells")
	}
	detectedIn := make([]int, exp.NGenes())
	exp.Counts().Scan(func(row, _ int, v float64) {
		if v >= minCount {
			detectedIn[row]++
		}
	})
	floor := minFraction * float64(nCells)
	keep := make([]bool, exp.NGenes())
	for i, n := range detectedIn {
		keep[i] = float64(n) >= floor
		if !keep[i] {
			removed++
		}
	}
	if err := exp.SubsetGenes(keep); err != nil {
		return 0, err
	}
	return removed, nil
}
