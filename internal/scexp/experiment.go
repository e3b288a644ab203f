// Package scexp provides the annotated expression container shared by every
// pipeline stage: a sparse genes-by-cells count matrix with aligned gene and
// cell metadata frames, named assay layers and named low-dimensional
// embeddings.
//
// The container enforces one invariant everywhere: row and column counts stay
// consistent across the counts matrix, every assay, both metadata frames and
// every embedding. Subsetting cells or genes slices all of them at once.
package scexp

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrDimMismatch is returned when an attached structure does not line up with
// the container's current gene/cell dimensions.
var ErrDimMismatch = errors.New("scexp: dimension mismatch")

// Experiment is the session-scoped analysis object. State accumulates
// monotonically: stages append metadata columns, assays and embeddings; only
// SubsetCells and SubsetGenes remove anything, and they do so uniformly.
type Experiment struct {
	counts  *CSC
	rowData *DataFrame // genes
	colData *DataFrame // cells

	assays  map[string]*CSC      // genes x cells, immutable once set
	reduced map[string]*mat.Dense // cells x k
	levels  map[string]int        // label column name -> number of levels
}

// NewExperiment wraps a counts matrix. Gene and cell frames start empty with
// matching lengths.
func NewExperiment(counts *CSC) *Experiment {
	rows, cols := counts.Dims()
	return &Experiment{
		counts:  counts,
		rowData: NewDataFrame(rows),
		colData: NewDataFrame(cols),
		assays:  make(map[string]*CSC),
		reduced: make(map[string]*mat.Dense),
		levels:  make(map[string]int),
	}
}

// NGenes returns the current gene count.
func (e *Experiment) NGenes() int { r, _ := e.counts.Dims(); return r }

// NCells returns the current cell count.
func (e *Experiment) NCells() int { _, c := e.counts.Dims(); return c }

// Counts returns the primary count matrix.
func (e *Experiment) Counts() *CSC { return e.counts }

// RowData returns the gene metadata frame.
func (e *Experiment) RowData() *DataFrame { return e.rowData }

// ColData returns the cell metadata frame.
func (e *Experiment) ColData() *DataFrame { return e.colData }

// SetAssay attaches a named layer aligned with the counts matrix. Layers are
// write-once.
func (e *Experiment) SetAssay(name string, m *CSC) error {
	if _, ok := e.assays[name]; ok {
		return fmt.Errorf("scexp: assay %q already set", name)
	}
	if r, c := m.Dims(); r != e.NGenes() || c != e.NCells() {
		return fmt.Errorf("scexp: assay %q is %dx%d, want %dx%d: %w", name, r, c, e.NGenes(), e.NCells(), ErrDimMismatch)
	}
	e.assays[name] = m
	return nil
}

// Assay returns a named layer, or nil if absent.
func (e *Experiment) Assay(name string) *CSC { return e.assays[name] }

// AssayNames returns the attached layer names.
func (e *Experiment) AssayNames() []string {
	names := make([]string, 0, len(e.assays))
	for n := range e.assays {
		names = append(names, n)
	}
	return names
}

// SetReducedDim attaches a named cells-by-k embedding. Reducers overwrite
// their own entry on re-run.
func (e *Experiment) SetReducedDim(name string, m *mat.Dense) error {
	if r, _ := m.Dims(); r != e.NCells() {
		return fmt.Errorf("scexp: embedding %q has %d rows, want %d cells: %w", name, r, e.NCells(), ErrDimMismatch)
	}
	e.reduced[name] = m
	return nil
}

// ReducedDim returns a named embedding, or nil if absent.
func (e *Experiment) ReducedDim(name string) *mat.Dense { return e.reduced[name] }

// ReducedDimNames returns the attached embedding names.
func (e *Experiment) ReducedDimNames() []string {
	names := make([]string, 0, len(e.reduced))
	for n := range e.reduced {
		names = append(names, n)
	}
	return names
}

// SetLabels stores a categorical per-cell label column. Assignments must be
// in [0, k).
func (e *Experiment) SetLabels(name string, assign []int, k int) error {
	if len(assign) != e.NCells() {
		return fmt.Errorf("scexp: label column %q has %d values, want %d cells: %w", name, len(assign), e.NCells(), ErrDimMismatch)
	}
	for i, a := range assign {
		if a < 0 || a >= k {
			return fmt.Errorf("scexp: label column %q value %d at cell %d outside [0,%d)", name, a, i, k)
		}
	}
	if err := e.colData.SetInts(name, assign); err != nil {
		return err
	}
	e.levels[name] = k
	return nil
}

// Labels returns a categorical label column and its level count.
func (e *Experiment) Labels(name string) (assign []int, k int, ok bool) {
	v := e.colData.Ints(name)
	if v == nil {
		return nil, 0, false
	}
	return v, e.levels[name], true
}

// LabelNames returns the names of all categorical label columns.
func (e *Experiment) LabelNames() []string {
	names := make([]string, 0, len(e.levels))
	for n := range e.levels {
		names = append(names, n)
	}
	return names
}

// SubsetCells keeps only cells where keep is true, slicing the counts matrix,
// every assay, the cell frame and every embedding uniformly.
func (e *Experiment) SubsetCells(keep []bool) error {
	counts, err := e.counts.SubsetColumns(keep)
	if err != nil {
		return err
	}
	colData, err := e.colData.Subset(keep)
	if err != nil {
		return err
	}
	assays := make(map[string]*CSC, len(e.assays))
	for name, a := range e.assays {
		sub, err := a.SubsetColumns(keep)
		if err != nil {
			return fmt.Errorf("scexp: assay %q: %w", name, err)
		}
		assays[name] = sub
	}
	reduced := make(map[string]*mat.Dense, len(e.reduced))
	for name, m := range e.reduced {
		r, c := m.Dims()
		if r != len(keep) {
			return fmt.Errorf("scexp: embedding %q has %d rows, mask has %d: %w", name, r, len(keep), ErrDimMismatch)
		}
		nkeep := 0
		for _, k := range keep {
			if k {
				nkeep++
			}
		}
		sub := mat.NewDense(nkeep, c, nil)
		ri := 0
		for i, k := range keep {
			if k {
				sub.SetRow(ri, m.RawRowView(i))
				ri++
			}
		}
		reduced[name] = sub
	}
	e.counts = counts
	e.colData = colData
	e.assays = assays
	e.reduced = reduced
	return nil
}

// SubsetGenes keeps only genes where keep is true, slicing the counts matrix,
// every assay and the gene frame uniformly. Embeddings are per-cell and are
// unaffected.
func (e *Experiment) SubsetGenes(keep []bool) error {
	counts, err := e.counts.SubsetRows(keep)
	if err != nil {
		return err
	}
	rowData, err := e.rowData.Subset(keep)
	if err != nil {
		return err
	}
	assays := make(map[string]*CSC, len(e.assays))
	for name, a := range e.assays {
		sub, err := a.SubsetRows(keep)
		if err != nil {
			return fmt.Errorf("scexp: assay %q: %w", name, err)
		}
		assays[name] = sub
	}
	e.counts = counts
	e.rowData = rowData
	e.assays = assays
	return nil
}

// Validate checks the alignment invariant across everything attached.
func (e *Experiment) Validate() error {
	genes, cells := e.counts.Dims()
	if e.rowData.Len() != genes {
		return fmt.Errorf("scexp: rowData has %d rows, counts has %d genes: %w", e.rowData.Len(), genes, ErrDimMismatch)
	}
	if e.colData.Len() != cells {
		return fmt.Errorf("scexp: colData has %d rows, counts has %d cells: %w", e.colData.Len(), cells, ErrDimMismatch)
	}
	for name, a := range e.assays {
		if r, c := a.Dims(); r != genes || c != cells {
			return fmt.Errorf("scexp: assay %q is %dx%d, counts is %dx%d: %w", name, r, c, genes, cells, ErrDimMismatch)
		}
	}
	for name, m := range e.reduced {
		if r, _ := m.Dims(); r != cells {
			return fmt.Errorf("scexp: embedding %q has %d rows, counts has %d cells: %w", name, r, cells, ErrDimMismatch)
		}
	}
	return nil
}
