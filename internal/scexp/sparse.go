package scexp

import (
	"fmt"
	"sort"
)

// Triplet is one non-zero entry of a genes-by-cells matrix in coordinate form,
// as read from a MatrixMarket file.
type Triplet struct {
	Row int // gene index
	Col int // cell index
	Val float64
}

// CSC is a compressed-sparse-column matrix of non-negative counts with genes
// as rows and cells as columns. Column-major storage makes per-cell scans
// (QC metrics, size factors, k-means distances) cheap; per-gene statistics are
// computed by a full triplet scan.
type CSC struct {
	rows, cols int
	indptr     []int // len cols+1; nonzeros of column j live in [indptr[j], indptr[j+1])
	indices    []int // row index per nonzero, ascending within a column
	data       []float64
}

// NewCSC builds a CSC matrix from coordinate triplets. Duplicate (row,col)
// entries are summed, matching MatrixMarket semantics.
func NewCSC(rows, cols int, entries []Triplet) (*CSC, error) {
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("scexp: negative dimensions %dx%d", rows, cols)
	}
	for _, e := range entries {
		if e.Row < 0 || e.Row >= rows || e.Col < 0 || e.Col >= cols {
			return nil, fmt.Errorf("scexp: entry (%d,%d) outside %dx%d matrix", e.Row, e.Col, rows, cols)
		}
	}
	sorted := make([]Triplet, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Col != sorted[j].Col {
			return sorted[i].Col < sorted[j].Col
		}
		return sorted[i].Row < sorted[j].Row
	})

	m := &CSC{
		rows:   rows,
		cols:   cols,
		indptr: make([]int, cols+1),
	}
	idx := 0
	for j := 0; j < cols; j++ {
		m.indptr[j] = len(m.indices)
		for idx < len(sorted) && sorted[idx].Col == j {
			e := sorted[idx]
			if n := len(m.indices); n > m.indptr[j] && m.indices[n-1] == e.Row {
				m.data[n-1] += e.Val
			} else {
				m.indices = append(m.indices, e.Row)
				m.data = append(m.data, e.Val)
			}
			idx++
		}
	}
	m.indptr[cols] = len(m.indices)
	return m, nil
}

// Dims returns (genes, cells).
func (m *CSC) Dims() (rows, cols int) { return m.rows, m.cols }

// NNZ returns the number of stored nonzeros.
func (m *CSC) NNZ() int { return len(m.data) }

// At returns the value at (gene i, cell j), zero if not stored.
func (m *CSC) At(i, j int) float64 {
	if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
		panic(fmt.Sprintf("scexp: index (%d,%d) out of range %dx%d", i, j, m.rows, m.cols))
	}
	lo, hi := m.indptr[j], m.indptr[j+1]
	k := lo + sort.SearchInts(m.indices[lo:hi], i)
	if k < hi && m.indices[k] == i {
		return m.data[k]
	}
	return 0
}

// ColNNZ returns the number of nonzeros in cell column j.
func (m *CSC) ColNNZ(j int) int { return m.indptr[j+1] - m.indptr[j] }

// ScanColumn calls fn for every stored nonzero (gene row, value) of cell j,
// in ascending row order.
func (m *CSC) ScanColumn(j int, fn func(row int, v float64)) {
	for k := m.indptr[j]; k < m.indptr[j+1]; k++ {
		fn(m.indices[k], m.data[k])
	}
}

// Scan calls fn for every stored nonzero in column-major order.
func (m *CSC) Scan(fn func(row, col int, v float64)) {
	for j := 0; j < m.cols; j++ {
		for k := m.indptr[j]; k < m.indptr[j+1]; k++ {
			fn(m.indices[k], j, m.data[k])
		}
	}
}

// ColSums returns per-cell totals.
func (m *CSC) ColSums() []float64 {
	out := make([]float64, m.cols)
	for j := 0; j < m.cols; j++ {
		var s float64
		for k := m.indptr[j]; k < m.indptr[j+1]; k++ {
			s += m.data[k]
		}
		out[j] = s
	}
	return out
}

// RowSums returns per-gene totals.
func (m *CSC) RowSums() []float64 {
	out := make([]float64, m.rows)
	for k, r := range m.indices {
		out[r] += m.data[k]
	}
	return out
}

// Transform returns a new matrix with the same sparsity pattern and each
// stored value replaced by fn(row, col, v). fn must map zero to zero for the
// result to be meaningful as a sparse layer; callers such as log-normalisation
// satisfy that by construction.
func (m *CSC) Transform(fn func(row, col int, v float64) float64) *CSC {
	out := &CSC{
		rows:    m.rows,
		cols:    m.cols,
		indptr:  append([]int(nil), m.indptr...),
		indices: append([]int(nil), m.indices...),
		data:    make([]float64, len(m.data)),
	}
	for j := 0; j < m.cols; j++ {
		for k := m.indptr[j]; k < m.indptr[j+1]; k++ {
			out.data[k] = fn(m.indices[k], j, m.data[k])
		}
	}
	return out
}

// SubsetColumns returns a copy keeping only cells where keep is true.
func (m *CSC) SubsetColumns(keep []bool) (*CSC, error) {
	if len(keep) != m.cols {
		return nil, fmt.Errorf("scexp: keep mask length %d != %d columns: %w", len(keep), m.cols, ErrDimMismatch)
	}
	out := &CSC{rows: m.rows}
	out.indptr = append(out.indptr, 0)
	for j := 0; j < m.cols; j++ {
		if !keep[j] {
			continue
		}
		out.cols++
		out.indices = append(out.indices, m.indices[m.indptr[j]:m.indptr[j+1]]...)
		out.data = append(out.data, m.data[m.indptr[j]:m.indptr[j+1]]...)
		out.indptr = append(out.indptr, len(out.indices))
	}
	return out, nil
}

// SubsetRows returns a copy keeping only genes where keep is true.
func (m *CSC) SubsetRows(keep []bool) (*CSC, error) {
	if len(keep) != m.rows {
		return nil, fmt.Errorf("scexp: keep mask length %d != %d rows: %w", len(keep), m.rows, ErrDimMismatch)
	}
	remap := make([]int, m.rows)
	nr := 0
	for i, k := range keep {
		if k {
			remap[i] = nr
			nr++
		} else {
			remap[i] = -1
		}
	}
	out := &CSC{rows: nr, cols: m.cols, indptr: make([]int, 1, m.cols+1)}
	for j := 0; j < m.cols; j++ {
		for k := m.indptr[j]; k < m.indptr[j+1]; k++ {
			r := remap[m.indices[k]]
			if r < 0 {
				continue
			}
			out.indices = append(out.indices, r)
			out.data = append(out.data, m.data[k])
		}
		out.indptr = append(out.indptr, len(out.indices))
	}
	return out, nil
}
