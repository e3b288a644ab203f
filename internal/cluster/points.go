// Package cluster provides the clustering passes used by the pipeline: a
// seeded mini-batch k-means (used both for the preliminary normalisation
// strata and for the final sweep), and shared-nearest-neighbour Louvain
// community detection over an embedding.
//
// Both clusterers are implemented in-package. Results carry plain integer
// label vectors so callers can attach them to the experiment container as
// categorical columns.
package cluster

import (
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/singlecell.report/internal/scexp"
)

// pointSet abstracts a collection of points so k-means can run over either
// dense embedding rows or sparse count columns without materialising the
// counts densely.
type pointSet interface {
	Len() int
	Dim() int
	// SqNorm returns ||x_i||^2.
	SqNorm(i int) float64
	// Dot returns <x_i, c> for a dense centroid c.
	Dot(i int, c []float64) float64
	// AccumInto adds x_i scaled by w into dst.
	AccumInto(i int, w float64, dst []float64)
}

// denseRows treats each row of a matrix as one point.
type denseRows struct {
	m   *mat.Dense
	sq  []float64
	dim int
}

func newDenseRows(m *mat.Dense) *denseRows {
	r, c := m.Dims()
	d := &denseRows{m: m, dim: c, sq: make([]float64, r)}
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		var s float64
		for _, v := range row {
			s += v * v
		}
		d.sq[i] = s
	}
	return d
}

func (d *denseRows) Len() int            { r, _ := d.m.Dims(); return r }
func (d *denseRows) Dim() int            { return d.dim }
func (d *denseRows) SqNorm(i int) float64 { return d.sq[i] }

func (d *denseRows) Dot(i int, c []float64) float64 {
	row := d.m.RawRowView(i)
	var s float64
	for k, v := range row {
		s += v * c[k]
	}
	return s
}

func (d *denseRows) AccumInto(i int, w float64, dst []float64) {
	row := d.m.RawRowView(i)
	for k, v := range row {
		dst[k] += w * v
	}
}

// sparseCols treats each cell column of a CSC counts matrix as one point in
// gene space.
type sparseCols struct {
	m  *scexp.CSC
	sq []float64
}

func newSparseCols(m *scexp.CSC) *sparseCols {
	_, cols := m.Dims()
	s := &sparseCols{m: m, sq: make([]float64, cols)}
	for j := 0; j < cols; j++ {
		var t float64
		m.ScanColumn(j, func(_ int, v float64) { t += v * v })
		s.sq[j] = t
	}
	return s
}

func (s *sparseCols) Len() int            { _, c := s.m.Dims(); return c }
func (s *sparseCols) Dim() int            { r, _ := s.m.Dims(); return r }
func (s *sparseCols) SqNorm(i int) float64 { return s.sq[i] }

func (s *sparseCols) Dot(i int, c []float64) float64 {
	var t float64
	s.m.ScanColumn(i, func(row int, v float64) { t += v * c[row] })
	return t
}

func (s *sparseCols) AccumInto(i int, w float64, dst []float64) {
	s.m.ScanColumn(i, func(row int, v float64) { dst[row] += w * v })
}
