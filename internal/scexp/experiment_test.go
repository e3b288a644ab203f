package scexp

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func newTestExperiment(t *testing.T) *Experiment {
	t.Helper()
	// 4 genes x 3 cells.
	counts := mustCSC(t, 4, 3, []Triplet{
		{Row: 0, Col: 0, Val: 5},
		{Row: 1, Col: 0, Val: 1},
		{Row: 2, Col: 1, Val: 2},
		{Row: 3, Col: 2, Val: 7},
		{Row: 0, Col: 2, Val: 1},
	})
	e := NewExperiment(counts)
	if err := e.RowData().SetStrings("symbol", []string{"MT-CO1", "ACTB", "GAPDH", "CD3E"}); err != nil {
		t.Fatalf("SetStrings: %v", err)
	}
	if err := e.ColData().SetStrings("barcode", []string{"AAA", "CCC", "GGG"}); err != nil {
		t.Fatalf("SetStrings: %v", err)
	}
	return e
}

func TestExperimentAlignmentInvariant(t *testing.T) {
	e := newTestExperiment(t)
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	// Mismatched assay rejected.
	bad := mustCSC(t, 2, 3, nil)
	if err := e.SetAssay("bad", bad); !errors.Is(err, ErrDimMismatch) {
		t.Fatalf("SetAssay mismatch error = %v, want ErrDimMismatch", err)
	}

	// Mismatched embedding rejected.
	if err := e.SetReducedDim("bad", mat.NewDense(2, 2, nil)); !errors.Is(err, ErrDimMismatch) {
		t.Fatalf("SetReducedDim mismatch error = %v, want ErrDimMismatch", err)
	}
}

func TestAssayWriteOnce(t *testing.T) {
	e := newTestExperiment(t)
	layer := e.Counts().Transform(func(_, _ int, v float64) float64 { return v + 1 })
	if err := e.SetAssay("logcounts", layer); err != nil {
		t.Fatalf("SetAssay: %v", err)
	}
	if err := e.SetAssay("logcounts", layer); err == nil {
		t.Fatal("expected error on overwriting assay")
	}
}

func TestSubsetCellsSlicesEverything(t *testing.T) {
	e := newTestExperiment(t)
	if err := e.SetAssay("shifted", e.Counts().Transform(func(_, _ int, v float64) float64 { return v * 2 })); err != nil {
		t.Fatalf("SetAssay: %v", err)
	}
	if err := e.SetReducedDim("PCA", mat.NewDense(3, 2, []float64{
		0, 1,
		2, 3,
		4, 5,
	})); err != nil {
		t.Fatalf("SetReducedDim: %v", err)
	}
	if err := e.SetLabels("cluster", []int{0, 1, 0}, 2); err != nil {
		t.Fatalf("SetLabels: %v", err)
	}

	if err := e.SubsetCells([]bool{true, false, true}); err != nil {
		t.Fatalf("SubsetCells: %v", err)
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate after subset: %v", err)
	}
	if e.NCells() != 2 {
		t.Fatalf("NCells = %d, want 2", e.NCells())
	}
	if got := e.ColData().Strings("barcode"); got[0] != "AAA" || got[1] != "GGG" {
		t.Errorf("barcodes = %v, want [AAA GGG]", got)
	}
	if got := e.Assay("shifted").At(3, 1); got != 14 {
		t.Errorf("assay value = %v, want 14", got)
	}
	emb := e.ReducedDim("PCA")
	if r, _ := emb.Dims(); r != 2 {
		t.Fatalf("embedding rows = %d, want 2", r)
	}
	if emb.At(1, 0) != 4 {
		t.Errorf("embedding row not sliced: %v", emb.At(1, 0))
	}
	if labels, k, ok := e.Labels("cluster"); !ok || k != 2 || len(labels) != 2 {
		t.Errorf("labels = %v k=%d ok=%v, want 2 labels over 2 levels", labels, k, ok)
	}
}

func TestSubsetGenesSlicesRowStructures(t *testing.T) {
	e := newTestExperiment(t)
	if err := e.SubsetGenes([]bool{true, true, false, true}); err != nil {
		t.Fatalf("SubsetGenes: %v", err)
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate after subset: %v", err)
	}
	if e.NGenes() != 3 {
		t.Fatalf("NGenes = %d, want 3", e.NGenes())
	}
	sym := e.RowData().Strings("symbol")
	if len(sym) != 3 || sym[2] != "CD3E" {
		t.Errorf("symbols = %v, want trailing CD3E", sym)
	}
}

func TestSetLabelsValidatesRange(t *testing.T) {
	e := newTestExperiment(t)
	if err := e.SetLabels("cluster", []int{0, 2, 1}, 2); err == nil {
		t.Fatal("expected error for label outside [0,k)")
	}
	if err := e.SetLabels("cluster", []int{0, 1}, 2); !errors.Is(err, ErrDimMismatch) {
		t.Fatalf("short label column error = %v, want ErrDimMismatch", err)
	}
}
