package cluster

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/singlecell.report/internal/scexp"
)

// blobs builds n points split across two well-separated Gaussian blobs in
// dim dimensions.
func blobs(n, dim int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(n, dim, nil)
	for i := 0; i < n; i++ {
		offset := 0.0
		if i >= n/2 {
			offset = 20
		}
		for d := 0; d < dim; d++ {
			x.Set(i, d, offset+rng.NormFloat64())
		}
	}
	return x
}

func TestMiniBatchKMeansSeparatesBlobs(t *testing.T) {
	x := blobs(200, 5, 1)
	km := MiniBatchKMeans{K: 2, BatchSize: 50, Seed: 42}
	res, err := km.FitRows(x)
	if err != nil {
		t.Fatalf("FitRows: %v", err)
	}
	if len(res.Labels) != 200 {
		t.Fatalf("labels = %d, want 200", len(res.Labels))
	}
	// All of the first blob in one cluster, all of the second in the other.
	for i := 1; i < 100; i++ {
		if res.Labels[i] != res.Labels[0] {
			t.Fatalf("blob 1 split at %d", i)
		}
	}
	for i := 101; i < 200; i++ {
		if res.Labels[i] != res.Labels[100] {
			t.Fatalf("blob 2 split at %d", i)
		}
	}
	if res.Labels[0] == res.Labels[100] {
		t.Fatal("blobs merged")
	}
}

func TestMiniBatchKMeansReproducible(t *testing.T) {
	x := blobs(150, 4, 2)
	km := MiniBatchKMeans{K: 5, BatchSize: 40, Seed: 7}
	a, err := km.FitRows(x)
	if err != nil {
		t.Fatalf("FitRows: %v", err)
	}
	b, err := km.FitRows(x)
	if err != nil {
		t.Fatalf("FitRows: %v", err)
	}
	if diff := cmp.Diff(a.Labels, b.Labels); diff != "" {
		t.Errorf("same seed produced different labels (-first +second):\n%s", diff)
	}
	if a.WCSS != b.WCSS {
		t.Errorf("same seed produced different WCSS: %v vs %v", a.WCSS, b.WCSS)
	}
}

func TestMiniBatchKMeansLabelAlphabet(t *testing.T) {
	x := blobs(300, 3, 3)
	km := MiniBatchKMeans{K: 10, BatchSize: 100, Seed: 11}
	res, err := km.FitRows(x)
	if err != nil {
		t.Fatalf("FitRows: %v", err)
	}
	for i, l := range res.Labels {
		if l < 0 || l >= 10 {
			t.Fatalf("label %d at point %d outside 10-symbol alphabet", l, i)
		}
	}
}

func TestMiniBatchKMeansSparseCells(t *testing.T) {
	// Two cell populations: genes 0-4 active vs genes 5-9 active.
	rng := rand.New(rand.NewSource(9))
	var entries []scexp.Triplet
	nCells := 80
	for j := 0; j < nCells; j++ {
		base := 0
		if j >= nCells/2 {
			base = 5
		}
		for g := base; g < base+5; g++ {
			entries = append(entries, scexp.Triplet{Row: g, Col: j, Val: float64(20 + rng.Intn(10))})
		}
	}
	counts, err := scexp.NewCSC(10, nCells, entries)
	if err != nil {
		t.Fatalf("NewCSC: %v", err)
	}
	km := MiniBatchKMeans{K: 2, BatchSize: 20, Seed: 5}
	res, err := km.FitCells(counts)
	if err != nil {
		t.Fatalf("FitCells: %v", err)
	}
	for j := 1; j < nCells/2; j++ {
		if res.Labels[j] != res.Labels[0] {
			t.Fatalf("population 1 split at cell %d", j)
		}
	}
	if res.Labels[0] == res.Labels[nCells/2] {
		t.Fatal("populations merged")
	}
}

func TestMiniBatchKMeansErrors(t *testing.T) {
	x := blobs(10, 2, 1)
	if _, err := (MiniBatchKMeans{K: 0}).FitRows(x); err == nil {
		t.Error("expected error for k=0")
	}
	if _, err := (MiniBatchKMeans{K: 11}).FitRows(x); err == nil {
		t.Error("expected error for k > n")
	}
}

func TestSweepMonotoneTrend(t *testing.T) {
	x := blobs(240, 4, 6)
	points, err := Sweep(x, 2, 8, 60, 17)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(points) != 7 {
		t.Fatalf("sweep points = %d, want 7", len(points))
	}
	for i, p := range points {
		if p.K != 2+i {
			t.Errorf("point %d has k=%d, want %d", i, p.K, 2+i)
		}
		if p.WCSS < 0 {
			t.Errorf("negative WCSS at k=%d", p.K)
		}
	}
	// More clusters should not dramatically increase WCSS; the k=8 fit must
	// beat the k=2 fit on two blobs plus noise.
	if points[len(points)-1].WCSS > points[0].WCSS {
		t.Errorf("WCSS rose across sweep: k=2 %.1f -> k=8 %.1f", points[0].WCSS, points[len(points)-1].WCSS)
	}
}
