package cluster

import (
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestKNNExactness(t *testing.T) {
	// Points on a line: neighbours of 5 at k=2 are 4 and 6.
	x := mat.NewDense(10, 1, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	nn, err := KNN(x, 2)
	if err != nil {
		t.Fatalf("KNN: %v", err)
	}
	got := nn[5]
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if !(got[0] == 4 || got[0] == 6) || !(got[1] == 4 || got[1] == 6) || got[0] == got[1] {
		t.Errorf("neighbours of 5 = %v, want {4,6}", got)
	}
	// Endpoint.
	if nn[0][0] != 1 || nn[0][1] != 2 {
		t.Errorf("neighbours of 0 = %v, want [1 2]", nn[0])
	}
}

func TestKNNRange(t *testing.T) {
	x := mat.NewDense(3, 1, []float64{0, 1, 2})
	if _, err := KNN(x, 3); err == nil {
		t.Error("expected error for k >= n")
	}
	if _, err := KNN(x, 0); err == nil {
		t.Error("expected error for k = 0")
	}
}

func TestSNNGraphJaccard(t *testing.T) {
	// Two points listing each other and sharing neighbour 2.
	neighbors := [][]int{
		{1, 2},
		{0, 2},
		{0, 1},
	}
	g := SNNGraph(neighbors)
	// Sets including self are all {0,1,2}: Jaccard 1 for every pair.
	if w := g.Weight(0, 1); w != 1 {
		t.Errorf("weight(0,1) = %v, want 1", w)
	}
	if w := g.Weight(1, 2); w != 1 {
		t.Errorf("weight(1,2) = %v, want 1", w)
	}
}

// cliquePair builds two dense cliques bridged by a single weak edge.
func cliquePair(size int) *Graph {
	g := NewGraph(2 * size)
	for a := 0; a < 2; a++ {
		off := a * size
		for i := 0; i < size; i++ {
			for j := i + 1; j < size; j++ {
				g.AddEdge(off+i, off+j, 1)
			}
		}
	}
	g.AddEdge(0, size, 0.01)
	return g
}

func TestLouvainFindsCliques(t *testing.T) {
	g := cliquePair(8)
	res, err := Louvain(g, 1)
	if err != nil {
		t.Fatalf("Louvain: %v", err)
	}
	if res.K != 2 {
		t.Fatalf("communities = %d, want 2", res.K)
	}
	for i := 1; i < 8; i++ {
		if res.Labels[i] != res.Labels[0] {
			t.Errorf("clique 1 split at node %d", i)
		}
	}
	for i := 9; i < 16; i++ {
		if res.Labels[i] != res.Labels[8] {
			t.Errorf("clique 2 split at node %d", i)
		}
	}
	if res.Labels[0] == res.Labels[8] {
		t.Error("cliques merged")
	}
}

func TestLouvainSeedReproducible(t *testing.T) {
	g := cliquePair(6)
	a, err := Louvain(g, 99)
	if err != nil {
		t.Fatalf("Louvain: %v", err)
	}
	b, err := Louvain(g, 99)
	if err != nil {
		t.Fatalf("Louvain: %v", err)
	}
	for i := range a.Labels {
		if a.Labels[i] != b.Labels[i] {
			t.Fatalf("same seed diverged at node %d", i)
		}
	}
}

func TestLouvainEdgelessGraph(t *testing.T) {
	g := NewGraph(4)
	res, err := Louvain(g, 0)
	if err != nil {
		t.Fatalf("Louvain: %v", err)
	}
	if res.K != 4 {
		t.Errorf("communities = %d, want 4 singletons", res.K)
	}
}

func TestLouvainOnEmbeddingPipelineShape(t *testing.T) {
	// End-to-end over an embedding: kNN -> SNN -> Louvain recovers the two
	// blobs.
	rng := rand.New(rand.NewSource(4))
	n := 60
	x := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		off := 0.0
		if i >= n/2 {
			off = 15
		}
		for d := 0; d < 3; d++ {
			x.Set(i, d, off+rng.NormFloat64())
		}
	}
	nn, err := KNN(x, DefaultNeighbors)
	if err != nil {
		t.Fatalf("KNN: %v", err)
	}
	res, err := Louvain(SNNGraph(nn), 3)
	if err != nil {
		t.Fatalf("Louvain: %v", err)
	}
	if len(res.Labels) != n {
		t.Fatalf("labels = %d, want %d", len(res.Labels), n)
	}
	// Every cell in blob 1 must be separated from every cell in blob 2.
	for i := 0; i < n/2; i++ {
		for j := n / 2; j < n; j++ {
			if res.Labels[i] == res.Labels[j] {
				t.Fatalf("cells %d and %d from different blobs share community", i, j)
			}
		}
	}
}
