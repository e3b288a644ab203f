package cluster

import (
	"container/heap"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// DefaultNeighbors is the neighbour count for the shared-nearest-neighbour
// graph.
const DefaultNeighbors = 10

// KNN returns, for each row of x, the indices of its k nearest other rows by
// Euclidean distance, nearest first. Exact brute-force search; ties broken by
// index for determinism.
func KNN(x *mat.Dense, k int) ([][]int, error) {
	n, _ := x.Dims()
	if k < 1 || k >= n {
		return nil, fmt.Errorf("cluster: k=%d out of range for %d points", k, n)
	}
	ps := newDenseRows(x)
	out := make([][]int, n)
	for i := 0; i < n; i++ {
		h := &neighborHeap{}
		heap.Init(h)
		xi := x.RawRowView(i)
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			d := ps.SqNorm(i) - 2*dot(xi, x.RawRowView(j)) + ps.SqNorm(j)
			if h.Len() < k {
				heap.Push(h, neighbor{idx: j, d: d})
			} else if worse := (*h)[0]; d < worse.d || (d == worse.d && j < worse.idx) {
				(*h)[0] = neighbor{idx: j, d: d}
				heap.Fix(h, 0)
			}
		}
		nn := make([]int, h.Len())
		for p := len(nn) - 1; p >= 0; p-- {
			nn[p] = heap.Pop(h).(neighbor).idx
		}
		out[i] = nn
	}
	return out, nil
}

func dot(a, b []float64) float64 {
	var s float64
	for i, v := range a {
		s += v * b[i]
	}
	return s
}

type neighbor struct {
	idx int
	d   float64
}

// neighborHeap is a max-heap on distance so the current worst neighbour sits
// at the root.
type neighborHeap []neighbor

func (h neighborHeap) Len() int { return len(h) }
func (h neighborHeap) Less(i, j int) bool {
	if h[i].d != h[j].d {
		return h[i].d > h[j].d
	}
	return h[i].idx > h[j].idx
}
func (h neighborHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *neighborHeap) Push(x any)        { *h = append(*h, x.(neighbor)) }
func (h *neighborHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Graph is a weighted undirected graph over cells.
type Graph struct {
	n   int
	adj []map[int]float64
}

// NewGraph returns an empty graph on n nodes.
func NewGraph(n int) *Graph {
	adj := make([]map[int]float64, n)
	for i := range adj {
		adj[i] = make(map[int]float64)
	}
	return &Graph{n: n, adj: adj}
}

// N returns the node count.
func (g *Graph) N() int { return g.n }

// AddEdge sets the weight of the undirected edge (i, j). Self loops are
// ignored.
func (g *Graph) AddEdge(i, j int, w float64) {
	if i == j {
		return
	}
	g.adj[i][j] = w
	g.adj[j][i] = w
}

// Weight returns the weight of edge (i, j), zero if absent.
func (g *Graph) Weight(i, j int) float64 { return g.adj[i][j] }

// Degree returns the weighted degree of node i.
func (g *Graph) Degree(i int) float64 {
	var s float64
	for _, w := range g.adj[i] {
		s += w
	}
	return s
}

// TotalWeight returns the sum of edge weights, each edge counted once.
func (g *Graph) TotalWeight() float64 {
	var s float64
	for i := range g.adj {
		s += g.Degree(i)
	}
	return s / 2
}

// SNNGraph builds a shared-nearest-neighbour graph from a kNN table: nodes i
// and j are connected when either lists the other, weighted by the Jaccard
// overlap of their neighbourhoods (each including the node itself). Pairs
// with no shared neighbours contribute no edge.
func SNNGraph(neighbors [][]int) *Graph {
	n := len(neighbors)
	g := NewGraph(n)

	sets := make([]map[int]bool, n)
	for i, nn := range neighbors {
		s := make(map[int]bool, len(nn)+1)
		s[i] = true
		for _, j := range nn {
			s[j] = true
		}
		sets[i] = s
	}

	for i, nn := range neighbors {
		for _, j := range nn {
			if j < i && g.Weight(i, j) != 0 {
				continue
			}
			shared := 0
			for v := range sets[i] {
				if sets[j][v] {
					shared++
				}
			}
			if shared == 0 {
				continue
			}
			union := len(sets[i]) + len(sets[j]) - shared
			g.AddEdge(i, j, float64(shared)/float64(union))
		}
	}
	return g
}
